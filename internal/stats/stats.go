package stats

import (
	"time"

	"tiltwatch-sync/internal/models"
)

// FactoryStats 厂务层总览的派生统计（永远从当前设备列表快照重新计算，不落盘）
type FactoryStats struct {
	MotorDevices []models.Device      `json:"motorDevices"`
	PipeDevices  []models.Device      `json:"pipeDevices"`
	MotorStats   models.CategoryStats `json:"motorStats"`
	PipeStats    models.CategoryStats `json:"pipeStats"`
	TotalCount   int                  `json:"totalCount"`
	TotalWarning int                  `json:"totalWarning"`

	// 分类推断失败的设备数：计入 TotalCount 但不进任何分区
	// 旧前端按列表位置交替分配，这里改为显式暴露，避免静默错分
	UnknownCount int `json:"unknownCount"`
}

// ComputeCategoryStats 把扁平设备列表聚合为按分类的状态统计
// 单次遍历，O(n)；计数与列表顺序无关
func ComputeCategoryStats(devices []models.Device) FactoryStats {
	var out FactoryStats
	out.TotalCount = len(devices)

	for _, d := range devices {
		switch models.InferCategory(d) {
		case models.CategoryMotor:
			out.MotorDevices = append(out.MotorDevices, d)
			accumulate(&out.MotorStats, d.Status)
		case models.CategoryPipe:
			out.PipeDevices = append(out.PipeDevices, d)
			accumulate(&out.PipeStats, d.Status)
		default:
			out.UnknownCount++
		}
		if d.Status == models.StatusWarning {
			out.TotalWarning++
		}
	}

	return out
}

func accumulate(s *models.CategoryStats, status models.Status) {
	s.Total++
	switch status {
	case models.StatusWarning:
		s.Warning++
	case models.StatusMaintenance:
		s.Maintenance++
	default:
		s.Normal++
	}
}

// WindowMode 时间窗模式
type WindowMode string

const (
	// WindowRelative 相对窗口：now - 固定时长
	WindowRelative WindowMode = "relative"
	// WindowCustom 自定义窗口：显式起止时刻，两端包含
	WindowCustom WindowMode = "custom"
)

// 预设相对窗口时长
const (
	Window1h  = time.Hour
	Window6h  = 6 * time.Hour
	Window24h = 24 * time.Hour
)

// Window 历史数据的时间窗
type Window struct {
	Mode     WindowMode
	Duration time.Duration    // relative 模式使用
	Range    models.TimeRange // custom 模式使用
}

// Relative 构造相对窗口
func Relative(d time.Duration) Window {
	return Window{Mode: WindowRelative, Duration: d}
}

// Custom 构造自定义窗口
func Custom(start, end time.Time) Window {
	return Window{Mode: WindowCustom, Range: models.TimeRange{Start: start, End: end}}
}

// WindowHistory 按时间窗过滤历史序列
// 纯函数：不修改、不重排输入；时间戳解析失败的点被排除
func WindowHistory(points []models.HistoryPoint, win Window, now time.Time) []models.HistoryPoint {
	var start, end time.Time
	switch win.Mode {
	case WindowRelative:
		d := win.Duration
		if d <= 0 {
			d = Window1h
		}
		start = now.Add(-d)
	case WindowCustom:
		start = win.Range.Start
		end = win.Range.End
	default:
		start = now.Add(-Window1h)
	}

	out := make([]models.HistoryPoint, 0, len(points))
	for _, p := range points {
		ts, ok := models.ParseTimestamp(p.Timestamp)
		if !ok {
			continue
		}
		if ts.Before(start) {
			continue
		}
		if !end.IsZero() && ts.After(end) {
			continue
		}
		out = append(out, p)
	}
	return out
}

// 指标告警阈值，与仪表盘显示用的阈值保持一致
const (
	RSSIWarningThreshold      = -80.0 // dBm
	VBatWarningThreshold      = 3.0   // V
	TiltAngleWarningThreshold = 15.0  // degrees
)

// EvaluateThresholds 返回越过告警阈值的指标名
func EvaluateThresholds(d models.Device) []string {
	var breached []string
	if d.RSSI < RSSIWarningThreshold {
		breached = append(breached, "rssi")
	}
	if d.VBat < VBatWarningThreshold {
		breached = append(breached, "vbat")
	}
	if d.TiltAngle > TiltAngleWarningThreshold {
		breached = append(breached, "tiltAngle")
	}
	return breached
}
