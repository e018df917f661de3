package models

import (
	"strings"
	"time"
)

// Status 设备状态
type Status string

const (
	StatusNormal      Status = "normal"
	StatusWarning     Status = "warning"
	StatusMaintenance Status = "maintenance"
)

// Category 设备分类（马达 / 水管）
type Category string

const (
	CategoryMotor   Category = "motor"
	CategoryPipe    Category = "pipe"
	CategoryUnknown Category = ""
)

// Device 设备快照（由后端下发，客户端只能修改 serial）
type Device struct {
	ID         string   `json:"id"`
	Serial     string   `json:"serial"`
	Type       Category `json:"type,omitempty"`
	RSSI       float64  `json:"rssi"`
	VBat       float64  `json:"vbat"`
	TiltAngle  float64  `json:"tiltAngle"`
	TiltAngleX float64  `json:"tiltAngleX"`
	TiltAngleY float64  `json:"tiltAngleY"`
	LastUpdate string   `json:"lastUpdate"`
	Status     Status   `json:"status"`
}

// HistoryPoint 历史数据点（按时间戳升序）
type HistoryPoint struct {
	Timestamp  string  `json:"timestamp"`
	RSSI       float64 `json:"rssi"`
	VBat       float64 `json:"vbat"`
	TiltAngle  float64 `json:"tiltAngle"`
	TiltAngleX float64 `json:"tiltAngleX"`
	TiltAngleY float64 `json:"tiltAngleY"`
}

// SpectrumPoint FFT 频谱数据点
type SpectrumPoint struct {
	Frequency float64 `json:"frequency"`
	Magnitude float64 `json:"magnitude"`
}

// TimeRange 闭区间时间范围（两端包含）
type TimeRange struct {
	Start time.Time
	End   time.Time
}

// NormalizeStatus 归一化后端状态值
// 旧版后端会下发 "active"，统一归一化为 "normal"
func NormalizeStatus(raw string) Status {
	switch Status(raw) {
	case StatusNormal, StatusWarning, StatusMaintenance:
		return Status(raw)
	case "active":
		return StatusNormal
	default:
		return StatusNormal
	}
}

// InferCategory 推断设备分类
// type 字段为准；缺失时按 id 前缀推断，推断不出返回 CategoryUnknown
// 注意：不做按列表位置的交替分配（旧前端的这种兜底会静默错分）
func InferCategory(d Device) Category {
	switch d.Type {
	case CategoryMotor, CategoryPipe:
		return d.Type
	}
	if strings.HasPrefix(d.ID, "motor") {
		return CategoryMotor
	}
	if strings.HasPrefix(d.ID, "pipe") {
		return CategoryPipe
	}
	return CategoryUnknown
}

// Normalize 在数据边界上做字段归一化（状态值、分类）
func (d *Device) Normalize() {
	d.Status = NormalizeStatus(string(d.Status))
	d.Type = InferCategory(*d)
}

// 后端时间戳格式：优先 RFC3339，其次不带时区的 isoformat
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05",
}

// ParseTimestamp 解析后端下发的时间戳
func ParseTimestamp(raw string) (time.Time, bool) {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// CategoryStats 单个分类的状态计数
type CategoryStats struct {
	Warning     int `json:"warning"`
	Normal      int `json:"normal"`
	Maintenance int `json:"maintenance"`
	Total       int `json:"total"`
}
