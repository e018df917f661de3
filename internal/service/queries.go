package service

import (
	"context"
	"fmt"
	"time"

	"tiltwatch-sync/internal/cache"
	"tiltwatch-sync/internal/client"
	"tiltwatch-sync/internal/config"
	"tiltwatch-sync/internal/models"
	"tiltwatch-sync/internal/stats"
)

// 缓存键的资源段
// 设备状态变更时按 "devices" 前缀失效，详情/历史/频谱键不受影响
const (
	resourceDevices  = "devices"
	resourceDevice   = "device"
	resourceHistory  = "history"
	resourceSpectrum = "spectrum"
)

// DeviceListQuery 设备列表查询（快轮询）
func DeviceListQuery(c *client.Client, cfg *config.Config, filter client.DeviceFilter) cache.Query {
	typePart := "all"
	if filter.Type != "" {
		typePart = string(filter.Type)
	}
	statusPart := "all"
	if filter.Status != "" {
		statusPart = string(filter.Status)
	}

	return cache.Query{
		Key:       cache.NewKey(resourceDevices, typePart, statusPart),
		Interval:  cfg.Poll.FastInterval,
		StaleTime: cfg.Poll.StaleTime,
		Enabled:   true,
		Fetch: func(ctx context.Context) (any, error) {
			devices, err := c.SearchDevices(ctx, filter)
			if err != nil {
				return nil, err
			}
			return devices, nil
		},
	}
}

// FactoryStatsQuery 厂务层总览统计
// 与全量设备列表共享同一个缓存条目，统计通过 selector 派生
func FactoryStatsQuery(c *client.Client, cfg *config.Config) cache.Query {
	q := DeviceListQuery(c, cfg, client.DeviceFilter{})
	q.Selector = func(v any) any {
		devices, ok := v.([]models.Device)
		if !ok {
			return stats.FactoryStats{}
		}
		return stats.ComputeCategoryStats(devices)
	}
	return q
}

// DeviceDetailQuery 单设备详情查询（快轮询；id 为空时不拉取）
func DeviceDetailQuery(c *client.Client, cfg *config.Config, id string) cache.Query {
	return cache.Query{
		Key:       cache.NewKey(resourceDevice, id),
		Interval:  cfg.Poll.FastInterval,
		StaleTime: cfg.Poll.StaleTime,
		Enabled:   id != "",
		Fetch: func(ctx context.Context) (any, error) {
			device, err := c.GetDevice(ctx, id)
			if err != nil {
				return nil, err
			}
			return device, nil
		},
	}
}

// HistoryQuery 历史数据查询（慢轮询）
// relative 模式：拉取后端默认窗口，selector 按 now-时长 过滤；
// custom 模式：带显式起止时刻拉取，且不做周期性刷新（只在范围变化时拉取）
func HistoryQuery(c *client.Client, cfg *config.Config, id string, win stats.Window) cache.Query {
	switch win.Mode {
	case stats.WindowCustom:
		rng := win.Range
		return cache.Query{
			Key: cache.NewKey(resourceHistory, id, "custom",
				fmt.Sprintf("%d-%d", rng.Start.Unix(), rng.End.Unix())),
			Interval:  0, // 自定义范围不轮询
			StaleTime: cfg.Poll.StaleTime,
			Enabled:   id != "",
			Fetch: func(ctx context.Context) (any, error) {
				points, err := c.GetHistory(ctx, id, &rng)
				if err != nil {
					return nil, err
				}
				return points, nil
			},
		}
	default:
		d := win.Duration
		if d <= 0 {
			d = stats.Window1h
		}
		return cache.Query{
			Key: cache.NewKey(resourceHistory, id, "relative",
				fmt.Sprintf("%d", d.Milliseconds())),
			Interval:  cfg.Poll.SlowInterval,
			StaleTime: cfg.Poll.StaleTime,
			Enabled:   id != "",
			Fetch: func(ctx context.Context) (any, error) {
				points, err := c.GetHistory(ctx, id, nil)
				if err != nil {
					return nil, err
				}
				return points, nil
			},
			Selector: func(v any) any {
				points, ok := v.([]models.HistoryPoint)
				if !ok {
					return []models.HistoryPoint(nil)
				}
				return stats.WindowHistory(points, stats.Relative(d), time.Now())
			},
		}
	}
}

// SpectrumQuery FFT 频谱查询（慢轮询）
func SpectrumQuery(c *client.Client, cfg *config.Config, id string) cache.Query {
	return cache.Query{
		Key:       cache.NewKey(resourceSpectrum, id),
		Interval:  cfg.Poll.SlowInterval,
		StaleTime: cfg.Poll.StaleTime,
		Enabled:   id != "",
		Fetch: func(ctx context.Context) (any, error) {
			points, err := c.GetSpectrum(ctx, id)
			if err != nil {
				return nil, err
			}
			return points, nil
		},
	}
}
