package client

import (
	"context"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"tiltwatch-sync/internal/models"
)

// DeviceFilter 设备查询条件（空字段表示不限制）
type DeviceFilter struct {
	Type   models.Category `json:"type,omitempty"`
	Status models.Status   `json:"status,omitempty"`
}

// Client 设备后端 API 客户端
// 所有读操作返回类型化错误（NetworkError / BackendError），
// 由调用方决定是吞掉还是上报；写操作的失败必须上报
type Client struct {
	httpClient *resty.Client
	logger     *zap.Logger
}

// New 创建设备后端客户端
func New(baseURL string, timeout time.Duration, logger *zap.Logger) *Client {
	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return &Client{
		httpClient: httpClient,
		logger:     logger,
	}
}

// SearchDevices 按条件查询设备列表
// 状态值在这里完成归一化（legacy "active" -> "normal"）
func (c *Client) SearchDevices(ctx context.Context, filter DeviceFilter) ([]models.Device, error) {
	var devices []models.Device
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetBody(filter).
		SetResult(&devices).
		Post("/devices/search")

	if err != nil {
		c.logger.Warn("Device search failed",
			zap.Error(err),
		)
		return nil, &NetworkError{Op: "search devices", Err: err}
	}
	if resp.IsError() {
		c.logger.Warn("Device search returned error status",
			zap.Int("status_code", resp.StatusCode()),
		)
		return nil, &BackendError{Op: "search devices", StatusCode: resp.StatusCode()}
	}

	for i := range devices {
		devices[i].Normalize()
	}
	return devices, nil
}

// GetDevice 获取单个设备
// 直连端点失败时回退为全量列表 + 客户端查找（牺牲带宽换可用性）；
// 两条路径都找不到时返回 (nil, nil)
func (c *Client) GetDevice(ctx context.Context, id string) (*models.Device, error) {
	var device models.Device
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetResult(&device).
		Get("/devices/" + id)

	if err == nil && resp.IsSuccess() {
		device.Normalize()
		return &device, nil
	}

	c.logger.Debug("Direct device fetch failed, falling back to listing",
		zap.String("device_id", id),
		zap.Error(err),
	)

	devices, err := c.SearchDevices(ctx, DeviceFilter{})
	if err != nil {
		return nil, err
	}
	for i := range devices {
		if devices[i].ID == id {
			return &devices[i], nil
		}
	}
	return nil, nil
}

// GetHistory 获取历史数据
// rng 为 nil 时由后端决定默认窗口；时间参数按 ISO-8601 传递
func (c *Client) GetHistory(ctx context.Context, id string, rng *models.TimeRange) ([]models.HistoryPoint, error) {
	req := c.httpClient.R().
		SetContext(ctx)
	if rng != nil {
		req.SetQueryParam("start", rng.Start.Format(time.RFC3339)).
			SetQueryParam("end", rng.End.Format(time.RFC3339))
	}

	var points []models.HistoryPoint
	resp, err := req.SetResult(&points).Get("/devices/" + id + "/history")
	if err != nil {
		return nil, &NetworkError{Op: "get history", Err: err}
	}
	if resp.IsError() {
		return nil, &BackendError{Op: "get history", StatusCode: resp.StatusCode()}
	}
	return points, nil
}

// GetSpectrum 获取 FFT 频谱数据
func (c *Client) GetSpectrum(ctx context.Context, id string) ([]models.SpectrumPoint, error) {
	var points []models.SpectrumPoint
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetResult(&points).
		Get("/devices/" + id + "/fft")

	if err != nil {
		return nil, &NetworkError{Op: "get spectrum", Err: err}
	}
	if resp.IsError() {
		return nil, &BackendError{Op: "get spectrum", StatusCode: resp.StatusCode()}
	}
	return points, nil
}

// UpdateDevice 更新设备字段（只发送变更字段）
func (c *Client) UpdateDevice(ctx context.Context, id string, fields map[string]any) (*models.Device, error) {
	var device models.Device
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetBody(fields).
		SetResult(&device).
		Put("/devices/" + id)

	if err != nil {
		c.logger.Error("Device update failed",
			zap.String("device_id", id),
			zap.Error(err),
		)
		return nil, &NetworkError{Op: "update device", Err: err}
	}
	if resp.IsError() {
		c.logger.Error("Device update returned error status",
			zap.String("device_id", id),
			zap.Int("status_code", resp.StatusCode()),
		)
		return nil, &BackendError{Op: "update device", StatusCode: resp.StatusCode()}
	}

	device.Normalize()
	return &device, nil
}
