package mutation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"tiltwatch-sync/internal/models"
)

// Phase 编辑会话状态机
// Idle → Editing → Saving → (成功回 Idle / 失败回 Editing，保留输入)
type Phase string

const (
	PhaseIdle    Phase = "idle"
	PhaseEditing Phase = "editing"
	PhaseSaving  Phase = "saving"
)

// Outcome 一次 UpdateSerial 的结果
type Outcome string

const (
	// OutcomeSaved 已提交并刷新缓存
	OutcomeSaved Outcome = "saved"
	// OutcomeCanceled 输入为空或未变化，按取消处理（不算错误）
	OutcomeCanceled Outcome = "canceled"
	// OutcomeFailed 后端拒绝或网络失败
	OutcomeFailed Outcome = "failed"
)

// ErrEditInFlight 同一设备同时只允许一个在途编辑
var ErrEditInFlight = errors.New("edit already in flight for this device")

// Updater 设备更新后端
type Updater interface {
	UpdateDevice(ctx context.Context, id string, fields map[string]any) (*models.Device, error)
}

// Invalidator 提交成功后需要刷新的缓存
type Invalidator interface {
	Invalidate(prefix string)
}

// Notifier 提交结果的用户可见提示
type Notifier interface {
	Success(ctx context.Context, message string)
	Error(ctx context.Context, message string)
}

// EditSession 单个设备的编辑会话
type EditSession struct {
	DeviceID  string
	Current   string // 当前序列号
	Attempted string // 最近一次尝试提交的值（失败后表单保留它）
	Phase     Phase
}

// Coordinator 序列号编辑协调器
type Coordinator struct {
	mu          sync.Mutex
	sessions    map[string]*EditSession
	client      Updater
	invalidator Invalidator
	notifier    Notifier
	logger      *zap.Logger
	prefix      string
}

// NewCoordinator 创建编辑协调器
// invalidatePrefix 是提交成功后失效的缓存键前缀（设备列表查询）
func NewCoordinator(client Updater, invalidator Invalidator, notifier Notifier, invalidatePrefix string, logger *zap.Logger) *Coordinator {
	return &Coordinator{
		sessions:    make(map[string]*EditSession),
		client:      client,
		invalidator: invalidator,
		notifier:    notifier,
		logger:      logger,
		prefix:      invalidatePrefix,
	}
}

// Begin 打开编辑会话（Idle → Editing）
func (c *Coordinator) Begin(deviceID, currentSerial string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if s, ok := c.sessions[deviceID]; ok && s.Phase == PhaseSaving {
		return
	}
	c.sessions[deviceID] = &EditSession{
		DeviceID: deviceID,
		Current:  currentSerial,
		Phase:    PhaseEditing,
	}
}

// Cancel 放弃编辑（在途提交不能取消）
func (c *Coordinator) Cancel(deviceID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if s, ok := c.sessions[deviceID]; ok && s.Phase != PhaseSaving {
		delete(c.sessions, deviceID)
	}
}

// Session 返回当前会话快照
func (c *Coordinator) Session(deviceID string) (EditSession, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.sessions[deviceID]
	if !ok {
		return EditSession{}, false
	}
	return *s, true
}

// IsPending 该设备是否有在途提交（UI 据此禁用输入）
func (c *Coordinator) IsPending(deviceID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.sessions[deviceID]
	return ok && s.Phase == PhaseSaving
}

// UpdateSerial 提交序列号修改
// 去掉首尾空白后为空或与当前值相同时按取消处理，不发网络请求；
// 成功后失效设备列表缓存并发成功提示；失败时保留尝试值并发错误提示
func (c *Coordinator) UpdateSerial(ctx context.Context, deviceID, currentSerial, newSerial string) (Outcome, error) {
	trimmed := strings.TrimSpace(newSerial)

	c.mu.Lock()
	if s, ok := c.sessions[deviceID]; ok && s.Phase == PhaseSaving {
		c.mu.Unlock()
		return OutcomeFailed, ErrEditInFlight
	}

	if trimmed == "" || trimmed == currentSerial {
		// 视为取消，不算错误
		delete(c.sessions, deviceID)
		c.mu.Unlock()
		return OutcomeCanceled, nil
	}

	c.sessions[deviceID] = &EditSession{
		DeviceID:  deviceID,
		Current:   currentSerial,
		Attempted: trimmed,
		Phase:     PhaseSaving,
	}
	c.mu.Unlock()

	device, err := c.client.UpdateDevice(ctx, deviceID, map[string]any{"serial": trimmed})
	if err == nil && device == nil {
		err = fmt.Errorf("device %s not found", deviceID)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err != nil {
		// 失败回 Editing，表单保留尝试值
		if s, ok := c.sessions[deviceID]; ok {
			s.Phase = PhaseEditing
		}
		c.logger.Warn("Serial update failed",
			zap.String("device_id", deviceID),
			zap.Error(err),
		)
		c.notifier.Error(ctx, fmt.Sprintf("Failed to update serial for %s", deviceID))
		return OutcomeFailed, err
	}

	delete(c.sessions, deviceID)
	c.logger.Info("Serial updated",
		zap.String("device_id", deviceID),
		zap.String("serial", device.Serial),
	)

	c.invalidator.Invalidate(c.prefix)
	c.notifier.Success(ctx, fmt.Sprintf("Serial updated to %s", device.Serial))
	return OutcomeSaved, nil
}
