package notify

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Level 通知级别
type Level string

const (
	// LevelAlert 设备异常警报（点击后跳转设备详情）
	LevelAlert Level = "alert"
	// LevelSuccess 操作成功提示
	LevelSuccess Level = "success"
	// LevelError 操作失败提示
	LevelError Level = "error"
)

// Alert 用户可见的通知
type Alert struct {
	ID        string `json:"id"`
	Level     Level  `json:"level"`
	Serial    string `json:"serial,omitempty"`
	Message   string `json:"message"`
	DeviceID  string `json:"deviceId,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// Publisher 把通知广播给进程外的消费方（如展示层）
type Publisher interface {
	Publish(ctx context.Context, alert Alert) error
}

// Dispatcher 通知分发器
// 进程内订阅方总是可用；配置了 Publisher 时同时向外广播
type Dispatcher struct {
	mu        sync.Mutex
	subs      map[int]chan Alert
	nextID    int
	publisher Publisher
	logger    *zap.Logger
}

// NewDispatcher 创建通知分发器（publisher 可以为 nil）
func NewDispatcher(logger *zap.Logger, publisher Publisher) *Dispatcher {
	return &Dispatcher{
		subs:      make(map[int]chan Alert),
		publisher: publisher,
		logger:    logger,
	}
}

// Subscribe 订阅通知，返回通道和退订函数
func (d *Dispatcher) Subscribe() (<-chan Alert, func()) {
	d.mu.Lock()
	defer d.mu.Unlock()

	id := d.nextID
	d.nextID++
	ch := make(chan Alert, 16)
	d.subs[id] = ch

	cancel := func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		if existing, ok := d.subs[id]; ok {
			delete(d.subs, id)
			close(existing)
		}
	}
	return ch, cancel
}

// Alert 发出设备异常警报
func (d *Dispatcher) Alert(ctx context.Context, serial, message, deviceID string) {
	d.emit(ctx, Alert{
		Level:    LevelAlert,
		Serial:   serial,
		Message:  message,
		DeviceID: deviceID,
	})
}

// Success 发出成功提示
func (d *Dispatcher) Success(ctx context.Context, message string) {
	d.emit(ctx, Alert{Level: LevelSuccess, Message: message})
}

// Error 发出失败提示
func (d *Dispatcher) Error(ctx context.Context, message string) {
	d.emit(ctx, Alert{Level: LevelError, Message: message})
}

func (d *Dispatcher) emit(ctx context.Context, alert Alert) {
	alert.ID = uuid.NewString()
	alert.Timestamp = time.Now().Unix()

	d.logger.Info("Dispatching notification",
		zap.String("level", string(alert.Level)),
		zap.String("device_id", alert.DeviceID),
		zap.String("message", alert.Message),
	)

	d.mu.Lock()
	for _, ch := range d.subs {
		select {
		case ch <- alert:
		default:
			// 消费方跟不上时丢弃，通知是尽力投递
		}
	}
	publisher := d.publisher
	d.mu.Unlock()

	if publisher != nil {
		if err := publisher.Publish(ctx, alert); err != nil {
			d.logger.Warn("Failed to publish notification",
				zap.String("alert_id", alert.ID),
				zap.Error(err),
			)
		}
	}
}

// RedisStreamPublisher 把通知发布到 Redis Streams
type RedisStreamPublisher struct {
	client *redis.Client
	stream string
}

// NewRedisStreamPublisher 创建 Redis Streams 发布器
func NewRedisStreamPublisher(client *redis.Client, stream string) *RedisStreamPublisher {
	return &RedisStreamPublisher{
		client: client,
		stream: stream,
	}
}

// Publish 序列化为 JSON 并 XADD 到流
func (p *RedisStreamPublisher) Publish(ctx context.Context, alert Alert) error {
	jsonBytes, err := json.Marshal(alert)
	if err != nil {
		return err
	}

	return p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		Values: map[string]interface{}{
			"data":      string(jsonBytes),
			"timestamp": time.Now().Unix(),
		},
	}).Err()
}
