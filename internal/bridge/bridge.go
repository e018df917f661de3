package bridge

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"tiltwatch-sync/internal/metrics"
)

// EventStatusChange 唯一需要处理的推送事件类型
const EventStatusChange = "STATUS_CHANGE"

// Event 服务端推送的事件消息
type Event struct {
	Type     string `json:"type"`
	Serial   string `json:"serial,omitempty"`
	Message  string `json:"message,omitempty"`
	DeviceID string `json:"deviceId,omitempty"`
}

// Invalidator 收到状态变更时被失效的缓存
type Invalidator interface {
	Invalidate(prefix string)
}

// Notifier 用户可见的警报出口
type Notifier interface {
	Alert(ctx context.Context, serial, message, deviceID string)
}

// Bridge 服务端推送桥
// 每个会话只打开一条 SSE 连接；消息解析失败时丢弃该条消息、连接保持；
// 连接级错误默认关闭连接不重连（与旧前端一致），
// reconnect=true 时按指数退避重连
type Bridge struct {
	url         string
	prefix      string // 状态变更时失效的缓存键前缀
	httpClient  *http.Client
	invalidator Invalidator
	notifier    Notifier
	logger      *zap.Logger
	reconnect   bool
}

// New 创建推送桥
func New(url, invalidatePrefix string, invalidator Invalidator, notifier Notifier, reconnect bool, logger *zap.Logger) *Bridge {
	return &Bridge{
		url:    url,
		prefix: invalidatePrefix,
		// SSE 是长连接，客户端不能设整体超时
		httpClient:  &http.Client{},
		invalidator: invalidator,
		notifier:    notifier,
		logger:      logger,
		reconnect:   reconnect,
	}
}

// Run 打开连接并消费事件，直到 ctx 取消
// ctx 取消时连接被无条件关闭
func (b *Bridge) Run(ctx context.Context) error {
	backoff := time.Second
	maxBackoff := 30 * time.Second

	for {
		connected, err := b.consume(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if !b.reconnect {
			// 与源行为一致：关闭连接后不自动重连，
			// 重连等价于重新启动桥
			b.logger.Warn("Push channel closed, not reconnecting", zap.Error(err))
			return err
		}

		if connected {
			// 成功连上过，重置退避时间
			backoff = time.Second
		}

		metrics.PushReconnect()
		b.logger.Warn("Push channel error, reconnecting",
			zap.Error(err),
			zap.Duration("backoff", backoff),
		)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}
	}
}

// consume 打开一条 SSE 连接并读到断开为止
// 返回值 connected 表示是否成功建立过连接
func (b *Bridge) consume(ctx context.Context) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.url, nil)
	if err != nil {
		return false, fmt.Errorf("failed to build push request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("failed to connect push channel: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("push channel returned status %d", resp.StatusCode)
	}

	b.logger.Info("Push channel connected", zap.String("url", b.url))

	scanner := bufio.NewScanner(resp.Body)
	var data strings.Builder

	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			// 空行表示一条事件结束
			if data.Len() > 0 {
				b.dispatch(ctx, data.String())
				data.Reset()
			}
		case strings.HasPrefix(line, "data:"):
			data.WriteString(strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		default:
			// event:/id:/retry: 和注释行都不需要
		}
	}

	if err := scanner.Err(); err != nil {
		return true, fmt.Errorf("push channel read failed: %w", err)
	}
	return true, fmt.Errorf("push channel closed by server")
}

// dispatch 处理一条推送消息
// 解析失败只记日志并丢弃，连接保持打开
func (b *Bridge) dispatch(ctx context.Context, raw string) {
	var event Event
	if err := json.Unmarshal([]byte(raw), &event); err != nil {
		b.logger.Warn("Failed to parse push message, dropping",
			zap.String("raw", raw),
			zap.Error(err),
		)
		return
	}

	metrics.PushEvent(event.Type)

	if event.Type != EventStatusChange {
		b.logger.Debug("Ignoring push event", zap.String("type", event.Type))
		return
	}

	b.logger.Info("Device status changed",
		zap.String("device_id", event.DeviceID),
		zap.String("serial", event.Serial),
	)

	// 强制所有设备列表查询在下次访问时刷新
	b.invalidator.Invalidate(b.prefix)
	b.notifier.Alert(ctx, event.Serial, event.Message, event.DeviceID)
}
