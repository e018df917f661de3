package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"tiltwatch-sync/internal/bridge"
	"tiltwatch-sync/internal/cache"
	"tiltwatch-sync/internal/client"
	"tiltwatch-sync/internal/config"
	"tiltwatch-sync/internal/export"
	"tiltwatch-sync/internal/models"
	"tiltwatch-sync/internal/mutation"
	"tiltwatch-sync/internal/notify"
	"tiltwatch-sync/internal/session"
	"tiltwatch-sync/internal/stats"
)

// SyncService 同步服务
// 显式持有进程级共享资源（缓存、推送连接、通知分发器），
// 生命周期：NewSyncService 创建，Start 运行到 ctx 取消，Stop 释放
type SyncService struct {
	config      *config.Config
	logger      *zap.Logger
	client      *client.Client
	store       *cache.Store
	dispatcher  *notify.Dispatcher
	bridge      *bridge.Bridge
	mutations   *mutation.Coordinator
	sessions    *session.Store
	redisClient *redis.Client
}

// NewSyncService 创建同步服务
func NewSyncService(cfg *config.Config, logger *zap.Logger) (*SyncService, error) {
	apiClient := client.New(cfg.API.BaseURL, cfg.API.Timeout, logger)

	// Redis 报警流广播是可选的
	var redisClient *redis.Client
	var publisher notify.Publisher
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		publisher = notify.NewRedisStreamPublisher(redisClient, cfg.Redis.AlertStream)
	}

	dispatcher := notify.NewDispatcher(logger, publisher)
	store := cache.NewStore(logger)

	sessions, err := session.NewStore(cfg.SessionFile, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open session store: %w", err)
	}

	return &SyncService{
		config:      cfg,
		logger:      logger,
		client:      apiClient,
		store:       store,
		dispatcher:  dispatcher,
		bridge:      bridge.New(cfg.SSE.URL, resourceDevices, store, dispatcher, cfg.SSE.Reconnect, logger),
		mutations:   mutation.NewCoordinator(apiClient, store, dispatcher, resourceDevices, logger),
		sessions:    sessions,
		redisClient: redisClient,
	}, nil
}

// Start 运行服务，直到 ctx 取消
// 打开推送通道，并订阅全量设备列表以保持总览统计新鲜
func (s *SyncService) Start(ctx context.Context) error {
	s.logger.Info("Starting sync service",
		zap.String("api_base_url", s.config.API.BaseURL),
		zap.String("events_url", s.config.SSE.URL),
		zap.Bool("sse_reconnect", s.config.SSE.Reconnect),
	)

	go func() {
		if err := s.bridge.Run(ctx); err != nil {
			// 默认与源行为一致：推送断开后保持静默，轮询继续兜底
			s.logger.Warn("Push bridge stopped", zap.Error(err))
		}
	}()

	sub := s.store.Subscribe(FactoryStatsQuery(s.client, s.config))
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return nil
		case st := <-sub.Updates():
			if st.Err != nil {
				s.logger.Warn("Device snapshot refresh failed", zap.Error(st.Err))
				continue
			}
			if fs, ok := st.Data.(stats.FactoryStats); ok && st.Status == cache.StatusSuccess {
				s.logger.Info("Device snapshot refreshed",
					zap.Int("total", fs.TotalCount),
					zap.Int("warning", fs.TotalWarning),
					zap.Int("motors", fs.MotorStats.Total),
					zap.Int("pipes", fs.PipeStats.Total),
					zap.Int("unknown", fs.UnknownCount),
				)
			}
		}
	}
}

// Stop 停止服务并释放共享资源
func (s *SyncService) Stop(ctx context.Context) error {
	s.logger.Info("Stopping sync service")

	s.store.Shutdown()

	if s.redisClient != nil {
		if err := s.redisClient.Close(); err != nil {
			s.logger.Error("Error closing redis connection", zap.Error(err))
		}
	}

	s.logger.Info("Sync service stopped")
	return nil
}

// ExportHistoryCSV 导出某设备的历史数据为 CSV
// 返回文件内容和下载文件名（{serial}_{yyyyMMdd}.csv）
func (s *SyncService) ExportHistoryCSV(ctx context.Context, deviceID string, win stats.Window) ([]byte, string, error) {
	serial, points, err := s.historyForExport(ctx, deviceID, win)
	if err != nil {
		return nil, "", err
	}
	return export.FormatCSV(points), export.Filename(serial, time.Now()), nil
}

// ExportHistoryXLSX 导出某设备的历史数据为 XLSX 工作表
func (s *SyncService) ExportHistoryXLSX(ctx context.Context, deviceID string, win stats.Window) ([]byte, string, error) {
	serial, points, err := s.historyForExport(ctx, deviceID, win)
	if err != nil {
		return nil, "", err
	}
	data, err := export.FormatXLSX(serial, points)
	if err != nil {
		return nil, "", fmt.Errorf("failed to build xlsx export: %w", err)
	}
	name := strings.TrimSuffix(export.Filename(serial, time.Now()), ".csv") + ".xlsx"
	return data, name, nil
}

// historyForExport 取设备序列号和窗口内的历史数据
// 相对窗口拉取后端默认范围再按时长过滤，自定义窗口直接带起止时刻拉取
func (s *SyncService) historyForExport(ctx context.Context, deviceID string, win stats.Window) (string, []models.HistoryPoint, error) {
	device, err := s.client.GetDevice(ctx, deviceID)
	if err != nil {
		return "", nil, err
	}
	if device == nil {
		return "", nil, fmt.Errorf("device %s not found", deviceID)
	}

	var points []models.HistoryPoint
	if win.Mode == stats.WindowCustom {
		points, err = s.client.GetHistory(ctx, deviceID, &win.Range)
	} else {
		points, err = s.client.GetHistory(ctx, deviceID, nil)
		if err == nil {
			points = stats.WindowHistory(points, win, time.Now())
		}
	}
	if err != nil {
		return "", nil, err
	}
	return device.Serial, points, nil
}

// Store 轮询缓存（展示层由此订阅查询键）
func (s *SyncService) Store() *cache.Store {
	return s.store
}

// Client 设备后端客户端
func (s *SyncService) Client() *client.Client {
	return s.client
}

// Notifications 通知分发器（展示层由此订阅警报/提示）
func (s *SyncService) Notifications() *notify.Dispatcher {
	return s.dispatcher
}

// Mutations 序列号编辑协调器
func (s *SyncService) Mutations() *mutation.Coordinator {
	return s.mutations
}

// Sessions 会话状态存储
func (s *SyncService) Sessions() *session.Store {
	return s.sessions
}
