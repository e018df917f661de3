package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config 同步服务配置
type Config struct {
	// 后端 REST 边界
	API struct {
		BaseURL string        // 如 http://localhost:5001/api
		Timeout time.Duration // HTTP 超时（源实现缺失，这里补上显式超时）
	}

	// 轮询缓存
	Poll struct {
		FastInterval time.Duration // 设备列表 / 详情
		SlowInterval time.Duration // 历史 / 频谱
		StaleTime    time.Duration // 此时间内的缓存结果不重复拉取
	}

	// 服务端推送（SSE）
	SSE struct {
		URL       string
		Reconnect bool // 源实现断线不重连；true 时启用指数退避重连
	}

	// 报警流广播（可选，REDIS_ADDR 为空时关闭）
	Redis struct {
		Addr        string
		Password    string
		DB          int
		AlertStream string
	}

	// Prometheus 指标监听地址（为空时关闭）
	MetricsAddr string

	// 会话状态文件（为空时仅保存在内存）
	SessionFile string

	Log struct {
		Level  string
		Format string
	}
}

// Load 加载配置（.env 文件 + 环境变量）
func Load() (*Config, error) {
	// .env 不存在时依赖系统环境变量
	_ = godotenv.Load()

	cfg := &Config{}

	cfg.API.BaseURL = getEnv("API_BASE_URL", "http://localhost:5001/api")
	cfg.API.Timeout = getDurationMs("HTTP_TIMEOUT_MS", 10*time.Second)

	cfg.Poll.FastInterval = getDurationMs("POLL_FAST_MS", 5*time.Second)
	cfg.Poll.SlowInterval = getDurationMs("POLL_SLOW_MS", 10*time.Second)
	cfg.Poll.StaleTime = getDurationMs("STALE_TIME_MS", 2*time.Second)

	cfg.SSE.URL = getEnv("EVENTS_URL", cfg.API.BaseURL+"/events")
	cfg.SSE.Reconnect = getEnv("SSE_RECONNECT", "false") == "true"

	cfg.Redis.Addr = getEnv("REDIS_ADDR", "")
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", "")
	cfg.Redis.DB = getInt("REDIS_DB", 0)
	cfg.Redis.AlertStream = getEnv("ALERT_STREAM", "tiltwatch:alerts")

	cfg.MetricsAddr = getEnv("METRICS_ADDR", "")
	cfg.SessionFile = getEnv("SESSION_FILE", "")

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	if raw := os.Getenv(key); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			return v
		}
	}
	return defaultValue
}

func getDurationMs(key string, defaultValue time.Duration) time.Duration {
	if raw := os.Getenv(key); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			return time.Duration(v) * time.Millisecond
		}
	}
	return defaultValue
}
