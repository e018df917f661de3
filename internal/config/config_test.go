package config

import (
	"os"
	"testing"
	"time"
)

func TestLoad_DefaultValues(t *testing.T) {
	// 清除环境变量
	os.Clearenv()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	// 检查默认值
	if cfg.API.BaseURL != "http://localhost:5001/api" {
		t.Errorf("Expected API_BASE_URL default 'http://localhost:5001/api', got '%s'", cfg.API.BaseURL)
	}

	if cfg.API.Timeout != 10*time.Second {
		t.Errorf("Expected HTTP timeout default 10s, got %v", cfg.API.Timeout)
	}

	if cfg.Poll.FastInterval != 5*time.Second {
		t.Errorf("Expected POLL_FAST_MS default 5s, got %v", cfg.Poll.FastInterval)
	}

	if cfg.Poll.SlowInterval != 10*time.Second {
		t.Errorf("Expected POLL_SLOW_MS default 10s, got %v", cfg.Poll.SlowInterval)
	}

	if cfg.Poll.StaleTime != 2*time.Second {
		t.Errorf("Expected STALE_TIME_MS default 2s, got %v", cfg.Poll.StaleTime)
	}

	if cfg.SSE.URL != "http://localhost:5001/api/events" {
		t.Errorf("Expected EVENTS_URL default from base URL, got '%s'", cfg.SSE.URL)
	}

	if cfg.SSE.Reconnect {
		t.Error("Expected SSE_RECONNECT default false")
	}

	if cfg.Redis.Addr != "" {
		t.Errorf("Expected REDIS_ADDR default empty, got '%s'", cfg.Redis.Addr)
	}

	if cfg.Redis.AlertStream != "tiltwatch:alerts" {
		t.Errorf("Expected ALERT_STREAM default 'tiltwatch:alerts', got '%s'", cfg.Redis.AlertStream)
	}

	if cfg.Log.Level != "info" {
		t.Errorf("Expected LOG_LEVEL default 'info', got '%s'", cfg.Log.Level)
	}
}

func TestLoad_EnvironmentVariables(t *testing.T) {
	// 设置环境变量
	os.Setenv("API_BASE_URL", "http://backend:9000/api")
	os.Setenv("POLL_FAST_MS", "1000")
	os.Setenv("STALE_TIME_MS", "500")
	os.Setenv("EVENTS_URL", "http://backend:9000/api/events")
	os.Setenv("SSE_RECONNECT", "true")
	os.Setenv("REDIS_ADDR", "redis:6379")
	os.Setenv("REDIS_DB", "3")
	os.Setenv("LOG_LEVEL", "debug")

	defer func() {
		os.Unsetenv("API_BASE_URL")
		os.Unsetenv("POLL_FAST_MS")
		os.Unsetenv("STALE_TIME_MS")
		os.Unsetenv("EVENTS_URL")
		os.Unsetenv("SSE_RECONNECT")
		os.Unsetenv("REDIS_ADDR")
		os.Unsetenv("REDIS_DB")
		os.Unsetenv("LOG_LEVEL")
	}()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	// 检查环境变量值
	if cfg.API.BaseURL != "http://backend:9000/api" {
		t.Errorf("Expected API_BASE_URL 'http://backend:9000/api', got '%s'", cfg.API.BaseURL)
	}

	if cfg.Poll.FastInterval != time.Second {
		t.Errorf("Expected POLL_FAST_MS 1s, got %v", cfg.Poll.FastInterval)
	}

	if cfg.Poll.StaleTime != 500*time.Millisecond {
		t.Errorf("Expected STALE_TIME_MS 500ms, got %v", cfg.Poll.StaleTime)
	}

	if !cfg.SSE.Reconnect {
		t.Error("Expected SSE_RECONNECT true")
	}

	if cfg.Redis.Addr != "redis:6379" {
		t.Errorf("Expected REDIS_ADDR 'redis:6379', got '%s'", cfg.Redis.Addr)
	}

	if cfg.Redis.DB != 3 {
		t.Errorf("Expected REDIS_DB 3, got %d", cfg.Redis.DB)
	}

	if cfg.Log.Level != "debug" {
		t.Errorf("Expected LOG_LEVEL 'debug', got '%s'", cfg.Log.Level)
	}
}

func TestGetEnv(t *testing.T) {
	// 测试环境变量存在
	os.Setenv("TEST_VAR", "test-value")
	defer os.Unsetenv("TEST_VAR")

	value := getEnv("TEST_VAR", "default")
	if value != "test-value" {
		t.Errorf("Expected 'test-value', got '%s'", value)
	}

	// 测试环境变量不存在，使用默认值
	value = getEnv("NON_EXISTENT_VAR", "default-value")
	if value != "default-value" {
		t.Errorf("Expected 'default-value', got '%s'", value)
	}
}

func TestGetInt_Invalid(t *testing.T) {
	os.Setenv("TEST_INT", "not-a-number")
	defer os.Unsetenv("TEST_INT")

	if value := getInt("TEST_INT", 7); value != 7 {
		t.Errorf("Expected fallback 7 on invalid value, got %d", value)
	}
}

func TestGetDurationMs_Invalid(t *testing.T) {
	os.Setenv("TEST_MS", "not-a-number")
	defer os.Unsetenv("TEST_MS")

	value := getDurationMs("TEST_MS", 3*time.Second)
	if value != 3*time.Second {
		t.Errorf("Expected fallback 3s on invalid value, got %v", value)
	}
}
