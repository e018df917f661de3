package session

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"go.uber.org/zap"
)

// State 会话状态：两个简单标志，没有 token、没有过期时间
// （认证是显式的非核心桩，这里只做浏览器 localStorage 的等价物）
type State struct {
	IsAuthenticated bool   `json:"isAuthenticated"`
	Username        string `json:"username"`
}

// Store 会话状态存储
// path 为空时只保存在内存；否则持久化为一个小 JSON 文件
type Store struct {
	mu     sync.Mutex
	path   string
	state  State
	logger *zap.Logger
}

// NewStore 创建会话存储，已有的状态文件会被加载
func NewStore(path string, logger *zap.Logger) (*Store, error) {
	s := &Store{
		path:   path,
		logger: logger,
	}

	if path != "" {
		raw, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			// 首次启动，空状态
		case err != nil:
			return nil, fmt.Errorf("failed to read session file: %w", err)
		default:
			if err := json.Unmarshal(raw, &s.state); err != nil {
				// 损坏的状态文件按未登录处理
				logger.Warn("Session file corrupted, resetting",
					zap.String("path", path),
					zap.Error(err),
				)
				s.state = State{}
			}
		}
	}

	return s, nil
}

// Login 记录登录状态
func (s *Store) Login(username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state = State{IsAuthenticated: true, Username: username}
	return s.persistLocked()
}

// Logout 清除登录状态
func (s *Store) Logout() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state = State{}
	return s.persistLocked()
}

// Current 当前会话状态
func (s *Store) Current() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Store) persistLocked() error {
	if s.path == "" {
		return nil
	}

	raw, err := json.MarshalIndent(s.state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal session state: %w", err)
	}
	if err := os.WriteFile(s.path, raw, 0o600); err != nil {
		return fmt.Errorf("failed to write session file: %w", err)
	}
	return nil
}
