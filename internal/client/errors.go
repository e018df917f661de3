package client

import "fmt"

// NetworkError 传输层失败（连接、超时）
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error during %s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// BackendError 后端返回非 2xx 响应
type BackendError struct {
	Op         string
	StatusCode int
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("backend error during %s: status %d", e.Op, e.StatusCode)
}
