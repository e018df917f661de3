package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	fetchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tiltwatch_fetches_total",
			Help: "Total number of backend fetches by resource and outcome.",
		},
		[]string{"resource", "outcome"},
	)

	staleResponsesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tiltwatch_stale_responses_discarded_total",
		Help: "Responses discarded because a newer response for the same key was already applied.",
	})

	invalidationsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tiltwatch_cache_invalidations_total",
		Help: "Total number of cache key invalidations.",
	})

	pushEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tiltwatch_push_events_total",
			Help: "Server-push events received by event type.",
		},
		[]string{"type"},
	)

	pushReconnectsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tiltwatch_push_reconnects_total",
		Help: "Reconnect attempts on the server-push channel.",
	})
)

// ObserveFetch 记录一次后端拉取
// resource 取缓存键的资源段（devices / device / history / spectrum），
// outcome 取 "success" 或 "error"，保证标签基数有界
func ObserveFetch(resource, outcome string) {
	fetchesTotal.WithLabelValues(resource, outcome).Inc()
}

// StaleResponseDiscarded 记录一次过期响应丢弃
func StaleResponseDiscarded() {
	staleResponsesTotal.Inc()
}

// Invalidation 记录一次缓存失效
func Invalidation() {
	invalidationsTotal.Inc()
}

// PushEvent 记录一次推送事件
func PushEvent(eventType string) {
	pushEventsTotal.WithLabelValues(eventType).Inc()
}

// PushReconnect 记录一次推送通道重连
func PushReconnect() {
	pushReconnectsTotal.Inc()
}

var registerOnce sync.Once

// Register 把所有计数器注册到默认 registry，重复调用只生效一次
// Go 运行时和进程指标已由默认 registry 自带，不在这里重复注册
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			fetchesTotal,
			staleResponsesTotal,
			invalidationsTotal,
			pushEventsTotal,
			pushReconnectsTotal,
		)
	})
}

// Handler 返回 /metrics 端点的 HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
