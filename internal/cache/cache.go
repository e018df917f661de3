package cache

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"tiltwatch-sync/internal/metrics"
)

// Key 缓存键：资源类型 + 参数
type Key string

// NewKey 用 ":" 拼接键段，第一段为资源类型
func NewKey(parts ...string) Key {
	return Key(strings.Join(parts, ":"))
}

// Resource 返回键的资源段（用于指标标签）
func (k Key) Resource() string {
	s := string(k)
	if i := strings.IndexByte(s, ':'); i >= 0 {
		return s[:i]
	}
	return s
}

// QueryStatus 查询状态
type QueryStatus string

const (
	StatusIdle    QueryStatus = "idle"
	StatusLoading QueryStatus = "loading"
	StatusSuccess QueryStatus = "success"
	StatusError   QueryStatus = "error"
)

// QueryState 单个缓存条目对订阅方暴露的快照
// Data 保留最后一次成功结果；Err 是独立的错误通道，
// 读失败不会清空 Data，调用方由此能区分“空数据集”和“拉取失败”
type QueryState struct {
	Data      any
	Err       error
	Status    QueryStatus
	UpdatedAt time.Time
	Fetching  bool
}

// FetchFunc 一次后端拉取
type FetchFunc func(ctx context.Context) (any, error)

// Selector 订阅级的纯派生视图，不修改共享缓存值
type Selector func(any) any

// Query 一次订阅的查询定义
type Query struct {
	Key       Key
	Fetch     FetchFunc
	Interval  time.Duration // 0 表示不做周期性刷新（自定义时间范围模式）
	StaleTime time.Duration // 此时间内的结果在重新订阅时不触发刷新
	Enabled   bool          // 必要参数缺失时为 false，完全不拉取
	Selector  Selector      // 可选
}

// entry 进程级共享的缓存条目
// 响应按到达顺序应用，但带请求序号：
// 旧请求的响应晚于新请求到达时被丢弃，不会覆盖新值
type entry struct {
	fetch     FetchFunc
	interval  time.Duration
	staleTime time.Duration

	state      QueryState
	nextSeq    uint64
	appliedSeq uint64
	inFlight   int

	subs   map[int]*Subscription
	nextID int
	stop   chan struct{} // 关闭时停掉轮询 goroutine
}

// Store 进程级轮询缓存
// 生命周期显式：NewStore 创建，Shutdown 取消所有在途拉取并停掉轮询
type Store struct {
	mu      sync.Mutex
	entries map[Key]*entry
	logger  *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	closed bool
}

// NewStore 创建缓存
func NewStore(logger *zap.Logger) *Store {
	ctx, cancel := context.WithCancel(context.Background())
	return &Store{
		entries: make(map[Key]*entry),
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Subscribe 订阅一个查询键
// 首个订阅方触发立即拉取（staleTime 内的新鲜结果除外）并启动轮询；
// 同键并发订阅共享同一个在途请求和同一份缓存结果
func (s *Store) Subscribe(q Query) *Subscription {
	sub := &Subscription{
		store:    s,
		key:      q.Key,
		selector: q.Selector,
		updates:  make(chan QueryState, 1),
	}

	if !q.Enabled {
		// 必要参数未就绪：订阅是惰性的，不建条目、不拉取
		sub.disabled = true
		return sub
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		sub.disabled = true
		return sub
	}

	e, ok := s.entries[q.Key]
	if !ok {
		e = &entry{
			fetch:     q.Fetch,
			interval:  q.Interval,
			staleTime: q.StaleTime,
			state:     QueryState{Status: StatusIdle},
			subs:      make(map[int]*Subscription),
		}
		s.entries[q.Key] = e
	} else {
		// 后订阅方可能带来更新的查询定义（如时间范围变化后的新键不会走到这里，
		// 同键重订阅时保留最新的拉取函数）
		e.fetch = q.Fetch
	}

	sub.id = e.nextID
	e.nextID++
	e.subs[sub.id] = sub

	fresh := !e.state.UpdatedAt.IsZero() && time.Since(e.state.UpdatedAt) < e.staleTime
	if fresh {
		// staleTime 内重新订阅：直接送当前快照，不发起冗余拉取
		sub.push(e.snapshotLocked())
	} else {
		s.maybeFetchLocked(q.Key, e, false)
	}

	if len(e.subs) == 1 && e.interval > 0 && e.stop == nil {
		e.stop = make(chan struct{})
		go s.pollLoop(q.Key, e.interval, e.stop)
	}

	return sub
}

// pollLoop 固定间隔刷新，直到最后一个订阅方离开
func (s *Store) pollLoop(key Key, interval time.Duration, stop chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			s.mu.Lock()
			if e, ok := s.entries[key]; ok {
				s.maybeFetchLocked(key, e, false)
			}
			s.mu.Unlock()
		}
	}
}

// maybeFetchLocked 发起一次拉取（调用方持锁）
// force=false 时与在途请求去重；force=true（手动失效）时直接发新请求，
// 旧请求的响应会因序号落后被丢弃
func (s *Store) maybeFetchLocked(key Key, e *entry, force bool) {
	if e.inFlight > 0 && !force {
		return
	}

	e.nextSeq++
	seq := e.nextSeq
	e.inFlight++
	e.state.Fetching = true
	// 只有还没有任何数据时才算首次加载；
	// 失效后的强制刷新会把 UpdatedAt 清零，但已有数据的条目保持当前状态
	if e.state.Data == nil && e.state.Err == nil {
		e.state.Status = StatusLoading
	}
	s.notifyLocked(e)

	fetch := e.fetch
	go func() {
		data, err := fetch(s.ctx)

		s.mu.Lock()
		defer s.mu.Unlock()

		e.inFlight--
		if e.inFlight == 0 {
			e.state.Fetching = false
		}

		if seq <= e.appliedSeq {
			// 更新的响应已经应用过，丢弃
			metrics.StaleResponseDiscarded()
			s.logger.Debug("Discarded stale response",
				zap.String("key", string(key)),
				zap.Uint64("seq", seq),
				zap.Uint64("applied_seq", e.appliedSeq),
			)
			s.notifyLocked(e)
			return
		}
		e.appliedSeq = seq

		if err != nil {
			metrics.ObserveFetch(key.Resource(), "error")
			e.state.Err = err
			e.state.Status = StatusError
			s.logger.Warn("Fetch failed",
				zap.String("key", string(key)),
				zap.Error(err),
			)
		} else {
			metrics.ObserveFetch(key.Resource(), "success")
			e.state.Data = data
			e.state.Err = nil
			e.state.Status = StatusSuccess
			e.state.UpdatedAt = time.Now()
		}
		s.notifyLocked(e)
	}()
}

// Invalidate 失效所有匹配前缀的键
// 有订阅方的条目立即强制刷新（绕过 staleTime），其余条目标记为过期
func (s *Store) Invalidate(prefix string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, e := range s.entries {
		if !strings.HasPrefix(string(key), prefix) {
			continue
		}
		metrics.Invalidation()
		e.state.UpdatedAt = time.Time{}
		if len(e.subs) > 0 {
			s.maybeFetchLocked(key, e, true)
		}
	}
}

// Peek 读取某个键的当前快照（不订阅、不触发拉取）
func (s *Store) Peek(key Key) (QueryState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return QueryState{Status: StatusIdle}, false
	}
	return e.snapshotLocked(), true
}

// Shutdown 取消所有在途拉取并停掉全部轮询
// 缓存值保留在内存中直到进程退出
func (s *Store) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	s.cancel()
	for _, e := range s.entries {
		if e.stop != nil {
			close(e.stop)
			e.stop = nil
		}
	}
}

func (e *entry) snapshotLocked() QueryState {
	return e.state
}

// notifyLocked 把最新快照推给所有订阅方（调用方持锁）
func (s *Store) notifyLocked(e *entry) {
	st := e.snapshotLocked()
	for _, sub := range e.subs {
		sub.push(st)
	}
}

func (s *Store) unsubscribe(key Key, id int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return
	}
	delete(e.subs, id)
	if len(e.subs) == 0 && e.stop != nil {
		// 最后一个订阅方离开：停掉轮询，在途请求允许完成
		close(e.stop)
		e.stop = nil
	}
}

// Subscription 一个消费方对某个键的订阅
type Subscription struct {
	store    *Store
	key      Key
	id       int
	selector Selector
	disabled bool

	mu      sync.Mutex
	closed  bool
	last    QueryState
	hasLast bool
	updates chan QueryState
}

// Updates 状态更新通道（容量 1，新快照覆盖未消费的旧快照）
func (s *Subscription) Updates() <-chan QueryState {
	return s.updates
}

// State 当前快照（已应用 selector）
func (s *Subscription) State() QueryState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.hasLast {
		return QueryState{Status: StatusIdle}
	}
	return s.last
}

// Close 退订；最后一个订阅方退订后该键停止轮询
func (s *Subscription) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	if !s.disabled {
		s.store.unsubscribe(s.key, s.id)
	}
}

// push 应用 selector 并以“覆盖式”投递（消费方永远看到最新快照）
func (s *Subscription) push(st QueryState) {
	if s.selector != nil && st.Data != nil {
		st.Data = s.selector(st.Data)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.last = st
	s.hasLast = true

	select {
	case s.updates <- st:
	default:
		// 丢掉未消费的旧快照，换成最新的
		select {
		case <-s.updates:
		default:
		}
		select {
		case s.updates <- st:
		default:
		}
	}
}
