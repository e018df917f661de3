package cache_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"tiltwatch-sync/internal/cache"
)

func waitForData(t *testing.T, sub *cache.Subscription, timeout time.Duration) cache.QueryState {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case st := <-sub.Updates():
			if st.Status == cache.StatusSuccess || st.Status == cache.StatusError {
				return st
			}
		case <-deadline:
			t.Fatal("timed out waiting for query state")
			return cache.QueryState{}
		}
	}
}

func TestSubscribe_FetchesImmediately(t *testing.T) {
	store := cache.NewStore(zap.NewNop())
	defer store.Shutdown()

	sub := store.Subscribe(cache.Query{
		Key:     cache.NewKey("devices", "all"),
		Enabled: true,
		Fetch: func(ctx context.Context) (any, error) {
			return "payload", nil
		},
	})
	defer sub.Close()

	st := waitForData(t, sub, time.Second)
	require.Equal(t, cache.StatusSuccess, st.Status)
	require.Equal(t, "payload", st.Data)
	require.NoError(t, st.Err)
}

func TestSubscribe_Deduplicates(t *testing.T) {
	store := cache.NewStore(zap.NewNop())
	defer store.Shutdown()

	var calls atomic.Int64
	release := make(chan struct{})
	q := cache.Query{
		Key:     cache.NewKey("devices", "all"),
		Enabled: true,
		Fetch: func(ctx context.Context) (any, error) {
			calls.Add(1)
			<-release
			return "shared", nil
		},
	}

	// 两个并发订阅方共享同一个在途请求
	sub1 := store.Subscribe(q)
	defer sub1.Close()
	sub2 := store.Subscribe(q)
	defer sub2.Close()

	close(release)

	st1 := waitForData(t, sub1, time.Second)
	st2 := waitForData(t, sub2, time.Second)
	require.Equal(t, "shared", st1.Data)
	require.Equal(t, "shared", st2.Data)
	require.Equal(t, int64(1), calls.Load())
}

func TestSubscribe_StaleTimeSkipsRefetch(t *testing.T) {
	store := cache.NewStore(zap.NewNop())
	defer store.Shutdown()

	var calls atomic.Int64
	q := cache.Query{
		Key:       cache.NewKey("devices", "all"),
		Enabled:   true,
		StaleTime: time.Minute,
		Fetch: func(ctx context.Context) (any, error) {
			calls.Add(1)
			return "v1", nil
		},
	}

	sub := store.Subscribe(q)
	waitForData(t, sub, time.Second)
	sub.Close()

	// staleTime 内重新订阅：不触发冗余拉取
	sub2 := store.Subscribe(q)
	defer sub2.Close()
	st := waitForData(t, sub2, time.Second)
	require.Equal(t, "v1", st.Data)
	require.Equal(t, int64(1), calls.Load())
}

func TestSubscribe_DisabledNeverFetches(t *testing.T) {
	store := cache.NewStore(zap.NewNop())
	defer store.Shutdown()

	var calls atomic.Int64
	sub := store.Subscribe(cache.Query{
		Key:     cache.NewKey("device", ""),
		Enabled: false, // 设备 id 未就绪
		Fetch: func(ctx context.Context) (any, error) {
			calls.Add(1)
			return nil, nil
		},
	})
	defer sub.Close()

	time.Sleep(50 * time.Millisecond)
	require.Equal(t, int64(0), calls.Load())
	require.Equal(t, cache.StatusIdle, sub.State().Status)
}

func TestStaleResponseDiscarded(t *testing.T) {
	store := cache.NewStore(zap.NewNop())
	defer store.Shutdown()

	releaseA := make(chan struct{})
	releaseB := make(chan struct{})
	var calls atomic.Int64

	q := cache.Query{
		Key:     cache.NewKey("devices", "all"),
		Enabled: true,
		Fetch: func(ctx context.Context) (any, error) {
			n := calls.Add(1)
			if n == 1 {
				<-releaseA
				return "A", nil
			}
			<-releaseB
			return "B", nil
		},
	}

	sub := store.Subscribe(q) // 请求 A 挂起
	defer sub.Close()

	// 手动失效触发请求 B（不等待 A）
	store.Invalidate("devices")
	require.Eventually(t, func() bool { return calls.Load() == 2 }, time.Second, 5*time.Millisecond)

	// B 先返回，A 后返回：缓存必须保留 B 的结果
	close(releaseB)
	st := waitForData(t, sub, time.Second)
	require.Equal(t, "B", st.Data)

	close(releaseA)
	time.Sleep(50 * time.Millisecond)
	st = sub.State()
	require.Equal(t, "B", st.Data)
}

func TestInvalidate_PrefixMatching(t *testing.T) {
	store := cache.NewStore(zap.NewNop())
	defer store.Shutdown()

	var deviceCalls, historyCalls atomic.Int64

	subDevices := store.Subscribe(cache.Query{
		Key:       cache.NewKey("devices", "motor", "warning"),
		Enabled:   true,
		StaleTime: time.Minute,
		Fetch: func(ctx context.Context) (any, error) {
			deviceCalls.Add(1)
			return "devices", nil
		},
	})
	defer subDevices.Close()

	subHistory := store.Subscribe(cache.Query{
		Key:       cache.NewKey("history", "motor-1"),
		Enabled:   true,
		StaleTime: time.Minute,
		Fetch: func(ctx context.Context) (any, error) {
			historyCalls.Add(1)
			return "history", nil
		},
	})
	defer subHistory.Close()

	waitForData(t, subDevices, time.Second)
	waitForData(t, subHistory, time.Second)

	// 只有 devices 前缀的键被强制刷新
	store.Invalidate("devices")

	require.Eventually(t, func() bool { return deviceCalls.Load() == 2 }, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, int64(1), historyCalls.Load())
}

func TestSelector_DerivesViewWithoutMutatingCache(t *testing.T) {
	store := cache.NewStore(zap.NewNop())
	defer store.Shutdown()

	key := cache.NewKey("devices", "all")
	fetch := func(ctx context.Context) (any, error) {
		return []int{3, 1, 2}, nil
	}

	raw := store.Subscribe(cache.Query{Key: key, Enabled: true, Fetch: fetch})
	defer raw.Close()

	derived := store.Subscribe(cache.Query{
		Key:     key,
		Enabled: true,
		Fetch:   fetch,
		Selector: func(v any) any {
			return len(v.([]int))
		},
	})
	defer derived.Close()

	stRaw := waitForData(t, raw, time.Second)
	stDerived := waitForData(t, derived, time.Second)

	require.Equal(t, []int{3, 1, 2}, stRaw.Data)
	require.Equal(t, 3, stDerived.Data)

	// 共享缓存值没有被 selector 修改
	peek, ok := store.Peek(key)
	require.True(t, ok)
	require.Equal(t, []int{3, 1, 2}, peek.Data)
}

func TestFetchError_KeepsLastData(t *testing.T) {
	store := cache.NewStore(zap.NewNop())
	defer store.Shutdown()

	var calls atomic.Int64
	q := cache.Query{
		Key:     cache.NewKey("devices", "all"),
		Enabled: true,
		Fetch: func(ctx context.Context) (any, error) {
			if calls.Add(1) == 1 {
				return "good", nil
			}
			return nil, errors.New("backend down")
		},
	}

	sub := store.Subscribe(q)
	defer sub.Close()
	waitForData(t, sub, time.Second)

	store.Invalidate("devices")
	require.Eventually(t, func() bool {
		return sub.State().Err != nil
	}, time.Second, 5*time.Millisecond)

	// 读失败保留旧数据，错误走独立通道
	st := sub.State()
	require.Equal(t, "good", st.Data)
	require.Equal(t, cache.StatusError, st.Status)
}

func TestInvalidate_KeepsSuccessStatusDuringRefetch(t *testing.T) {
	store := cache.NewStore(zap.NewNop())
	defer store.Shutdown()

	var calls atomic.Int64
	release := make(chan struct{})
	q := cache.Query{
		Key:     cache.NewKey("devices", "all"),
		Enabled: true,
		Fetch: func(ctx context.Context) (any, error) {
			if calls.Add(1) == 1 {
				return "v1", nil
			}
			<-release
			return "v2", nil
		},
	}

	sub := store.Subscribe(q)
	defer sub.Close()
	waitForData(t, sub, time.Second)

	// 失效触发强制刷新，刷新挂起期间已有数据不能退回 loading
	store.Invalidate("devices")
	require.Eventually(t, func() bool { return calls.Load() == 2 }, time.Second, 5*time.Millisecond)

	st := sub.State()
	require.Equal(t, cache.StatusSuccess, st.Status)
	require.Equal(t, "v1", st.Data)
	require.True(t, st.Fetching)

	close(release)
	require.Eventually(t, func() bool {
		return sub.State().Data == "v2"
	}, time.Second, 5*time.Millisecond)
}

func TestPollLoop_StopsWhenLastSubscriberLeaves(t *testing.T) {
	store := cache.NewStore(zap.NewNop())
	defer store.Shutdown()

	var calls atomic.Int64
	sub := store.Subscribe(cache.Query{
		Key:      cache.NewKey("devices", "all"),
		Enabled:  true,
		Interval: 20 * time.Millisecond,
		Fetch: func(ctx context.Context) (any, error) {
			calls.Add(1)
			return "v", nil
		},
	})

	require.Eventually(t, func() bool { return calls.Load() >= 2 }, time.Second, 5*time.Millisecond)
	sub.Close()

	after := calls.Load()
	time.Sleep(100 * time.Millisecond)
	// 退订后最多还有一次已经在途的拉取
	require.LessOrEqual(t, calls.Load(), after+1)
}
