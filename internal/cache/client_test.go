package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	rd "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"seckill/pkg/rediskey"
)

type testEntity struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis, *rd.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := rd.NewClient(&rd.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	c := NewClient(rdb, 4, zerolog.Nop())
	t.Cleanup(c.Close)
	return c, mr, rdb
}

func TestPassThroughMissPopulatesCache(t *testing.T) {
	c, mr, _ := newTestClient(t)
	ctx := context.Background()

	fetched := testEntity{ID: 1, Name: "海底捞"}
	var calls atomic.Int64
	fetch := func(ctx context.Context) (*testEntity, error) {
		calls.Add(1)
		return &fetched, nil
	}

	v, err := QueryWithPassThrough(ctx, c, "cache:test:1", time.Minute, fetch)
	require.NoError(t, err)
	require.Equal(t, fetched, *v)
	require.True(t, mr.Exists("cache:test:1"))

	// 第二次命中缓存，不再回源。
	v, err = QueryWithPassThrough(ctx, c, "cache:test:1", time.Minute, fetch)
	require.NoError(t, err)
	require.Equal(t, fetched, *v)
	require.EqualValues(t, 1, calls.Load())
}

func TestPassThroughNegativeMarker(t *testing.T) {
	c, mr, _ := newTestClient(t)
	ctx := context.Background()

	var calls atomic.Int64
	fetch := func(ctx context.Context) (*testEntity, error) {
		calls.Add(1)
		return nil, nil
	}

	v, err := QueryWithPassThrough(ctx, c, "cache:test:404", time.Minute, fetch)
	require.NoError(t, err)
	require.Nil(t, v)

	// 空值标记落盘且带短 TTL，后续未命中不再打到回源。
	require.True(t, mr.Exists("cache:test:404"))
	require.Greater(t, mr.TTL("cache:test:404"), time.Duration(0))

	v, err = QueryWithPassThrough(ctx, c, "cache:test:404", time.Minute, fetch)
	require.NoError(t, err)
	require.Nil(t, v)
	require.EqualValues(t, 1, calls.Load())
}

func TestMutexSingleRebuildUnderContention(t *testing.T) {
	c, _, _ := newTestClient(t)
	ctx := context.Background()

	fetched := testEntity{ID: 1, Name: "海底捞"}
	var calls atomic.Int64
	fetch := func(ctx context.Context) (*testEntity, error) {
		calls.Add(1)
		time.Sleep(30 * time.Millisecond)
		return &fetched, nil
	}

	const goroutines = 20
	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			v, err := QueryWithMutex(ctx, c, "cache:test:1", "lock:test:1", time.Minute, fetch)
			if err != nil {
				t.Errorf("query: %v", err)
				return
			}
			if v == nil || *v != fetched {
				t.Errorf("unexpected value: %v", v)
			}
		}()
	}
	wg.Wait()

	// 同一键至多一次回源，其余请求等锁后走二次检查。
	require.EqualValues(t, 1, calls.Load())
}

func TestMutexReleasesLockOnFetchError(t *testing.T) {
	c, mr, _ := newTestClient(t)
	ctx := context.Background()

	boom := func(ctx context.Context) (*testEntity, error) {
		return nil, context.DeadlineExceeded
	}
	_, err := QueryWithMutex(ctx, c, "cache:test:1", "lock:test:1", time.Minute, boom)
	require.Error(t, err)
	// 回源失败也必须还锁。
	require.False(t, mr.Exists("lock:test:1"))

	fetched := testEntity{ID: 1, Name: "海底捞"}
	v, err := QueryWithMutex(ctx, c, "cache:test:1", "lock:test:1", time.Minute, func(ctx context.Context) (*testEntity, error) {
		return &fetched, nil
	})
	require.NoError(t, err)
	require.Equal(t, fetched, *v)
}

func TestLogicalExpireFreshEntryNoRebuild(t *testing.T) {
	c, _, _ := newTestClient(t)
	ctx := context.Background()

	warm := testEntity{ID: 1, Name: "海底捞"}
	require.NoError(t, c.SetWithLogicalExpire(ctx, "cache:test:1", warm, time.Hour))

	fetch := func(ctx context.Context) (*testEntity, error) {
		t.Error("fresh entry must not trigger rebuild")
		return nil, nil
	}
	v, err := QueryWithLogicalExpire(ctx, c, "cache:test:1", "lock:test:1", time.Hour, fetch)
	require.NoError(t, err)
	require.Equal(t, warm, *v)
}

func TestLogicalExpireMissingKeyMeansAbsent(t *testing.T) {
	c, _, _ := newTestClient(t)

	// 该策略只服务预热键：缺失按不存在处理，不回源。
	v, err := QueryWithLogicalExpire(context.Background(), c, "cache:test:1", "lock:test:1", time.Hour, func(ctx context.Context) (*testEntity, error) {
		t.Error("missing key must not trigger rebuild")
		return nil, nil
	})
	require.NoError(t, err)
	require.Nil(t, v)
}

func TestLogicalExpireStaleServedAndRebuiltAsync(t *testing.T) {
	c, mr, _ := newTestClient(t)
	ctx := context.Background()

	stale := testEntity{ID: 1, Name: "旧名字"}
	require.NoError(t, c.SetWithLogicalExpire(ctx, "cache:test:1", stale, -time.Minute))
	// 逻辑过期键本身不能有存储级 TTL。
	require.EqualValues(t, 0, mr.TTL("cache:test:1"))

	fresh := testEntity{ID: 1, Name: "新名字"}
	var calls atomic.Int64
	fetch := func(ctx context.Context) (*testEntity, error) {
		calls.Add(1)
		return &fresh, nil
	}

	// 过期命中：立刻返回旧值，同时提交异步重建。
	v, err := QueryWithLogicalExpire(ctx, c, "cache:test:1", "lock:test:1", time.Hour, fetch)
	require.NoError(t, err)
	require.Equal(t, stale, *v)

	require.Eventually(t, func() bool {
		v, err := QueryWithLogicalExpire(ctx, c, "cache:test:1", "lock:test:1", time.Hour, fetch)
		return err == nil && v != nil && *v == fresh
	}, 3*time.Second, 10*time.Millisecond)
	require.EqualValues(t, 1, calls.Load())
	// 重建完成后锁已释放。
	require.False(t, mr.Exists("lock:test:1"))
}

func TestDeleteInvalidatesEntry(t *testing.T) {
	c, mr, _ := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "cache:test:1", testEntity{ID: 1, Name: "海底捞"}, rediskey.CacheShopTTL))
	require.True(t, mr.Exists("cache:test:1"))

	require.NoError(t, c.Delete(ctx, "cache:test:1"))
	require.False(t, mr.Exists("cache:test:1"))
}
