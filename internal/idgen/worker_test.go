package idgen

import (
	"context"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	rd "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestWorker(t *testing.T) *Worker {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := rd.NewClient(&rd.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewWorker(rdb)
}

func TestNextIDSequentialMonotonic(t *testing.T) {
	w := newTestWorker(t)
	ctx := context.Background()

	prev := int64(0)
	for i := 0; i < 100; i++ {
		id, err := w.NextID(ctx, "order")
		require.NoError(t, err)
		require.Greater(t, id, prev)
		prev = id
	}
}

func TestNextIDUniqueUnderConcurrency(t *testing.T) {
	w := newTestWorker(t)
	ctx := context.Background()

	const (
		goroutines = 8
		perWorker  = 200
	)

	var mu sync.Mutex
	seen := make(map[int64]struct{}, goroutines*perWorker)

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for g := 0; g < goroutines; g++ {
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				id, err := w.NextID(ctx, "order")
				require.NoError(t, err)
				mu.Lock()
				seen[id] = struct{}{}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Len(t, seen, goroutines*perWorker)
}

func TestNextIDNamespacesIndependent(t *testing.T) {
	w := newTestWorker(t)
	ctx := context.Background()

	orderID, err := w.NextID(ctx, "order")
	require.NoError(t, err)
	shopID, err := w.NextID(ctx, "shop")
	require.NoError(t, err)

	// 各命名空间的序列从 1 独立起步。
	const seqMask = int64(1)<<sequenceBits - 1
	require.EqualValues(t, 1, orderID&seqMask)
	require.EqualValues(t, 1, shopID&seqMask)
}
