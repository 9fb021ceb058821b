package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkerPool_RunsSubmittedWork(t *testing.T) {
	pool := NewWorkerPool(4)
	defer pool.Shutdown()

	var count atomic.Int64
	for i := 0; i < 20; i++ {
		require.NoError(t, pool.Submit(context.Background(), func(ctx context.Context) {
			count.Add(1)
		}))
	}
	pool.Wait()

	assert.Equal(t, int64(20), count.Load())
	assert.Equal(t, int64(20), pool.Metrics().Completed)
}

func TestWorkerPool_BoundsConcurrency(t *testing.T) {
	pool := NewWorkerPool(2)
	defer pool.Shutdown()

	var active, peak atomic.Int64
	var mu sync.Mutex

	for i := 0; i < 10; i++ {
		require.NoError(t, pool.Submit(context.Background(), func(ctx context.Context) {
			n := active.Add(1)
			mu.Lock()
			if n > peak.Load() {
				peak.Store(n)
			}
			mu.Unlock()
			time.Sleep(10 * time.Millisecond)
			active.Add(-1)
		}))
	}
	pool.Wait()

	assert.LessOrEqual(t, peak.Load(), int64(2))
}

func TestWorkerPool_RecoversPanics(t *testing.T) {
	pool := NewWorkerPool(1)
	defer pool.Shutdown()

	require.NoError(t, pool.Submit(context.Background(), func(ctx context.Context) {
		panic("worker exploded")
	}))
	pool.Wait()

	m := pool.Metrics()
	assert.Equal(t, int64(1), m.Panics)
	assert.Equal(t, int64(0), m.Completed)

	// The slot was released; the pool still accepts work.
	var ran atomic.Bool
	require.NoError(t, pool.Submit(context.Background(), func(ctx context.Context) {
		ran.Store(true)
	}))
	pool.Wait()
	assert.True(t, ran.Load())
}

func TestWorkerPool_SubmitAfterShutdown(t *testing.T) {
	pool := NewWorkerPool(1)
	pool.Shutdown()

	err := pool.Submit(context.Background(), func(ctx context.Context) {})
	assert.ErrorIs(t, err, ErrPoolShutdown)
}

func TestWorkerPool_SubmitRespectsContext(t *testing.T) {
	pool := NewWorkerPool(1)
	defer pool.Shutdown()

	block := make(chan struct{})
	require.NoError(t, pool.Submit(context.Background(), func(ctx context.Context) {
		<-block
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := pool.Submit(ctx, func(ctx context.Context) {})
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(block)
	pool.Wait()
}
