package queue

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkerPool_Submit_RunsWork(t *testing.T) {
	pool := NewWorkerPool(2)
	defer pool.Shutdown()

	var ran atomic.Bool
	err := pool.Submit(context.Background(), func(_ context.Context) error {
		ran.Store(true)
		return nil
	})
	require.NoError(t, err)

	pool.Wait()
	assert.True(t, ran.Load())
}

func TestWorkerPool_ConcurrencyCapped(t *testing.T) {
	pool := NewWorkerPool(2)
	defer pool.Shutdown()

	var active, peak atomic.Int64
	var wg sync.WaitGroup

	wg.Add(8)
	for i := 0; i < 8; i++ {
		go func() {
			defer wg.Done()
			_ = pool.Submit(context.Background(), func(_ context.Context) error {
				n := active.Add(1)
				for {
					p := peak.Load()
					if n <= p || peak.CompareAndSwap(p, n) {
						break
					}
				}
				time.Sleep(10 * time.Millisecond)
				active.Add(-1)
				return nil
			})
		}()
	}
	wg.Wait()
	pool.Wait()

	assert.LessOrEqual(t, peak.Load(), int64(2))
}

func TestWorkerPool_Submit_AfterShutdown(t *testing.T) {
	pool := NewWorkerPool(1)
	pool.Shutdown()

	err := pool.Submit(context.Background(), func(_ context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrPoolShutdown)
}

func TestWorkerPool_Submit_ContextCancelledWhileWaiting(t *testing.T) {
	pool := NewWorkerPool(1)
	defer pool.Shutdown()

	release := make(chan struct{})
	require.NoError(t, pool.Submit(context.Background(), func(_ context.Context) error {
		<-release
		return nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := pool.Submit(ctx, func(_ context.Context) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)

	close(release)
}

func TestWorkerPool_Metrics(t *testing.T) {
	pool := NewWorkerPool(2)
	defer pool.Shutdown()

	require.NoError(t, pool.Submit(context.Background(), func(_ context.Context) error { return nil }))
	require.NoError(t, pool.Submit(context.Background(), func(_ context.Context) error {
		return assert.AnError
	}))
	pool.Wait()

	m := pool.Metrics()
	assert.Equal(t, int64(1), m.Completed)
	assert.Equal(t, int64(1), m.Failed)
	assert.Equal(t, int64(0), m.Active)
}
