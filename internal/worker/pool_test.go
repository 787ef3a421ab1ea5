package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPool_ProcessesSubmittedWork(t *testing.T) {
	var sum int64
	var wg sync.WaitGroup

	pool := NewPool[int](3, 10, func(_ context.Context, n int) error {
		defer wg.Done()
		atomic.AddInt64(&sum, int64(n))
		return nil
	})
	require.NoError(t, pool.Start(context.Background()))

	for i := 1; i <= 5; i++ {
		wg.Add(1)
		require.NoError(t, pool.Submit(i))
	}
	wg.Wait()

	require.NoError(t, pool.Stop(time.Second))
	assert.Equal(t, int64(15), atomic.LoadInt64(&sum))

	stats := pool.Stats()
	assert.Equal(t, int64(5), stats.Submitted)
	assert.Equal(t, int64(5), stats.Processed)
	assert.Zero(t, stats.Failed)
}

func TestPool_CountsFailures(t *testing.T) {
	done := make(chan struct{})
	pool := NewPool[int](1, 1, func(_ context.Context, _ int) error {
		defer close(done)
		return errors.New("boom")
	})
	require.NoError(t, pool.Start(context.Background()))
	require.NoError(t, pool.Submit(1))
	<-done

	require.NoError(t, pool.Stop(time.Second))
	assert.Equal(t, int64(1), pool.Stats().Failed)
}

func TestPool_QueueFull(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 1)

	pool := NewPool[int](1, 1, func(_ context.Context, _ int) error {
		started <- struct{}{}
		<-release
		return nil
	})
	require.NoError(t, pool.Start(context.Background()))
	defer func() {
		close(release)
		_ = pool.Stop(time.Second)
	}()

	// First item occupies the only worker, second fills the queue.
	require.NoError(t, pool.Submit(1))
	<-started
	require.NoError(t, pool.Submit(2))

	err := pool.Submit(3)
	assert.ErrorIs(t, err, ErrQueueFull)
	assert.Equal(t, int64(1), pool.Stats().Dropped)
}

func TestPool_Lifecycle(t *testing.T) {
	pool := NewPool[int](1, 1, func(context.Context, int) error { return nil })

	assert.ErrorIs(t, pool.Submit(1), ErrPoolNotStarted)

	require.NoError(t, pool.Start(context.Background()))
	assert.ErrorIs(t, pool.Start(context.Background()), ErrPoolAlreadyStarted)

	require.NoError(t, pool.Stop(time.Second))
	assert.ErrorIs(t, pool.Submit(1), ErrPoolStopped)
	assert.NoError(t, pool.Stop(time.Second))
}

func TestPool_NilProcessor(t *testing.T) {
	pool := NewPool[int](1, 1, nil)
	assert.ErrorIs(t, pool.Start(context.Background()), ErrNilProcessor)
}
