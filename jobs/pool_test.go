package jobs

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPool_RunsEverySubmittedTask(t *testing.T) {
	p, err := NewPool(WithWorkers(3), WithQueueSize(50))
	require.NoError(t, err)

	var (
		wg    sync.WaitGroup
		count atomic.Int32
	)
	for range 20 {
		wg.Add(1)
		require.NoError(t, p.Submit(func() {
			defer wg.Done()
			count.Add(1)
		}))
	}
	wg.Wait()
	assert.Equal(t, int32(20), count.Load())
	require.NoError(t, p.Shutdown(time.Second))
}

func TestPool_BoundsConcurrency(t *testing.T) {
	p, err := NewPool(WithWorkers(2), WithQueueSize(10))
	require.NoError(t, err)
	defer p.Shutdown(time.Second)

	var (
		wg      sync.WaitGroup
		running atomic.Int32
		peak    atomic.Int32
	)
	for range 8 {
		wg.Add(1)
		require.NoError(t, p.Submit(func() {
			defer wg.Done()
			n := running.Add(1)
			for {
				old := peak.Load()
				if n <= old || peak.CompareAndSwap(old, n) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			running.Add(-1)
		}))
	}
	wg.Wait()
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestPool_QueueFull(t *testing.T) {
	p, err := NewPool(WithWorkers(1), WithQueueSize(1))
	require.NoError(t, err)

	release := make(chan struct{})
	defer func() {
		close(release)
		p.Shutdown(time.Second)
	}()
	blocker := func() { <-release }

	require.NoError(t, p.Submit(blocker))
	require.Eventually(t, func() bool { return p.Running() == 1 }, time.Second, 5*time.Millisecond)

	// The dispatcher takes this one and waits for the busy worker.
	require.NoError(t, p.Submit(blocker))
	require.Eventually(t, func() bool { return len(p.queue) == 0 }, time.Second, 5*time.Millisecond)

	require.NoError(t, p.Submit(blocker))
	assert.ErrorIs(t, p.Submit(blocker), ErrQueueFull)
}

func TestPool_ShutdownDrainsQueue(t *testing.T) {
	p, err := NewPool(WithWorkers(1), WithQueueSize(10))
	require.NoError(t, err)

	var count atomic.Int32
	for range 5 {
		require.NoError(t, p.Submit(func() {
			time.Sleep(5 * time.Millisecond)
			count.Add(1)
		}))
	}
	require.NoError(t, p.Shutdown(5*time.Second))
	assert.Equal(t, int32(5), count.Load())
	assert.ErrorIs(t, p.Submit(func() {}), ErrPoolClosed)
	assert.NoError(t, p.Shutdown(time.Second), "second shutdown is a no-op")
}

func TestPool_ShutdownDeadlineAbandonsQueuedWork(t *testing.T) {
	p, err := NewPool(WithWorkers(1), WithQueueSize(10))
	require.NoError(t, err)

	release := make(chan struct{})
	defer close(release)

	var ran atomic.Int32
	require.NoError(t, p.Submit(func() { <-release }))
	require.Eventually(t, func() bool { return p.Running() == 1 }, time.Second, 5*time.Millisecond)
	for range 3 {
		require.NoError(t, p.Submit(func() { ran.Add(1) }))
	}

	err = p.Shutdown(50 * time.Millisecond)
	assert.ErrorIs(t, err, ants.ErrTimeout)
	assert.Zero(t, ran.Load())
	assert.Equal(t, int64(3), p.dropped.Load())
}
