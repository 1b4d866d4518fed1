package jobs

import (
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/poiesic/ragjobs/metrics"
)

// DefaultQueueSize is the number of closures waiting for a worker before
// Submit starts refusing work.
const DefaultQueueSize = 1024

// Submitter accepts work for asynchronous execution.
type Submitter interface {
	Submit(task func()) error
}

// Pool runs submitted closures on a fixed set of ants workers.
// Submit never blocks: closures wait in a bounded queue that a dispatcher
// drains into the ants pool.
type Pool struct {
	workers   int
	queueSize int
	logger    *slog.Logger

	pool     *ants.Pool
	queue    chan func()
	mu       sync.RWMutex
	closed   bool
	draining atomic.Bool
	dropped  atomic.Int64
	done     chan struct{}
}

var _ Submitter = (*Pool)(nil)

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithWorkers sets the number of concurrent jobs.
// Default is runtime.NumCPU() / 2, with a minimum of 1.
func WithWorkers(n int) PoolOption {
	return func(p *Pool) {
		p.workers = n
	}
}

// WithQueueSize sets how many jobs may wait for a worker.
func WithQueueSize(n int) PoolOption {
	return func(p *Pool) {
		p.queueSize = n
	}
}

// WithPoolLogger sets the logger.
func WithPoolLogger(logger *slog.Logger) PoolOption {
	return func(p *Pool) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// NewPool starts a pool and its dispatcher.
func NewPool(opts ...PoolOption) (*Pool, error) {
	p := &Pool{
		workers:   runtime.NumCPU() / 2,
		queueSize: DefaultQueueSize,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.workers < 1 {
		p.workers = 1
	}
	if p.queueSize < 1 {
		p.queueSize = 1
	}
	p.logger = p.logger.With("component", "pool")

	pool, err := ants.NewPool(p.workers,
		ants.WithPanicHandler(func(r any) {
			p.logger.Error("worker panicked", "panic", r)
		}),
		ants.WithLogger(slog.NewLogLogger(p.logger.Handler(), slog.LevelWarn)),
	)
	if err != nil {
		return nil, fmt.Errorf("creating worker pool: %w", err)
	}
	p.pool = pool
	p.queue = make(chan func(), p.queueSize)
	p.done = make(chan struct{})
	go p.dispatch()
	return p, nil
}

// Submit queues task. It returns ErrQueueFull when the queue has no room
// and ErrPoolClosed after Shutdown.
func (p *Pool) Submit(task func()) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}
	select {
	case p.queue <- task:
		metrics.QueueDepth.Inc()
		return nil
	default:
		return ErrQueueFull
	}
}

// dispatch hands queued closures to ants, blocking while every worker is busy.
func (p *Pool) dispatch() {
	defer close(p.done)
	for task := range p.queue {
		metrics.QueueDepth.Dec()
		if p.draining.Load() {
			p.dropped.Add(1)
			continue
		}
		if err := p.pool.Submit(task); err != nil {
			p.dropped.Add(1)
			p.logger.Error("failed to hand task to a worker", "err", err)
		}
	}
}

// Running returns the number of workers executing a job.
func (p *Pool) Running() int {
	return p.pool.Running()
}

// Queued returns the number of jobs waiting for a worker.
func (p *Pool) Queued() int {
	return len(p.queue) + p.pool.Waiting()
}

// Shutdown stops admission and waits up to timeout for queued and running
// jobs. Jobs still queued at the deadline are abandoned and stay QUEUED.
func (p *Pool) Shutdown(timeout time.Duration) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	deadline := time.Now().Add(timeout)
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-p.done:
	case <-timer.C:
		p.draining.Store(true)
	}

	err := p.pool.ReleaseTimeout(max(time.Until(deadline), time.Millisecond))
	<-p.done
	if n := p.dropped.Load(); n > 0 {
		p.logger.Warn("abandoned queued jobs at shutdown", "count", n)
	}
	if errors.Is(err, ants.ErrTimeout) {
		return fmt.Errorf("waiting for running jobs: %w", err)
	}
	return err
}
