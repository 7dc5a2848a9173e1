package executor

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"github.com/unklstewy/bigskies-lifecycle/pkg/lifecycle"
)

// PoolConfig configures a worker pool.
type PoolConfig struct {
	// Capacity is the maximum number of concurrent workers.
	Capacity int
	// ExpiryDuration is how long an idle worker is kept.
	ExpiryDuration time.Duration
	// PreAlloc allocates the worker queue up front.
	PreAlloc bool
	// Nonblocking makes Submit fail with ErrPoolOverload instead of waiting
	// for a free worker.
	Nonblocking bool
	// MaxBlockingTasks caps the number of blocked submitters when Nonblocking
	// is false. Zero means no limit.
	MaxBlockingTasks int
	// ReleaseTimeout bounds how long Shutdown waits for running tasks. Zero
	// or negative means 5s.
	ReleaseTimeout time.Duration
}

const defaultReleaseTimeout = 5 * time.Second

// DefaultPoolConfig returns the configuration used for lifecycle steps.
func DefaultPoolConfig() *PoolConfig {
	return &PoolConfig{
		Capacity:       64,
		ExpiryDuration: 10 * time.Second,
		Nonblocking:    true,
		ReleaseTimeout: defaultReleaseTimeout,
	}
}

// Pool is a bounded worker pool backed by ants. It satisfies
// lifecycle.Executor and is itself a lifecycle component whose shutdown
// releases the workers.
type Pool struct {
	name     string
	pool     *ants.Pool
	config   *PoolConfig
	logger   *zap.Logger
	stats    poolStatsCounter
	closed   atomic.Bool
	closedMu sync.Mutex
}

type poolStatsCounter struct {
	submitted      atomic.Int64
	completed      atomic.Int64
	rejected       atomic.Int64
	panicRecovered atomic.Int64
	totalWaitNs    atomic.Int64
}

// Stats is a point-in-time snapshot of pool counters.
type Stats struct {
	SubmittedTasks  int64
	CompletedTasks  int64
	RejectedTasks   int64
	PanicRecovered  int64
	TotalWaitTimeNs int64
}

var (
	_ lifecycle.Executor  = (*Pool)(nil)
	_ lifecycle.Component = (*Pool)(nil)
)

// NewPool creates a worker pool. A nil config uses DefaultPoolConfig.
func NewPool(name string, config *PoolConfig, logger *zap.Logger) (*Pool, error) {
	if config == nil {
		config = DefaultPoolConfig()
	}
	if config.ReleaseTimeout <= 0 {
		withDefault := *config
		withDefault.ReleaseTimeout = defaultReleaseTimeout
		config = &withDefault
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	p := &Pool{
		name:   name,
		config: config,
		logger: logger.With(zap.String("pool", name)),
	}

	pool, err := ants.NewPool(config.Capacity,
		ants.WithExpiryDuration(config.ExpiryDuration),
		ants.WithPreAlloc(config.PreAlloc),
		ants.WithNonblocking(config.Nonblocking),
		ants.WithMaxBlockingTasks(config.MaxBlockingTasks),
		ants.WithPanicHandler(p.handlePanic),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create worker pool %s: %w", name, err)
	}
	p.pool = pool

	p.logger.Info("Worker pool created",
		zap.Int("capacity", config.Capacity),
		zap.Bool("nonblocking", config.Nonblocking))

	return p, nil
}

func (p *Pool) handlePanic(r interface{}) {
	p.stats.panicRecovered.Add(1)
	p.logger.Error("Worker panic recovered", zap.Any("panic", r))
}

// Name returns the pool name.
func (p *Pool) Name() string {
	return p.name
}

// Cap returns the pool capacity.
func (p *Pool) Cap() int {
	return p.pool.Cap()
}

// Running returns the number of busy workers.
func (p *Pool) Running() int {
	return p.pool.Running()
}

// Submit queues task on the pool.
func (p *Pool) Submit(task func()) error {
	if p.closed.Load() {
		return ErrPoolClosed
	}

	queued := time.Now()
	err := p.pool.Submit(func() {
		p.stats.totalWaitNs.Add(int64(time.Since(queued)))
		task()
		p.stats.completed.Add(1)
	})
	if err != nil {
		switch {
		case errors.Is(err, ants.ErrPoolOverload):
			p.stats.rejected.Add(1)
			return ErrPoolOverload
		case errors.Is(err, ants.ErrPoolClosed):
			return ErrPoolClosed
		}
		return err
	}

	p.stats.submitted.Add(1)
	return nil
}

// Release closes the pool without waiting for running tasks.
func (p *Pool) Release() {
	p.closedMu.Lock()
	defer p.closedMu.Unlock()

	if p.closed.Swap(true) {
		return
	}
	p.pool.Release()
	p.logger.Info("Worker pool released")
}

// ReleaseTimeout closes the pool and waits up to timeout for running tasks.
func (p *Pool) ReleaseTimeout(timeout time.Duration) error {
	p.closedMu.Lock()
	defer p.closedMu.Unlock()

	if p.closed.Swap(true) {
		return nil
	}
	if err := p.pool.ReleaseTimeout(timeout); err != nil {
		return fmt.Errorf("failed to release worker pool %s: %w", p.name, err)
	}
	p.logger.Info("Worker pool released")
	return nil
}

// Stats returns a snapshot of the pool counters.
func (p *Pool) Stats() Stats {
	return Stats{
		SubmittedTasks:  p.stats.submitted.Load(),
		CompletedTasks:  p.stats.completed.Load(),
		RejectedTasks:   p.stats.rejected.Load(),
		PanicRecovered:  p.stats.panicRecovered.Load(),
		TotalWaitTimeNs: p.stats.totalWaitNs.Load(),
	}
}

// Start reports success; the pool accepts work as soon as it is created.
func (p *Pool) Start(done func(error)) {
	done(nil)
}

// Shutdown releases the pool.
func (p *Pool) Shutdown(done func(error)) {
	// Released off the calling worker so a pool running its own shutdown
	// step can drain.
	go func() {
		done(p.ReleaseTimeout(p.config.ReleaseTimeout))
	}()
}
