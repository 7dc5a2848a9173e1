package healthcheck

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/unklstewy/bigskies-lifecycle/pkg/lifecycle"
)

// Engine runs registered checkers, on demand or periodically. As a
// lifecycle component its start launches the periodic loop and its shutdown
// stops the loop.
type Engine struct {
	logger   *zap.Logger
	interval time.Duration
	timeout  time.Duration

	mu        sync.RWMutex
	checkers  map[string]Checker
	listeners []func(context.Context, *AggregatedResult)
	last      *AggregatedResult

	runMu  sync.Mutex
	cancel context.CancelFunc
	exited chan struct{}
}

var _ lifecycle.Component = (*Engine)(nil)

// NewEngine creates an engine. A zero interval defaults to 10s and a zero
// timeout to 3s.
func NewEngine(interval, timeout time.Duration, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = 10 * time.Second
	}
	if timeout <= 0 {
		timeout = 3 * time.Second
	}

	return &Engine{
		logger:   logger,
		interval: interval,
		timeout:  timeout,
		checkers: make(map[string]Checker),
	}
}

// Register adds a checker, replacing any checker with the same name.
func (e *Engine) Register(checker Checker) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.checkers[checker.Name()] = checker
	e.logger.Debug("Registered health checker", zap.String("checker", checker.Name()))
}

// OnResult registers fn to receive the result of every periodic run.
func (e *Engine) OnResult(fn func(context.Context, *AggregatedResult)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listeners = append(e.listeners, fn)
}

// Last returns the result of the most recent run, or nil before the first.
func (e *Engine) Last() *AggregatedResult {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.last
}

// CheckAll runs every checker concurrently, each bounded by the engine
// timeout, and records the aggregated result.
func (e *Engine) CheckAll(ctx context.Context) *AggregatedResult {
	e.mu.RLock()
	checkers := make([]Checker, 0, len(e.checkers))
	for _, c := range e.checkers {
		checkers = append(checkers, c)
	}
	e.mu.RUnlock()

	results := make(map[string]*Result, len(checkers))
	var resultsMu sync.Mutex
	var wg sync.WaitGroup

	for _, c := range checkers {
		wg.Add(1)
		go func(c Checker) {
			defer wg.Done()

			checkCtx, cancel := context.WithTimeout(ctx, e.timeout)
			defer cancel()

			began := time.Now()
			result := c.Check(checkCtx)
			if result == nil {
				result = NewResult(c.Name(), StatusUnknown, "checker returned no result")
			}
			result.Duration = time.Since(began)

			resultsMu.Lock()
			results[c.Name()] = result
			resultsMu.Unlock()
		}(c)
	}
	wg.Wait()

	aggregated := &AggregatedResult{
		Status:     Aggregate(results),
		Components: results,
		Timestamp:  time.Now(),
	}

	e.mu.Lock()
	e.last = aggregated
	e.mu.Unlock()

	return aggregated
}

// Run checks periodically until ctx ends.
func (e *Engine) Run(ctx context.Context) {
	e.logger.Info("Health check loop started", zap.Duration("interval", e.interval))

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		e.runOnce(ctx)

		select {
		case <-ctx.Done():
			e.logger.Info("Health check loop stopped")
			return
		case <-ticker.C:
		}
	}
}

func (e *Engine) runOnce(ctx context.Context) {
	result := e.CheckAll(ctx)
	e.logger.Debug("Health check completed",
		zap.String("status", string(result.Status)),
		zap.Int("components", len(result.Components)))

	e.mu.RLock()
	listeners := e.listeners
	e.mu.RUnlock()

	for _, fn := range listeners {
		fn(ctx, result)
	}
}

// Name identifies the engine as a lifecycle component.
func (e *Engine) Name() string {
	return "healthcheck"
}

// Start launches the periodic loop.
func (e *Engine) Start(done func(error)) {
	e.runMu.Lock()
	if e.cancel != nil {
		e.runMu.Unlock()
		done(nil)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	exited := make(chan struct{})
	e.cancel = cancel
	e.exited = exited
	e.runMu.Unlock()

	go func() {
		defer close(exited)
		e.Run(ctx)
	}()
	done(nil)
}

// Shutdown stops the loop and waits for it to exit.
func (e *Engine) Shutdown(done func(error)) {
	e.runMu.Lock()
	cancel, exited := e.cancel, e.exited
	e.cancel, e.exited = nil, nil
	e.runMu.Unlock()

	if cancel == nil {
		done(nil)
		return
	}

	cancel()
	<-exited
	done(nil)
}
