package lifecycle

import (
	"fmt"
	"sort"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// ShutdownErrors maps component names to the error their Shutdown reported.
// A run in which every component shut down cleanly yields a nil map.
type ShutdownErrors map[string]error

// Names returns the failed component names in sorted order.
func (e ShutdownErrors) Names() []string {
	names := make([]string, 0, len(e))
	for name := range e {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Err folds the map into a single error, or nil when it is empty.
func (e ShutdownErrors) Err() error {
	var err error
	for _, name := range e.Names() {
		err = multierr.Append(err, fmt.Errorf("%s: %w", name, e[name]))
	}
	return err
}

// Shutdown stops every started component in reverse order. It may be called
// any number of times from any goroutine, in any state; only one shutdown
// pass ever runs and every onComplete receives the same ShutdownErrors.
//
// Shutdown on an idle lifecycle moves it straight to Shutdown without
// starting anything.
func (l *Lifecycle) Shutdown(onComplete func(ShutdownErrors)) {
	if onComplete == nil {
		onComplete = func(ShutdownErrors) {}
	}

	l.stateMu.Lock()
	switch l.state {
	case Idle:
		l.state = Shutdown
		l.record(Idle, Shutdown)
		l.stateMu.Unlock()
		l.notify()

		l.logger.Info("Lifecycle shutdown complete", zap.Int("failed", 0))
		onComplete(nil)
		l.disarmSignals()
		l.barrier.release()

	case Starting:
		// The start pass notices the flip and runs the shutdown pass itself.
		l.state = ShuttingDown
		l.record(Starting, ShuttingDown)
		l.pending = append(l.pending, onComplete)
		l.stateMu.Unlock()
		l.notify()

	case Started:
		l.state = ShuttingDown
		l.record(Started, ShuttingDown)
		l.pending = append(l.pending, onComplete)
		snapshot := l.snapshot
		exec := l.config.executor()
		l.stateMu.Unlock()
		l.notify()

		l.runShutdown(exec, snapshot, nil)

	case ShuttingDown:
		l.pending = append(l.pending, onComplete)
		l.stateMu.Unlock()

	case Shutdown:
		result := l.result
		l.stateMu.Unlock()
		onComplete(result)

	default:
		state := l.state
		l.stateMu.Unlock()
		panic(fmt.Sprintf("lifecycle %s: unknown state %s", l.label, state))
	}
}

// runShutdown stops started in reverse order and then finishes the run.
// after, if set, runs once the pending handlers have been called and before
// the barrier is released.
func (l *Lifecycle) runShutdown(exec Executor, started []Component, after func()) {
	l.logger.Info("Shutting down lifecycle", zap.Int("components", len(started)))

	errs := make(ShutdownErrors)
	l.stopNext(exec, started, len(started)-1, errs, func() {
		l.finishShutdown(errs, after)
	})
}

func (l *Lifecycle) stopNext(exec Executor, items []Component, index int, errs ShutdownErrors, done func()) {
	if index < 0 {
		done()
		return
	}

	l.dispatch(exec, func() {
		c := items[index]
		name := c.Name()
		logger := l.logger.With(zap.String("component", name))
		logger.Info("Stopping component")

		began := time.Now()
		l.invoke(name, "shutdown", c.Shutdown, func(err error) {
			elapsed := time.Since(began)
			if err != nil {
				logger.Error("Component shutdown failed",
					zap.Duration("duration", elapsed),
					zap.Error(err))
				errs[name] = err
			} else {
				logger.Info("Component stopped", zap.Duration("duration", elapsed))
			}

			l.stopNext(exec, items, index-1, errs, done)
		})
	})
}

func (l *Lifecycle) finishShutdown(errs ShutdownErrors, after func()) {
	if len(errs) == 0 {
		errs = nil
	}

	l.stateMu.Lock()
	if l.state != ShuttingDown {
		state := l.state
		l.stateMu.Unlock()
		panic(fmt.Sprintf("lifecycle %s: shutdown pass finished in state %s", l.label, state))
	}
	l.state = Shutdown
	l.record(ShuttingDown, Shutdown)
	l.result = errs
	handlers := l.pending
	l.pending = nil
	l.stateMu.Unlock()
	l.notify()

	l.logger.Info("Lifecycle shutdown complete", zap.Int("failed", len(errs)))

	for _, handler := range handlers {
		handler(errs)
	}
	if after != nil {
		after()
	}
	l.disarmSignals()
	l.barrier.release()
}
