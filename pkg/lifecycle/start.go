package lifecycle

import (
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Start snapshots the registry and starts every component in registration
// order, one at a time, through cfg.Executor. onComplete receives nil once
// all components started, or the first start error after the components
// that were started have been shut down again. A Shutdown that arrives
// during startup stops the pass after the component in flight; onComplete
// then receives nil once shutdown has finished.
//
// Start panics when called more than once, after Shutdown, or with an empty
// registry.
func (l *Lifecycle) Start(cfg Config, onComplete func(error)) {
	if onComplete == nil {
		onComplete = func(error) {}
	}

	snapshot := l.beginStart(cfg)
	l.notify()

	if cfg.InstallCrashHandler {
		installCrashHandler()
	}

	l.logger.Info("Starting lifecycle", zap.Int("components", len(snapshot)))

	exec := cfg.executor()
	l.dispatch(exec, func() {
		l.startNext(exec, snapshot, 0, func(started int, err error) {
			l.startCompleted(exec, snapshot[:started], err, onComplete)
		})
	})
}

// StartAndWait starts the lifecycle and blocks until it has shut down. It
// returns the start error, if any.
func (l *Lifecycle) StartAndWait(cfg Config) error {
	errCh := make(chan error, 1)
	l.Start(cfg, func(err error) {
		errCh <- err
	})
	l.Wait()
	return <-errCh
}

func (l *Lifecycle) beginStart(cfg Config) []Component {
	l.registryMu.Lock()
	defer l.registryMu.Unlock()
	l.stateMu.Lock()
	defer l.stateMu.Unlock()

	if l.state != Idle {
		panic(fmt.Sprintf("lifecycle %s: Start called in state %s", l.label, l.state))
	}
	if len(l.components) == 0 {
		panic(fmt.Sprintf("lifecycle %s: Start called with no registered components", l.label))
	}

	l.snapshot = make([]Component, len(l.components))
	copy(l.snapshot, l.components)
	l.config = cfg
	l.state = Starting
	l.record(Idle, Starting)

	return l.snapshot
}

// startNext starts items[index] and chains to the next component. done
// receives how many components had their Start invoked and the error that
// ended the pass, if any.
func (l *Lifecycle) startNext(exec Executor, items []Component, index int, done func(started int, err error)) {
	if index == len(items) {
		done(index, nil)
		return
	}

	c := items[index]
	name := c.Name()
	logger := l.logger.With(zap.String("component", name))
	logger.Info("Starting component",
		zap.Int("position", index+1),
		zap.Int("total", len(items)))

	began := time.Now()
	l.invoke(name, "start", c.Start, func(err error) {
		elapsed := time.Since(began)
		if err != nil {
			logger.Error("Component start failed",
				zap.Duration("duration", elapsed),
				zap.Error(err))
			done(index+1, err)
			return
		}
		logger.Info("Component started", zap.Duration("duration", elapsed))

		if index+1 == len(items) {
			done(index+1, nil)
			return
		}
		if l.State() == ShuttingDown {
			logger.Info("Shutdown requested during startup, halting start pass")
			done(index+1, nil)
			return
		}

		l.dispatch(exec, func() {
			l.startNext(exec, items, index+1, done)
		})
	})
}

func (l *Lifecycle) startCompleted(exec Executor, started []Component, startErr error, onComplete func(error)) {
	l.stateMu.Lock()
	if startErr != nil && l.state == Starting {
		l.state = ShuttingDown
		l.record(Starting, ShuttingDown)
	}

	if l.state == ShuttingDown {
		l.stateMu.Unlock()
		l.notify()

		l.runShutdown(exec, started, func() {
			onComplete(startErr)
		})
		return
	}

	l.state = Started
	l.record(Starting, Started)
	signals := l.config.ShutdownSignals
	l.stateMu.Unlock()
	l.notify()

	l.logger.Info("Lifecycle started", zap.Int("components", len(started)))
	l.armSignals(signals)
	onComplete(nil)
}
