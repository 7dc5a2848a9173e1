package lifecycle

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Lifecycle starts registered components in order and shuts them down in
// reverse order exactly once. A Lifecycle runs once; construct a new one for
// every run.
type Lifecycle struct {
	label  string
	id     string
	logger *zap.Logger

	registryMu sync.Mutex
	components []Component
	observers  []func(Transition)

	stateMu     sync.Mutex
	state       State
	config      Config
	snapshot    []Component
	pending     []func(ShutdownErrors)
	result      ShutdownErrors
	transitions []Transition

	notifyMu sync.Mutex
	draining bool

	barrier *barrier
	traps   *signalTraps
}

// New creates an idle lifecycle. The label names it in logs.
func New(label string, logger *zap.Logger) *Lifecycle {
	if logger == nil {
		logger = zap.NewNop()
	}

	id := uuid.NewString()

	return &Lifecycle{
		label: label,
		id:    id,
		logger: logger.With(
			zap.String("lifecycle", label),
			zap.String("run_id", id)),
		barrier: newBarrier(),
		traps:   newSignalTraps(),
	}
}

// Label returns the name given to New.
func (l *Lifecycle) Label() string {
	return l.label
}

// ID returns the unique identifier of this run.
func (l *Lifecycle) ID() string {
	return l.id
}

// State returns the current state.
func (l *Lifecycle) State() State {
	l.stateMu.Lock()
	defer l.stateMu.Unlock()
	return l.state
}

// Result returns the shutdown errors of a finished run. It is nil until the
// lifecycle reaches Shutdown, and nil afterwards if every component shut
// down cleanly.
func (l *Lifecycle) Result() ShutdownErrors {
	l.stateMu.Lock()
	defer l.stateMu.Unlock()
	return l.result
}

// Register appends components to the registry. Registration order is start
// order. It is safe for concurrent use but panics once Start or Shutdown has
// been called.
func (l *Lifecycle) Register(components ...Component) {
	l.registryMu.Lock()
	defer l.registryMu.Unlock()

	l.mustBeIdle("Register")
	for _, c := range components {
		if c == nil {
			panic(fmt.Sprintf("lifecycle %s: Register called with a nil component", l.label))
		}
	}
	l.components = append(l.components, components...)
}

// RegisterFunc registers a component built from two failable functions.
func (l *Lifecycle) RegisterFunc(name string, start, shutdown func() error) {
	l.Register(Func(name, start, shutdown))
}

// RegisterShutdown registers a component that only needs releasing.
func (l *Lifecycle) RegisterShutdown(name string, shutdown func() error) {
	l.Register(ShutdownOnly(name, shutdown))
}

// OnTransition registers fn to be called after every state change. Like
// Register, it panics once the lifecycle has left Idle. Observers run in
// order on a delivery goroutine of their own, so a slow observer delays
// later observers but never a pass. They may call Shutdown. Wait can return
// before observers have seen the final transition.
func (l *Lifecycle) OnTransition(fn func(Transition)) {
	l.registryMu.Lock()
	defer l.registryMu.Unlock()

	l.mustBeIdle("OnTransition")
	l.observers = append(l.observers, fn)
}

// mustBeIdle panics unless the lifecycle is idle. Callers hold registryMu.
func (l *Lifecycle) mustBeIdle(op string) {
	l.stateMu.Lock()
	state := l.state
	l.stateMu.Unlock()

	if state != Idle {
		panic(fmt.Sprintf("lifecycle %s: %s called in state %s", l.label, op, state))
	}
}

// Wait blocks until the lifecycle reaches Shutdown.
func (l *Lifecycle) Wait() {
	l.barrier.wait()
}

// Done returns a channel that is closed when the lifecycle reaches Shutdown.
func (l *Lifecycle) Done() <-chan struct{} {
	return l.barrier.done
}

// WaitContext is Wait bounded by ctx.
func (l *Lifecycle) WaitContext(ctx context.Context) error {
	select {
	case <-l.barrier.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// record queues a transition for observers. Callers hold stateMu and must
// call notify after releasing it.
func (l *Lifecycle) record(from, to State) {
	l.transitions = append(l.transitions, Transition{From: from, To: to, At: time.Now()})
}

// notify hands queued transitions to the delivery goroutine, starting one if
// none is running. It never blocks on an observer.
func (l *Lifecycle) notify() {
	l.notifyMu.Lock()
	defer l.notifyMu.Unlock()

	if l.draining {
		return
	}
	l.draining = true
	go l.deliver()
}

// deliver calls observers for queued transitions in order until the queue
// is empty. At most one deliver runs per lifecycle.
func (l *Lifecycle) deliver() {
	for {
		l.notifyMu.Lock()
		l.stateMu.Lock()
		batch := l.transitions
		l.transitions = nil
		l.stateMu.Unlock()

		if len(batch) == 0 {
			l.draining = false
			l.notifyMu.Unlock()
			return
		}
		l.notifyMu.Unlock()

		l.registryMu.Lock()
		observers := l.observers
		l.registryMu.Unlock()

		for _, t := range batch {
			l.logger.Debug("Lifecycle state changed",
				zap.Stringer("from", t.From),
				zap.Stringer("to", t.To))
			for _, fn := range observers {
				fn(t)
			}
		}
	}
}

// dispatch submits task to the executor. A rejected task still runs, on its
// own goroutine, so a pass never stalls.
func (l *Lifecycle) dispatch(exec Executor, task func()) {
	if err := exec.Submit(task); err != nil {
		l.logger.Warn("Executor rejected lifecycle step, running it on a new goroutine",
			zap.Error(err))
		go task()
	}
}

// invoke calls a component hook with a callback that fires at most once. A
// panic before the callback fires is reported as the hook's error.
func (l *Lifecycle) invoke(name, phase string, hook func(func(error)), done func(error)) {
	var fired atomic.Bool
	callback := func(err error) {
		if !fired.CompareAndSwap(false, true) {
			l.logger.Warn("Component reported completion more than once",
				zap.String("component", name),
				zap.String("phase", phase),
				zap.Error(err))
			return
		}
		done(err)
	}

	defer func() {
		if r := recover(); r != nil {
			if fired.Load() {
				panic(r)
			}
			callback(fmt.Errorf("panic: %v", r))
		}
	}()

	hook(callback)
}
