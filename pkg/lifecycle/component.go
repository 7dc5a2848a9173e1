package lifecycle

import (
	"context"
	"fmt"
)

// Component is a unit whose resources are acquired in Start and released in
// Shutdown. Each hook must call done exactly once, from any goroutine, with
// nil on success.
type Component interface {
	// Name identifies the component in logs and in ShutdownErrors.
	Name() string

	// Start acquires the component's resources.
	Start(done func(error))

	// Shutdown releases them. It may be called after a failed Start.
	Shutdown(done func(error))
}

// Runnable is the context-based start/stop shape used by long-running
// services and coordinators.
type Runnable interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Hook lists the function shapes accepted as start or shutdown hooks.
//
// A func() <-chan error hook is asynchronous: the hook completes with the
// first value received from the channel, or nil if the channel is closed.
type Hook interface {
	func() | func() error | func(context.Context) | func(context.Context) error | func() <-chan error
}

// Func returns a component whose hooks are plain functions. A nil hook
// reports success immediately.
//
//	lc.Register(lifecycle.Func("cache", cache.Open, cache.Close))
func Func[S Hook, T Hook](name string, start S, shutdown T) Component {
	return &funcComponent{
		name:     name,
		start:    normalize(start),
		shutdown: normalize(shutdown),
	}
}

// ShutdownOnly returns a component that has nothing to start.
func ShutdownOnly[T Hook](name string, shutdown T) Component {
	return &funcComponent{
		name:     name,
		start:    noop,
		shutdown: normalize(shutdown),
	}
}

// Callback returns a component built from raw callback-style hooks. A nil
// hook reports success immediately.
func Callback(name string, start, shutdown func(done func(error))) Component {
	if start == nil {
		start = noop
	}
	if shutdown == nil {
		shutdown = noop
	}
	return &funcComponent{name: name, start: start, shutdown: shutdown}
}

// FromRunnable adapts a Runnable. Both hooks receive context.Background().
func FromRunnable(r Runnable) Component {
	return &funcComponent{
		name:     r.Name(),
		start:    normalize(r.Start),
		shutdown: normalize(r.Stop),
	}
}

type funcComponent struct {
	name     string
	start    func(done func(error))
	shutdown func(done func(error))
}

func (c *funcComponent) Name() string {
	return c.name
}

func (c *funcComponent) Start(done func(error)) {
	c.start(done)
}

func (c *funcComponent) Shutdown(done func(error)) {
	c.shutdown(done)
}

func noop(done func(error)) {
	done(nil)
}

func normalize[H Hook](hook H) func(done func(error)) {
	switch fn := any(hook).(type) {
	case func():
		if fn == nil {
			return noop
		}
		return func(done func(error)) {
			done(safeCall(func() error {
				fn()
				return nil
			}))
		}
	case func() error:
		if fn == nil {
			return noop
		}
		return func(done func(error)) {
			done(safeCall(fn))
		}
	case func(context.Context):
		if fn == nil {
			return noop
		}
		return func(done func(error)) {
			done(safeCall(func() error {
				fn(context.Background())
				return nil
			}))
		}
	case func(context.Context) error:
		if fn == nil {
			return noop
		}
		return func(done func(error)) {
			done(safeCall(func() error {
				return fn(context.Background())
			}))
		}
	case func() <-chan error:
		if fn == nil {
			return noop
		}
		return func(done func(error)) {
			var result <-chan error
			if err := safeCall(func() error {
				result = fn()
				return nil
			}); err != nil {
				done(err)
				return
			}
			if result == nil {
				done(nil)
				return
			}
			go func() {
				done(<-result)
			}()
		}
	}

	panic(fmt.Sprintf("lifecycle: unexpected hook signature %T", hook))
}

// safeCall runs fn and turns a panic into an error.
func safeCall(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}
