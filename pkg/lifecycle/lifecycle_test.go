package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNew(t *testing.T) {
	l := New("api", nil)

	assert.Equal(t, "api", l.Label())
	assert.NotEmpty(t, l.ID())
	assert.Equal(t, Idle, l.State())
	assert.Nil(t, l.Result())
	assert.NotNil(t, l.logger)

	other := New("api", zap.NewNop())
	assert.NotEqual(t, l.ID(), other.ID())
}

func TestStartShutdownWait(t *testing.T) {
	rec := &recorder{}
	l := New("test", zap.NewNop())
	l.Register(newMock("a", rec), newMock("b", rec), newMock("c", rec))

	started := make(chan error, 1)
	l.Start(testConfig(), func(err error) { started <- err })
	require.NoError(t, receive(t, started))
	assert.Equal(t, Started, l.State())
	assert.Equal(t, []string{"start:a", "start:b", "start:c"}, rec.list())

	stopped := make(chan ShutdownErrors, 1)
	l.Shutdown(func(errs ShutdownErrors) { stopped <- errs })
	waitShutdown(t, l)

	assert.Nil(t, receive(t, stopped))
	assert.Equal(t, Shutdown, l.State())
	assert.Equal(t, []string{
		"start:a", "start:b", "start:c",
		"shutdown:c", "shutdown:b", "shutdown:a",
	}, rec.list())
}

func TestShutdownWhileIdle(t *testing.T) {
	a := newMock("a", nil)
	l := New("test", zap.NewNop())
	l.Register(a)

	var got ShutdownErrors
	called := false
	l.Shutdown(func(errs ShutdownErrors) {
		called = true
		got = errs
	})
	waitShutdown(t, l)

	assert.True(t, called)
	assert.Empty(t, got)
	assert.Equal(t, Shutdown, l.State())
	assert.Zero(t, a.startCalls.Load())
	assert.Zero(t, a.shutdownCalls.Load())
}

func TestShutdownWhileIdleWithNilHandler(t *testing.T) {
	l := New("test", zap.NewNop())

	assert.NotPanics(t, func() { l.Shutdown(nil) })
	waitShutdown(t, l)
}

func TestShutdownCalledTwice(t *testing.T) {
	failing := newMock("b", nil)
	failing.shutdownErr = errors.New("close failed")
	a := newMock("a", nil)
	l := New("test", zap.NewNop())
	l.Register(a, failing)

	started := make(chan error, 1)
	l.Start(testConfig(), func(err error) { started <- err })
	require.NoError(t, receive(t, started))

	first := make(chan ShutdownErrors, 1)
	second := make(chan ShutdownErrors, 1)
	l.Shutdown(func(errs ShutdownErrors) { first <- errs })
	l.Shutdown(func(errs ShutdownErrors) { second <- errs })
	waitShutdown(t, l)

	got1 := receive(t, first)
	got2 := receive(t, second)
	assert.Equal(t, got1, got2)
	assert.Len(t, got1, 1)
	assert.EqualError(t, got1["b"], "close failed")

	assert.Equal(t, int32(1), a.shutdownCalls.Load())
	assert.Equal(t, int32(1), failing.shutdownCalls.Load())
}

func TestShutdownAfterShutdownReportsRecordedResult(t *testing.T) {
	failing := newMock("a", nil)
	failing.shutdownErr = errors.New("boom")
	l := New("test", zap.NewNop())
	l.Register(failing)

	started := make(chan error, 1)
	l.Start(testConfig(), func(err error) { started <- err })
	require.NoError(t, receive(t, started))
	l.Shutdown(nil)
	waitShutdown(t, l)

	var late ShutdownErrors
	l.Shutdown(func(errs ShutdownErrors) { late = errs })

	assert.Equal(t, l.Result(), late)
	assert.Len(t, late, 1)
	assert.Equal(t, int32(1), failing.shutdownCalls.Load())
}

func TestStartFailure(t *testing.T) {
	const n = 6
	for k := 1; k <= n; k++ {
		t.Run(fmt.Sprintf("component %d of %d fails", k, n), func(t *testing.T) {
			rec := &recorder{}
			startErr := fmt.Errorf("component %d failed", k)

			l := New("test", zap.NewNop())
			mocks := make([]*mockComponent, n)
			for i := range mocks {
				mocks[i] = newMock(fmt.Sprintf("c%d", i+1), rec)
				if i+1 == k {
					mocks[i].startErr = startErr
				}
				l.Register(mocks[i])
			}

			var got error
			l.Start(testConfig(), func(err error) { got = err })
			waitShutdown(t, l)

			assert.Equal(t, startErr, got)
			assert.Nil(t, l.Result())

			var want []string
			for i := 1; i <= k; i++ {
				want = append(want, fmt.Sprintf("start:c%d", i))
			}
			for i := k; i >= 1; i-- {
				want = append(want, fmt.Sprintf("shutdown:c%d", i))
			}
			assert.Equal(t, want, rec.list())

			for i, m := range mocks {
				if i+1 <= k {
					assert.Equal(t, int32(1), m.startCalls.Load(), m.name)
					assert.Equal(t, int32(1), m.shutdownCalls.Load(), m.name)
				} else {
					assert.Zero(t, m.startCalls.Load(), m.name)
					assert.Zero(t, m.shutdownCalls.Load(), m.name)
				}
			}
		})
	}
}

func TestShutdownFailuresAreAggregated(t *testing.T) {
	const n = 8
	failing := map[int]bool{1: true, 4: true, 6: true}

	l := New("test", zap.NewNop())
	mocks := make([]*mockComponent, n)
	for i := range mocks {
		mocks[i] = newMock(fmt.Sprintf("c%d", i), nil)
		if failing[i] {
			mocks[i].shutdownErr = fmt.Errorf("c%d shutdown failed", i)
		}
		l.Register(mocks[i])
	}

	started := make(chan error, 1)
	l.Start(testConfig(), func(err error) { started <- err })
	require.NoError(t, receive(t, started))

	result := make(chan ShutdownErrors, 1)
	l.Shutdown(func(errs ShutdownErrors) { result <- errs })
	errs := receive(t, result)

	assert.Len(t, errs, len(failing))
	assert.Equal(t, []string{"c1", "c4", "c6"}, errs.Names())
	for _, m := range mocks {
		assert.Equal(t, int32(1), m.shutdownCalls.Load(), m.name)
	}
}

func TestConcurrentRegistration(t *testing.T) {
	const total = 50000
	const workers = 50

	l := New("test", zap.NewNop())
	mocks := make([]*mockComponent, total)
	for i := range mocks {
		mocks[i] = newMock(fmt.Sprintf("c%d", i), nil)
	}

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := w; i < total; i += workers {
				l.Register(mocks[i])
			}
		}(w)
	}
	wg.Wait()

	started := make(chan error, 1)
	l.Start(testConfig(), func(err error) { started <- err })
	require.NoError(t, receive(t, started))

	l.Shutdown(nil)
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()
	require.NoError(t, l.WaitContext(ctx))

	for _, m := range mocks {
		require.Equal(t, int32(1), m.startCalls.Load(), m.name)
		require.Equal(t, int32(1), m.shutdownCalls.Load(), m.name)
	}
}

func TestShutdownDuringBlockingStart(t *testing.T) {
	rec := &recorder{}
	entered := make(chan struct{})
	release := make(chan struct{})

	a := newMock("a", rec)
	c := newMock("c", rec)
	blocking := Callback("b",
		func(done func(error)) {
			rec.add("start:b")
			close(entered)
			<-release
			rec.add("started:b")
			done(nil)
		},
		func(done func(error)) {
			rec.add("shutdown:b")
			done(nil)
		})

	l := New("test", zap.NewNop())
	l.Register(a, blocking, c)

	startResult := make(chan error, 1)
	l.Start(testConfig(), func(err error) { startResult <- err })
	receive(t, entered)

	shutdownResult := make(chan ShutdownErrors, 1)
	l.Shutdown(func(errs ShutdownErrors) { shutdownResult <- errs })
	assert.Equal(t, ShuttingDown, l.State())

	close(release)
	waitShutdown(t, l)

	assert.NoError(t, receive(t, startResult))
	assert.Nil(t, receive(t, shutdownResult))
	assert.Equal(t, []string{
		"start:a", "start:b", "started:b",
		"shutdown:b", "shutdown:a",
	}, rec.list())
	assert.Zero(t, c.startCalls.Load())
	assert.Zero(t, c.shutdownCalls.Load())
}

func TestRegisterAfterStartPanics(t *testing.T) {
	l := New("test", zap.NewNop())
	l.Register(newMock("a", nil))

	started := make(chan error, 1)
	l.Start(testConfig(), func(err error) { started <- err })
	require.NoError(t, receive(t, started))

	assert.Panics(t, func() { l.Register(newMock("b", nil)) })
	assert.Panics(t, func() { l.OnTransition(func(Transition) {}) })

	l.Shutdown(nil)
	waitShutdown(t, l)

	assert.Panics(t, func() { l.Register(newMock("c", nil)) })
}

func TestRegisterNilPanics(t *testing.T) {
	l := New("test", zap.NewNop())

	assert.Panics(t, func() { l.Register(newMock("a", nil), nil) })
	assert.Panics(t, func() { l.Start(testConfig(), nil) }, "nothing may be appended when a nil is rejected")
}

func TestStartPanics(t *testing.T) {
	t.Run("empty registry", func(t *testing.T) {
		l := New("test", zap.NewNop())
		assert.Panics(t, func() { l.Start(testConfig(), nil) })
		assert.Equal(t, Idle, l.State())
	})

	t.Run("started twice", func(t *testing.T) {
		l := New("test", zap.NewNop())
		l.Register(newMock("a", nil))
		l.Start(testConfig(), nil)
		assert.Panics(t, func() { l.Start(testConfig(), nil) })
		l.Shutdown(nil)
		waitShutdown(t, l)
	})

	t.Run("after shutdown", func(t *testing.T) {
		l := New("test", zap.NewNop())
		l.Register(newMock("a", nil))
		l.Shutdown(nil)
		assert.Panics(t, func() { l.Start(testConfig(), nil) })
	})
}

func TestRegisterFuncAndRegisterShutdown(t *testing.T) {
	rec := &recorder{}
	l := New("test", zap.NewNop())
	l.RegisterFunc("db",
		func() error { rec.add("start:db"); return nil },
		func() error { rec.add("shutdown:db"); return nil })
	l.RegisterShutdown("tmp", func() error { rec.add("shutdown:tmp"); return nil })

	started := make(chan error, 1)
	l.Start(testConfig(), func(err error) { started <- err })
	require.NoError(t, receive(t, started))
	l.Shutdown(nil)
	waitShutdown(t, l)

	assert.Equal(t, []string{"start:db", "shutdown:tmp", "shutdown:db"}, rec.list())
}

func TestStartAndWait(t *testing.T) {
	t.Run("start failure", func(t *testing.T) {
		failing := newMock("b", nil)
		failing.startErr = errors.New("bind: address in use")

		l := New("test", zap.NewNop())
		l.Register(newMock("a", nil), failing)

		err := l.StartAndWait(testConfig())
		assert.EqualError(t, err, "bind: address in use")
		assert.Equal(t, Shutdown, l.State())
	})

	t.Run("clean run", func(t *testing.T) {
		l := New("test", zap.NewNop())
		l.Register(Callback("trigger", func(done func(error)) {
			done(nil)
		}, nil))
		l.OnTransition(func(tr Transition) {
			if tr.To == Started {
				l.Shutdown(nil)
			}
		})

		assert.NoError(t, l.StartAndWait(testConfig()))
		assert.Equal(t, Shutdown, l.State())
	})
}

func TestWaitFromManyGoroutines(t *testing.T) {
	l := New("test", zap.NewNop())
	l.Register(newMock("a", nil))

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.Wait()
		}()
	}

	l.Start(testConfig(), nil)
	l.Shutdown(nil)
	wg.Wait()

	select {
	case <-l.Done():
	default:
		t.Fatal("Done channel should be closed")
	}
	assert.True(t, l.barrier.released())
}

func TestWaitContextExpires(t *testing.T) {
	l := New("test", zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := l.WaitContext(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestOnTransition(t *testing.T) {
	var mu sync.Mutex
	var seen []Transition

	l := New("test", zap.NewNop())
	l.Register(newMock("a", nil))
	l.OnTransition(func(tr Transition) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, tr)
	})

	started := make(chan error, 1)
	l.Start(testConfig(), func(err error) { started <- err })
	require.NoError(t, receive(t, started))
	l.Shutdown(nil)
	waitShutdown(t, l)

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 4
	}, time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	want := [][2]State{
		{Idle, Starting},
		{Starting, Started},
		{Started, ShuttingDown},
		{ShuttingDown, Shutdown},
	}
	for i, tr := range seen {
		assert.Equal(t, want[i][0], tr.From)
		assert.Equal(t, want[i][1], tr.To)
		assert.False(t, tr.At.IsZero())
	}
}

func TestDuplicateDoneIsIgnored(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	rec := &recorder{}

	l := New("test", zap.New(core))
	l.Register(
		Callback("twice", func(done func(error)) {
			done(nil)
			done(errors.New("late"))
		}, nil),
		newMock("next", rec),
	)

	started := make(chan error, 1)
	l.Start(testConfig(), func(err error) { started <- err })
	require.NoError(t, receive(t, started))

	l.Shutdown(nil)
	waitShutdown(t, l)

	assert.Equal(t, []string{"start:next", "shutdown:next"}, rec.list())
	assert.Equal(t, 1, logs.FilterMessage("Component reported completion more than once").Len())
}

func TestPanickingHookBecomesError(t *testing.T) {
	l := New("test", zap.NewNop())
	l.Register(Callback("bad", func(done func(error)) {
		panic("nil map")
	}, nil))

	err := l.StartAndWait(testConfig())
	assert.EqualError(t, err, "panic: nil map")
}

func TestExecutorRejectionFallsBack(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	rejecting := ExecutorFunc(func(func()) error {
		return errors.New("pool overloaded")
	})

	l := New("test", zap.New(core))
	l.Register(newMock("a", nil), newMock("b", nil))

	started := make(chan error, 1)
	l.Start(Config{Executor: rejecting}, func(err error) { started <- err })
	require.NoError(t, receive(t, started))
	l.Shutdown(nil)
	waitShutdown(t, l)

	assert.Positive(t, logs.FilterMessage("Executor rejected lifecycle step, running it on a new goroutine").Len())
}

func TestCustomExecutorRunsEveryStep(t *testing.T) {
	var mu sync.Mutex
	submitted := 0
	exec := ExecutorFunc(func(task func()) error {
		mu.Lock()
		submitted++
		mu.Unlock()
		go task()
		return nil
	})

	l := New("test", zap.NewNop())
	l.Register(newMock("a", nil), newMock("b", nil), newMock("c", nil))

	started := make(chan error, 1)
	l.Start(Config{Executor: exec}, func(err error) { started <- err })
	require.NoError(t, receive(t, started))
	l.Shutdown(nil)
	waitShutdown(t, l)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 6, submitted)
}

func TestSignalTriggersShutdown(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	a := newMock("a", nil)

	l := New("test", zap.New(core))
	l.Register(a)

	started := make(chan error, 1)
	l.Start(Config{ShutdownSignals: []os.Signal{syscall.SIGUSR1}}, func(err error) { started <- err })
	require.NoError(t, receive(t, started))

	require.NoError(t, syscall.Kill(syscall.Getpid(), syscall.SIGUSR1))
	waitShutdown(t, l)

	assert.Equal(t, int32(1), a.shutdownCalls.Load())
	assert.Equal(t, 1, logs.FilterMessage("Signal intercepted").Len())
}

func TestSignalTrapsAreRemovedAfterShutdown(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	a := newMock("a", nil)

	// Keeps SIGUSR2 from terminating the test binary once the lifecycle
	// stops listening for it.
	guard := make(chan os.Signal, 1)
	signal.Notify(guard, syscall.SIGUSR2)
	defer signal.Stop(guard)

	l := New("test", zap.New(core))
	l.Register(a)

	started := make(chan error, 1)
	l.Start(Config{ShutdownSignals: []os.Signal{syscall.SIGUSR1, syscall.SIGUSR2}}, func(err error) { started <- err })
	require.NoError(t, receive(t, started))
	assert.Equal(t, int32(2), l.traps.active.Load())

	require.NoError(t, syscall.Kill(syscall.Getpid(), syscall.SIGUSR1))
	waitShutdown(t, l)

	assert.Eventually(t, func() bool {
		return l.traps.active.Load() == 0
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, syscall.Kill(syscall.Getpid(), syscall.SIGUSR2))
	assert.Equal(t, syscall.SIGUSR2, receive(t, guard))

	assert.Equal(t, 1, logs.FilterMessage("Signal intercepted").Len())
	assert.Equal(t, int32(1), a.shutdownCalls.Load())
}

func TestSignalsNotArmedAfterShutdown(t *testing.T) {
	l := New("test", zap.NewNop())
	l.Shutdown(nil)

	l.armSignals([]os.Signal{syscall.SIGUSR2})
	assert.Equal(t, int32(0), l.traps.active.Load())
}

func TestBlockedObserverDoesNotStallPasses(t *testing.T) {
	t.Run("shutdown", func(t *testing.T) {
		a := newMock("a", nil)
		unblock := make(chan struct{})
		defer close(unblock)

		l := New("test", zap.NewNop())
		l.Register(a)
		l.OnTransition(func(tr Transition) {
			if tr.To == ShuttingDown {
				<-unblock
			}
		})

		started := make(chan error, 1)
		l.Start(testConfig(), func(err error) { started <- err })
		require.NoError(t, receive(t, started))

		returned := make(chan struct{})
		go func() {
			l.Shutdown(nil)
			close(returned)
		}()
		receive(t, returned)

		waitShutdown(t, l)
		assert.Equal(t, int32(1), a.shutdownCalls.Load())
		assert.Equal(t, Shutdown, l.State())
	})

	t.Run("start", func(t *testing.T) {
		a := newMock("a", nil)
		unblock := make(chan struct{})
		defer close(unblock)

		l := New("test", zap.NewNop())
		l.Register(a)
		l.OnTransition(func(tr Transition) {
			if tr.To == Starting {
				<-unblock
			}
		})

		started := make(chan error, 1)
		l.Start(testConfig(), func(err error) { started <- err })
		require.NoError(t, receive(t, started))
		assert.Equal(t, int32(1), a.startCalls.Load())

		l.Shutdown(nil)
		waitShutdown(t, l)
	})
}

func TestLogging(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	failing := newMock("b", nil)
	failing.shutdownErr = errors.New("flush failed")

	l := New("svc", zap.New(core))
	l.Register(newMock("a", nil), failing)

	started := make(chan error, 1)
	l.Start(testConfig(), func(err error) { started <- err })
	require.NoError(t, receive(t, started))
	l.Shutdown(nil)
	waitShutdown(t, l)

	assert.Equal(t, 1, logs.FilterMessage("Starting lifecycle").Len())
	assert.Equal(t, 2, logs.FilterMessage("Component started").Len())
	assert.Equal(t, 1, logs.FilterMessage("Lifecycle started").Len())
	assert.Equal(t, 1, logs.FilterMessage("Shutting down lifecycle").Len())
	assert.Equal(t, 1, logs.FilterMessage("Component stopped").Len())
	assert.Equal(t, 1, logs.FilterMessage("Component shutdown failed").Len())

	complete := logs.FilterMessage("Lifecycle shutdown complete").All()
	require.Len(t, complete, 1)
	fields := complete[0].ContextMap()
	assert.Equal(t, int64(1), fields["failed"])
	assert.Equal(t, "svc", fields["lifecycle"])
	assert.Equal(t, l.ID(), fields["run_id"])
}
