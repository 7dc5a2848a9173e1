package lifecycle

import (
	"os"
	"syscall"
)

// Executor runs component hooks. Every start and shutdown step is submitted
// to the executor, even when the hook itself would finish synchronously.
type Executor interface {
	Submit(task func()) error
}

// ExecutorFunc adapts an ordinary function into an Executor.
type ExecutorFunc func(task func()) error

// Submit calls f(task).
func (f ExecutorFunc) Submit(task func()) error {
	return f(task)
}

// goExecutor runs every task on its own goroutine.
var goExecutor = ExecutorFunc(func(task func()) error {
	go task()
	return nil
})

// Config controls one run of a lifecycle. It is passed by value to Start and
// is not modified afterwards.
type Config struct {
	// Executor runs component hooks. Nil means one goroutine per step.
	Executor Executor

	// ShutdownSignals are trapped once the lifecycle has started; delivery of
	// any of them triggers Shutdown. Empty means no signal is trapped.
	ShutdownSignals []os.Signal

	// InstallCrashHandler makes fatal runtime errors dump every goroutine's
	// stack instead of only the crashing one.
	InstallCrashHandler bool
}

// DefaultConfig returns the configuration used by most services: hooks on
// their own goroutines, SIGTERM and SIGINT trapped, crash handler installed.
func DefaultConfig() Config {
	return Config{
		Executor:            goExecutor,
		ShutdownSignals:     []os.Signal{syscall.SIGTERM, syscall.SIGINT},
		InstallCrashHandler: true,
	}
}

func (c Config) executor() Executor {
	if c.Executor == nil {
		return goExecutor
	}
	return c.Executor
}
