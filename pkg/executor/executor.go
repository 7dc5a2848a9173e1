package executor

import "github.com/unklstewy/bigskies-lifecycle/pkg/lifecycle"

// Go returns an executor that runs every task on a new goroutine.
func Go() lifecycle.Executor {
	return lifecycle.ExecutorFunc(func(task func()) error {
		go task()
		return nil
	})
}
