// Package executor provides the execution contexts lifecycle hooks run on.
package executor

import "errors"

var (
	// ErrPoolClosed is returned when submitting to a released pool.
	ErrPoolClosed = errors.New("executor pool is closed")

	// ErrPoolOverload is returned when a nonblocking pool has no free worker.
	ErrPoolOverload = errors.New("executor pool is overloaded")
)
