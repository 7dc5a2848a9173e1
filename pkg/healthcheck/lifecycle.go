package healthcheck

import (
	"context"

	"github.com/unklstewy/bigskies-lifecycle/pkg/lifecycle"
)

// StateSource is the part of a lifecycle the checker reads.
type StateSource interface {
	Label() string
	State() lifecycle.State
}

// LifecycleChecker reports a lifecycle healthy once it has started,
// degraded while it is starting or shutting down, and unhealthy otherwise.
func LifecycleChecker(l StateSource) Checker {
	return &lifecycleChecker{source: l}
}

type lifecycleChecker struct {
	source StateSource
}

func (c *lifecycleChecker) Name() string {
	return "lifecycle"
}

func (c *lifecycleChecker) Check(ctx context.Context) *Result {
	state := c.source.State()

	var status Status
	switch state {
	case lifecycle.Started:
		status = StatusHealthy
	case lifecycle.Starting, lifecycle.ShuttingDown:
		status = StatusDegraded
	default:
		status = StatusUnhealthy
	}

	result := NewResult(c.Name(), status, "lifecycle "+state.String())
	result.Details = map[string]interface{}{
		"label": c.source.Label(),
		"state": state.String(),
	}
	return result
}
