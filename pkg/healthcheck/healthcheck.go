// Package healthcheck reports the health of lifecycle-managed resources.
package healthcheck

import (
	"context"
	"time"
)

// Status represents the health of a checked resource.
type Status string

const (
	// StatusHealthy indicates the resource is serving normally.
	StatusHealthy Status = "healthy"
	// StatusDegraded indicates the resource is up but not fully serving,
	// for example while its lifecycle is starting or shutting down.
	StatusDegraded Status = "degraded"
	// StatusUnhealthy indicates the resource is not serving.
	StatusUnhealthy Status = "unhealthy"
	// StatusUnknown indicates nothing has been checked yet.
	StatusUnknown Status = "unknown"
)

// Result is the outcome of one check.
type Result struct {
	Name      string                 `json:"name"`
	Status    Status                 `json:"status"`
	Message   string                 `json:"message,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Duration  time.Duration          `json:"duration"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// NewResult builds a result stamped with the current time.
func NewResult(name string, status Status, message string) *Result {
	return &Result{
		Name:      name,
		Status:    status,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// Checker checks a single resource.
type Checker interface {
	Name() string
	Check(ctx context.Context) *Result
}

// Func returns a checker that reports healthy when fn returns nil and
// unhealthy with the error text otherwise.
func Func(name string, fn func(ctx context.Context) error) Checker {
	return &funcChecker{name: name, fn: fn}
}

type funcChecker struct {
	name string
	fn   func(ctx context.Context) error
}

func (c *funcChecker) Name() string {
	return c.name
}

func (c *funcChecker) Check(ctx context.Context) *Result {
	if err := c.fn(ctx); err != nil {
		return NewResult(c.name, StatusUnhealthy, err.Error())
	}
	return NewResult(c.name, StatusHealthy, "")
}

// AggregatedResult combines the results of every registered checker.
type AggregatedResult struct {
	Status     Status             `json:"status"`
	Components map[string]*Result `json:"components"`
	Timestamp  time.Time          `json:"timestamp"`
}

// IsHealthy reports whether every checker is healthy.
func (ar *AggregatedResult) IsHealthy() bool {
	return ar.Status == StatusHealthy
}

// Aggregate folds results into one status: any unhealthy result makes the
// whole unhealthy, any degraded or unknown one makes it degraded.
func Aggregate(results map[string]*Result) Status {
	if len(results) == 0 {
		return StatusUnknown
	}

	overall := StatusHealthy
	for _, result := range results {
		switch result.Status {
		case StatusUnhealthy:
			return StatusUnhealthy
		case StatusDegraded, StatusUnknown:
			overall = StatusDegraded
		}
	}
	return overall
}
