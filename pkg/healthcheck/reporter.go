package healthcheck

import (
	"context"

	"go.uber.org/zap"
)

// PublishFunc delivers an aggregated result, typically to a message broker.
type PublishFunc func(ctx context.Context, result *AggregatedResult) error

// Reporter forwards engine results to a PublishFunc.
type Reporter struct {
	publish PublishFunc
	logger  *zap.Logger
}

// NewReporter creates a reporter and subscribes it to engine.
func NewReporter(engine *Engine, publish PublishFunc, logger *zap.Logger) *Reporter {
	if logger == nil {
		logger = zap.NewNop()
	}

	r := &Reporter{publish: publish, logger: logger}
	engine.OnResult(r.report)
	return r
}

func (r *Reporter) report(ctx context.Context, result *AggregatedResult) {
	if err := r.publish(ctx, result); err != nil {
		r.logger.Warn("Failed to publish health report",
			zap.String("status", string(result.Status)),
			zap.Error(err))
		return
	}
	r.logger.Debug("Health report published", zap.String("status", string(result.Status)))
}
