package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/unklstewy/bigskies-lifecycle/pkg/healthcheck"
	"github.com/unklstewy/bigskies-lifecycle/pkg/lifecycle"
)

// Publisher is the publishing half of Client.
type Publisher interface {
	PublishJSON(topic string, qos byte, retained bool, payload interface{}) error
}

// StateLost is the status a broker publishes from the last will when the
// connection drops without a clean shutdown.
const StateLost = "lost"

// StatePublisher publishes lifecycle transitions as retained status
// messages, so late subscribers see the current state. Register its
// Component after the broker client so the final status goes out before the
// client disconnects.
type StatePublisher struct {
	publisher Publisher
	label     string
	runID     string
	logger    *zap.Logger

	mu     sync.Mutex
	closed bool
}

// NewStatePublisher creates a publisher for the lifecycle identified by
// label and runID.
func NewStatePublisher(publisher Publisher, label, runID string, logger *zap.Logger) *StatePublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StatePublisher{
		publisher: publisher,
		label:     label,
		runID:     runID,
		logger:    logger,
	}
}

// Observe publishes t. It has the signature of a lifecycle transition
// observer. Transitions observed after the final status are dropped.
func (p *StatePublisher) Observe(t lifecycle.Transition) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		p.logger.Debug("Skipped status publish, final status already sent",
			zap.Stringer("state", t.To))
		return
	}

	if err := p.publish(t.From, t.To.String(), t.At); err != nil {
		// The broker connection only exists between the client's own start
		// and shutdown.
		if errors.Is(err, ErrNotConnected) {
			p.logger.Debug("Skipped status publish, broker not connected",
				zap.Stringer("state", t.To))
			return
		}
		p.logger.Warn("Failed to publish lifecycle status",
			zap.Stringer("state", t.To),
			zap.Error(err))
	}
}

// Close publishes the terminal shutdown status and stops publishing.
func (p *StatePublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true

	err := p.publish(lifecycle.ShuttingDown, lifecycle.Shutdown.String(), time.Now())
	if errors.Is(err, ErrNotConnected) {
		p.logger.Warn("Final lifecycle status not published, broker not connected")
		return nil
	}
	return err
}

// Component returns a lifecycle component whose shutdown calls Close.
func (p *StatePublisher) Component() lifecycle.Component {
	return lifecycle.ShutdownOnly("mqtt-status", p.Close)
}

func (p *StatePublisher) publish(from lifecycle.State, state string, at time.Time) error {
	msg, err := NewMessage(MessageTypeStatus, "lifecycle:"+p.label, StatusMessage{
		State: state,
		Details: map[string]interface{}{
			"from":   from.String(),
			"run_id": p.runID,
			"at":     at,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to build status message: %w", err)
	}
	return p.publisher.PublishJSON(StatusTopic(p.label), 1, true, msg)
}

// StatusWill returns a retained last will that marks the lifecycle lost on
// its status topic.
func StatusWill(label, runID string) (*Will, error) {
	msg, err := NewMessage(MessageTypeStatus, "lifecycle:"+label, StatusMessage{
		State:   StateLost,
		Details: map[string]interface{}{"run_id": runID},
	})
	if err != nil {
		return nil, err
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}
	return &Will{Topic: StatusTopic(label), Payload: payload, QoS: 1, Retained: true}, nil
}

// HealthPublishFunc returns a healthcheck.PublishFunc that publishes
// reports for label.
func HealthPublishFunc(publisher Publisher, label string) healthcheck.PublishFunc {
	return func(_ context.Context, result *healthcheck.AggregatedResult) error {
		msg, err := NewMessage(MessageTypeHealth, "lifecycle:"+label, result)
		if err != nil {
			return err
		}
		return publisher.PublishJSON(HealthTopic(label), 0, false, msg)
	}
}
