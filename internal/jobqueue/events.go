// Package jobqueue provides the durable job queue: enqueueing job records,
// running them with a worker pool, and broadcasting lifecycle events that
// in-process observers can wait on.
package jobqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/echomsg/gifting-be/shared/rabbitmq"
)

// EventCode identifies a job lifecycle event. The zero value is reserved
// for unknown or malformed events and is never published.
type EventCode int

const (
	EventCodeUnknown         EventCode = 0
	EventCodeChargeSucceeded EventCode = 1
	EventCodeJobSucceeded    EventCode = 2
	EventCodeJobFailed       EventCode = 3
)

// String returns a human-readable name for logging.
func (c EventCode) String() string {
	switch c {
	case EventCodeChargeSucceeded:
		return "CHARGE_SUCCEEDED"
	case EventCodeJobSucceeded:
		return "JOB_SUCCEEDED"
	case EventCodeJobFailed:
		return "JOB_FAILED"
	default:
		return "UNKNOWN"
	}
}

// Valid reports whether the code is one a producer may publish.
func (c EventCode) Valid() bool {
	switch c {
	case EventCodeChargeSucceeded, EventCodeJobSucceeded, EventCodeJobFailed:
		return true
	default:
		return false
	}
}

// Event is a job lifecycle notification. Events are broadcast to every
// subscriber, so consumers must tolerate events for jobs they do not know
// and duplicates of events they already handled.
type Event struct {
	JobID      string    `json:"job_id"`
	Label      string    `json:"label"`
	Code       EventCode `json:"code"`
	OccurredAt time.Time `json:"occurred_at"`
}

// EventPublisher publishes job lifecycle events.
type EventPublisher interface {
	Publish(ctx context.Context, event Event) error
}

// Publisher broadcasts events on a fanout exchange so every interested
// process receives its own copy.
type Publisher struct {
	client *rabbitmq.Client
	logger *slog.Logger
}

// NewPublisher creates a Publisher on the given events topology client.
func NewPublisher(client *rabbitmq.Client, logger *slog.Logger) *Publisher {
	return &Publisher{
		client: client,
		logger: logger,
	}
}

// Publish broadcasts the event. OccurredAt is stamped when unset.
func (p *Publisher) Publish(ctx context.Context, event Event) error {
	if !event.Code.Valid() {
		return fmt.Errorf("refusing to publish event with code %d", event.Code)
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	// Advisory broadcast: a subscriber that misses an event falls back to
	// a pending result and polls, so no publish retries here.
	if err := p.client.Publish(ctx, body, "application/json"); err != nil {
		return fmt.Errorf("failed to publish %s event for job %s: %w", event.Code, event.JobID, err)
	}

	p.logger.Debug("Job event published",
		slog.String("job_id", event.JobID),
		slog.String("event", event.Code.String()),
	)
	return nil
}
