package jobqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/echomsg/gifting-be/shared/rabbitmq"
)

// EventConsumer reads broadcast job events off this process's exclusive
// queue and fans them out to the local observer registry.
type EventConsumer struct {
	client    *rabbitmq.Client
	observers *Observers
	logger    *slog.Logger

	consumerTag string
}

// NewEventConsumer creates a consumer bound to the given events topology
// client. The client should have declared a server-named exclusive queue on
// the fanout exchange.
func NewEventConsumer(client *rabbitmq.Client, observers *Observers, logger *slog.Logger) *EventConsumer {
	return &EventConsumer{
		client:      client,
		observers:   observers,
		logger:      logger,
		consumerTag: fmt.Sprintf("events-%s", uuid.NewString()),
	}
}

// Run consumes events until the context is canceled or the delivery channel
// closes. Malformed payloads are dropped without requeue; the exchange is a
// broadcast, so nothing downstream depends on their redelivery.
func (c *EventConsumer) Run(ctx context.Context) error {
	deliveries, err := c.client.Consume(c.consumerTag)
	if err != nil {
		return fmt.Errorf("failed to start event consumer: %w", err)
	}

	c.logger.Info("Event consumer started",
		slog.String("consumer_tag", c.consumerTag),
		slog.String("queue", c.client.QueueName()),
	)

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("Event consumer stopped - context canceled")
			return nil

		case delivery, ok := <-deliveries:
			if !ok {
				c.logger.Warn("Event delivery channel closed")
				return fmt.Errorf("event delivery channel closed")
			}

			var event Event
			if err := json.Unmarshal(delivery.Body, &event); err != nil {
				c.logger.Error("Failed to parse event JSON",
					slog.String("error", err.Error()),
					slog.String("body", string(delivery.Body)),
				)
				if nackErr := delivery.Nack(false, false); nackErr != nil {
					c.logger.Error("Failed to NACK malformed event",
						slog.String("error", nackErr.Error()),
					)
				}
				continue
			}

			if !event.Code.Valid() {
				c.logger.Warn("Ignoring event with unknown code",
					slog.String("job_id", event.JobID),
					slog.Int("code", int(event.Code)),
				)
				if ackErr := delivery.Ack(false); ackErr != nil {
					c.logger.Error("Failed to ACK unknown event",
						slog.String("error", ackErr.Error()),
					)
				}
				continue
			}

			c.observers.Dispatch(event)

			if ackErr := delivery.Ack(false); ackErr != nil {
				c.logger.Error("Failed to ACK event",
					slog.String("job_id", event.JobID),
					slog.String("error", ackErr.Error()),
				)
			}
		}
	}
}
