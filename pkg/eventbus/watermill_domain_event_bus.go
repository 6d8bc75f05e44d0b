package eventbus

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/woolane/journey/pkg/events"
)

// watermillDomainEventBus carries inbound domain events over any
// watermill channel (kafka in production, gochannel in tests).
type watermillDomainEventBus struct {
	publisher  message.Publisher
	subscriber message.Subscriber
	handlers   []DomainEventHandler
	logger     *slog.Logger
}

func NewWatermillDomainEventBus(pub message.Publisher, sub message.Subscriber, logger *slog.Logger) DomainEventBus {
	return &watermillDomainEventBus{
		publisher:  pub,
		subscriber: sub,
		handlers:   make([]DomainEventHandler, 0),
		logger:     logger.With("module", "domain-event-bus"),
	}
}

func (b *watermillDomainEventBus) PublishDomainEvent(ctx context.Context, event *events.DomainEvent) error {
	if err := event.Validate(); err != nil {
		return err
	}

	payload, err := json.Marshal(event)
	if err != nil {
		b.logger.Error("Failed to marshal domain event", "error", err, "event_id", event.EventID)

		return err
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set(events.EventMetadataKey, event.Identity)
	msg.Metadata.Set(events.EventTypeMetadataKey, string(event.Type))

	b.logger.Debug("Publishing domain event",
		"event_id", event.EventID,
		"type", event.Type,
		"topic", events.DomainEventsTopic)

	return b.publisher.Publish(events.DomainEventsTopic, msg)
}

func (b *watermillDomainEventBus) HandleDomainEvents(handler DomainEventHandler) error {
	b.handlers = append(b.handlers, handler)

	return nil
}

// SubscribeToDomainEvents starts consuming domain events. A message is
// acked only when every handler succeeds, so a failed enrollment
// attempt is redelivered.
func (b *watermillDomainEventBus) SubscribeToDomainEvents(ctx context.Context) error {
	if len(b.handlers) == 0 {
		b.logger.Warn("No handlers registered for domain events")

		return nil
	}

	messages, err := b.subscriber.Subscribe(ctx, events.DomainEventsTopic)
	if err != nil {
		b.logger.Error("Failed to subscribe to domain events", "error", err, "topic", events.DomainEventsTopic)

		return err
	}

	go func() {
		for msg := range messages {
			var event events.DomainEvent
			if err := json.Unmarshal(msg.Payload, &event); err != nil {
				b.logger.Error("Failed to unmarshal domain event", "error", err, "message_id", msg.UUID)
				msg.Nack()

				continue
			}

			success := true

			for _, handler := range b.handlers {
				if err := handler(ctx, &event); err != nil {
					b.logger.Error("Domain event handler failed",
						"error", err,
						"event_id", event.EventID,
						"type", event.Type)

					success = false
				}
			}

			if success {
				msg.Ack()
			} else {
				msg.Nack()
			}
		}
	}()

	b.logger.Info("Domain event subscription started", "topic", events.DomainEventsTopic)

	return nil
}

func (b *watermillDomainEventBus) Close() error {
	var publisherErr, subscriberErr error

	if b.publisher != nil {
		publisherErr = b.publisher.Close()
	}

	if b.subscriber != nil {
		subscriberErr = b.subscriber.Close()
	}

	if publisherErr != nil {
		return publisherErr
	}

	return subscriberErr
}
