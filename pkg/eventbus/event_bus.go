// Package eventbus provides event-driven communication infrastructure
// for the flow engine: lifecycle notifications out, domain events in.
package eventbus

import (
	"context"

	"github.com/woolane/journey/pkg/events"
)

type Event interface {
	GetType() events.EventType
}

type EventPublisher interface {
	Publish(ctx context.Context, key string, event Event) error
}

type EventSubscriber interface {
	Handle(eventType events.EventType, handler EventHandler) error
	Subscribe(ctx context.Context) error
}

type EventHandler func(ctx context.Context, event any) error

type EventBus interface {
	EventPublisher
	EventSubscriber
	Close() error
	GenerateID() string
}

// DomainEventHandler is called for each inbound domain event.
type DomainEventHandler func(ctx context.Context, event *events.DomainEvent) error

// DomainEventPublisher publishes domain events for the listener to
// consume. Implemented by ingestion adapters in the surrounding
// application.
type DomainEventPublisher interface {
	PublishDomainEvent(ctx context.Context, event *events.DomainEvent) error
}

// DomainEventSubscriber delivers inbound domain events to handlers.
type DomainEventSubscriber interface {
	HandleDomainEvents(handler DomainEventHandler) error
	SubscribeToDomainEvents(ctx context.Context) error
}

// DomainEventBus combines publishing and subscribing for domain
// events.
type DomainEventBus interface {
	DomainEventPublisher
	DomainEventSubscriber
	Close() error
}
