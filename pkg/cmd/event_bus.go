package cmd

import (
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/woolane/journey/pkg/channels/gochannel"
	"github.com/woolane/journey/pkg/channels/kafka"
	"github.com/woolane/journey/pkg/eventbus"
)

// NewEventBus creates the enrollment lifecycle event bus on the given
// transport provider.
func NewEventBus(provider string, logger *slog.Logger) eventbus.EventBus {
	pub, sub := createChannel(provider, logger)

	return eventbus.NewWatermillEventBus(pub, sub)
}

// NewDomainEventBus creates the trigger event bus the listener
// consumes.
func NewDomainEventBus(provider string, logger *slog.Logger) eventbus.DomainEventBus {
	pub, sub := createChannel(provider, logger)

	return eventbus.NewWatermillDomainEventBus(pub, sub, logger)
}

func createChannel(provider string, logger *slog.Logger) (message.Publisher, message.Subscriber) {
	wmLogger := watermill.NewSlogLogger(logger)

	switch provider {
	case "kafka":
		pub, sub, err := kafka.CreateChannel(wmLogger, "journey")
		if err != nil {
			panic(fmt.Errorf("failed to create Kafka pub/sub: %w", err))
		}

		return pub, sub
	case "", "gochannel":
		pub, sub, err := gochannel.CreateChannel(wmLogger)
		if err != nil {
			panic(fmt.Errorf("failed to create in-process pub/sub: %w", err))
		}

		return pub, sub
	default:
		panic("Unsupported event bus provider: " + provider)
	}
}
