package cmd

import (
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"

	"github.com/signpostkit/signpost/pkg/channels/gochannel"
	"github.com/signpostkit/signpost/pkg/channels/kafka"
	"github.com/signpostkit/signpost/pkg/eventbus"
)

// NewEventBus creates an event bus for the given provider. The "none"
// provider disables eventing; services treat a nil publisher as a no-op.
func NewEventBus(provider string, logger *slog.Logger) eventbus.EventBus {
	switch provider {
	case "kafka":
		pub, sub, err := kafka.CreateChannel(watermill.NewSlogLogger(logger), "signpost")
		if err != nil {
			panic(fmt.Errorf("failed to create Kafka pub/sub: %w", err))
		}

		return eventbus.NewWatermillEventBus(pub, sub)
	case "gochannel":
		pub, sub, err := gochannel.CreateChannel(watermill.NewSlogLogger(logger))
		if err != nil {
			panic(fmt.Errorf("failed to create gochannel pub/sub: %w", err))
		}

		return eventbus.NewWatermillEventBus(pub, sub)
	case "none", "":
		return nil
	default:
		panic("Unsupported event bus provider: " + provider)
	}
}
