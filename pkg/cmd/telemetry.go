package cmd

import (
	"log/slog"

	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/dirigent-io/dirigent/pkg/telemetry"
)

// NewTelemetrySink creates a telemetry sink by provider name. The channel
// provider publishes events in-process; anything else is a no-op sink.
func NewTelemetrySink(logger *slog.Logger, provider string) telemetry.Sink {
	switch provider {
	case "channel":
		pubSub := gochannel.NewGoChannel(gochannel.Config{}, telemetry.NewWatermillLogger(logger))

		return telemetry.NewPublisherSink(logger, pubSub)
	default:
		return telemetry.NoopSink{}
	}
}
