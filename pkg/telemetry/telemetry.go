// Package telemetry publishes lifecycle events emitted by workers and
// schedulers. Sinks are fire-and-forget; a failing sink never fails the
// operation that emitted the event.
package telemetry

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"
)

// Topic is the channel all dirigent telemetry events are published on.
const Topic = "dirigent.telemetry"

// Event is a single observable occurrence, such as a job finishing or a
// circuit breaker changing state.
type Event struct {
	Name      string         `json:"name"`
	Timestamp time.Time      `json:"timestamp"`
	Fields    map[string]any `json:"fields,omitempty"`
}

// Sink records events. Implementations must be safe for concurrent use.
type Sink interface {
	Record(ctx context.Context, event Event)
	Close() error
}

// NewEvent stamps an event with the current time.
func NewEvent(name string, fields map[string]any) Event {
	return Event{
		Name:      name,
		Timestamp: time.Now().UTC(),
		Fields:    fields,
	}
}

// PublisherSink forwards events to a watermill publisher as JSON messages.
type PublisherSink struct {
	publisher message.Publisher
	logger    *slog.Logger
}

func NewPublisherSink(logger *slog.Logger, publisher message.Publisher) *PublisherSink {
	if logger == nil {
		logger = slog.Default()
	}

	return &PublisherSink{
		publisher: publisher,
		logger:    logger.With("module", "telemetry"),
	}
}

func (s *PublisherSink) Record(ctx context.Context, event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	payload, err := json.Marshal(event)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to marshal telemetry event", "event", event.Name, "error", err)

		return
	}

	msg := message.NewMessage(uuid.New().String(), payload)
	msg.Metadata.Set("event_name", event.Name)

	err = s.publisher.Publish(Topic, msg)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to publish telemetry event", "event", event.Name, "error", err)
	}
}

func (s *PublisherSink) Close() error {
	return s.publisher.Close()
}

// NoopSink discards all events.
type NoopSink struct{}

func (NoopSink) Record(ctx context.Context, event Event) {}

func (NoopSink) Close() error { return nil }

// NewWatermillLogger adapts slog for watermill internals.
func NewWatermillLogger(logger *slog.Logger) watermill.LoggerAdapter {
	if logger == nil {
		logger = slog.Default()
	}

	return watermill.NewSlogLogger(logger.With("module", "watermill"))
}
