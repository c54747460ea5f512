package telemetry

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublisherSink_RecordPublishesJSON(t *testing.T) {
	pubSub := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})

	t.Cleanup(func() { _ = pubSub.Close() })

	messages, err := pubSub.Subscribe(context.Background(), Topic)
	require.NoError(t, err)

	sink := NewPublisherSink(nil, pubSub)
	sink.Record(context.Background(), NewEvent("job.completed", map[string]any{
		"job_id": "job-1",
		"status": "completed",
	}))

	select {
	case msg := <-messages:
		msg.Ack()

		var event Event

		require.NoError(t, json.Unmarshal(msg.Payload, &event))
		assert.Equal(t, "job.completed", event.Name)
		assert.Equal(t, "job-1", event.Fields["job_id"])
		assert.False(t, event.Timestamp.IsZero())
		assert.Equal(t, "job.completed", msg.Metadata.Get("event_name"))
	case <-time.After(2 * time.Second):
		t.Fatal("expected a telemetry message")
	}
}

func TestNoopSink_RecordDoesNothing(t *testing.T) {
	var sink NoopSink

	sink.Record(context.Background(), NewEvent("ignored", nil))
	assert.NoError(t, sink.Close())
}
