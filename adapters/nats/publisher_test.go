//go:build integration

package nats

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/codewandler/esengine/core/es"
)

func TestPublisher(t *testing.T) {
	ctx := t.Context()
	pub, err := NewPublisher(ctx, PublisherConfig{Connect: NewTestContainer(t)})
	require.NoError(t, err)
	t.Cleanup(func() { _ = pub.Close() })

	msg := es.Message{
		EventID:       "evt-1",
		AggregateType: "counter",
		AggregateID:   "c1",
		IDType:        "counter_id",
		EventType:     "counter.added",
		Playhead:      2,
		OccurredAt:    time.Now(),
		Payload:       []byte(`{"n":1}`),
	}
	require.Equal(t, "esengine.events.counter.counter_added", pub.Subject(msg))

	require.NoError(t, pub.Publish(ctx, msg))
	// same event id: deduplicated by the server
	require.NoError(t, pub.Publish(ctx, msg))

	info, err := pub.Stream().Info(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(1), info.State.Msgs)

	raw, err := pub.Stream().GetLastMsgForSubject(ctx, pub.Subject(msg))
	require.NoError(t, err)
	require.JSONEq(t, `{"n":1}`, string(raw.Data))
	require.Equal(t, "2", raw.Header.Get("es-playhead"))
	require.Equal(t, "c1", raw.Header.Get("es-aggregate-id"))
}
