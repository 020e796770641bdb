package watermill

import (
	"testing"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/require"

	"github.com/codewandler/esengine/core/es"
)

func TestPartitionKey(t *testing.T) {
	msg := es.Message{
		EventID:       "e1",
		AggregateType: "order",
		AggregateID:   "o1",
		EventType:     "order.item_added",
		Playhead:      2,
	}
	wmMsg := message.NewMessage(msg.EventID, nil)
	for k, v := range msg.Headers() {
		wmMsg.Metadata.Set(k, v)
	}

	key, err := partitionKey("order.order.item_added", wmMsg)
	require.NoError(t, err)
	require.Equal(t, "o1", key)
}

func TestNewKafkaPublisher_NoBrokers(t *testing.T) {
	_, err := NewKafkaPublisher(KafkaConfig{})
	require.Error(t, err)
}
