// Package watermill bridges persisted events onto a watermill message.Publisher.
package watermill

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/codewandler/esengine/core/es"
)

// Publisher turns each event into a watermill message whose UUID is the event
// id and whose metadata carries the event headers.
type Publisher struct {
	pub   message.Publisher
	topic func(es.Message) string
}

// NewPublisher publishes to topic(msg), or to the message subject when topic
// is nil.
func NewPublisher(pub message.Publisher, topic func(es.Message) string) *Publisher {
	if topic == nil {
		topic = es.Message.Subject
	}
	return &Publisher{pub: pub, topic: topic}
}

func (p *Publisher) Publish(ctx context.Context, msg es.Message) error {
	wm := message.NewMessage(msg.EventID, msg.Payload)
	wm.SetContext(ctx)
	for k, v := range msg.Headers() {
		wm.Metadata.Set(k, v)
	}

	topic := p.topic(msg)
	if err := p.pub.Publish(topic, wm); err != nil {
		return fmt.Errorf("watermill publish %s: %w", topic, err)
	}
	return nil
}

func (p *Publisher) Close() error { return p.pub.Close() }

var _ es.Publisher = (*Publisher)(nil)
