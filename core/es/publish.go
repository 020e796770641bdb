package es

import (
	"context"
	"time"
)

// Message is one persisted event handed to a Publisher.
type Message struct {
	EventID       string
	AggregateType string
	AggregateID   string
	IDType        string
	EventType     string
	Playhead      Version
	OccurredAt    time.Time
	Payload       []byte
	// Event is the decoded event for in-process publishers.
	Event any
}

// Subject is the routing key of the message: "<aggregate type>.<event type>".
func (m Message) Subject() string { return m.AggregateType + "." + m.EventType }

// Headers returns the metadata of the message as string pairs, for transports
// that carry headers next to the payload.
func (m Message) Headers() map[string]string {
	return map[string]string{
		"es-event-id":       m.EventID,
		"es-event-type":     m.EventType,
		"es-aggregate-type": m.AggregateType,
		"es-aggregate-id":   m.AggregateID,
		"es-id-type":        m.IDType,
		"es-playhead":       m.Playhead.String(),
		"es-occurred-at":    m.OccurredAt.UTC().Format(time.RFC3339Nano),
	}
}

// Publisher delivers persisted events to downstream consumers. Publish
// returns once the transport acknowledged the message.
type Publisher interface {
	Publish(ctx context.Context, msg Message) error
}

type PublisherFunc func(ctx context.Context, msg Message) error

func (f PublisherFunc) Publish(ctx context.Context, msg Message) error { return f(ctx, msg) }

// NopPublisher drops every message.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Message) error { return nil }

// NewMessages serializes the events of stream into publishable messages.
func NewMessages(stream AggregateEventStream, ser Serializer) ([]Message, error) {
	out := make([]Message, 0, len(stream.Events))
	for _, e := range stream.Events {
		eventType, data, err := ser.Serialize(e.Event)
		if err != nil {
			return nil, err
		}
		out = append(out, Message{
			EventID:       e.EventID,
			AggregateType: stream.AggregateType,
			AggregateID:   stream.AggregateID.String(),
			IDType:        stream.AggregateID.IDType(),
			EventType:     eventType,
			Playhead:      e.Playhead,
			OccurredAt:    e.OccurredAt,
			Payload:       data,
			Event:         e.Event,
		})
	}
	return out, nil
}
