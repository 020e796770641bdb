package es

import (
	"encoding/json"
	"fmt"
)

// Serializer converts domain events to and from their stored payload.
type Serializer interface {
	Serialize(event any) (eventType string, data []byte, err error)
	Deserialize(eventType string, data []byte) (any, error)
}

// RawEvent is produced when a stored event type has no registered constructor.
// Replaying it advances the version without touching state.
type RawEvent struct {
	Type string
	Data json.RawMessage
}

func (r *RawEvent) EventType() string { return r.Type }

// JSONCodec is the JSON implementation used by JSONSerializer.
type JSONCodec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
	Valid(data []byte) bool
}

type stdJSON struct{}

func (stdJSON) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (stdJSON) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (stdJSON) Valid(data []byte) bool             { return json.Valid(data) }

// JSONSerializer is the default Serializer, decoding through an EventRegistry.
type JSONSerializer struct {
	events *EventRegistry
	codec  JSONCodec
}

// NewJSONSerializer uses encoding/json unless codec is given.
func NewJSONSerializer(events *EventRegistry, codec ...JSONCodec) *JSONSerializer {
	if events == nil {
		events = NewEventRegistry()
	}
	s := &JSONSerializer{events: events, codec: stdJSON{}}
	if len(codec) > 0 && codec[0] != nil {
		s.codec = codec[0]
	}
	return s
}

func (s *JSONSerializer) Serialize(event any) (string, []byte, error) {
	if raw, ok := event.(*RawEvent); ok {
		return raw.Type, raw.Data, nil
	}
	data, err := s.codec.Marshal(event)
	if err != nil {
		return "", nil, fmt.Errorf("%w: encode %T: %w", ErrSerialization, event, err)
	}
	return EventTypeOf(event), data, nil
}

func (s *JSONSerializer) Deserialize(eventType string, data []byte) (any, error) {
	ctor, ok := s.events.lookup(eventType)
	if !ok {
		if len(data) > 0 && !s.codec.Valid(data) {
			return nil, fmt.Errorf("%w: malformed payload for %s", ErrSerialization, eventType)
		}
		return &RawEvent{Type: eventType, Data: append(json.RawMessage(nil), data...)}, nil
	}
	ev := ctor()
	if len(data) > 0 {
		if err := s.codec.Unmarshal(data, ev); err != nil {
			return nil, fmt.Errorf("%w: decode %s: %w", ErrSerialization, eventType, err)
		}
	}
	return ev, nil
}

var _ Serializer = (*JSONSerializer)(nil)
