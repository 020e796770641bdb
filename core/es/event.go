package es

import (
	"sync"
	"time"

	"github.com/codewandler/esengine/internal/reflector"
)

const (
	EventTypeAggregateCreated = "aggregate_created"
	EventTypeAggregateClosed  = "aggregate_closed"
)

// events
type (
	// AggregateCreated is raised exactly once, when an aggregate is constructed.
	AggregateCreated struct {
		ID        string    `json:"id"`
		CreatedAt time.Time `json:"created_at"`
	}

	// AggregateClosed makes the aggregate read-only.
	AggregateClosed struct {
		ClosedAt time.Time `json:"closed_at"`
	}
)

func (AggregateCreated) EventType() string { return EventTypeAggregateCreated }
func (AggregateClosed) EventType() string  { return EventTypeAggregateClosed }

type (
	// AggregateEvent is one raised event together with its stream position.
	AggregateEvent struct {
		EventID    string
		Event      any
		Playhead   Version
		OccurredAt time.Time
		// RecordedAt is only set for events read back from a store.
		RecordedAt *time.Time
	}

	// AggregateEventStream is an ordered (by playhead) slice of events of one aggregate.
	AggregateEventStream struct {
		AggregateType string
		AggregateID   AggregateID
		Events        []AggregateEvent
		CreatedAt     time.Time
		ClosedAt      *time.Time
	}
)

// Payloads returns the raw domain events in stream order.
func (s AggregateEventStream) Payloads() []any {
	out := make([]any, len(s.Events))
	for i, e := range s.Events {
		out[i] = e.Event
	}
	return out
}

func (s AggregateEventStream) Len() int      { return len(s.Events) }
func (s AggregateEventStream) IsEmpty() bool { return len(s.Events) == 0 }

// LastPlayhead returns the playhead of the last event, or 0 for an empty stream.
func (s AggregateEventStream) LastPlayhead() Version {
	if len(s.Events) == 0 {
		return 0
	}
	return s.Events[len(s.Events)-1].Playhead
}

// === event types ===

// EventTypeOf returns the type tag of an event. Events may name themselves by
// implementing EventType() string, otherwise the qualified Go type name is used.
func EventTypeOf(ev any) string {
	if t, ok := ev.(interface{ EventType() string }); ok {
		return t.EventType()
	}
	return reflector.TypeInfoOf(ev).Name
}

// EventRegistry maps event type tags to constructors so persisted events can be decoded.
type EventRegistry struct {
	mu   sync.RWMutex
	news map[string]func() any
}

func NewEventRegistry() *EventRegistry {
	r := &EventRegistry{news: map[string]func() any{}}
	r.Register(EventTypeAggregateCreated, Event[AggregateCreated]())
	r.Register(EventTypeAggregateClosed, Event[AggregateClosed]())
	return r
}

func (r *EventRegistry) Register(eventType string, ctor func() any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.news[eventType] = ctor
}

func (r *EventRegistry) lookup(eventType string) (func() any, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ctor, ok := r.news[eventType]
	return ctor, ok
}

// Event returns a reflection-free constructor for an event of type T.
func Event[T any]() func() any { return func() any { return new(T) } }

// RegisterEvents registers event constructors. Each constructor is called once
// to derive the type tag of the event it produces.
func RegisterEvents(r *EventRegistry, ctors ...func() any) {
	for _, ctor := range ctors {
		r.Register(EventTypeOf(ctor()), ctor)
	}
}
