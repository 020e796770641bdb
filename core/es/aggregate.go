package es

import (
	"errors"
	"fmt"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

var errUnboundAggregate = errors.New("aggregate is not bound to a definition")

// Aggregate is the core interface for event-sourced domain objects. It is
// implemented by embedding BaseAggregate into a domain struct:
//
//	type Account struct {
//	    es.BaseAggregate
//	    Balance int `json:"balance"`
//	}
//
// An aggregate maintains:
//   - Identity: aggregate type and id
//   - Version: playhead of the last applied event
//   - Pending events: raised but not yet drained by MakeStream
//   - CreatedAt/ClosedAt: set by the internal Created/Closed events
type Aggregate interface {
	ID() AggregateID
	AggregateType() string
	Version() Version
	CreatedAt() time.Time
	ClosedAt() *time.Time
	IsClosed() bool
	HasPending() bool

	// Raise records event as pending and applies it.
	Raise(event any) error
	// Close raises the internal Closed event.
	Close() error
	// MakeStream drains the pending events.
	MakeStream() AggregateEventStream
	// AppendStream replays events during rehydration.
	AppendStream(stream AggregateEventStream) error

	root() *BaseAggregate
}

// BaseAggregate is an embeddable helper that tracks version, lifecycle
// timestamps and pending events.
type BaseAggregate struct {
	id        AggregateID
	aggType   string
	version   Version
	createdAt time.Time
	closedAt  *time.Time
	pending   []AggregateEvent
	apply     func(event any)
}

func (b *BaseAggregate) root() *BaseAggregate { return b }

func (b *BaseAggregate) ID() AggregateID       { return b.id }
func (b *BaseAggregate) AggregateType() string { return b.aggType }
func (b *BaseAggregate) Version() Version      { return b.version }
func (b *BaseAggregate) CreatedAt() time.Time  { return b.createdAt }
func (b *BaseAggregate) IsClosed() bool        { return b.closedAt != nil }
func (b *BaseAggregate) HasPending() bool      { return len(b.pending) > 0 }
func (b *BaseAggregate) ClosedAt() *time.Time {
	if b.closedAt == nil {
		return nil
	}
	t := *b.closedAt
	return &t
}

func (b *BaseAggregate) Raise(event any) error {
	if b.apply == nil {
		return errUnboundAggregate
	}
	if b.closedAt != nil {
		return fmt.Errorf("%w: %s %s", ErrAttemptToChangeClosedStream, b.aggType, b.id)
	}
	if v, ok := event.(interface{ Validate() error }); ok {
		if err := v.Validate(); err != nil {
			return fmt.Errorf("invalid event %T: %w", event, err)
		}
	}

	b.version++
	b.pending = append(b.pending, AggregateEvent{
		EventID:    gonanoid.Must(),
		Event:      event,
		Playhead:   b.version,
		OccurredAt: time.Now().UTC(),
	})
	b.applyEvent(event)
	return nil
}

func (b *BaseAggregate) Close() error {
	return b.Raise(&AggregateClosed{ClosedAt: time.Now().UTC()})
}

func (b *BaseAggregate) MakeStream() AggregateEventStream {
	s := AggregateEventStream{
		AggregateType: b.aggType,
		AggregateID:   b.id,
		Events:        b.pending,
		CreatedAt:     b.createdAt,
		ClosedAt:      b.ClosedAt(),
	}
	b.pending = nil
	return s
}

func (b *BaseAggregate) AppendStream(stream AggregateEventStream) error {
	if b.apply == nil {
		return errUnboundAggregate
	}
	if stream.AggregateID != nil && !SameID(stream.AggregateID, b.id) {
		return fmt.Errorf("stream of %s cannot be appended to %s", stream.AggregateID, b.id)
	}
	for _, e := range stream.Events {
		b.applyEvent(e.Event)
		b.version++
	}
	return nil
}

// applyEvent handles the internal lifecycle events and hands everything else
// to the handler table of the aggregate definition.
func (b *BaseAggregate) applyEvent(event any) {
	switch e := event.(type) {
	case *AggregateCreated:
		b.createdAt = e.CreatedAt
	case AggregateCreated:
		b.createdAt = e.CreatedAt
	case *AggregateClosed:
		t := e.ClosedAt
		b.closedAt = &t
	case AggregateClosed:
		t := e.ClosedAt
		b.closedAt = &t
	default:
		b.apply(event)
	}
}

func (b *BaseAggregate) bind(id AggregateID, aggType string, apply func(any)) {
	b.id = id
	b.aggType = aggType
	b.apply = apply
}

func (b *BaseAggregate) restore(version Version, createdAt time.Time, closedAt *time.Time) {
	b.version = version
	b.createdAt = createdAt
	b.closedAt = closedAt
	b.pending = nil
}

// === Definition ===

// Handler applies one domain event type to an aggregate of type A.
type Handler[A Aggregate] struct {
	eventType string
	ctor      func() any
	apply     func(A, any)
}

// On builds a typed handler for events of type E. Events may be raised either
// as E or *E; the handler always receives a pointer.
func On[A Aggregate, E any](fn func(A, *E)) Handler[A] {
	return Handler[A]{
		eventType: EventTypeOf(new(E)),
		ctor:      Event[E](),
		apply: func(a A, event any) {
			switch e := event.(type) {
			case *E:
				fn(a, e)
			case E:
				fn(a, &e)
			}
		},
	}
}

// Definition describes one aggregate kind: its type tag, id type, zero-state
// constructor and the table of domain event handlers.
type Definition[A Aggregate] struct {
	aggType  string
	idType   string
	newFn    func() A
	parseID  func(string) (AggregateID, error)
	handlers map[string]Handler[A]
}

// Define creates the definition of aggregate A identified by ids of kind K.
func Define[A Aggregate, K IDKind](aggType string, newFn func() A, handlers ...Handler[A]) *Definition[A] {
	var k K
	d := &Definition[A]{
		aggType:  aggType,
		idType:   k.IDType(),
		newFn:    newFn,
		handlers: make(map[string]Handler[A], len(handlers)),
		parseID: func(s string) (AggregateID, error) {
			return NewID[K](s)
		},
	}
	for _, h := range handlers {
		d.handlers[h.eventType] = h
	}
	return d
}

func (d *Definition[A]) AggregateType() string { return d.aggType }
func (d *Definition[A]) IDType() string        { return d.idType }

func (d *Definition[A]) ParseID(s string) (AggregateID, error) { return d.parseID(s) }

// Create constructs a new aggregate and raises its Created event.
func (d *Definition[A]) Create(id AggregateID) (a A, err error) {
	if err = d.checkID(id); err != nil {
		return a, err
	}
	a = d.Rehydrate(id)
	err = a.Raise(&AggregateCreated{ID: id.String(), CreatedAt: time.Now().UTC()})
	return a, err
}

// Rehydrate allocates a zero-state aggregate bound to this definition without
// raising Created. It is the starting point for replaying a stored stream.
func (d *Definition[A]) Rehydrate(id AggregateID) A {
	a := d.newFn()
	d.bind(a, id)
	return a
}

func (d *Definition[A]) RehydrateAggregate(id AggregateID) (Aggregate, error) {
	if err := d.checkID(id); err != nil {
		return nil, err
	}
	return d.Rehydrate(id), nil
}

func (d *Definition[A]) CreateAggregate(id AggregateID) (Aggregate, error) {
	a, err := d.Create(id)
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (d *Definition[A]) RegisterEvents(r *EventRegistry) {
	for t, h := range d.handlers {
		r.Register(t, h.ctor)
	}
}

func (d *Definition[A]) bind(a A, id AggregateID) {
	a.root().bind(id, d.aggType, func(event any) { d.dispatch(a, event) })
}

// dispatch applies event through the handler table. Event types without a
// handler are ignored: they are still recorded, they just do not change state.
func (d *Definition[A]) dispatch(a A, event any) {
	h, ok := d.handlers[EventTypeOf(event)]
	if !ok {
		return
	}
	h.apply(a, event)
}

func (d *Definition[A]) checkID(id AggregateID) error {
	if id == nil || id.String() == "" {
		return fmt.Errorf("%w: empty id for %s", ErrInvalidIdentifier, d.aggType)
	}
	if id.IDType() != d.idType {
		return fmt.Errorf("%w: %s is not a %s", ErrInvalidIdentifier, id.IDType(), d.idType)
	}
	return nil
}

// Create is shorthand for def.Create(id).
func Create[A Aggregate](def *Definition[A], id AggregateID) (A, error) { return def.Create(id) }
