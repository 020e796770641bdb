package es

import (
	"fmt"
	"sync"
)

// AggregateDefinition is the type-erased view of a Definition used by the
// repository to rehydrate aggregates it only knows by tag.
type AggregateDefinition interface {
	AggregateType() string
	IDType() string
	ParseID(string) (AggregateID, error)
	RehydrateAggregate(id AggregateID) (Aggregate, error)
	CreateAggregate(id AggregateID) (Aggregate, error)
	RegisterEvents(r *EventRegistry)
}

var _ AggregateDefinition = (*Definition[*BaseAggregate])(nil)

// Registry holds aggregate definitions keyed by aggregate type tag and by id
// type, plus the event registry fed by their handlers.
type Registry struct {
	mu       sync.RWMutex
	byType   map[string]AggregateDefinition
	byIDType map[string]AggregateDefinition
	events   *EventRegistry
}

func NewRegistry(defs ...AggregateDefinition) *Registry {
	r := &Registry{
		byType:   map[string]AggregateDefinition{},
		byIDType: map[string]AggregateDefinition{},
		events:   NewEventRegistry(),
	}
	for _, d := range defs {
		r.Register(d)
	}
	return r
}

func (r *Registry) Register(def AggregateDefinition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byType[def.AggregateType()] = def
	r.byIDType[def.IDType()] = def
	def.RegisterEvents(r.events)
}

func (r *Registry) Events() *EventRegistry { return r.events }

func (r *Registry) ForType(aggType string) (AggregateDefinition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.byType[aggType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAggregateType, aggType)
	}
	return d, nil
}

func (r *Registry) ForID(id AggregateID) (AggregateDefinition, error) {
	if id == nil || id.String() == "" {
		return nil, ErrInvalidIdentifier
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.byIDType[id.IDType()]
	if !ok {
		return nil, fmt.Errorf("%w: no aggregate for id type %s", ErrUnknownAggregateType, id.IDType())
	}
	return d, nil
}
