package es

import (
	"context"
	"fmt"
	"time"
)

type (
	// StoredEvent is the storage-shaped twin of AggregateEvent.
	StoredEvent struct {
		EventID    string
		StreamID   string
		Playhead   Version
		EventType  string
		Payload    []byte
		OccurredAt time.Time
		RecordedAt time.Time
		// CanceledAt marks a row hidden by a soft revert.
		CanceledAt *time.Time
	}

	// StoredStream is a stream header plus a run of stored events.
	StoredStream struct {
		ID            string
		IDType        string
		AggregateType string
		CreatedAt     time.Time
		ClosedAt      *time.Time
		Events        []StoredEvent
	}
)

// RevertMode selects how a stream tail is rewound.
type RevertMode int

const (
	// RevertSoft marks the tail canceled; the rows stay in the store.
	RevertSoft RevertMode = iota
	// RevertHard deletes the tail permanently.
	RevertHard
)

func (m RevertMode) String() string {
	switch m {
	case RevertSoft:
		return "soft"
	case RevertHard:
		return "hard"
	}
	return fmt.Sprintf("revert_mode(%d)", int(m))
}

func (m RevertMode) valid() bool { return m == RevertSoft || m == RevertHard }

type (
	storeLoadOptions struct {
		startVersion Version
		endVersion   *Version
	}

	StoreLoadOption interface {
		applyToStoreLoadOptions(*storeLoadOptions)
	}

	startVersionOption valueOption[Version]
	endVersionOption   valueOption[Version]
)

// WithStartAtVersion limits a load to events with playhead >= v.
func WithStartAtVersion(v Version) StoreLoadOption { return startVersionOption{v: v} }

// WithEndAtVersion limits a load to events with playhead <= v.
func WithEndAtVersion(v Version) StoreLoadOption { return endVersionOption{v: v} }

func (o startVersionOption) applyToStoreLoadOptions(l *storeLoadOptions) { l.startVersion = o.v }
func (o endVersionOption) applyToStoreLoadOptions(l *storeLoadOptions) {
	v := o.v
	l.endVersion = &v
}

// StoreLoadRange is the resolved form of a set of StoreLoadOption values, for
// store implementations outside this package.
type StoreLoadRange struct {
	From Version
	To   *Version
}

func (r StoreLoadRange) Contains(v Version) bool {
	if v < r.From {
		return false
	}
	return r.To == nil || v <= *r.To
}

func NewStoreLoadRange(opts ...StoreLoadOption) StoreLoadRange {
	o := storeLoadOptions{}
	for _, opt := range opts {
		opt.applyToStoreLoadOptions(&o)
	}
	return StoreLoadRange{From: o.startVersion, To: o.endVersion}
}

// StreamStore is the append-only storage contract for aggregate streams.
//
// Playheads are unique per stream among live (not canceled) rows; a write
// that breaks this returns an error matching ErrUniqueConstraintViolation.
type StreamStore interface {
	// Save writes a new stream header and its events in one transaction.
	Save(ctx context.Context, stream StoredStream) error
	// Append writes events to an existing stream in one transaction.
	Append(ctx context.Context, stream StoredStream) error
	// Load returns the header and the live events in the requested range,
	// ordered by playhead. It returns ErrStreamDoesNotExist for unknown ids.
	Load(ctx context.Context, streamID string, opts ...StoreLoadOption) (*StoredStream, error)
	// CloseStream sets the closed timestamp of the header.
	CloseStream(ctx context.Context, streamID string, closedAt time.Time) error
	// Revert rewinds the stream so that exactly the playheads [1, to] are live.
	Revert(ctx context.Context, streamID string, to Version, mode RevertMode) error
}

// === converters ===

func toStoredStream(s AggregateEventStream, ser Serializer) (StoredStream, error) {
	out := StoredStream{
		ID:            s.AggregateID.String(),
		IDType:        s.AggregateID.IDType(),
		AggregateType: s.AggregateType,
		CreatedAt:     s.CreatedAt,
		ClosedAt:      s.ClosedAt,
		Events:        make([]StoredEvent, 0, len(s.Events)),
	}
	for _, e := range s.Events {
		eventType, data, err := ser.Serialize(e.Event)
		if err != nil {
			return out, err
		}
		out.Events = append(out.Events, StoredEvent{
			EventID:    e.EventID,
			StreamID:   out.ID,
			Playhead:   e.Playhead,
			EventType:  eventType,
			Payload:    data,
			OccurredAt: e.OccurredAt,
		})
	}
	return out, nil
}

func fromStoredStream(s *StoredStream, id AggregateID, ser Serializer) (AggregateEventStream, error) {
	out := AggregateEventStream{
		AggregateType: s.AggregateType,
		AggregateID:   id,
		CreatedAt:     s.CreatedAt,
		ClosedAt:      s.ClosedAt,
		Events:        make([]AggregateEvent, 0, len(s.Events)),
	}
	for _, e := range s.Events {
		ev, err := ser.Deserialize(e.EventType, e.Payload)
		if err != nil {
			return out, err
		}
		recordedAt := e.RecordedAt
		out.Events = append(out.Events, AggregateEvent{
			EventID:    e.EventID,
			Event:      ev,
			Playhead:   e.Playhead,
			OccurredAt: e.OccurredAt,
			RecordedAt: &recordedAt,
		})
	}
	return out, nil
}
