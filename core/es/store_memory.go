package es

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

type memStream struct {
	header StoredStream
	rows   []StoredEvent
}

// InMemoryStore is a StreamStore for tests and single-process development. It
// follows the same uniqueness and revert rules as the SQL store.
type InMemoryStore struct {
	mu      sync.Mutex
	log     *slog.Logger
	streams map[string]*memStream
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		log:     slog.Default().With(slog.String("store", "memory")),
		streams: map[string]*memStream{},
	}
}

func (s *InMemoryStore) Save(_ context.Context, stream StoredStream) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.streams[stream.ID]; ok {
		return fmt.Errorf("%w: stream %s exists", ErrUniqueConstraintViolation, stream.ID)
	}
	ms := &memStream{header: stream}
	ms.header.Events = nil
	if err := ms.insert(stream.Events); err != nil {
		return err
	}
	s.streams[stream.ID] = ms

	s.log.Debug("save", slog.String("stream", stream.ID), slog.Int("num_events", len(stream.Events)))
	return nil
}

func (s *InMemoryStore) Append(_ context.Context, stream StoredStream) error {
	if len(stream.Events) == 0 {
		return ErrStoreNoEvents
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ms, ok := s.streams[stream.ID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrStreamDoesNotExist, stream.ID)
	}

	if err := ms.insert(stream.Events); err != nil {
		return err
	}
	if stream.ClosedAt != nil {
		t := *stream.ClosedAt
		ms.header.ClosedAt = &t
	}

	s.log.Debug("append", slog.String("stream", stream.ID), slog.Int("num_events", len(stream.Events)))
	return nil
}

func (s *InMemoryStore) Load(_ context.Context, streamID string, opts ...StoreLoadOption) (*StoredStream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ms, ok := s.streams[streamID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrStreamDoesNotExist, streamID)
	}

	rng := NewStoreLoadRange(opts...)
	out := ms.header
	out.Events = make([]StoredEvent, 0)
	for _, e := range ms.rows {
		if e.CanceledAt != nil || !rng.Contains(e.Playhead) {
			continue
		}
		out.Events = append(out.Events, e)
	}
	return &out, nil
}

func (s *InMemoryStore) CloseStream(_ context.Context, streamID string, closedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ms, ok := s.streams[streamID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrStreamDoesNotExist, streamID)
	}
	ms.header.ClosedAt = &closedAt
	return nil
}

func (s *InMemoryStore) Revert(_ context.Context, streamID string, to Version, mode RevertMode) error {
	if !mode.valid() {
		return ErrInvalidRevertMode
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ms, ok := s.streams[streamID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrStreamDoesNotExist, streamID)
	}

	now := time.Now().UTC()
	next := make([]StoredEvent, 0, len(ms.rows))
	for _, e := range ms.rows {
		switch {
		case e.Playhead <= to:
			e.CanceledAt = nil
		case mode == RevertHard:
			continue
		case e.CanceledAt == nil:
			e.CanceledAt = &now
		}
		next = append(next, e)
	}
	ms.rows = next

	s.log.Debug(
		"revert",
		slog.String("stream", streamID),
		to.SlogAttrWithKey("to"),
		slog.String("mode", mode.String()),
	)
	return nil
}

// CountEvents returns the number of stored rows of a stream, canceled ones included.
func (s *InMemoryStore) CountEvents(_ context.Context, streamID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ms, ok := s.streams[streamID]
	if !ok {
		return 0, nil
	}
	return len(ms.rows), nil
}

// insert rejects the whole batch when any playhead is already taken, by a
// live or a canceled row.
func (ms *memStream) insert(events []StoredEvent) error {
	taken := make(map[Version]bool, len(ms.rows)+len(events))
	for _, e := range ms.rows {
		taken[e.Playhead] = true
	}
	for _, e := range events {
		if taken[e.Playhead] {
			return fmt.Errorf("%w: playhead %d of %s", ErrUniqueConstraintViolation, e.Playhead, e.StreamID)
		}
		taken[e.Playhead] = true
	}

	now := time.Now().UTC()
	for _, e := range events {
		e.RecordedAt = now
		e.CanceledAt = nil
		ms.rows = append(ms.rows, e)
	}
	sort.SliceStable(ms.rows, func(i, j int) bool { return ms.rows[i].Playhead < ms.rows[j].Playhead })
	return nil
}

var _ StreamStore = (*InMemoryStore)(nil)
