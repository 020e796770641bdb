package es

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/codewandler/esengine/core/cache"
	"github.com/codewandler/esengine/ports/kv"
)

type (
	// Snapshot is a serialized copy of an aggregate at Version.
	Snapshot struct {
		SnapshotID string `json:"snapshot_id"`

		ID            string  `json:"id"`
		IDType        string  `json:"id_type"`
		AggregateType string  `json:"aggregate_type"`
		Version       Version `json:"version"`

		AggregateCreatedAt time.Time  `json:"aggregate_created_at"`
		AggregateClosedAt  *time.Time `json:"aggregate_closed_at,omitempty"`

		CreatedAt time.Time `json:"created_at"`
		Encoding  string    `json:"encoding"`
		Data      []byte    `json:"data"`
	}

	// Snapshottable lets an aggregate control its own snapshot encoding.
	// Aggregates that do not implement it are snapshotted as JSON.
	Snapshottable interface {
		Snapshot() (data []byte, err error)
		RestoreSnapshot(data []byte) error
	}

	// SnapshotStore persists at most one snapshot per aggregate.
	SnapshotStore interface {
		LoadSnapshot(ctx context.Context, aggType, id string) (*Snapshot, error)
		SaveSnapshot(ctx context.Context, snapshot *Snapshot) error
		DeleteSnapshot(ctx context.Context, aggType, id string) error
	}
)

func (s *Snapshot) logAttrs() slog.Attr {
	return slog.Group(
		"snapshot",
		slog.String("id", s.SnapshotID),
		slog.String("aggregate_type", s.AggregateType),
		slog.String("aggregate_id", s.ID),
		s.Version.SlogAttr(),
		slog.Time("created_at", s.CreatedAt),
		slog.Int("size", len(s.Data)),
	)
}

// TakeSnapshot serializes agg into a new Snapshot at its current version.
func TakeSnapshot(agg Aggregate) (*Snapshot, error) {
	var (
		data []byte
		err  error
	)
	if s, ok := agg.(Snapshottable); ok {
		data, err = s.Snapshot()
	} else {
		data, err = json.Marshal(agg)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: snapshot %s %s: %w", ErrSerialization, agg.AggregateType(), agg.ID(), err)
	}
	return &Snapshot{
		SnapshotID:         gonanoid.Must(),
		ID:                 agg.ID().String(),
		IDType:             agg.ID().IDType(),
		AggregateType:      agg.AggregateType(),
		Version:            agg.Version(),
		AggregateCreatedAt: agg.CreatedAt(),
		AggregateClosedAt:  agg.ClosedAt(),
		CreatedAt:          time.Now().UTC(),
		Encoding:           "json",
		Data:               data,
	}, nil
}

// RestoreSnapshot decodes snapshot into a fresh aggregate built by def.
func RestoreSnapshot(def AggregateDefinition, snapshot *Snapshot) (Aggregate, error) {
	id, err := def.ParseID(snapshot.ID)
	if err != nil {
		return nil, err
	}
	agg, err := def.RehydrateAggregate(id)
	if err != nil {
		return nil, err
	}
	if s, ok := agg.(Snapshottable); ok {
		err = s.RestoreSnapshot(snapshot.Data)
	} else {
		err = json.Unmarshal(snapshot.Data, agg)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: restore snapshot %s: %w", ErrSerialization, snapshot.SnapshotID, err)
	}
	agg.root().restore(snapshot.Version, snapshot.AggregateCreatedAt, snapshot.AggregateClosedAt)
	return agg, nil
}

// === Snapshotter ===

// Snapshotter is the cache-aside layer in front of a SnapshotStore. It never
// returns storage errors: a failed read is a miss and a failed write is dropped.
type Snapshotter struct {
	log     *slog.Logger
	store   SnapshotStore
	trigger SnapshotTrigger
	cache   cache.Typed[*Snapshot]
	metrics ESMetrics
}

func NewSnapshotter(store SnapshotStore, opts ...SnapshotterOption) *Snapshotter {
	options := newSnapshotterOpts(opts...)
	return &Snapshotter{
		log:     options.log.With(slog.String("snapshotter", fmt.Sprintf("%T", store))),
		store:   store,
		trigger: options.trigger,
		cache:   cache.NewTyped[*Snapshot](options.cache),
		metrics: options.metrics,
	}
}

func snapshotKey(aggType, id string) string { return aggType + "/" + id }

// Load returns the latest snapshot or nil.
func (s *Snapshotter) Load(ctx context.Context, aggType, id string) *Snapshot {
	key := snapshotKey(aggType, id)
	if ss, ok := s.cache.Get(key); ok {
		s.metrics.CacheHit(aggType)
		return ss
	}
	s.metrics.CacheMiss(aggType)

	defer s.metrics.SnapshotLoadDuration(aggType).ObserveDuration()
	ss, err := s.store.LoadSnapshot(ctx, aggType, id)
	if err != nil {
		if !errors.Is(err, ErrSnapshotNotFound) {
			s.log.Warn(
				"snapshot load failed",
				slog.String("aggregate_type", aggType),
				slog.String("aggregate_id", id),
				slog.Any("error", err),
			)
		}
		return nil
	}
	s.cache.Put(key, ss)
	return ss
}

// Store replaces the snapshot of the aggregate.
func (s *Snapshotter) Store(ctx context.Context, snapshot *Snapshot) {
	defer s.metrics.SnapshotSaveDuration(snapshot.AggregateType).ObserveDuration()

	key := snapshotKey(snapshot.AggregateType, snapshot.ID)
	s.cache.Delete(key)

	if err := s.store.DeleteSnapshot(ctx, snapshot.AggregateType, snapshot.ID); err != nil {
		s.log.Warn("snapshot delete failed", snapshot.logAttrs(), slog.Any("error", err))
		return
	}
	if err := s.store.SaveSnapshot(ctx, snapshot); err != nil {
		s.log.Warn("snapshot save failed", snapshot.logAttrs(), slog.Any("error", err))
		return
	}
	s.cache.Put(key, snapshot)
	s.log.Debug("snapshot saved", snapshot.logAttrs())
}

// Forget drops the cached copy so the next Load goes to the store.
func (s *Snapshotter) Forget(aggType, id string) { s.cache.Delete(snapshotKey(aggType, id)) }

// MustBeCreated asks the trigger whether agg is due for a new snapshot.
func (s *Snapshotter) MustBeCreated(agg Aggregate, previous *Snapshot) bool {
	return s.trigger.MustBeCreated(agg, previous)
}

// === Key-value snapshot store ===

// KVSnapshotStore keeps snapshots as JSON documents in a kv.Store.
type KVSnapshotStore struct {
	kv  kv.Store
	ttl time.Duration
}

func NewKVSnapshotStore(store kv.Store, ttl time.Duration) *KVSnapshotStore {
	return &KVSnapshotStore{kv: store, ttl: ttl}
}

// NewInMemorySnapshotStore returns a KVSnapshotStore backed by process memory.
func NewInMemorySnapshotStore() *KVSnapshotStore {
	return NewKVSnapshotStore(kv.NewMemStore(), 0)
}

func (k *KVSnapshotStore) key(aggType, id string) string { return "snapshot." + aggType + "." + id }

func (k *KVSnapshotStore) LoadSnapshot(ctx context.Context, aggType, id string) (*Snapshot, error) {
	ss, err := kv.Get[Snapshot](ctx, k.kv, k.key(aggType, id))
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return nil, ErrSnapshotNotFound
		}
		return nil, err
	}
	return &ss, nil
}

func (k *KVSnapshotStore) SaveSnapshot(ctx context.Context, snapshot *Snapshot) error {
	return kv.Put(ctx, k.kv, k.key(snapshot.AggregateType, snapshot.ID), snapshot, kv.PutOptions{TTL: k.ttl})
}

func (k *KVSnapshotStore) DeleteSnapshot(ctx context.Context, aggType, id string) error {
	err := k.kv.Delete(ctx, k.key(aggType, id))
	if errors.Is(err, kv.ErrNotFound) {
		return nil
	}
	return err
}

var _ SnapshotStore = (*KVSnapshotStore)(nil)
