package es

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// AggregateLoader is implemented by Repository and Provider.
type AggregateLoader interface {
	Load(ctx context.Context, id AggregateID) (Aggregate, error)
}

// Repository rehydrates aggregates from a StreamStore (optionally starting from
// a snapshot) and persists their pending events.
type Repository struct {
	log       *slog.Logger
	store     StreamStore
	registry  *Registry
	ser       Serializer
	snapshots *Snapshotter
	metrics   ESMetrics
}

func NewRepository(
	log *slog.Logger,
	store StreamStore,
	registry *Registry,
	opts ...RepositoryOption,
) *Repository {
	options := newRepoOpts(registry, opts...)
	log = logOrDefault(log)

	return &Repository{
		log:       log.With(slog.String("repo", fmt.Sprintf("%T", store))),
		store:     store,
		registry:  registry,
		ser:       options.serializer,
		snapshots: options.snapshotter,
		metrics:   options.metrics,
	}
}

func (r *Repository) Registry() *Registry     { return r.registry }
func (r *Repository) Serializer() Serializer  { return r.ser }
func (r *Repository) Snapshots() *Snapshotter { return r.snapshots }

func aggAttrs(aggType string, id AggregateID) slog.Attr {
	return slog.Group("agg", slog.String("type", aggType), slog.String("id", id.String()))
}

func storedAttrs(s StoredStream) slog.Attr {
	return slog.Group("agg", slog.String("type", s.AggregateType), slog.String("id", s.ID))
}

// Load rebuilds the aggregate from its latest snapshot plus the event tail, or
// from the full stream when there is no usable snapshot.
func (r *Repository) Load(ctx context.Context, id AggregateID) (Aggregate, error) {
	def, err := r.registry.ForID(id)
	if err != nil {
		return nil, err
	}
	aggType := def.AggregateType()
	defer r.metrics.RepoLoadDuration(aggType).ObserveDuration()

	log := r.log.With(aggAttrs(aggType, id))

	ss := r.snapshots.Load(ctx, aggType, id.String())
	if ss != nil {
		agg, err := r.loadFromSnapshot(ctx, def, ss)
		if err == nil {
			log.Debug("loaded from snapshot", ss.Version.SlogAttrWithKey("snapshot_version"), agg.Version().SlogAttr())
			return agg, nil
		}
		if errors.Is(err, ErrAggregateNotFound) {
			return nil, err
		}
		// snapshot does not line up with the stream: replay from the start
		log.Warn("snapshot unusable, replaying full stream", ss.logAttrs(), slog.Any("error", err))
		r.snapshots.Forget(aggType, id.String())
	}

	agg, err := def.RehydrateAggregate(id)
	if err != nil {
		return nil, err
	}
	if err := r.replay(ctx, agg); err != nil {
		return nil, err
	}
	if ss != nil {
		r.storeSnapshot(ctx, agg)
	}
	log.Debug("loaded", agg.Version().SlogAttr())
	return agg, nil
}

// loadFromSnapshot restores ss and applies the events after it. The event at
// the snapshot version has to be the live one the snapshot was taken from: a
// revert below the snapshot leaves it describing history that is gone.
func (r *Repository) loadFromSnapshot(ctx context.Context, def AggregateDefinition, ss *Snapshot) (Aggregate, error) {
	agg, err := RestoreSnapshot(def, ss)
	if err != nil {
		return nil, err
	}
	stored, err := r.loadStream(ctx, agg.AggregateType(), agg.ID(), WithStartAtVersion(ss.Version))
	if err != nil {
		return nil, err
	}
	if len(stored.Events) == 0 {
		return nil, fmt.Errorf(
			"%w: snapshot of %s %s at version %d is ahead of the stream",
			ErrIntegrityCheckFailed, agg.AggregateType(), agg.ID(), ss.Version,
		)
	}
	// an event recorded after the snapshot was taken replaced the one it saw
	if first := stored.Events[0]; first.Playhead != ss.Version || first.RecordedAt.After(ss.CreatedAt) {
		return nil, fmt.Errorf(
			"%w: snapshot of %s %s at version %d predates the stream",
			ErrIntegrityCheckFailed, agg.AggregateType(), agg.ID(), ss.Version,
		)
	}
	stored.Events = stored.Events[1:]
	if err := r.apply(agg, stored); err != nil {
		return nil, err
	}
	return agg, nil
}

// replay loads the stored events after agg's version and applies them.
func (r *Repository) replay(ctx context.Context, agg Aggregate, opts ...StoreLoadOption) error {
	stored, err := r.loadStream(ctx, agg.AggregateType(), agg.ID(), opts...)
	if err != nil {
		return err
	}
	return r.apply(agg, stored)
}

// apply checks that stored continues agg without gaps and applies it.
func (r *Repository) apply(agg Aggregate, stored *StoredStream) error {
	id := agg.ID()
	if stored.AggregateType != agg.AggregateType() {
		return fmt.Errorf(
			"%w: stream %s belongs to %s, not %s",
			ErrIntegrityCheckFailed, id, stored.AggregateType, agg.AggregateType(),
		)
	}

	expect := agg.Version() + 1
	for _, e := range stored.Events {
		if e.Playhead != expect {
			return fmt.Errorf(
				"%w: %s %s expected playhead %d, got %d",
				ErrIntegrityCheckFailed, agg.AggregateType(), id, expect, e.Playhead,
			)
		}
		expect++
	}

	stream, err := fromStoredStream(stored, id, r.ser)
	if err != nil {
		return err
	}
	if err := agg.AppendStream(stream); err != nil {
		return err
	}
	if agg.Version() == 0 {
		return fmt.Errorf("%w: %s %s has no events", ErrAggregateNotFound, agg.AggregateType(), id)
	}
	return nil
}

func (r *Repository) loadStream(
	ctx context.Context,
	aggType string,
	id AggregateID,
	opts ...StoreLoadOption,
) (*StoredStream, error) {
	defer r.metrics.StoreLoadDuration(aggType).ObserveDuration()

	stored, err := r.store.Load(ctx, id.String(), opts...)
	if err != nil {
		if errors.Is(err, ErrStreamDoesNotExist) {
			return nil, fmt.Errorf("%w: %s %s", ErrAggregateNotFound, aggType, id)
		}
		return nil, err
	}
	return stored, nil
}

// Save persists a new aggregate and returns the events it wrote.
func (r *Repository) Save(ctx context.Context, agg Aggregate) (AggregateEventStream, error) {
	return r.write(ctx, agg, true)
}

// Update appends the pending events of an existing aggregate.
func (r *Repository) Update(ctx context.Context, agg Aggregate) (AggregateEventStream, error) {
	return r.write(ctx, agg, false)
}

func (r *Repository) write(ctx context.Context, agg Aggregate, isNew bool) (AggregateEventStream, error) {
	aggType := agg.AggregateType()
	defer r.metrics.RepoSaveDuration(aggType).ObserveDuration()

	if !agg.HasPending() {
		if isNew {
			return AggregateEventStream{}, fmt.Errorf("%w: %s %s", ErrStoreNoEvents, aggType, agg.ID())
		}
		return AggregateEventStream{AggregateType: aggType, AggregateID: agg.ID()}, nil
	}

	stream := agg.MakeStream()
	stored, err := toStoredStream(stream, r.ser)
	if err != nil {
		return stream, err
	}

	if err := r.persist(ctx, stored, isNew); err != nil {
		return stream, err
	}
	r.metrics.EventsAppended(aggType, len(stored.Events))

	r.log.Debug(
		"saved",
		aggAttrs(aggType, agg.ID()),
		agg.Version().SlogAttr(),
		slog.Bool("new", isNew),
		slog.Int("num_events", len(stored.Events)),
	)

	r.maybeSnapshot(ctx, agg)
	return stream, nil
}

func (r *Repository) persist(ctx context.Context, stored StoredStream, isNew bool) error {
	defer r.metrics.StoreAppendDuration(stored.AggregateType).ObserveDuration()

	if isNew {
		err := r.store.Save(ctx, stored)
		if errors.Is(err, ErrUniqueConstraintViolation) {
			r.log.Debug("duplicate aggregate", storedAttrs(stored), slog.Any("error", err))
			return fmt.Errorf("%w: %s %s", ErrDuplicateAggregate, stored.AggregateType, stored.ID)
		}
		return err
	}

	err := r.store.Append(ctx, stored)
	if errors.Is(err, ErrUniqueConstraintViolation) {
		r.metrics.ConcurrencyConflict(stored.AggregateType)
		r.log.Debug("stale version", storedAttrs(stored), slog.Any("error", err))
		return fmt.Errorf(
			"%w: stale version of %s %s: %w",
			ErrIntegrityCheckFailed, stored.AggregateType, stored.ID, ErrUniqueConstraintViolation,
		)
	}
	return err
}

func (r *Repository) maybeSnapshot(ctx context.Context, agg Aggregate) {
	prev := r.snapshots.Load(ctx, agg.AggregateType(), agg.ID().String())
	if !r.snapshots.MustBeCreated(agg, prev) {
		return
	}
	r.storeSnapshot(ctx, agg)
}

func (r *Repository) storeSnapshot(ctx context.Context, agg Aggregate) {
	ss, err := TakeSnapshot(agg)
	if err != nil {
		r.log.Warn("snapshot failed", aggAttrs(agg.AggregateType(), agg.ID()), slog.Any("error", err))
		return
	}
	r.snapshots.Store(ctx, ss)
}

// Revert rewinds the stream of agg to version to, rebuilds the aggregate from
// the full stream and replaces its snapshot. The returned aggregate replaces agg.
func (r *Repository) Revert(ctx context.Context, agg Aggregate, to Version, mode RevertMode) (Aggregate, error) {
	id := agg.ID()
	aggType := agg.AggregateType()
	if to < 1 {
		return nil, fmt.Errorf("%w: cannot revert %s %s below its created event", ErrIntegrityCheckFailed, aggType, id)
	}
	def, err := r.registry.ForType(aggType)
	if err != nil {
		return nil, err
	}

	r.snapshots.Forget(aggType, id.String())
	if err := r.store.Revert(ctx, id.String(), to, mode); err != nil {
		if errors.Is(err, ErrUniqueConstraintViolation) {
			return nil, fmt.Errorf("%w: %s %s: %w", ErrIntegrityCheckFailed, aggType, id, err)
		}
		return nil, err
	}
	r.metrics.Reverted(aggType, mode)

	reverted, err := def.RehydrateAggregate(id)
	if err != nil {
		return nil, err
	}
	if err := r.replay(ctx, reverted, WithEndAtVersion(to)); err != nil {
		return nil, err
	}
	r.storeSnapshot(ctx, reverted)

	r.log.Debug(
		"reverted",
		aggAttrs(aggType, id),
		to.SlogAttrWithKey("to"),
		slog.String("mode", mode.String()),
		reverted.Version().SlogAttr(),
	)
	return reverted, nil
}

// LoadAs loads an aggregate and asserts its concrete type.
func LoadAs[T Aggregate](ctx context.Context, l AggregateLoader, id AggregateID) (T, error) {
	var zero T
	agg, err := l.Load(ctx, id)
	if err != nil {
		return zero, err
	}
	t, ok := agg.(T)
	if !ok {
		return zero, fmt.Errorf("%w: %s is %T, not %T", ErrUnknownAggregateType, id, agg, zero)
	}
	return t, nil
}

var _ AggregateLoader = (*Repository)(nil)
