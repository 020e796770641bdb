package es

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

const tracerName = "github.com/codewandler/esengine/core/es"

// Provider is the process-facing entry point. It serializes all operations on
// one aggregate through a lock, decides between Save and Update, and publishes
// persisted events.
type Provider struct {
	log       *slog.Logger
	repo      *Repository
	locks     LockFactory
	publisher Publisher
	tracer    trace.Tracer
	metrics   ESMetrics

	publishLimit int

	mu    sync.Mutex
	known map[string]string
}

func NewProvider(repo *Repository, opts ...ProviderOption) *Provider {
	options := newProviderOpts(opts...)
	return &Provider{
		log:          options.log.With(slog.String("component", "es_provider")),
		repo:         repo,
		locks:        options.locks,
		publisher:    options.publisher,
		tracer:       options.tracerProvider.Tracer(tracerName),
		metrics:      options.metrics,
		publishLimit: options.publishLimit,
		known:        map[string]string{},
	}
}

func knownKey(id AggregateID) string { return id.IDType() + ":" + id.String() }

func (p *Provider) remember(agg Aggregate) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.known[knownKey(agg.ID())] = agg.AggregateType()
}

// Known reports whether id was loaded or saved through this provider.
func (p *Provider) Known(id AggregateID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.known[knownKey(id)]
	return ok
}

// === unit of work ===

// unitOfWork records the lock keys held by a WithTransaction call chain.
type unitOfWork struct {
	mu   sync.Mutex
	held map[string]struct{}
}

type unitOfWorkKey struct{}

func unitOfWorkFrom(ctx context.Context) (*unitOfWork, bool) {
	u, ok := ctx.Value(unitOfWorkKey{}).(*unitOfWork)
	return u, ok
}

func (u *unitOfWork) holds(key string) bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	_, ok := u.held[key]
	return ok
}

func (u *unitOfWork) put(key string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.held[key] = struct{}{}
}

func (u *unitOfWork) drop(key string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	delete(u.held, key)
}

// lock acquires the lock of id unless the unit of work in ctx already holds it.
// The returned release is a no-op in the latter case.
func (p *Provider) lock(ctx context.Context, aggType string, id AggregateID) (release func(), err error) {
	key := LockKey(id)
	if u, ok := unitOfWorkFrom(ctx); ok && u.holds(key) {
		return func() {}, nil
	}

	timer := p.metrics.LockWaitDuration(aggType)
	l, err := p.locks.Acquire(ctx, key)
	timer.ObserveDuration()
	if err != nil {
		return nil, err
	}

	return func() {
		if err := l.Release(context.WithoutCancel(ctx)); err != nil {
			p.log.Error("lock release failed", aggAttrs(aggType, id), slog.String("key", key), slog.Any("error", err))
		}
	}, nil
}

func (p *Provider) aggregateTypeOf(id AggregateID) string {
	def, err := p.repo.Registry().ForID(id)
	if err != nil {
		return ""
	}
	return def.AggregateType()
}

// === tracing ===

func (p *Provider) startSpan(ctx context.Context, name, aggType string, id AggregateID) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("es.aggregate.type", aggType),
		attribute.String("es.aggregate.id", id.String()),
		attribute.String("es.aggregate.id_type", id.IDType()),
	))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// === operations ===

// Load returns the current state of the aggregate.
func (p *Provider) Load(ctx context.Context, id AggregateID) (_ Aggregate, err error) {
	if id == nil || id.String() == "" {
		return nil, ErrInvalidIdentifier
	}
	aggType := p.aggregateTypeOf(id)
	ctx, span := p.startSpan(ctx, "es.load", aggType, id)
	defer func() { endSpan(span, err) }()

	release, err := p.lock(ctx, aggType, id)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadAggregateFailed, err)
	}
	defer release()

	agg, err := p.repo.Load(ctx, id)
	if err != nil {
		if errors.Is(err, ErrAggregateNotFound) ||
			errors.Is(err, ErrInvalidIdentifier) ||
			errors.Is(err, ErrUnknownAggregateType) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrLoadAggregateFailed, err)
	}
	p.remember(agg)
	span.SetAttributes(attribute.Int64("es.aggregate.version", int64(agg.Version())))
	return agg, nil
}

// Save persists the pending events of agg and publishes them. Aggregates this
// provider has not seen before are written as new streams.
func (p *Provider) Save(ctx context.Context, agg Aggregate) (err error) {
	id := agg.ID()
	aggType := agg.AggregateType()
	ctx, span := p.startSpan(ctx, "es.save", aggType, id)
	defer func() { endSpan(span, err) }()

	release, err := p.lock(ctx, aggType, id)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSaveAggregateFailed, err)
	}
	defer release()

	isNew := !p.Known(id)
	span.SetAttributes(attribute.Bool("es.aggregate.new", isNew))

	var stream AggregateEventStream
	if isNew {
		stream, err = p.repo.Save(ctx, agg)
	} else {
		stream, err = p.repo.Update(ctx, agg)
	}
	if err != nil {
		switch {
		case errors.Is(err, ErrDuplicateAggregate):
			return err
		case errors.Is(err, ErrUniqueConstraintViolation):
			// the playheads are taken: a second save of a new id or a stale update
			return fmt.Errorf("%w: %w", ErrDuplicateAggregate, err)
		}
		return fmt.Errorf("%w: %w", ErrSaveAggregateFailed, err)
	}
	p.remember(agg)
	span.SetAttributes(
		attribute.Int("es.events", stream.Len()),
		attribute.Int64("es.aggregate.version", int64(agg.Version())),
	)

	return p.publish(ctx, stream)
}

// Revert rewinds agg to version to and returns the rebuilt aggregate.
func (p *Provider) Revert(ctx context.Context, agg Aggregate, to Version, mode RevertMode) (_ Aggregate, err error) {
	id := agg.ID()
	aggType := agg.AggregateType()
	ctx, span := p.startSpan(ctx, "es.revert", aggType, id)
	span.SetAttributes(attribute.Int64("es.revert.to", int64(to)), attribute.String("es.revert.mode", mode.String()))
	defer func() { endSpan(span, err) }()

	if !mode.valid() {
		return nil, ErrInvalidRevertMode
	}

	release, err := p.lock(ctx, aggType, id)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRevertAggregateFailed, err)
	}
	defer release()

	reverted, err := p.repo.Revert(ctx, agg, to, mode)
	if err != nil {
		if errors.Is(err, ErrStreamDoesNotExist) ||
			errors.Is(err, ErrAggregateNotFound) ||
			errors.Is(err, ErrIntegrityCheckFailed) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrRevertAggregateFailed, err)
	}
	p.remember(reverted)
	return reverted, nil
}

// WithTransaction loads the aggregate, hands it to fn and saves it, holding
// the aggregate lock for the whole sequence. Provider calls made by fn with
// the context it receives reuse the held lock.
func (p *Provider) WithTransaction(
	ctx context.Context,
	id AggregateID,
	fn func(ctx context.Context, agg Aggregate) error,
	opts ...TransactionOption,
) (err error) {
	options := newTransactionOpts(opts...)
	aggType := p.aggregateTypeOf(id)
	ctx, span := p.startSpan(ctx, "es.transaction", aggType, id)
	defer func() { endSpan(span, err) }()

	u, ok := unitOfWorkFrom(ctx)
	if !ok {
		u = &unitOfWork{held: map[string]struct{}{}}
		ctx = context.WithValue(ctx, unitOfWorkKey{}, u)
	}

	key := LockKey(id)
	if !u.holds(key) {
		release, err := p.lock(ctx, aggType, id)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrLoadAggregateFailed, err)
		}
		u.put(key)
		defer func() {
			u.drop(key)
			release()
		}()
	}

	agg, err := p.Load(ctx, id)
	if err != nil {
		if !options.create || !errors.Is(err, ErrAggregateNotFound) {
			return err
		}
		if agg, err = p.create(id); err != nil {
			return err
		}
	}

	if err := fn(ctx, agg); err != nil {
		return err
	}
	return p.Save(ctx, agg)
}

func (p *Provider) create(id AggregateID) (Aggregate, error) {
	def, err := p.repo.Registry().ForID(id)
	if err != nil {
		return nil, err
	}
	return def.CreateAggregate(id)
}

// === publishing ===

func (p *Provider) publish(ctx context.Context, stream AggregateEventStream) error {
	if stream.IsEmpty() {
		return nil
	}
	defer p.metrics.PublishDuration(stream.AggregateType).ObserveDuration()

	msgs, err := NewMessages(stream, p.repo.Serializer())
	if err != nil {
		p.metrics.PublishFailed(stream.AggregateType)
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}

	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	if p.publishLimit > 0 {
		g.SetLimit(p.publishLimit)
	}
	for _, msg := range msgs {
		g.Go(func() error {
			if err := p.publisher.Publish(ctx, msg); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s@%d: %w", msg.EventType, msg.Playhead, err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	if len(errs) > 0 {
		p.metrics.PublishFailed(stream.AggregateType)
		p.log.Warn(
			"publish failed",
			aggAttrs(stream.AggregateType, stream.AggregateID),
			slog.Int("failed", len(errs)),
			slog.Int("total", len(msgs)),
		)
		return fmt.Errorf("%w: %w", ErrPublishFailed, errors.Join(errs...))
	}
	return nil
}

var _ AggregateLoader = (*Provider)(nil)
