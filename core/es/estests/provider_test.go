package estests

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/codewandler/esengine/core/es"
	"github.com/codewandler/esengine/core/es/estests/domain"
)

func inc(_ context.Context, agg es.Aggregate) error { return agg.(*domain.TestAgg).Inc() }

func TestProvider_SaveLoad(t *testing.T) {
	forEachStore(t, func(t *testing.T, start func(*testing.T, ...es.ProviderOption) *es.TestingEnv) {
		var (
			ctx = t.Context()
			te  = start(t)
			id  = domain.NewTestAggID("p1")
		)

		_, err := te.Provider.Load(ctx, id)
		require.ErrorIs(t, err, es.ErrAggregateNotFound)
		_, err = te.Provider.Load(ctx, domain.TestAggID{})
		require.ErrorIs(t, err, es.ErrInvalidIdentifier)

		a, err := domain.NewTestAgg("p1")
		require.NoError(t, err)
		require.False(t, te.Provider.Known(id))
		require.NoError(t, te.Provider.Save(ctx, a))
		require.True(t, te.Provider.Known(id))

		// known aggregates are appended to
		require.NoError(t, a.IncBy(4))
		require.NoError(t, te.Provider.Save(ctx, a))

		loaded, err := es.LoadAs[*domain.TestAgg](ctx, te.Provider, id)
		require.NoError(t, err)
		require.Equal(t, es.Version(2), loaded.Version())
		require.Equal(t, 4, loaded.Count())

		// a provider that never saw p2 writes it as a new stream, which the store rejects
		b, err := domain.NewTestAgg("p2")
		require.NoError(t, err)
		require.NoError(t, te.Provider.Save(ctx, b))
		dup, err := domain.NewTestAgg("p2")
		require.NoError(t, err)
		fresh := es.NewProvider(te.Repo)
		require.ErrorIs(t, fresh.Save(ctx, dup), es.ErrDuplicateAggregate)
	})
}

func TestProvider_SaveTwice(t *testing.T) {
	forEachStore(t, func(t *testing.T, start func(*testing.T, ...es.ProviderOption) *es.TestingEnv) {
		var (
			ctx = t.Context()
			te  = start(t)
			id  = domain.NewTestAggID("twice")
		)

		a, err := domain.NewTestAgg("twice")
		require.NoError(t, err)
		require.NoError(t, a.Inc())
		require.NoError(t, te.Provider.Save(ctx, a))

		b, err := domain.NewTestAgg("twice")
		require.NoError(t, err)
		err = te.Provider.Save(ctx, b)
		require.ErrorIs(t, err, es.ErrDuplicateAggregate)
		require.NotErrorIs(t, err, es.ErrSaveAggregateFailed)

		loaded, err := es.LoadAs[*domain.TestAgg](ctx, te.Provider, id)
		require.NoError(t, err)
		require.Equal(t, es.Version(2), loaded.Version())
		require.Equal(t, 1, loaded.Count())
	})
}

// brokenStore fails every call with err once broken is set.
type brokenStore struct {
	es.StreamStore
	err    error
	broken bool
}

func (s *brokenStore) Load(ctx context.Context, id string, opts ...es.StoreLoadOption) (*es.StoredStream, error) {
	if s.broken {
		return nil, s.err
	}
	return s.StreamStore.Load(ctx, id, opts...)
}

func (s *brokenStore) Append(ctx context.Context, stream es.StoredStream) error {
	if s.broken {
		return s.err
	}
	return s.StreamStore.Append(ctx, stream)
}

func (s *brokenStore) Revert(ctx context.Context, id string, to es.Version, mode es.RevertMode) error {
	if s.broken {
		return s.err
	}
	return s.StreamStore.Revert(ctx, id, to, mode)
}

func TestProvider_StoreFailures(t *testing.T) {
	var (
		ctx   = t.Context()
		locks = es.NewLocalLockFactory()
		store = &brokenStore{StreamStore: es.NewInMemoryStore(), err: errors.New("disk on fire")}
		te    = es.StartTestEnvWith(t, es.TestEnvConfig{
			Store:       store,
			ProviderOpt: []es.ProviderOption{es.WithLockFactory(locks)},
		}, domain.Definitions()...)
		id = domain.NewTestAggID("broken")
	)

	a, err := domain.NewTestAgg("broken")
	require.NoError(t, err)
	require.NoError(t, te.Provider.Save(ctx, a))
	te.Repo.Snapshots().Forget(domain.TestAggDef.AggregateType(), id.String())
	require.NoError(t, te.Snapshots.DeleteSnapshot(ctx, domain.TestAggDef.AggregateType(), id.String()))
	store.broken = true

	_, err = te.Provider.Load(ctx, id)
	require.ErrorIs(t, err, es.ErrLoadAggregateFailed)
	require.ErrorIs(t, err, store.err)
	require.Equal(t, 0, locks.Held())

	require.NoError(t, a.Inc())
	err = te.Provider.Save(ctx, a)
	require.ErrorIs(t, err, es.ErrSaveAggregateFailed)
	require.ErrorIs(t, err, store.err)
	require.Equal(t, 0, locks.Held())

	_, err = te.Provider.Revert(ctx, a, 1, es.RevertHard)
	require.ErrorIs(t, err, es.ErrRevertAggregateFailed)
	require.ErrorIs(t, err, store.err)
	require.Equal(t, 0, locks.Held())

	store.broken = false
	te.Assert().Version(ctx, id, 1)
}

func TestProvider_Concurrency(t *testing.T) {
	forEachStore(t, func(t *testing.T, start func(*testing.T, ...es.ProviderOption) *es.TestingEnv) {
		var (
			ctx = t.Context()
			te  = start(t)
			N   = 10
		)

		t.Run("same id", func(t *testing.T) {
			id := domain.NewTestAggID("shared")
			a, err := domain.NewTestAgg("shared")
			require.NoError(t, err)
			require.NoError(t, te.Provider.Save(ctx, a))

			var wg sync.WaitGroup
			for i := 0; i < N; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					assert.NoError(t, te.Provider.WithTransaction(ctx, id, inc))
				}()
			}
			wg.Wait()

			loaded, err := es.LoadAs[*domain.TestAgg](ctx, te.Provider, id)
			require.NoError(t, err)
			require.Equal(t, N, loaded.Count())
			require.Equal(t, es.Version(N+1), loaded.Version())
		})

		t.Run("distinct ids", func(t *testing.T) {
			var wg sync.WaitGroup
			for i := 0; i < N; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					id := domain.NewTestAggID(fmt.Sprintf("agg-%d", i))
					assert.NoError(t, te.Provider.WithTransaction(ctx, id, inc, es.WithCreate()))
				}()
			}
			wg.Wait()

			for i := 0; i < N; i++ {
				te.Assert().Version(ctx, domain.NewTestAggID(fmt.Sprintf("agg-%d", i)), 2)
			}
		})
	})
}

func TestProvider_WithTransaction(t *testing.T) {
	var (
		ctx   = t.Context()
		te    = es.StartTestEnv(t, domain.Definitions())
		id    = domain.NewTestAggID("tx")
		other = domain.NewNoteID("tx-note")
	)

	err := te.Provider.WithTransaction(ctx, id, inc)
	require.ErrorIs(t, err, es.ErrAggregateNotFound)

	require.NoError(t, te.Provider.WithTransaction(ctx, id, func(ctx context.Context, agg es.Aggregate) error {
		require.Equal(t, es.Version(1), agg.Version())

		// nested calls reuse the held lock
		_, err := te.Provider.Load(ctx, id)
		require.ErrorIs(t, err, es.ErrAggregateNotFound)

		err = te.Provider.WithTransaction(ctx, other, func(ctx context.Context, agg es.Aggregate) error {
			return agg.(*domain.Note).SetTitle("nested")
		}, es.WithCreate())
		require.NoError(t, err)

		return agg.(*domain.TestAgg).IncBy(3)
	}, es.WithCreate()))

	te.Assert().Version(ctx, id, 2)
	te.Assert().Version(ctx, other, 2)

	// an error from fn discards the changes
	boom := errors.New("boom")
	err = te.Provider.WithTransaction(ctx, id, func(ctx context.Context, agg es.Aggregate) error {
		require.NoError(t, agg.(*domain.TestAgg).Inc())
		return boom
	})
	require.ErrorIs(t, err, boom)
	te.Assert().Version(ctx, id, 2)
}

func TestProvider_Publish(t *testing.T) {
	var (
		mu   sync.Mutex
		msgs []es.Message
		pub  = es.PublisherFunc(func(_ context.Context, msg es.Message) error {
			mu.Lock()
			defer mu.Unlock()
			msgs = append(msgs, msg)
			return nil
		})
		ctx = t.Context()
		te  = es.StartTestEnv(t, domain.Definitions(), es.WithPublisher(pub), es.WithPublishConcurrency(1))
	)

	a, err := domain.NewTestAgg("pub")
	require.NoError(t, err)
	require.NoError(t, a.IncBy(2))
	require.NoError(t, a.SetValue("hello"))
	require.NoError(t, te.Provider.Save(ctx, a))

	require.Len(t, msgs, 3)
	require.Equal(t, es.EventTypeAggregateCreated, msgs[0].EventType)
	for i, msg := range msgs {
		require.Equal(t, es.Version(i+1), msg.Playhead)
		require.Equal(t, "pub", msg.AggregateID)
		require.Equal(t, "test_agg", msg.AggregateType)
		require.Equal(t, msg.Playhead.String(), msg.Headers()["es-playhead"])
	}
	require.Equal(t, "test_agg."+msgs[2].EventType, msgs[2].Subject())
	require.JSONEq(t, `{"value":"hello"}`, string(msgs[2].Payload))
	require.IsType(t, &domain.ValueChanged{}, msgs[2].Event)
}

func TestProvider_PublishFailed(t *testing.T) {
	var (
		ctx = t.Context()
		pub = es.PublisherFunc(func(_ context.Context, msg es.Message) error {
			if msg.Playhead == 2 {
				return errors.New("broker down")
			}
			return nil
		})
		te = es.StartTestEnv(t, domain.Definitions(), es.WithPublisher(pub))
		id = domain.NewTestAggID("pf")
	)

	a, err := domain.NewTestAgg("pf")
	require.NoError(t, err)
	require.NoError(t, a.Inc())

	err = te.Provider.Save(ctx, a)
	require.ErrorIs(t, err, es.ErrPublishFailed)
	require.ErrorContains(t, err, "broker down")

	// the events are stored regardless
	te.Assert().Version(ctx, id, 2)
}

func TestProvider_Tracing(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sdktrace.NewSimpleSpanProcessor(exporter)))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	var (
		ctx = t.Context()
		te  = es.StartTestEnv(t, domain.Definitions(), es.WithTracerProvider(tp))
		id  = domain.NewTestAggID("traced")
	)

	require.NoError(t, te.Provider.WithTransaction(ctx, id, inc, es.WithCreate()))
	_, err := te.Provider.Load(ctx, domain.NewTestAggID("missing"))
	require.Error(t, err)

	spans := exporter.GetSpans()
	names := make([]string, 0, len(spans))
	for _, s := range spans {
		names = append(names, s.Name)
	}
	require.ElementsMatch(t, []string{"es.load", "es.save", "es.transaction", "es.load"}, names)

	for _, s := range spans {
		attrs := map[attribute.Key]attribute.Value{}
		for _, kv := range s.Attributes {
			attrs[kv.Key] = kv.Value
		}
		require.Equal(t, "test_agg", attrs["es.aggregate.type"].AsString(), s.Name)
		require.Equal(t, "test_agg_id", attrs["es.aggregate.id_type"].AsString(), s.Name)
	}

	tx := spans.Snapshots()
	var txSpan sdktrace.ReadOnlySpan
	for _, s := range tx {
		if s.Name() == "es.transaction" {
			txSpan = s
		}
	}
	require.NotNil(t, txSpan)
	for _, s := range tx {
		if s.Name() == "es.save" {
			require.Equal(t, txSpan.SpanContext().SpanID(), s.Parent().SpanID())
		}
	}
}
