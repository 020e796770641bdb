package prometheus

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codewandler/esengine/core/es"
)

func TestNewESMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewESMetrics(reg)
	require.NotNil(t, m)

	m.StoreLoadDuration("user").ObserveDuration()
	m.StoreAppendDuration("user").ObserveDuration()
	m.EventsAppended("user", 5)
	m.RepoLoadDuration("user").ObserveDuration()
	m.RepoSaveDuration("user").ObserveDuration()
	m.ConcurrencyConflict("user")
	m.LockWaitDuration("user").ObserveDuration()
	m.Reverted("user", es.RevertHard)
	m.CacheHit("user")
	m.CacheMiss("user")
	m.SnapshotLoadDuration("user").ObserveDuration()
	m.SnapshotSaveDuration("user").ObserveDuration()
	m.PublishDuration("user").ObserveDuration()
	m.PublishFailed("user")

	mfs, err := reg.Gather()
	require.NoError(t, err)

	names := make(map[string]bool)
	for _, mf := range mfs {
		names[mf.GetName()] = true
	}
	assert.True(t, names["esengine_store_load_duration_seconds"])
	assert.True(t, names["esengine_repo_reverts_total"])
	assert.True(t, names["esengine_provider_lock_wait_seconds"])
	assert.True(t, names["esengine_snapshot_cache_hits_total"])
	assert.True(t, names["esengine_publish_failures_total"])

	em := m.(*esMetrics)
	assert.Equal(t, 5.0, testutil.ToFloat64(em.eventsAppended.WithLabelValues("user")))
	assert.Equal(t, 1.0, testutil.ToFloat64(em.reverts.WithLabelValues("user", "hard")))
}

func TestNewESMetrics_DoubleRegister(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewESMetrics(reg)
	require.Panics(t, func() { NewESMetrics(reg) })
}

type tallyKind struct{}

func (tallyKind) IDType() string { return "tally_id" }

type (
	tally struct {
		es.BaseAggregate
		N int
	}
	incremented struct{}
)

var tallyDef = es.Define[*tally, tallyKind](
	"tally",
	func() *tally { return &tally{} },
	es.On(func(c *tally, _ *incremented) { c.N++ }),
)

func TestESMetrics_Provider(t *testing.T) {
	var (
		ctx = t.Context()
		reg = prometheus.NewRegistry()
		m   = NewESMetrics(reg)
		pub = es.PublisherFunc(func(context.Context, es.Message) error { return errors.New("down") })
	)
	te := es.StartTestEnvWith(t, es.TestEnvConfig{
		RepoOpts:    []es.RepositoryOption{es.WithMetrics(m)},
		ProviderOpt: []es.ProviderOption{es.WithMetrics(m), es.WithPublisher(pub)},
	}, tallyDef)

	c, err := tallyDef.Create(es.MustID[tallyKind]("c1"))
	require.NoError(t, err)
	require.NoError(t, c.Raise(&incremented{}))
	require.ErrorIs(t, te.Provider.Save(ctx, c), es.ErrPublishFailed)

	em := m.(*esMetrics)
	assert.Equal(t, 2.0, testutil.ToFloat64(em.eventsAppended.WithLabelValues("tally")))
	assert.Equal(t, 1.0, testutil.ToFloat64(em.publishFailures.WithLabelValues("tally")))

	srv := httptest.NewServer(Handler(reg))
	t.Cleanup(srv.Close)
	res, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer func() { _ = res.Body.Close() }()
	body, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `esengine_store_events_appended_total{aggregate_type="tally"} 2`)
}
