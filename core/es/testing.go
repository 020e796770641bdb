package es

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

// === Helpers ===

// RowCounter is implemented by stores that can report the number of stored
// rows of a stream, canceled ones included.
type RowCounter interface {
	CountEvents(ctx context.Context, streamID string) (int, error)
}

// TestEnvConfig selects the stores and options of a TestingEnv. Nil stores
// default to the in-memory implementations.
type TestEnvConfig struct {
	Store       StreamStore
	Snapshots   SnapshotStore
	RepoOpts    []RepositoryOption
	ProviderOpt []ProviderOption
}

// TestingEnv wires a store, a snapshot store, a repository and a provider for
// tests.
type TestingEnv struct {
	t         *testing.T
	Store     StreamStore
	Snapshots SnapshotStore
	Registry  *Registry
	Repo      *Repository
	Provider  *Provider
}

// StartTestEnv starts an environment on the in-memory stores.
func StartTestEnv(
	t *testing.T,
	defs []AggregateDefinition,
	providerOpts ...ProviderOption,
) *TestingEnv {
	t.Helper()
	return StartTestEnvWith(t, TestEnvConfig{ProviderOpt: providerOpts}, defs...)
}

func StartTestEnvWith(t *testing.T, cfg TestEnvConfig, defs ...AggregateDefinition) *TestingEnv {
	t.Helper()

	if cfg.Store == nil {
		cfg.Store = NewInMemoryStore()
	}
	if cfg.Snapshots == nil {
		cfg.Snapshots = NewInMemorySnapshotStore()
	}

	registry := NewRegistry(defs...)
	repoOpts := append(
		[]RepositoryOption{WithSnapshotter(NewSnapshotter(cfg.Snapshots))},
		cfg.RepoOpts...,
	)
	repo := NewRepository(nil, cfg.Store, registry, repoOpts...)
	return &TestingEnv{
		t:         t,
		Store:     cfg.Store,
		Snapshots: cfg.Snapshots,
		Registry:  registry,
		Repo:      repo,
		Provider:  NewProvider(repo, cfg.ProviderOpt...),
	}
}

func (e *TestingEnv) Assert() *TestingEnvAssert {
	return &TestingEnvAssert{env: e}
}

type TestingEnvAssert struct {
	env *TestingEnv
}

// Version asserts the persisted version of an aggregate.
func (a *TestingEnvAssert) Version(ctx context.Context, id AggregateID, expect Version) {
	a.env.t.Helper()
	agg, err := a.env.Repo.Load(ctx, id)
	require.NoError(a.env.t, err)
	require.Equal(a.env.t, expect, agg.Version())
}

// Rows asserts the number of stored rows of a stream, canceled ones included.
func (a *TestingEnvAssert) Rows(ctx context.Context, id AggregateID, expect int) {
	a.env.t.Helper()
	rc, ok := a.env.Store.(RowCounter)
	require.True(a.env.t, ok, "store %T cannot count rows", a.env.Store)
	n, err := rc.CountEvents(ctx, id.String())
	require.NoError(a.env.t, err)
	require.Equal(a.env.t, expect, n)
}

// Snapshot asserts the version of the stored snapshot, or its absence for 0.
func (a *TestingEnvAssert) Snapshot(ctx context.Context, aggType string, id AggregateID, expect Version) {
	a.env.t.Helper()
	ss, err := a.env.Snapshots.LoadSnapshot(ctx, aggType, id.String())
	if expect == 0 {
		require.ErrorIs(a.env.t, err, ErrSnapshotNotFound)
		return
	}
	require.NoError(a.env.t, err)
	require.Equal(a.env.t, expect, ss.Version)
}
