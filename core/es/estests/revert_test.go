package estests

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/codewandler/esengine/core/es"
	"github.com/codewandler/esengine/core/es/estests/domain"
)

// sixValues saves an aggregate with six value changes, "k event" raised at
// version k, which leaves it at version 7.
func sixValues(t *testing.T, te *es.TestingEnv, id string) *domain.TestAgg {
	t.Helper()
	a, err := domain.NewTestAgg(id)
	require.NoError(t, err)
	for v := 2; v <= 7; v++ {
		require.NoError(t, a.SetValue(fmt.Sprintf("%d event", v)))
	}
	require.NoError(t, te.Provider.Save(t.Context(), a))
	require.Equal(t, es.Version(7), a.Version())
	return a
}

func TestRevert_Hard(t *testing.T) {
	forEachStore(t, func(t *testing.T, start func(*testing.T, ...es.ProviderOption) *es.TestingEnv) {
		var (
			ctx = t.Context()
			te  = start(t)
			id  = domain.NewTestAggID("r1")
		)
		a := sixValues(t, te, "r1")

		reverted, err := te.Provider.Revert(ctx, a, 5, es.RevertHard)
		require.NoError(t, err)
		require.Equal(t, es.Version(5), reverted.Version())
		require.Equal(t, "5 event", reverted.(*domain.TestAgg).Value)

		te.Assert().Rows(ctx, id, 5)
		te.Assert().Version(ctx, id, 5)
		te.Assert().Snapshot(ctx, domain.TestAggDef.AggregateType(), id, 5)

		// history continues from the reverted version
		next := reverted.(*domain.TestAgg)
		require.NoError(t, next.SetValue("6 event again"))
		require.NoError(t, te.Provider.Save(ctx, next))
		te.Assert().Version(ctx, id, 6)
	})
}

func TestRevert_Soft(t *testing.T) {
	forEachStore(t, func(t *testing.T, start func(*testing.T, ...es.ProviderOption) *es.TestingEnv) {
		var (
			ctx = t.Context()
			te  = start(t)
			id  = domain.NewTestAggID("r2")
		)
		a := sixValues(t, te, "r2")

		reverted, err := te.Provider.Revert(ctx, a, 3, es.RevertSoft)
		require.NoError(t, err)
		require.Equal(t, es.Version(3), reverted.Version())
		require.Equal(t, "3 event", reverted.(*domain.TestAgg).Value)
		te.Assert().Rows(ctx, id, 7)

		// canceled rows come back
		restored, err := te.Provider.Revert(ctx, reverted, 7, es.RevertSoft)
		require.NoError(t, err)
		require.Equal(t, es.Version(7), restored.Version())
		require.Equal(t, "7 event", restored.(*domain.TestAgg).Value)
	})
}

func TestRevert_SoftConflict(t *testing.T) {
	forEachStore(t, func(t *testing.T, start func(*testing.T, ...es.ProviderOption) *es.TestingEnv) {
		var (
			ctx = t.Context()
			te  = start(t)
			id  = domain.NewTestAggID("r3")
		)
		a := sixValues(t, te, "r3")

		reverted, err := te.Provider.Revert(ctx, a, 5, es.RevertSoft)
		require.NoError(t, err)

		// the canceled row at 6 still owns its playhead
		next := reverted.(*domain.TestAgg)
		require.NoError(t, next.SetValue("new 6"))
		err = te.Provider.Save(ctx, next)
		require.ErrorIs(t, err, es.ErrIntegrityCheckFailed)
		require.ErrorIs(t, err, es.ErrDuplicateAggregate)
		te.Assert().Rows(ctx, id, 7)
		te.Assert().Version(ctx, id, 5)

		stale, err := es.LoadAs[*domain.TestAgg](ctx, te.Repo, id)
		require.NoError(t, err)
		require.NoError(t, stale.SetValue("new 6"))
		_, err = te.Repo.Update(ctx, stale)
		require.ErrorIs(t, err, es.ErrIntegrityCheckFailed)
		require.NotErrorIs(t, err, es.ErrDuplicateAggregate)

		// a hard revert drops the canceled tail, after which 6 is free again
		reverted, err = te.Provider.Revert(ctx, reverted, 5, es.RevertHard)
		require.NoError(t, err)
		te.Assert().Rows(ctx, id, 5)

		next = reverted.(*domain.TestAgg)
		require.NoError(t, next.SetValue("new 6"))
		require.NoError(t, te.Provider.Save(ctx, next))
		te.Assert().Rows(ctx, id, 6)

		loaded, err := es.LoadAs[*domain.TestAgg](ctx, te.Provider, id)
		require.NoError(t, err)
		require.Equal(t, es.Version(6), loaded.Version())
		require.Equal(t, "new 6", loaded.Value)
	})
}

// failingDeletes keeps every snapshot it ever saved.
type failingDeletes struct {
	es.SnapshotStore
}

func (failingDeletes) DeleteSnapshot(context.Context, string, string) error {
	return errors.New("snapshot store read-only")
}

func TestRevert_StaleSnapshot(t *testing.T) {
	forEachStore(t, func(t *testing.T, start func(*testing.T, ...es.ProviderOption) *es.TestingEnv) {
		var (
			ctx     = t.Context()
			base    = start(t)
			id      = domain.NewTestAggID("r5")
			aggType = domain.TestAggDef.AggregateType()
			te      = es.StartTestEnvWith(t, es.TestEnvConfig{
				Store:     base.Store,
				Snapshots: failingDeletes{base.Snapshots},
			}, domain.Definitions()...)
		)
		a := sixValues(t, base, "r5")
		te.Assert().Snapshot(ctx, aggType, id, 7)

		// the snapshot cannot be replaced and outlives the history it describes
		_, err := te.Provider.Revert(ctx, a, 5, es.RevertHard)
		require.NoError(t, err)
		te.Assert().Rows(ctx, id, 5)
		te.Assert().Snapshot(ctx, aggType, id, 7)

		loaded, err := es.LoadAs[*domain.TestAgg](ctx, te.Provider, id)
		require.NoError(t, err)
		require.Equal(t, es.Version(5), loaded.Version())
		require.Equal(t, "5 event", loaded.Value)

		// new history reaches the snapshot version again
		require.NoError(t, loaded.SetValue("6 event again"))
		require.NoError(t, loaded.SetValue("7 event again"))
		require.NoError(t, te.Provider.Save(ctx, loaded))
		te.Assert().Rows(ctx, id, 7)

		reloaded, err := es.LoadAs[*domain.TestAgg](ctx, te.Repo, id)
		require.NoError(t, err)
		require.Equal(t, es.Version(7), reloaded.Version())
		require.Equal(t, "7 event again", reloaded.Value)
		require.Equal(t, 6, reloaded.NumTotalEvents)
	})
}

func TestRevert_Errors(t *testing.T) {
	ctx := t.Context()
	te := es.StartTestEnv(t, domain.Definitions())
	a := sixValues(t, te, "r4")

	_, err := te.Provider.Revert(ctx, a, 0, es.RevertHard)
	require.ErrorIs(t, err, es.ErrIntegrityCheckFailed)

	_, err = te.Provider.Revert(ctx, a, 3, es.RevertMode(42))
	require.ErrorIs(t, err, es.ErrInvalidRevertMode)

	ghost, err := domain.NewTestAgg("ghost")
	require.NoError(t, err)
	_, err = te.Provider.Revert(ctx, ghost, 1, es.RevertHard)
	require.ErrorIs(t, err, es.ErrStreamDoesNotExist)

	te.Assert().Version(ctx, domain.NewTestAggID("r4"), 7)
}
