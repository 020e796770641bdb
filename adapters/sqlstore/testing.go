package sqlstore

import (
	"context"
	"strings"

	"github.com/stretchr/testify/require"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
)

type Testing interface {
	require.TestingT
	Context() context.Context
	Name() string
	Cleanup(func())
	Skipf(format string, args ...any)
}

// NewTestSQLiteStore opens and migrates a private in-memory SQLite database
// that lives as long as the test.
func NewTestSQLiteStore(t Testing) *Store {
	name := strings.NewReplacer("/", "_", " ", "_", "#", "_").Replace(t.Name())
	dsn := "sqlite:file:" + name + "?mode=memory&cache=shared&_pragma=busy_timeout(5000)"

	s, err := Open(t.Context(), dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	require.NoError(t, s.Migrate(t.Context()))
	return s
}

// NewTestPostgresStore starts a postgres container for the test and returns a
// migrated store on it, opened with opts. The test is skipped when no
// container runtime is available.
func NewTestPostgresStore(t Testing, opts ...Option) *Store {
	ctx := context.Background()

	pg, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("es"),
		tcpostgres.WithUsername("es"),
		tcpostgres.WithPassword("es"),
		tcpostgres.WithSQLDriver("pgx"),
		tcpostgres.BasicWaitStrategies(),
	)
	if err != nil {
		t.Skipf("skip: cannot start postgres: %v", err)
		return nil
	}
	t.Cleanup(func() { _ = pg.Terminate(ctx) })

	dsn, err := pg.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	s, err := Open(ctx, dsn, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	require.NoError(t, s.Migrate(ctx))
	return s
}
