//go:build integration

package estests

import (
	"testing"

	"github.com/codewandler/esengine/adapters/sqlstore"
	"github.com/codewandler/esengine/core/es"
	"github.com/codewandler/esengine/core/es/estests/domain"
)

func init() {
	extraSUTs = append(extraSUTs, storeSUT{
		name: "postgres",
		start: func(t *testing.T, opts ...es.ProviderOption) *es.TestingEnv {
			s := sqlstore.NewTestPostgresStore(t)
			return es.StartTestEnvWith(t, es.TestEnvConfig{
				Store:       s,
				Snapshots:   s.Snapshots(),
				ProviderOpt: opts,
			}, domain.Definitions()...)
		},
	})
}
