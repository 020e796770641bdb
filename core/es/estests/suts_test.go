package estests

import (
	"testing"

	"github.com/codewandler/esengine/adapters/sqlstore"
	"github.com/codewandler/esengine/core/es"
	"github.com/codewandler/esengine/core/es/estests/domain"
)

type storeSUT struct {
	name  string
	start func(t *testing.T, opts ...es.ProviderOption) *es.TestingEnv
}

// extraSUTs is filled by container-backed test files.
var extraSUTs []storeSUT

func storeSUTs() []storeSUT {
	return append([]storeSUT{
		{
			name: "memory",
			start: func(t *testing.T, opts ...es.ProviderOption) *es.TestingEnv {
				return es.StartTestEnv(t, domain.Definitions(), opts...)
			},
		},
		{
			name: "sqlite",
			start: func(t *testing.T, opts ...es.ProviderOption) *es.TestingEnv {
				s := sqlstore.NewTestSQLiteStore(t)
				return es.StartTestEnvWith(t, es.TestEnvConfig{
					Store:       s,
					Snapshots:   s.Snapshots(),
					ProviderOpt: opts,
				}, domain.Definitions()...)
			},
		},
	}, extraSUTs...)
}

// forEachStore runs fn once per store implementation.
func forEachStore(t *testing.T, fn func(t *testing.T, start func(t *testing.T, opts ...es.ProviderOption) *es.TestingEnv)) {
	for _, sut := range storeSUTs() {
		t.Run(sut.name, func(t *testing.T) { fn(t, sut.start) })
	}
}
