package es

import (
	"log/slog"

	"github.com/codewandler/esengine/core/cache"
)

type (
	snapshotterOpts struct {
		log     *slog.Logger
		trigger SnapshotTrigger
		cache   cache.Cache
		metrics ESMetrics
	}

	SnapshotterOption interface{ applyToSnapshotter(*snapshotterOpts) }
)

func (o LogOption) applyToSnapshotter(s *snapshotterOpts)       { s.log = o.v }
func (o TriggerOption) applyToSnapshotter(s *snapshotterOpts)   { s.trigger = o.v }
func (o CacheOption) applyToSnapshotter(s *snapshotterOpts)     { s.cache = o.v }
func (o ESMetricsOption) applyToSnapshotter(s *snapshotterOpts) { s.metrics = o.m }

func newSnapshotterOpts(opts ...SnapshotterOption) snapshotterOpts {
	options := snapshotterOpts{
		trigger: NewStepTrigger(DefaultSnapshotStep),
		cache:   cache.NewNop(),
		metrics: NopESMetrics(),
	}
	for _, opt := range opts {
		opt.applyToSnapshotter(&options)
	}
	options.log = logOrDefault(options.log)
	return options
}
