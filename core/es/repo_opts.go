package es

type (
	repoOpts struct {
		serializer  Serializer
		snapshotter *Snapshotter
		metrics     ESMetrics
	}

	RepositoryOption interface{ applyToRepository(*repoOpts) }
)

func (o SerializerOption) applyToRepository(r *repoOpts) { r.serializer = o.v }
func (o SnapshotsOption) applyToRepository(r *repoOpts)  { r.snapshotter = o.v }
func (o ESMetricsOption) applyToRepository(r *repoOpts)  { r.metrics = o.m }

func newRepoOpts(registry *Registry, opts ...RepositoryOption) repoOpts {
	options := repoOpts{metrics: NopESMetrics()}
	for _, opt := range opts {
		opt.applyToRepository(&options)
	}
	if options.serializer == nil {
		options.serializer = NewJSONSerializer(registry.Events())
	}
	if options.snapshotter == nil {
		options.snapshotter = NewSnapshotter(
			NewInMemorySnapshotStore(),
			WithMetrics(options.metrics),
		)
	}
	return options
}
