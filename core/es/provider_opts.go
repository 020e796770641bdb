package es

import (
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

type (
	providerOpts struct {
		log            *slog.Logger
		locks          LockFactory
		publisher      Publisher
		tracerProvider trace.TracerProvider
		metrics        ESMetrics
		publishLimit   int
	}

	ProviderOption interface{ applyToProvider(*providerOpts) }

	PublishConcurrencyOption valueOption[int]
)

// WithPublishConcurrency bounds the number of concurrent Publish calls per
// save. 1 publishes in playhead order; 0 means unbounded.
func WithPublishConcurrency(n int) PublishConcurrencyOption { return PublishConcurrencyOption{v: n} }

func (o LogOption) applyToProvider(p *providerOpts)                { p.log = o.v }
func (o LockOption) applyToProvider(p *providerOpts)               { p.locks = o.v }
func (o PublisherOption) applyToProvider(p *providerOpts)          { p.publisher = o.v }
func (o TracerOption) applyToProvider(p *providerOpts)             { p.tracerProvider = o.v }
func (o ESMetricsOption) applyToProvider(p *providerOpts)          { p.metrics = o.m }
func (o PublishConcurrencyOption) applyToProvider(p *providerOpts) { p.publishLimit = o.v }

func newProviderOpts(opts ...ProviderOption) providerOpts {
	options := providerOpts{metrics: NopESMetrics()}
	for _, opt := range opts {
		opt.applyToProvider(&options)
	}
	options.log = logOrDefault(options.log)
	if options.locks == nil {
		options.locks = NewLocalLockFactory()
	}
	if options.publisher == nil {
		options.publisher = NopPublisher{}
	}
	if options.tracerProvider == nil {
		options.tracerProvider = otel.GetTracerProvider()
	}
	return options
}

// === transaction ===

type (
	transactionOpts struct {
		create bool
	}

	TransactionOption interface{ applyToTransaction(*transactionOpts) }

	CreateOption valueOption[bool]
)

// WithCreate makes WithTransaction create the aggregate when it does not exist.
func WithCreate() CreateOption { return CreateOption{v: true} }

func (o CreateOption) applyToTransaction(t *transactionOpts) { t.create = o.v }

func newTransactionOpts(opts ...TransactionOption) transactionOpts {
	options := transactionOpts{}
	for _, opt := range opts {
		opt.applyToTransaction(&options)
	}
	return options
}
