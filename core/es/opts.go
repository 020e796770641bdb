package es

import (
	"log/slog"

	"go.opentelemetry.io/otel/trace"

	"github.com/codewandler/esengine/core/cache"
)

type (
	valueOption[T any] struct{ v T }
	MultiOption[T any] struct{ opts []T }

	LogOption        valueOption[*slog.Logger]
	SerializerOption valueOption[Serializer]
	SnapshotsOption  valueOption[*Snapshotter]
	TriggerOption    valueOption[SnapshotTrigger]
	CacheOption      valueOption[cache.Cache]
	TracerOption     valueOption[trace.TracerProvider]
	PublisherOption  valueOption[Publisher]
	LockOption       valueOption[LockFactory]
)

func WithLog(l *slog.Logger) LogOption                    { return LogOption{v: l} }
func WithSerializer(s Serializer) SerializerOption        { return SerializerOption{v: s} }
func WithSnapshotter(s *Snapshotter) SnapshotsOption      { return SnapshotsOption{v: s} }
func WithSnapshotTrigger(t SnapshotTrigger) TriggerOption { return TriggerOption{v: t} }

// WithSnapshotCache puts a read cache in front of the snapshot store.
func WithSnapshotCache(c cache.Cache) CacheOption { return CacheOption{v: c} }

// WithSnapshotCacheLRU is WithSnapshotCache with an LRU of the given size.
func WithSnapshotCacheLRU(size int) CacheOption {
	return WithSnapshotCache(cache.NewLRU(cache.LRUOpts{Size: size}))
}

func WithTracerProvider(tp trace.TracerProvider) TracerOption { return TracerOption{v: tp} }
func WithPublisher(p Publisher) PublisherOption               { return PublisherOption{v: p} }
func WithLockFactory(f LockFactory) LockOption                { return LockOption{v: f} }

func logOrDefault(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.Default()
	}
	return l
}
