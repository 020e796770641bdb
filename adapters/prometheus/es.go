package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/codewandler/esengine/core/es"
	"github.com/codewandler/esengine/core/metrics"
)

// esMetrics implements es.ESMetrics using Prometheus.
type esMetrics struct {
	// Store
	storeLoadDuration   *prometheus.HistogramVec
	storeAppendDuration *prometheus.HistogramVec
	eventsAppended      *prometheus.CounterVec

	// Repository and provider
	repoLoadDuration     *prometheus.HistogramVec
	repoSaveDuration     *prometheus.HistogramVec
	concurrencyConflicts *prometheus.CounterVec
	lockWaitDuration     *prometheus.HistogramVec
	reverts              *prometheus.CounterVec

	// Snapshot cache
	cacheHits   *prometheus.CounterVec
	cacheMisses *prometheus.CounterVec

	// Snapshots
	snapshotLoadDuration *prometheus.HistogramVec
	snapshotSaveDuration *prometheus.HistogramVec

	// Publishing
	publishDuration *prometheus.HistogramVec
	publishFailures *prometheus.CounterVec
}

// NewESMetrics creates the collectors and registers them with reg.
func NewESMetrics(reg prometheus.Registerer) es.ESMetrics {
	m := &esMetrics{
		storeLoadDuration:   latency("store", "load_duration_seconds", "Stream store load latency in seconds"),
		storeAppendDuration: latency("store", "append_duration_seconds", "Stream store save/append latency in seconds"),
		eventsAppended:      counter("store", "events_appended_total", "Total number of events written"),

		repoLoadDuration:     latency("repo", "load_duration_seconds", "Repository load latency in seconds"),
		repoSaveDuration:     latency("repo", "save_duration_seconds", "Repository save latency in seconds"),
		concurrencyConflicts: counter("repo", "concurrency_conflicts_total", "Total number of stale-version appends"),
		lockWaitDuration:     latency("provider", "lock_wait_seconds", "Time spent waiting for an aggregate lock"),
		reverts:              counter("repo", "reverts_total", "Total number of stream reverts", "mode"),

		cacheHits:   counter("snapshot_cache", "hits_total", "Total number of snapshot cache hits"),
		cacheMisses: counter("snapshot_cache", "misses_total", "Total number of snapshot cache misses"),

		snapshotLoadDuration: latency("snapshot", "load_duration_seconds", "Snapshot load latency in seconds"),
		snapshotSaveDuration: latency("snapshot", "save_duration_seconds", "Snapshot save latency in seconds"),

		publishDuration: latency("publish", "duration_seconds", "Time to publish the events of one save"),
		publishFailures: counter("publish", "failures_total", "Total number of saves with failed publishes"),
	}

	reg.MustRegister(
		m.storeLoadDuration,
		m.storeAppendDuration,
		m.eventsAppended,
		m.repoLoadDuration,
		m.repoSaveDuration,
		m.concurrencyConflicts,
		m.lockWaitDuration,
		m.reverts,
		m.cacheHits,
		m.cacheMisses,
		m.snapshotLoadDuration,
		m.snapshotSaveDuration,
		m.publishDuration,
		m.publishFailures,
	)

	return m
}

func (m *esMetrics) StoreLoadDuration(aggType string) metrics.Timer {
	return newTimer(m.storeLoadDuration.WithLabelValues(aggType))
}

func (m *esMetrics) StoreAppendDuration(aggType string) metrics.Timer {
	return newTimer(m.storeAppendDuration.WithLabelValues(aggType))
}

func (m *esMetrics) EventsAppended(aggType string, count int) {
	m.eventsAppended.WithLabelValues(aggType).Add(float64(count))
}

func (m *esMetrics) RepoLoadDuration(aggType string) metrics.Timer {
	return newTimer(m.repoLoadDuration.WithLabelValues(aggType))
}

func (m *esMetrics) RepoSaveDuration(aggType string) metrics.Timer {
	return newTimer(m.repoSaveDuration.WithLabelValues(aggType))
}

func (m *esMetrics) ConcurrencyConflict(aggType string) {
	m.concurrencyConflicts.WithLabelValues(aggType).Inc()
}

func (m *esMetrics) LockWaitDuration(aggType string) metrics.Timer {
	return newTimer(m.lockWaitDuration.WithLabelValues(aggType))
}

func (m *esMetrics) Reverted(aggType string, mode es.RevertMode) {
	m.reverts.WithLabelValues(aggType, mode.String()).Inc()
}

func (m *esMetrics) CacheHit(aggType string) {
	m.cacheHits.WithLabelValues(aggType).Inc()
}

func (m *esMetrics) CacheMiss(aggType string) {
	m.cacheMisses.WithLabelValues(aggType).Inc()
}

func (m *esMetrics) SnapshotLoadDuration(aggType string) metrics.Timer {
	return newTimer(m.snapshotLoadDuration.WithLabelValues(aggType))
}

func (m *esMetrics) SnapshotSaveDuration(aggType string) metrics.Timer {
	return newTimer(m.snapshotSaveDuration.WithLabelValues(aggType))
}

func (m *esMetrics) PublishDuration(aggType string) metrics.Timer {
	return newTimer(m.publishDuration.WithLabelValues(aggType))
}

func (m *esMetrics) PublishFailed(aggType string) {
	m.publishFailures.WithLabelValues(aggType).Inc()
}

var _ es.ESMetrics = (*esMetrics)(nil)
