// Package observability exposes the service's Prometheus metrics.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Cache lookup results.
const (
	CacheHit   = "hit"
	CacheMiss  = "miss"
	CacheError = "error"
)

var (
	CacheRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "versionstore_cache_requests_total",
		Help: "Materialization cache lookups by result.",
	}, []string{"backend", "result"})

	CacheEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "versionstore_cache_evictions_total",
		Help: "Entries evicted from the in-memory cache.",
	})

	CacheBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "versionstore_cache_bytes",
		Help: "Compressed bytes held by the in-memory cache.",
	})

	ReplayDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "versionstore_replay_duration_seconds",
		Help:    "Time spent reconstructing a version from the change log.",
		Buckets: prometheus.DefBuckets,
	})

	ReplayEntries = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "versionstore_replay_entries",
		Help:    "Change-log entries folded per reconstruction.",
		Buckets: prometheus.ExponentialBuckets(1, 4, 10),
	})

	VersionsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "versionstore_versions_created_total",
		Help: "Versions appended, by change type.",
	}, []string{"change_type"})

	VersionConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "versionstore_version_conflicts_total",
		Help: "Appends rejected because another writer advanced the dataset first.",
	})

	ChangeLogFlushes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "versionstore_changelog_flushes_total",
		Help: "Multi-row change-log insert statements executed.",
	})

	IngestedRecords = promauto.NewCounter(prometheus.CounterOpts{
		Name: "versionstore_ingested_records_total",
		Help: "Records committed through bulk ingestion.",
	})

	IngestedBatches = promauto.NewCounter(prometheus.CounterOpts{
		Name: "versionstore_ingested_batches_total",
		Help: "Change-log entries written by bulk ingestion.",
	})

	IngestFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "versionstore_ingest_failures_total",
		Help: "Bulk ingestion requests rolled back.",
	})

	RequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "versionstore_request_duration_seconds",
		Help:    "Duration of API requests.",
		Buckets: prometheus.DefBuckets,
	}, []string{"transport", "route", "status"})
)
