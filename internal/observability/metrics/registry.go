// Package metrics provides centralized Prometheus metrics for the application.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Write path metrics track the serializer queue and applied writes
var (
	// WriteQueueDepth is the number of write tasks waiting for the worker
	WriteQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "uplink_write_queue_depth",
			Help: "Number of write tasks waiting in the serializer queue",
		},
	)

	// WritesTotal counts applied writes by outcome (success, failure, aborted)
	WritesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "uplink_writes_total",
			Help: "Total number of write tasks processed by the serializer",
		},
		[]string{"status"},
	)

	// WriteDuration measures how long the store takes to apply one write
	WriteDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "uplink_write_duration_seconds",
			Help:    "Time to apply a single write task to the store",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
	)

	// WriteWaitDuration measures the time a task spent queued before it ran
	WriteWaitDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "uplink_write_wait_seconds",
			Help:    "Time a write task spent queued before the worker picked it up",
			Buckets: prometheus.DefBuckets,
		},
	)
)

// Search metrics track similarity search cost
var (
	// SearchDuration measures search latency by operation
	SearchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "uplink_search_duration_seconds",
			Help:    "Similarity search duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	// SearchRecordsScanned is the number of records examined by the last scan
	SearchRecordsScanned = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "uplink_search_records_scanned",
			Help: "Number of records examined by the most recent similarity scan",
		},
	)

	// SearchRecordsSkipped counts records skipped during scans by reason
	SearchRecordsSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "uplink_search_records_skipped_total",
			Help: "Records skipped during similarity scans",
		},
		[]string{"reason"},
	)
)

// Cache metrics track search result cache effectiveness
var (
	// CacheLookupsTotal counts lookups by result (hit, miss, expired, corrupt)
	CacheLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "uplink_cache_lookups_total",
			Help: "Search cache lookups by result",
		},
		[]string{"result"},
	)

	// CacheEvictionsTotal counts entries removed by bulk eviction
	CacheEvictionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "uplink_cache_evictions_total",
			Help: "Search cache entries removed by eviction",
		},
		[]string{"reason"},
	)
)

// Collaborator and inventory metrics
var (
	// EmbeddingRequestsTotal counts embedder calls by provider and status
	EmbeddingRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "uplink_embedding_requests_total",
			Help: "Embedding requests by provider and status",
		},
		[]string{"provider", "status"},
	)

	// EmbeddingDuration measures embedder latency
	EmbeddingDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "uplink_embedding_duration_seconds",
			Help:    "Embedding request duration in seconds",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"provider"},
	)

	// ClassificationsTotal counts bias classifications by provider and status
	ClassificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "uplink_classifications_total",
			Help: "Bias classification requests by provider and status",
		},
		[]string{"provider", "status"},
	)

	// CircuitState is 0 closed, 1 half-open, 2 open, per provider circuit
	CircuitState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "uplink_circuit_state",
			Help: "Circuit breaker state (0 closed, 1 half-open, 2 open)",
		},
		[]string{"circuit"},
	)

	// IngestTotal counts ingestion attempts by outcome
	IngestTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "uplink_ingest_total",
			Help: "Ingestion attempts by outcome",
		},
		[]string{"outcome"},
	)

	// RecordsTotal is the number of stored records, refreshed by cmd/server
	RecordsTotal = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "uplink_records_total",
			Help: "Total number of stored records",
		},
	)
)
