package cryfsmetrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// BlocksLoaded counts successful block loads by layer.
	BlocksLoaded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cryfs_blocks_loaded_total",
			Help: "Total number of blocks loaded, by layer.",
		},
		[]string{"layer"},
	)

	// BlocksStored counts successful block stores by layer.
	BlocksStored = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cryfs_blocks_stored_total",
			Help: "Total number of blocks stored, by layer.",
		},
		[]string{"layer"},
	)

	// BlocksRemoved counts successful block removals by layer.
	BlocksRemoved = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cryfs_blocks_removed_total",
			Help: "Total number of blocks removed, by layer.",
		},
		[]string{"layer"},
	)

	// BytesRead counts plaintext/ciphertext bytes read, by layer.
	BytesRead = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cryfs_bytes_read_total",
			Help: "Total bytes read, by layer.",
		},
		[]string{"layer"},
	)

	// BytesWritten counts plaintext/ciphertext bytes written, by layer.
	BytesWritten = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cryfs_bytes_written_total",
			Help: "Total bytes written, by layer.",
		},
		[]string{"layer"},
	)

	// CacheEntries is the current number of entries held in the block
	// cache (L3).
	CacheEntries = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "cryfs_cache_entries",
			Help: "Current number of entries in the block cache.",
		},
	)

	// CacheDirtyEntries is the current number of cache entries that
	// have been created or modified but not yet flushed to the base
	// store.
	CacheDirtyEntries = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "cryfs_cache_dirty_entries",
			Help: "Current number of dirty (unflushed) cache entries.",
		},
	)

	// CacheHits/CacheMisses count load() outcomes against the cache.
	CacheHits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cryfs_cache_hits_total",
			Help: "Total number of block loads served from the cache.",
		},
	)
	CacheMisses = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cryfs_cache_misses_total",
			Help: "Total number of block loads that missed the cache.",
		},
	)

	// CacheEvictions counts entries dropped from the block cache,
	// whether by LRU capacity eviction or by the background prune task.
	CacheEvictions = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cryfs_cache_evictions_total",
			Help: "Total number of cache entries evicted by LRU capacity or the prune task.",
		},
	)

	// PruneFlushDuration observes how long each prune-triggered flush
	// took.
	PruneFlushDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cryfs_prune_flush_duration_seconds",
			Help:    "Duration of prune-task-triggered flushes.",
			Buckets: prometheus.DefBuckets,
		},
	)

	// IntegrityViolations counts detected rollback/reintroduction/
	// foreign-client/missing-block violations.
	IntegrityViolations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cryfs_integrity_violations_total",
			Help: "Total number of detected integrity violations, by reason.",
		},
		[]string{"reason"},
	)

	// DecryptionFailures counts AEAD tag verification failures.
	DecryptionFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cryfs_decryption_failures_total",
			Help: "Total number of AEAD decryption/authentication failures.",
		},
	)
)

// Registry is the Prometheus registry all metrics above are registered
// into. It is kept separate from prometheus.DefaultRegisterer so
// embedding this core into a larger process (the mount adapter) never
// collides with that process's own metrics.
var Registry = prometheus.NewRegistry()

func init() {
	Registry.MustRegister(
		BlocksLoaded,
		BlocksStored,
		BlocksRemoved,
		BytesRead,
		BytesWritten,
		CacheEntries,
		CacheDirtyEntries,
		CacheHits,
		CacheMisses,
		CacheEvictions,
		PruneFlushDuration,
		IntegrityViolations,
		DecryptionFailures,
	)
}

// Handler returns the HTTP handler the mount adapter can mount under
// /metrics. The core never listens on a socket itself.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}
