package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TileRequests = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tilecache_requests_total",
		Help: "Total number of tile requests accepted by the provider",
	})

	TileOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tilecache_outcomes_total",
		Help: "Total number of finished tile loads by outcome",
	}, []string{"outcome"})

	MemoryHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tilecache_memory_hits_total",
		Help: "Total number of tiles served from the in-memory cache",
	})

	CacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tilecache_disk_hits_total",
		Help: "Total number of tiles served fresh from disk",
	})

	CacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tilecache_disk_misses_total",
		Help: "Total number of tiles absent from disk",
	})

	CacheStores = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tilecache_disk_stores_total",
		Help: "Total number of tiles written to disk",
	})

	CorruptTiles = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tilecache_corrupt_tiles_total",
		Help: "Total number of cached tiles discarded because they failed to decode",
	})

	ArchiveHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tilecache_archive_hits_total",
		Help: "Total number of tiles served from a read-only archive",
	})

	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tilecache_queue_depth",
		Help: "Number of pending and working tile requests",
	})

	QueueEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tilecache_queue_evictions_total",
		Help: "Total number of pending requests dropped because the queue was full",
	})

	LowMemoryAborts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tilecache_low_memory_aborts_total",
		Help: "Total number of times the queue was cleared on a low-memory signal",
	})

	DiskUsage = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tilecache_disk_usage_bytes",
		Help: "Bytes occupied by the tile cache directory",
	})

	TrimmedBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tilecache_trimmed_bytes_total",
		Help: "Total number of bytes deleted by quota trimming",
	})

	UpstreamRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tilecache_upstream_requests_total",
		Help: "Total number of upstream tile requests by result",
	}, []string{"result"})

	UpstreamLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tilecache_upstream_latency_seconds",
		Help:    "Latency of upstream tile fetches in seconds",
		Buckets: prometheus.DefBuckets,
	})

	NotFoundSuppressed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tilecache_not_found_suppressed_total",
		Help: "Total number of upstream requests skipped because the tile recently returned 404",
	})

	// Redis metrics
	RedisOperationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "redis_operation_duration_seconds",
		Help:    "Duration of Redis operations in seconds",
		Buckets: []float64{.0001, .0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
	}, []string{"operation"})

	RedisErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "redis_errors_total",
		Help: "Total number of Redis errors",
	}, []string{"operation"})

	RedisPoolStats = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "redis_pool_stats",
		Help: "Redis connection pool statistics",
	}, []string{"stat"})
)
