package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Hits counts pages served from Redis, including revalidated ones.
	Hits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "latest_games_cache_hits_total",
		Help: "Aggregator pages served from cache",
	})

	// Misses counts lookups that found nothing usable.
	Misses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "latest_games_cache_misses_total",
		Help: "Aggregator page cache misses",
	})

	// StoredBytes tracks bytes written to Redis by Set.
	StoredBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "latest_games_cache_stored_bytes",
		Help: "Bytes written to the aggregator page cache",
	})

	// NotModified counts 304 responses that revalidated a cached page.
	NotModified = promauto.NewCounter(prometheus.CounterOpts{
		Name: "latest_games_cache_not_modified_total",
		Help: "Conditional requests answered with 304 Not Modified",
	})

	// Errors counts Redis or codec failures by operation (get, set, delete).
	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "latest_games_cache_errors_total",
		Help: "Aggregator page cache errors by operation",
	}, []string{"operation"})
)
