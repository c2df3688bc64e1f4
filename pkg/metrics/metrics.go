// Package metrics exposes the Prometheus registry used by latest-games.
// Metrics are defined in the packages that record them (feed, client, cache,
// ratelimit, server) and registered through promauto; this package serves
// them and documents the names.
package metrics

import (
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prefix starts every metric name.
const Prefix = "latest_games_"

// Registry is where promauto registers all metrics.
var Registry = prometheus.DefaultRegisterer

// Gatherer collects what Registry holds.
var Gatherer = prometheus.DefaultGatherer

// Handler serves the registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Gatherer, promhttp.HandlerOpts{})
}

// Names lists the metric families defined by this module.
var Names = []string{
	// pkg/feed
	"latest_games_feed_fetches_total",
	"latest_games_feed_items_appended_total",
	"latest_games_feed_duplicates_dropped_total",
	"latest_games_feed_fetch_duration_seconds",

	// pkg/client
	"latest_games_upstream_requests_total",
	"latest_games_upstream_request_duration_seconds",
	"latest_games_upstream_errors_total",
	"latest_games_upstream_retries_total",
	"latest_games_upstream_retry_backoff_seconds",
	"latest_games_upstream_retry_exhausted_total",
	"latest_games_upstream_breaker_state",
	"latest_games_upstream_dropped_items_total",

	// pkg/cache
	"latest_games_cache_hits_total",
	"latest_games_cache_misses_total",
	"latest_games_cache_stored_bytes",
	"latest_games_cache_not_modified_total",
	"latest_games_cache_errors_total",

	// pkg/ratelimit
	"latest_games_upstream_quota_remaining",
	"latest_games_upstream_blocked_total",
	"latest_games_upstream_throttled_total",

	// internal/server
	"latest_games_sessions_active",
	"latest_games_sessions_evicted_total",
}

// Registered returns the names from Names that the gatherer currently
// reports. Vectors only appear once a label combination was observed.
func Registered() ([]string, error) {
	families, err := Gatherer.Gather()
	if err != nil {
		return nil, err
	}
	have := make(map[string]bool, len(families))
	for _, f := range families {
		if strings.HasPrefix(f.GetName(), Prefix) {
			have[f.GetName()] = true
		}
	}

	var out []string
	for _, n := range Names {
		if have[n] {
			out = append(out, n)
		}
	}
	return out, nil
}

// Metrics reference
//
// Feed (pkg/feed):
//   - latest_games_feed_fetches_total{outcome} (Counter): page requests by
//     outcome (appended, empty, stale, failed, ignored)
//   - latest_games_feed_items_appended_total (Counter): games added to feeds
//   - latest_games_feed_duplicates_dropped_total (Counter): games skipped as
//     already present
//   - latest_games_feed_fetch_duration_seconds (Histogram)
//
// Upstream (pkg/client):
//   - latest_games_upstream_requests_total{status} (Counter)
//   - latest_games_upstream_request_duration_seconds (Histogram)
//   - latest_games_upstream_errors_total{class} (Counter): client, server,
//     rate_limit, network, decode
//   - latest_games_upstream_retries_total{error_class} (Counter)
//   - latest_games_upstream_retry_backoff_seconds{error_class} (Histogram)
//   - latest_games_upstream_retry_exhausted_total{error_class} (Counter)
//   - latest_games_upstream_breaker_state (Gauge): 0 closed, 1 half-open, 2 open
//   - latest_games_upstream_dropped_items_total (Counter)
//
// Cache (pkg/cache):
//   - latest_games_cache_hits_total, latest_games_cache_misses_total (Counter)
//   - latest_games_cache_stored_bytes (Counter)
//   - latest_games_cache_not_modified_total (Counter): 304 revalidations
//   - latest_games_cache_errors_total{operation} (Counter)
//
// Quota (pkg/ratelimit):
//   - latest_games_upstream_quota_remaining (Gauge)
//   - latest_games_upstream_blocked_total (Counter)
//   - latest_games_upstream_throttled_total (Counter)
//
// Sessions (internal/server):
//   - latest_games_sessions_active (Gauge)
//   - latest_games_sessions_evicted_total (Counter)
//
// Example queries:
//
//	# Share of page requests that added nothing
//	sum(rate(latest_games_feed_fetches_total{outcome="stale"}[5m]))
//	  / sum(rate(latest_games_feed_fetches_total[5m]))
//
//	# Cache hit rate
//	sum(rate(latest_games_cache_hits_total[5m])) /
//	(sum(rate(latest_games_cache_hits_total[5m])) + sum(rate(latest_games_cache_misses_total[5m])))
//
//	# P95 upstream latency
//	histogram_quantile(0.95, rate(latest_games_upstream_request_duration_seconds_bucket[5m]))
