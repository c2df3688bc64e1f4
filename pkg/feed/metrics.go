package feed

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Fetch outcomes used as the "outcome" label.
const (
	outcomeAppended = "appended"
	outcomeEmpty    = "empty"
	outcomeStale    = "stale"
	outcomeFailed   = "failed"
	outcomeIgnored  = "ignored"
)

var (
	feedFetchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "latest_games_feed_fetches_total",
		Help: "Page requests handled by the feed accumulator by outcome",
	}, []string{"outcome"})

	feedItemsAppended = promauto.NewCounter(prometheus.CounterOpts{
		Name: "latest_games_feed_items_appended_total",
		Help: "Unique games appended to feeds",
	})

	feedDuplicatesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "latest_games_feed_duplicates_dropped_total",
		Help: "Games dropped because their slug was already listed",
	})

	feedFetchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "latest_games_feed_fetch_duration_seconds",
		Help:    "Time spent waiting for a page from the fetcher",
		Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 15},
	})
)
