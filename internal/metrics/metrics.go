// Package metrics holds the Prometheus collectors of the relay.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Cycle statuses.
const (
	StatusOK          = "ok"
	StatusNotModified = "not_modified"
	StatusFetchError  = "fetch_error"
	StatusStoreError  = "store_error"
	StatusBusy        = "busy"
	StatusError       = "error"
)

var (
	cyclesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feed_relay_cycles_total",
		Help: "Reconciliation cycles by outcome",
	}, []string{"status"})

	entriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feed_relay_entries_total",
		Help: "Feed entries handled by the reconciler, by action",
	}, []string{"action"})

	cycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "feed_relay_cycle_duration_seconds",
		Help:    "Duration of a fetch and reconcile cycle",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
	})

	articlesTrimmed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "feed_relay_articles_trimmed_total",
		Help: "Articles deleted by retention housekeeping",
	})

	imagesCleared = promauto.NewCounter(prometheus.CounterOpts{
		Name: "feed_relay_images_cleared_total",
		Help: "Cached image files removed by housekeeping",
	})
)

func ObserveCycle(status string, took time.Duration) {
	cyclesTotal.WithLabelValues(status).Inc()
	cycleDuration.Observe(took.Seconds())
}

func ObserveEntries(counts map[string]int) {
	for action, n := range counts {
		if n > 0 {
			entriesTotal.WithLabelValues(action).Add(float64(n))
		}
	}
}

func ObserveHousekeeping(trimmed int64, images int) {
	articlesTrimmed.Add(float64(trimmed))
	imagesCleared.Add(float64(images))
}

func Handler() http.Handler {
	return promhttp.Handler()
}
