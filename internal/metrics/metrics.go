// Package metrics exposes the pipeline's prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// EventsReceived counts accepted webhook posts by normalized kind.
	EventsReceived = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_events_received_total",
		Help: "Webhook events accepted at the ingest endpoint, by kind.",
	}, []string{"kind"})

	// EventsDuplicate counts posts dropped by the dedupe key.
	EventsDuplicate = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "webhook_events_duplicate_total",
		Help: "Webhook events ignored because the dedupe key already existed.",
	})

	// RowsProcessed counts worker outcomes: processed, retried, finalized.
	RowsProcessed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_rows_processed_total",
		Help: "Raw event rows handled by the worker, by outcome.",
	}, []string{"outcome"})

	// BatchSize observes the number of rows claimed per tick.
	BatchSize = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "webhook_worker_batch_size",
		Help:    "Rows claimed per worker tick.",
		Buckets: []float64{0, 1, 5, 10, 25, 50, 100},
	})
)

func init() {
	prometheus.MustRegister(EventsReceived, EventsDuplicate, RowsProcessed, BatchSize)
}

// Handler serves the prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
