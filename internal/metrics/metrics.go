// Package metrics registers the Prometheus metrics used by the cache.
// Collectors are registered on the default registry when the package is
// imported; the server exposes them through promhttp.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Fetch outcomes.
const (
	OutcomeNetwork  = "network"
	OutcomeFallback = "fallback"
	OutcomeMiss     = "miss"
	OutcomeBypass   = "bypass"
)

var (
	// FetchTotal counts intercepted requests by outcome: "network" (live
	// response), "fallback" (served from the cache), "miss" (network failed and
	// nothing cached) and "bypass" (method not cached).
	FetchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "netfirst_fetch_total",
			Help: "Total intercepted requests by outcome.",
		},
		[]string{"outcome"},
	)

	// FetchDuration observes time spent answering an intercepted request.
	FetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "netfirst_fetch_duration_seconds",
			Help:    "Intercepted request duration in seconds.",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"outcome"},
	)

	// StoreWriteFailures counts detached snapshot writes that failed. The
	// response had already been returned when these happen.
	StoreWriteFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "netfirst_store_write_failures_total",
			Help: "Total snapshot writes that failed, by generation.",
		},
		[]string{"generation"},
	)

	// GenerationsDeleted counts generations removed during activation.
	GenerationsDeleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "netfirst_generations_deleted_total",
			Help: "Total superseded generations deleted during activation.",
		},
	)

	// ActivationFailures counts activations aborted by a store error.
	ActivationFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "netfirst_activation_failures_total",
			Help: "Total activations that failed while pruning generations.",
		},
	)
)
