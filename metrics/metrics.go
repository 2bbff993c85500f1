package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Illustration outcomes.
const (
	OutcomeInserted = "inserted"
	OutcomeDropped  = "dropped"
	OutcomeFailed   = "failed"
)

var (
	// GenerationsTotal counts generation jobs by backend and status (ok, error).
	GenerationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bookreader",
			Name:      "generations_total",
			Help:      "Total image generation jobs",
		},
		[]string{"backend", "status"},
	)

	// GenerationDuration observes how long backends take to return an image.
	GenerationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "bookreader",
			Name:      "generation_duration_seconds",
			Help:      "Image generation duration in seconds",
			Buckets:   []float64{1, 2, 5, 10, 20, 30, 60, 120, 300},
		},
		[]string{"backend"},
	)

	// IllustrationsTotal counts illustrations by what happened to them on insertion.
	IllustrationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bookreader",
			Name:      "illustrations_total",
			Help:      "Illustrations handled by the inserter",
		},
		[]string{"outcome"},
	)
)
