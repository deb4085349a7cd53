// Package metrics exposes the service's Prometheus collectors.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Outcome label values.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

var (
	// SpeechGenerations counts synthesis requests by speaker and outcome.
	SpeechGenerations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sovits_speech_generations_total",
			Help: "Number of speech generation requests processed.",
		},
		[]string{"speaker", "outcome"},
	)

	// SynthesisDuration observes wall-clock synthesis time in seconds.
	SynthesisDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sovits_synthesis_duration_seconds",
			Help:    "Time spent synthesizing one request.",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
		},
	)

	// TrainingRuns counts fine-tuning runs by outcome.
	TrainingRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sovits_training_runs_total",
			Help: "Number of speaker training runs.",
		},
		[]string{"outcome"},
	)

	// ReferenceUploads counts accepted corpus clips.
	ReferenceUploads = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sovits_reference_uploads_total",
			Help: "Number of reference clips accepted into speaker corpora.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		SpeechGenerations,
		SynthesisDuration,
		TrainingRuns,
		ReferenceUploads,
	)
}
