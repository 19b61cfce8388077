// Package metrics provides Prometheus instrumentation for the moderation
// pipeline. It exposes counters for message and verdict throughput,
// enforcement and review outcomes, and histograms for classifier latency.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// MessagesTotal counts group messages entering the pipeline, labeled
	// by outcome: "classified", "exempt", or "unclassified".
	MessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "antiscam_messages_total",
		Help: "Total number of group messages processed",
	}, []string{"outcome"})

	// VerdictsTotal counts classifier verdicts by label: "SCAM" or "OK".
	VerdictsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "antiscam_verdicts_total",
		Help: "Total number of classifier verdicts",
	}, []string{"label"})

	// EnforcementsTotal counts enforcement sub-operations by op and result.
	EnforcementsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "antiscam_enforcements_total",
		Help: "Total number of enforcement sub-operations",
	}, []string{"op", "result"}) // result = "ok", "error"

	// ReviewsTotal counts review resolutions by final state: "confirmed",
	// "overridden", or "unreviewed".
	ReviewsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "antiscam_reviews_total",
		Help: "Total number of resolved admin reviews",
	}, []string{"state"})

	// ClassifierLatency records classifier round-trip latency in seconds.
	ClassifierLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "antiscam_classifier_latency_seconds",
		Help:    "Classifier round-trip latency in seconds",
		Buckets: []float64{.1, .25, .5, 1, 2, 5, 10, 20},
	})

	// ClassifierErrors counts classifier failures by kind: "timeout",
	// "malformed", "rate_limited", or "other".
	ClassifierErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "antiscam_classifier_errors_total",
		Help: "Total number of classifier failures",
	}, []string{"kind"})

	// PendingReviews tracks the current number of records awaiting feedback.
	PendingReviews = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "antiscam_pending_reviews",
		Help: "Current number of records awaiting admin feedback",
	})
)

func init() {
	prometheus.MustRegister(
		MessagesTotal,
		VerdictsTotal,
		EnforcementsTotal,
		ReviewsTotal,
		ClassifierLatency,
		ClassifierErrors,
		PendingReviews,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
