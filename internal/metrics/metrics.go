// Package metrics exposes Prometheus collectors for the valuation
// pipeline and the cascade scheduler.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	candidatesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "radar",
		Name:      "candidates_total",
		Help:      "Candidates evaluated, by outcome and rejection reason.",
	}, []string{"outcome", "reason"})

	scanDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "radar",
		Name:      "scan_duration_seconds",
		Help:      "Wall time of a full candidate batch scan.",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
	})

	signalsPersisted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "radar",
		Name:      "signals_persisted_total",
		Help:      "Accepted signals written to the store.",
	})

	cascadeTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "radar",
		Name:      "cascade_transitions_total",
		Help:      "Signal lifecycle transitions made by the cascade scheduler.",
	}, []string{"transition"})

	cascadeDepth = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "radar",
		Name:      "cascade_depth",
		Help:      "Cascade count at the moment a signal leaves PENDING for good.",
		Buckets:   prometheus.LinearBuckets(0, 1, 6),
	})
)

func CandidateAccepted() {
	candidatesTotal.WithLabelValues("accepted", "").Inc()
}

func CandidateRejected(reason string) {
	candidatesTotal.WithLabelValues("rejected", reason).Inc()
}

func ScanCompleted(elapsed time.Duration) {
	scanDuration.Observe(elapsed.Seconds())
}

func SignalPersisted() {
	signalsPersisted.Inc()
}

// CascadeTransition records a scheduler-driven state change, e.g.
// "cascade", "expired", "retired", "acted".
func CascadeTransition(kind string) {
	cascadeTransitions.WithLabelValues(kind).Inc()
}

func CascadeSettled(depth int) {
	cascadeDepth.Observe(float64(depth))
}
