// Package metrics exposes Prometheus collectors for the harvest pipeline.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	harvestAttemptsTotal *prometheus.CounterVec
	harvestOutcomesTotal *prometheus.CounterVec
	harvestRetriesTotal  *prometheus.CounterVec
	harvestBytesTotal    prometheus.Counter
	rateGateDelaySeconds prometheus.Histogram
	strategyDurationSecs *prometheus.HistogramVec

	once sync.Once
)

// Init registers the collectors. Safe to call more than once.
func Init() {
	once.Do(func() {
		harvestAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvest_attempts_total",
				Help: "Strategy chain entries, labeled by strategy.",
			},
			[]string{"strategy"},
		)
		harvestOutcomesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvest_outcomes_total",
				Help: "Terminal candidate outcomes, labeled by result.",
			},
			[]string{"result"},
		)
		harvestRetriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvest_retries_total",
				Help: "Retries consumed, labeled by strategy.",
			},
			[]string{"strategy"},
		)
		harvestBytesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "harvest_bytes_total",
				Help: "Total artifact bytes finalized on disk.",
			},
		)
		rateGateDelaySeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "harvest_rate_gate_delay_seconds",
				Help:    "Delay introduced by the shared rate gate.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
		)
		strategyDurationSecs = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "harvest_strategy_duration_seconds",
				Help:    "Wall time of individual strategy attempts.",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300},
			},
			[]string{"strategy"},
		)
	})
}

// IncAttempt counts a chain entry for the strategy.
func IncAttempt(strategy string) {
	if harvestAttemptsTotal != nil {
		harvestAttemptsTotal.WithLabelValues(strategy).Inc()
	}
}

// IncOutcome counts a terminal candidate result ("success" or a failure reason).
func IncOutcome(result string) {
	if harvestOutcomesTotal != nil {
		harvestOutcomesTotal.WithLabelValues(result).Inc()
	}
}

// IncRetry counts one consumed retry for the strategy.
func IncRetry(strategy string) {
	if harvestRetriesTotal != nil {
		harvestRetriesTotal.WithLabelValues(strategy).Inc()
	}
}

// AddBytes accumulates finalized artifact bytes.
func AddBytes(n int64) {
	if harvestBytesTotal != nil && n > 0 {
		harvestBytesTotal.Add(float64(n))
	}
}

// ObserveGateDelay records time spent waiting on the rate gate.
func ObserveGateDelay(d time.Duration) {
	if rateGateDelaySeconds != nil && d > 0 {
		rateGateDelaySeconds.Observe(d.Seconds())
	}
}

// ObserveStrategyDuration records one attempt's wall time.
func ObserveStrategyDuration(strategy string, d time.Duration) {
	if strategyDurationSecs != nil {
		strategyDurationSecs.WithLabelValues(strategy).Observe(d.Seconds())
	}
}
