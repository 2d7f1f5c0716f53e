package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// OutcomeSuccess labels completed analysis cycles.
	OutcomeSuccess = "success"
	// OutcomeError labels cycles that failed (data source or pipeline issues).
	OutcomeError = "error"
	// OutcomeSkipped labels cycles where training was skipped for lack of history.
	OutcomeSkipped = "skipped"
)

var (
	cyclesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "crac_risk",
			Name:      "cycles_total",
			Help:      "Total number of analysis cycles run, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	cycleDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "crac_risk",
			Name:      "cycle_seconds",
			Help:      "Analysis cycle latency in seconds.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120, 300},
		},
	)

	trainingTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "crac_risk",
			Name:      "training_total",
			Help:      "Survival model training attempts, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	projectionFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "crac_risk",
			Name:      "projection_failures_total",
			Help:      "Per-unit risk projections that could not be computed.",
		},
	)

	unitsAtRisk = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "crac_risk",
			Name:      "units_at_risk",
			Help:      "Units whose projected risk crosses the threshold inside the horizon.",
		},
	)
)

// Register attaches crac-risk collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		cyclesTotal,
		cycleDurationSeconds,
		trainingTotal,
		projectionFailuresTotal,
		unitsAtRisk,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveCycle records an analysis cycle duration and outcome label.
func ObserveCycle(duration time.Duration, outcome string) {
	switch outcome {
	case OutcomeError, OutcomeSkipped:
	default:
		outcome = OutcomeSuccess
	}
	cyclesTotal.WithLabelValues(outcome).Inc()
	if duration < 0 {
		duration = 0
	}
	cycleDurationSeconds.Observe(duration.Seconds())
}

// ObserveTraining records one training attempt.
func ObserveTraining(outcome string) {
	switch outcome {
	case OutcomeError, OutcomeSkipped:
	default:
		outcome = OutcomeSuccess
	}
	trainingTotal.WithLabelValues(outcome).Inc()
}

// ObserveProjectionFailure counts a unit whose projection could not be computed.
func ObserveProjectionFailure() {
	projectionFailuresTotal.Inc()
}

// SetUnitsAtRisk publishes the current count of threshold-crossing units.
func SetUnitsAtRisk(n int) {
	unitsAtRisk.Set(float64(n))
}
