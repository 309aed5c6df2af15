package services

import (
	"time"

	"github.com/localnerve/tablebridge/internal/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts migration stage outcomes
type Metrics struct {
	stages    *prometheus.CounterVec
	durations *prometheus.HistogramVec
}

// NewMetrics registers the migration metrics with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		stages: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tablebridge",
			Name:      "migration_stage_total",
			Help:      "Migration stage executions by stage and outcome.",
		}, []string{"stage", "outcome"}),
		durations: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "tablebridge",
			Name:      "migration_duration_seconds",
			Help:      "Duration of whole migrations by outcome.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"outcome"}),
	}
}

func outcome(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}

func (m *Metrics) observe(stage types.Stage, ok bool) {
	if m == nil {
		return
	}
	m.stages.WithLabelValues(string(stage), outcome(ok)).Inc()
}

func (m *Metrics) finish(ok bool, d time.Duration) {
	if m == nil {
		return
	}
	m.durations.WithLabelValues(outcome(ok)).Observe(d.Seconds())
}
