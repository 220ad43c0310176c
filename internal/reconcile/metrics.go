package reconcile

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics records save outcomes. A nil *Metrics records nothing.
type Metrics struct {
	saves    *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewMetrics registers the engine collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		saves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fieldsync",
			Subsystem: "reconcile",
			Name:      "saves_total",
			Help:      "Field saves by outcome.",
		}, []string{"outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "fieldsync",
			Subsystem: "reconcile",
			Name:      "save_duration_seconds",
			Help:      "Time spent waiting on the update call.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"outcome"}),
	}
	if reg != nil {
		reg.MustRegister(m.saves, m.duration)
	}
	return m
}

func outcomeLabel(err *SaveFailedError) string {
	if err == nil {
		return "success"
	}
	return err.Kind.String()
}

func (m *Metrics) observe(err *SaveFailedError, elapsed time.Duration) {
	if m == nil {
		return
	}
	label := outcomeLabel(err)
	m.saves.WithLabelValues(label).Inc()
	m.duration.WithLabelValues(label).Observe(elapsed.Seconds())
}
