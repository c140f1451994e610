package updater

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exposes loop activity to Prometheus. A nil *Metrics records nothing.
type Metrics struct {
	iterations *prometheus.CounterVec
	duration   prometheus.Histogram
	lastKWh    prometheus.Gauge
	lastBill   prometheus.Gauge
}

// NewMetrics registers the loop collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		iterations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "bill_predictor_iterations_total",
			Help: "Update iterations by outcome.",
		}, []string{"outcome"}),
		duration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "bill_predictor_iteration_duration_seconds",
			Help:    "Time spent in one update iteration.",
			Buckets: prometheus.DefBuckets,
		}),
		lastKWh: f.NewGauge(prometheus.GaugeOpts{
			Name: "bill_predictor_last_kwh",
			Help: "Cumulative kWh of the last reading that produced a prediction.",
		}),
		lastBill: f.NewGauge(prometheus.GaugeOpts{
			Name: "bill_predictor_last_bill",
			Help: "Last stored predicted bill.",
		}),
	}
}

func (m *Metrics) observe(out Outcome, d time.Duration) {
	if m == nil {
		return
	}
	m.iterations.WithLabelValues(out.String()).Inc()
	m.duration.Observe(d.Seconds())
}

func (m *Metrics) record(kwh, bill float64) {
	if m == nil {
		return
	}
	m.lastKWh.Set(kwh)
	m.lastBill.Set(bill)
}
