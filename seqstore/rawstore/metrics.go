package rawstore

import "github.com/prometheus/client_golang/prometheus"

// metrics holds optional Prometheus instrumentation for a Store. A nil
// *metrics is valid and every method on it is a no-op.
type metrics struct {
	gapCount prometheus.Gauge
	adds     prometheus.Counter
	removes  prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) *metrics {
	if reg == nil {
		return nil
	}
	m := &metrics{
		gapCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rawstore_gap_count",
			Help: "Number of tracked gaps available for reuse by Add.",
		}),
		adds: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rawstore_adds_total",
			Help: "Number of records written by Add.",
		}),
		removes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rawstore_removes_total",
			Help: "Number of records deleted by Remove.",
		}),
	}
	reg.MustRegister(m.gapCount, m.adds, m.removes)
	return m
}

func (m *metrics) recordAdd(gaps int) {
	if m != nil {
		m.adds.Inc()
		m.gapCount.Set(float64(gaps))
	}
}

func (m *metrics) recordRemove(gaps int) {
	if m != nil {
		m.removes.Inc()
		m.gapCount.Set(float64(gaps))
	}
}
