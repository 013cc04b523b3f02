package phobos

import "github.com/prometheus/client_golang/prometheus"

// metrics holds optional Prometheus instrumentation for a Database. A
// nil *metrics is valid and every method on it is a no-op, so callers
// that never opt in via WithRegisterer pay nothing.
type metrics struct {
	flushes    prometheus.Counter
	merges     prometheus.Counter
	tableCount prometheus.Gauge
	memCount   prometheus.Gauge
}

func newMetrics(reg prometheus.Registerer) *metrics {
	if reg == nil {
		return nil
	}
	m := &metrics{
		flushes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "phobos_flushes_total",
			Help: "Number of partial merges (Flush) performed.",
		}),
		merges: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "phobos_merges_total",
			Help: "Number of full merges (Merge) performed.",
		}),
		tableCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "phobos_table_count",
			Help: "Number of active leveled table files.",
		}),
		memCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "phobos_memtable_entries",
			Help: "Number of entries currently buffered in the memtable.",
		}),
	}
	reg.MustRegister(m.flushes, m.merges, m.tableCount, m.memCount)
	return m
}

func (m *metrics) recordFlush(tables int)  { if m != nil { m.flushes.Inc(); m.tableCount.Set(float64(tables)) } }
func (m *metrics) recordMerge(tables int)  { if m != nil { m.merges.Inc(); m.tableCount.Set(float64(tables)) } }
func (m *metrics) recordMemCount(n int)    { if m != nil { m.memCount.Set(float64(n)) } }
