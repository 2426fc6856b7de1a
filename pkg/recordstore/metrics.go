package recordstore

import (
	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	writes *prometheus.CounterVec
	denied *prometheus.CounterVec
	reads  *prometheus.CounterVec
	cost   prometheus.Gauge
}

func newMetrics() *metrics {
	return &metrics{
		writes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "neardns",
			Subsystem: "store",
			Name:      "writes_total",
			Help:      "The total number of admitted record writes",
		}, []string{"kind", "action"}),
		denied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "neardns",
			Subsystem: "store",
			Name:      "denied_total",
			Help:      "The total number of writes refused for insufficient payment",
		}, []string{"kind"}),
		reads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "neardns",
			Subsystem: "store",
			Name:      "reads_total",
			Help:      "The total number of record reads",
		}, []string{"kind"}),
		cost: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "neardns",
			Subsystem: "store",
			Name:      "cost_of_insertion_bytes",
			Help:      "Measured storage bytes of one record insertion",
		}),
	}
}

func (m *metrics) register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{m.writes, m.denied, m.reads, m.cost} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
