package profitshare

import "github.com/prometheus/client_golang/prometheus"

// Metrics counts recalculations by outcome.
type Metrics struct {
	recalculations *prometheus.CounterVec
	batches        *prometheus.CounterVec
}

// NewMetrics registers the profit-share collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		recalculations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "franchise_profitshare_recalculations_total",
			Help: "Profit-share recalculations by result.",
		}, []string{"result"}),
		batches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "franchise_profitshare_batches_total",
			Help: "Batch recalculations by outcome.",
		}, []string{"outcome"}),
	}
	if reg != nil {
		reg.MustRegister(m.recalculations, m.batches)
	}
	return m
}

func (m *Metrics) recalculated(result string) {
	if m == nil {
		return
	}
	m.recalculations.WithLabelValues(result).Inc()
}

func (m *Metrics) batch(outcome Outcome) {
	if m == nil {
		return
	}
	m.batches.WithLabelValues(string(outcome)).Inc()
}
