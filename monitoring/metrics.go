// Package monitoring exposes Prometheus metrics for the tick loop and its
// payment path. It is ambient infrastructure, not a named spec
// component, but every production daemon in this codebase's lineage
// carries metrics alongside logging.
package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles every counter/gauge/histogram this daemon exports.
// Register it with a prometheus.Registerer once at startup.
type Metrics struct {
	TickDuration   prometheus.Histogram
	PaymentsSent   prometheus.Counter
	PaymentsFailed prometheus.Counter
	DebtMax        prometheus.Gauge
	DebtMin        prometheus.Gauge
}

// New constructs and registers every metric with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		TickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "rita",
			Name:      "tick_duration_seconds",
			Help:      "Wall-clock duration of one tick loop iteration.",
			Buckets:   prometheus.DefBuckets,
		}),
		PaymentsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rita",
			Name:      "payments_sent_total",
			Help:      "Payments successfully broadcast and acknowledged.",
		}),
		PaymentsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rita",
			Name:      "payments_failed_total",
			Help:      "Payments that failed to sign or broadcast.",
		}),
		DebtMax: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "rita",
			Name:      "debt_max",
			Help:      "Largest (most-owed-to-us) neighbor debt currently on the ledger.",
		}),
		DebtMin: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "rita",
			Name:      "debt_min",
			Help:      "Smallest (most-owed-by-us) neighbor debt currently on the ledger.",
		}),
	}
	reg.MustRegister(m.TickDuration, m.PaymentsSent, m.PaymentsFailed, m.DebtMax, m.DebtMin)
	return m
}

// ObserveTick records how long one tick took.
func (m *Metrics) ObserveTick(d time.Duration) {
	m.TickDuration.Observe(d.Seconds())
}

// RecordSettlement increments the sent or failed counter depending on
// outcome.
func (m *Metrics) RecordSettlement(success bool) {
	if success {
		m.PaymentsSent.Inc()
	} else {
		m.PaymentsFailed.Inc()
	}
}

// ObserveLedgerExtremes sets the debt gauges from the current min/max
// across all neighbor ledgers.
func (m *Metrics) ObserveLedgerExtremes(maxDebt, minDebt float64) {
	m.DebtMax.Set(maxDebt)
	m.DebtMin.Set(minDebt)
}
