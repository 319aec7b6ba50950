package notary

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors for the notary. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	Updates        *prometheus.CounterVec
	RecordsCreated prometheus.Counter
	RentCharged    prometheus.Counter
	UpdateLatency  prometheus.Histogram
}

// NewMetrics registers the notary collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Updates: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "notary_updates_total",
			Help: "Integrity updates by outcome (created, updated, or the error kind)",
		}, []string{"outcome"}),
		RecordsCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "notary_records_created_total",
			Help: "Integrity records allocated",
		}),
		RentCharged: factory.NewCounter(prometheus.CounterOpts{
			Name: "notary_rent_charged_lamports_total",
			Help: "Lamports charged to payers for record allocation",
		}),
		UpdateLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "notary_update_duration_seconds",
			Help:    "Duration of an upsert including storage access",
			Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),
	}
}

func (m *Metrics) observeUpdate(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.Updates.WithLabelValues(outcome).Inc()
	m.UpdateLatency.Observe(d.Seconds())
}

func (m *Metrics) recordCreated(rent uint64) {
	if m == nil {
		return
	}
	m.RecordsCreated.Inc()
	m.RentCharged.Add(float64(rent))
}
