// Package metrics exposes Prometheus collectors for check-ins and QR rotation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the service collectors. A nil *Metrics records nothing.
type Metrics struct {
	CheckIns  *prometheus.CounterVec
	Distance  prometheus.Histogram
	Rotations prometheus.Counter
	Refreshes prometheus.Counter
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		CheckIns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "visit",
			Name:      "checkins_total",
			Help:      "Check-in attempts by outcome.",
		}, []string{"result"}),
		Distance: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "visit",
			Name:      "checkin_distance_meters",
			Help:      "Distance between reported position and visit location for measured check-ins.",
			Buckets:   []float64{5, 10, 25, 50, 75, 100, 150, 250, 500, 1000, 5000, 10000},
		}),
		Rotations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "visit",
			Name:      "qr_rotations_total",
			Help:      "QR tokens minted by rotation.",
		}),
		Refreshes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "visit",
			Name:      "qr_refreshes_total",
			Help:      "Display refreshes of an active QR token.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.CheckIns, m.Distance, m.Rotations, m.Refreshes)
	}
	return m
}

// CheckIn counts one attempt with the given result label.
func (m *Metrics) CheckIn(result string) {
	if m == nil {
		return
	}
	m.CheckIns.WithLabelValues(result).Inc()
}

// ObserveDistance records a measured distance.
func (m *Metrics) ObserveDistance(meters float64) {
	if m == nil {
		return
	}
	m.Distance.Observe(meters)
}

// Rotated counts one rotation.
func (m *Metrics) Rotated() {
	if m == nil {
		return
	}
	m.Rotations.Inc()
}

// Refreshed counts one display refresh.
func (m *Metrics) Refreshed() {
	if m == nil {
		return
	}
	m.Refreshes.Inc()
}
