package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCheckInCounters(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.CheckIn("success")
	m.CheckIn("success")
	m.CheckIn("out_of_range")
	m.Rotated()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.CheckIns.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CheckIns.WithLabelValues("out_of_range")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Rotations))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.CheckIn("success")
		m.ObserveDistance(10)
		m.Rotated()
		m.Refreshed()
	})
}
