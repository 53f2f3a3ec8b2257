package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetricsRegisterOnOwnRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics("careflow", reg)
	m.Transactions.WithLabelValues("appointment.create", "committed").Inc()
	m.SlotConflicts.Inc()

	assert.Equal(t, float64(1), testutil.ToFloat64(m.Transactions.WithLabelValues("appointment.create", "committed")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.SlotConflicts))

	// A second set on a fresh registry must not collide.
	assert.NotPanics(t, func() { NewNop() })
}
