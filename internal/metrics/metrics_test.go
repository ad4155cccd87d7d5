package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestNew_RegistersOnGivenRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.TxRecorded.Inc()
	m.TxTransitions.WithLabelValues("confirmed").Inc()
	m.FeeRefreshes.WithLabelValues("ok").Add(2)

	require.Equal(t, 1.0, testutil.ToFloat64(m.TxRecorded))
	require.Equal(t, 2.0, testutil.ToFloat64(m.FeeRefreshes.WithLabelValues("ok")))

	n, err := testutil.GatherAndCount(reg, "paytrack_tracker_transitions_total")
	require.NoError(t, err)
	require.Equal(t, 1, n)

	// a second set must not collide with the first
	require.NotPanics(t, func() { NewNop() })
}
