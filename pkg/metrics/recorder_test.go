package metrics_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/flowengine/pkg/metrics"
)

func gatherValue(t *testing.T, reg *prometheus.Registry, family string) float64 {
	t.Helper()
	mfs, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range mfs {
		if mf.GetName() != family {
			continue
		}
		var total float64
		for _, m := range mf.GetMetric() {
			switch {
			case m.GetCounter() != nil:
				total += m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				total += m.GetGauge().GetValue()
			}
		}
		return total
	}
	t.Fatalf("metric family %q not found", family)
	return 0
}

func TestRecorderCounterAccumulates(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec := metrics.NewRecorder(reg)

	rec.Counter("cas conflicts", map[string]string{"flow_type": "KYC"}, 1)
	rec.Counter("cas conflicts", map[string]string{"flow_type": "KYC"}, 2)

	require.Equal(t, 3.0, gatherValue(t, reg, "flowengine_engine_cas_conflicts"))
}

func TestRecorderGaugeSetsLatestValue(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec := metrics.NewRecorder(reg)

	rec.Gauge("active flows", nil, 4)
	rec.Gauge("active flows", nil, 7)

	require.Equal(t, 7.0, gatherValue(t, reg, "flowengine_engine_active_flows"))
}

func TestRecorderCounterIgnoresNonPositiveDelta(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec := metrics.NewRecorder(reg)

	rec.Counter("noop", nil, 0)
	rec.Counter("noop", nil, -5)

	mfs, err := reg.Gather()
	require.NoError(t, err)
	require.Empty(t, mfs)
}

func TestRecorderNilReceiverIsSafe(t *testing.T) {
	var rec *metrics.Recorder
	require.NotPanics(t, func() {
		rec.Counter("x", nil, 1)
		rec.Gauge("x", nil, 1)
		rec.Histogram("x", nil, 1)
	})
}
