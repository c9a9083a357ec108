package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

func TestBridgeMetricsRecordOutcomes(t *testing.T) {
	m := Bridge()
	require.Same(t, m, Bridge())

	before := testutil.ToFloat64(m.instructions.WithLabelValues("blocklist", "settled"))
	m.ObserveAccepted("blocklist", 5001, 2)
	require.Equal(t, before+1, testutil.ToFloat64(m.instructions.WithLabelValues("blocklist", "settled")))

	m.ObserveRejected("blocklist", "")
	require.Equal(t, float64(1), testutil.ToFloat64(m.rejections.WithLabelValues("blocklist", "unknown")))

	m.SetNextNonce("blocklist", 9)
	require.Equal(t, float64(9), testutil.ToFloat64(m.nextNonce.WithLabelValues("blocklist")))

	m.AddSettled(42, 1500)
	require.Equal(t, float64(1500), testutil.ToFloat64(m.settled.WithLabelValues("42")))

	m.SetPaused(true)
	require.Equal(t, float64(1), testutil.ToFloat64(m.paused))
	m.SetPaused(false)
	require.Equal(t, float64(0), testutil.ToFloat64(m.paused))
}

func TestApprovedStakeHistogram(t *testing.T) {
	m := Bridge()
	hist := m.approvedStake.WithLabelValues("update_limit").(prometheus.Histogram)

	var before dto.Metric
	require.NoError(t, hist.Write(&before))
	m.ObserveAccepted("update_limit", 7000, 0)

	var after dto.Metric
	require.NoError(t, hist.Write(&after))
	require.Equal(t, before.GetHistogram().GetSampleCount()+1, after.GetHistogram().GetSampleCount())
	require.Equal(t, before.GetHistogram().GetSampleSum()+7000, after.GetHistogram().GetSampleSum())
}

func TestNilBridgeMetricsAreSafe(t *testing.T) {
	var m *BridgeMetrics
	m.ObserveAccepted("token_transfer", 1, 0)
	m.ObserveRejected("token_transfer", "Internal")
	m.SetNextNonce("token_transfer", 1)
	m.AddSettled(1, 1)
	m.SetPaused(true)
}
