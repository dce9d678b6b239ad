package metrics_test

import (
	"testing"

	"github.com/jrsteele09/go-auth-session/metrics"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

func TestMetricsRecord(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg)
	require.NoError(t, err)

	m.Login("success")
	m.Refresh("success")
	m.Refresh("success")
	m.Refresh("dropped")
	m.Logout("refresh_failed")
	m.ClockSignal("NEEDS_REFRESH")
	m.CookieSync("failure")
	m.GuardCheck("redirect")
	m.SetAuthenticated(true)

	families, err := reg.Gather()
	require.NoError(t, err)
	require.Len(t, families, 7)

	byName := map[string]*dto.MetricFamily{}
	for _, f := range families {
		byName[f.GetName()] = f
	}

	refreshes := byName["session_refreshes_total"]
	require.NotNil(t, refreshes)
	require.Len(t, refreshes.GetMetric(), 2)
	for _, metric := range refreshes.GetMetric() {
		if metric.GetLabel()[0].GetValue() == "success" {
			require.Equal(t, 2.0, metric.GetCounter().GetValue())
		}
	}

	require.Equal(t, 1.0, byName["session_authenticated"].GetMetric()[0].GetGauge().GetValue())
}

func TestDoubleRegistrationFails(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := metrics.New(reg)
	require.NoError(t, err)
	_, err = metrics.New(reg)
	require.Error(t, err)
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *metrics.Metrics
	require.NotPanics(t, func() {
		m.Login("success")
		m.Refresh("failure")
		m.Logout("logout")
		m.ClockSignal("SESSION_EXPIRED")
		m.CookieSync("success")
		m.GuardCheck("allow")
		m.SetAuthenticated(false)
	})
}
