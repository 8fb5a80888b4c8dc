package observability

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestRouterEndpoints(t *testing.T) {
	metrics := NewMetrics()
	metrics.SetExchangeRate(decimal.RequireFromString("5.85"))
	metrics.SetPeg(decimal.RequireFromString("1.03"), decimal.NewFromInt(3))
	metrics.ObserveAction("SELL", true)
	metrics.ObserveIteration("", 200*time.Millisecond, time.Unix(1_700_000_000, 0))
	metrics.ObserveIteration("feed", time.Second, time.Now())

	srv := httptest.NewServer(NewRouter(metrics, func() any {
		return map[string]string{"state": "RUNNING"}
	}))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/status")
	require.NoError(t, err)
	var status map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	resp.Body.Close()
	require.Equal(t, "RUNNING", status["state"])

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)

	text := string(body)
	for _, want := range []string{
		`pegkeeper_loop_iterations_total{status="complete"} 1`,
		`pegkeeper_loop_iterations_total{status="failed"} 1`,
		`pegkeeper_loop_step_failures_total{step="feed"} 1`,
		`pegkeeper_peg_actions_total{action="SELL"} 1`,
		`pegkeeper_swap_high_impact_total 1`,
		`pegkeeper_feed_exchange_rate 5.85`,
		`pegkeeper_loop_last_success_timestamp_seconds 1.7e+09`,
	} {
		require.True(t, strings.Contains(text, want), "metrics missing %q", want)
	}
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.SetExchangeRate(decimal.NewFromInt(1))
	m.SetPublishedPrice(1)
	m.SetPeg(decimal.NewFromInt(1), decimal.Zero)
	m.ObserveAction("HOLD", false)
	m.ObserveIteration("", time.Second, time.Now())
}
