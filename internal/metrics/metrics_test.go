package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"daytrader/internal/types"
)

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.TickDelivered()
	m.Order(types.SideBuy, true)
	m.SetSessionStatus(types.StatusSold)
	m.SetConnectionState(types.Subscribed)
}

func TestCounters(t *testing.T) {
	m := New()
	m.TickDelivered()
	m.TickDelivered()
	m.Heartbeat()
	m.Order(types.SideSell, false)

	if got := testutil.ToFloat64(m.ticks); got != 2 {
		t.Errorf("Expected 2 ticks, got %v", got)
	}
	if got := testutil.ToFloat64(m.heartbeats); got != 1 {
		t.Errorf("Expected 1 heartbeat, got %v", got)
	}
	if got := testutil.ToFloat64(m.orders.WithLabelValues("SELL", "failure")); got != 1 {
		t.Errorf("Expected 1 failed sell, got %v", got)
	}
}

func TestSessionStatusIsOneHot(t *testing.T) {
	m := New()
	m.SetSessionStatus(types.StatusAwaitingBuy)
	m.SetSessionStatus(types.StatusMonitoring)

	if got := testutil.ToFloat64(m.sessionStatus.WithLabelValues("MONITORING")); got != 1 {
		t.Errorf("Expected MONITORING=1, got %v", got)
	}
	if got := testutil.ToFloat64(m.sessionStatus.WithLabelValues("AWAITING_BUY")); got != 0 {
		t.Errorf("Expected AWAITING_BUY=0, got %v", got)
	}
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New()
	m.Reconnect()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	if !strings.Contains(rec.Body.String(), "daytrader_reconnects_total 1") {
		t.Errorf("Expected reconnect counter in output, got:\n%s", rec.Body.String())
	}
}
