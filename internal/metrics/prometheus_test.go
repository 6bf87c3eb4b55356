package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestPrometheusCounters(t *testing.T) {
	prom := NewPrometheus()
	prom.Metrics.OrdersSubmitted.Inc()
	prom.Metrics.OrdersSubmitted.Inc()
	prom.Metrics.OrdersExecuted.Inc()
	prom.Metrics.OrdersFailed.Inc()
	prom.Metrics.OrdersCancelled.Inc()
	prom.Metrics.CallbacksIgnored.Inc()
	prom.Metrics.DualLegHealed.Inc()
	prom.Metrics.ResidualSweeps.Inc()

	assertCounter(t, prom.ordersSubmitted, 2)
	assertCounter(t, prom.ordersExecuted, 1)
	assertCounter(t, prom.ordersFailed, 1)
	assertCounter(t, prom.ordersCancelled, 1)
	assertCounter(t, prom.callbacksIgnored, 1)
	assertCounter(t, prom.dualLegHealed, 1)
	assertCounter(t, prom.residualSweeps, 1)
	assertCounter(t, prom.throttled, 0)
}

func TestPrometheusGauges(t *testing.T) {
	prom := NewPrometheus()
	prom.Metrics.TargetExposure.Set(-5)
	prom.Metrics.Leverage.Set(4.2)
	prom.Metrics.PendingOrder.Set(1)

	if got := testutil.ToFloat64(prom.targetExposure); got != -5 {
		t.Fatalf("expected -5, got %v", got)
	}
	if got := testutil.ToFloat64(prom.leverage); got != 4.2 {
		t.Fatalf("expected 4.2, got %v", got)
	}
	if got := testutil.ToFloat64(prom.pendingOrder); got != 1 {
		t.Fatalf("expected 1, got %v", got)
	}
}

func TestPrometheusHandlerExposesNamespace(t *testing.T) {
	prom := NewPrometheus()
	prom.Metrics.Throttled.Inc()

	rec := httptest.NewRecorder()
	prom.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if !strings.Contains(rec.Body.String(), "delta_hedger_hedge_throttled_total 1") {
		t.Fatalf("expected throttled counter in output, got %q", rec.Body.String())
	}
}

func TestNoopMetricsAreUsable(t *testing.T) {
	m := NewNoop()
	m.OrdersSubmitted.Inc()
	m.HedgeSize.Set(1)
}

func assertCounter(t *testing.T, counter prometheus.Counter, expected float64) {
	t.Helper()
	if got := testutil.ToFloat64(counter); got != expected {
		t.Fatalf("expected %v, got %v", expected, got)
	}
}
