package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/nholik/servo/internal/check"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func result(id string, required bool, success *bool) check.Result {
	runtime := check.Duration(250 * time.Millisecond)
	return check.Result{Name: id, ID: id, Required: required, Success: success, Runtime: &runtime}
}

func TestMetricsUpdates(t *testing.T) {
	m := New()
	pass, fail := true, false

	m.ObserveResults("prom", []check.Result{
		result("connect", true, &pass),
		result("query", false, &fail),
		result("resolve", true, &fail),
	})
	m.IncHalts("prom")
	m.IncCheckErrors("appd")
	m.ObserveCycleDuration(2 * time.Second)
	m.SetLastCheckCycleTimestamp(time.Unix(100, 0))

	if got := testutil.ToFloat64(m.checkRunsTotal.WithLabelValues("prom", "connect", "passed")); got != 1 {
		t.Fatalf("expected passed run 1, got %v", got)
	}
	if got := testutil.ToFloat64(m.checkRunsTotal.WithLabelValues("prom", "query", "failed")); got != 1 {
		t.Fatalf("expected failed run 1, got %v", got)
	}
	if got := testutil.ToFloat64(m.requiredFailing.WithLabelValues("prom")); got != 1 {
		t.Fatalf("expected 1 failing required check, got %v", got)
	}
	if got := testutil.ToFloat64(m.haltsTotal.WithLabelValues("prom")); got != 1 {
		t.Fatalf("expected halts 1, got %v", got)
	}
	if got := testutil.ToFloat64(m.checkErrorsTotal.WithLabelValues("appd")); got != 1 {
		t.Fatalf("expected check errors 1, got %v", got)
	}
	if got := testutil.ToFloat64(m.lastCheckCycleGauge); got != 100 {
		t.Fatalf("expected last cycle 100, got %v", got)
	}
	if count := testutil.CollectAndCount(m.checkDurationSeconds); count != 1 {
		t.Fatalf("expected one check duration series, got %d", count)
	}
	if count := testutil.CollectAndCount(m.cycleDurationSeconds); count == 0 {
		t.Fatalf("expected cycle duration histogram to be collected")
	}
}

func TestMetricsNilSafe(t *testing.T) {
	var m *Metrics
	m.ObserveResults("prom", nil)
	m.IncHalts("prom")
	m.IncCheckErrors("prom")
	m.ObserveCycleDuration(time.Second)
	m.SetLastCheckCycleTimestamp(time.Now())
	if m.Handler() == nil {
		t.Fatalf("expected default handler")
	}
}

func TestMetricsHandler(t *testing.T) {
	m := New()
	m.IncHalts("prom")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `servo_check_halts_total{connector="prom"} 1`) {
		t.Fatalf("expected halts counter in output, got:\n%s", rec.Body.String())
	}
}
