package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestTimetableBatchCounters(t *testing.T) {
	m := New()
	m.TimetableBatch(2, 1, 3)
	m.TimetableBatch(1, 0, 0)

	body := scrape(t, m)
	if !strings.Contains(body, `schoolboard_timetable_operations_total{op="create"} 3`) {
		t.Fatalf("expected 3 creates in exposition")
	}
	if !strings.Contains(body, `schoolboard_timetable_operations_total{op="update"} 3`) {
		t.Fatalf("expected 3 updates in exposition")
	}
}

func TestHandlerExposesRegistry(t *testing.T) {
	m := New()
	m.ObserveRequest(http.MethodGet, "/health", http.StatusOK, 5*time.Millisecond)

	if !strings.Contains(scrape(t, m), `schoolboard_http_requests_total{method="GET",route="/health",status="200"} 1`) {
		t.Fatalf("request counter missing from exposition")
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.TimetableBatch(1, 1, 1)
	m.DraftConflict()
	m.DisplayClientConnected()
	m.RosterSkip("already_member")
}

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	return rec.Body.String()
}
