package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
)

func TestPrometheusHandler_ExposesCounters(t *testing.T) {
	m := New()
	m.Inc(ParticipantJoin)
	m.Inc(ParticipantJoin)
	m.Inc(PeerNotFound)

	rr := httptest.NewRecorder()
	PrometheusHandler(m).ServeHTTP(rr, httptest.NewRequest("GET", "/metrics", nil))

	if rr.Code != 200 {
		t.Fatalf("status=%d, want 200", rr.Code)
	}
	body := rr.Body.String()
	if !strings.Contains(body, `telecall_signaling_events_total{event="participant_join"} 2`) {
		t.Fatalf("missing participant_join counter in body:\n%s", body)
	}
	if !strings.Contains(body, `telecall_signaling_events_total{event="peer_not_found"} 1`) {
		t.Fatalf("missing peer_not_found counter in body:\n%s", body)
	}
	if !strings.HasPrefix(body, "# HELP telecall_signaling_events_total") {
		t.Fatalf("missing HELP header in body:\n%s", body)
	}
}

func TestPrometheusHandler_NilMetrics(t *testing.T) {
	rr := httptest.NewRecorder()
	PrometheusHandler(nil).ServeHTTP(rr, httptest.NewRequest("GET", "/metrics", nil))
	if rr.Code != 500 {
		t.Fatalf("status=%d, want 500", rr.Code)
	}
}

func TestMetrics_SnapshotIsACopy(t *testing.T) {
	m := New()
	m.Inc(RoomCreated)

	snap := m.Snapshot()
	snap[RoomCreated] = 100

	if got := m.Get(RoomCreated); got != 1 {
		t.Fatalf("Get(%s)=%d, want 1 after mutating snapshot", RoomCreated, got)
	}
}
