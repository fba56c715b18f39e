package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.Cycle("delivered", time.Second)
	m.CacheLookup(true)
	m.PacketSent("console", 3)
	m.ChannelError("console", "send")
	m.Aborted()
	if m.Registry() != nil {
		t.Fatalf("nil metrics must have no registry")
	}
}

func TestCountersAndHandler(t *testing.T) {
	m := New()
	m.PacketSent("console", 3)
	m.PacketSent("console", 4)
	m.CacheLookup(false)
	m.Aborted()

	if got := testutil.ToFloat64(m.bytes.WithLabelValues("console")); got != 7 {
		t.Fatalf("bytes = %v", got)
	}
	if got := testutil.ToFloat64(m.aborts); got != 1 {
		t.Fatalf("aborts = %v", got)
	}

	h := m.Collect(m.Handler())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "wearnotify_packets_total") {
		t.Fatalf("metrics output missing packets counter")
	}
}
