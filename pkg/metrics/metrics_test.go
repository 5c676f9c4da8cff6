package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewWithRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWithRegistry(reg)

	m.DocsIndexedTotal.Add(3)
	m.DocsSkippedTotal.WithLabelValues(SkipEmpty).Inc()
	m.BuildsTotal.WithLabelValues("success").Inc()

	if got := testutil.ToFloat64(m.DocsIndexedTotal); got != 3 {
		t.Errorf("docs_indexed_total = %v, want 3", got)
	}
	if got := testutil.ToFloat64(m.DocsSkippedTotal.WithLabelValues(SkipEmpty)); got != 1 {
		t.Errorf("docs_skipped_total{reason=empty} = %v, want 1", got)
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	if len(families) == 0 {
		t.Error("expected registered metric families")
	}

	// A second set on its own registry must not collide.
	NewWithRegistry(prometheus.NewRegistry())
}

func TestNewServerExposesMetricsOnly(t *testing.T) {
	srv := NewServer(9102, time.Second)
	if srv.Addr != ":9102" {
		t.Errorf("Addr = %q", srv.Addr)
	}

	rec := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("/metrics status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "go_goroutines") {
		t.Error("default registry missing from /metrics")
	}

	rec = httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("/ status = %d, want 404", rec.Code)
	}
}
