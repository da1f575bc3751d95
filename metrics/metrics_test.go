package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
)

func TestNewCollector_RegistersWithoutPanic(t *testing.T) {
	defer func() {
		if r := recover(); r != nil {
			t.Fatalf("NewCollector() panicked: %v", r)
		}
	}()
	_ = NewCollector()
}

func TestCollector_CountersIncrement(t *testing.T) {
	c := NewCollector()
	c.CacheHits.Inc()
	c.CacheHits.Inc()
	c.CacheMisses.Inc()
	c.UpstreamLatency.Observe(0.05)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	c.Handler().ServeHTTP(rec, req)

	body := rec.Body.String()
	if !strings.Contains(body, "scedge_cache_hits_total 2") {
		t.Errorf("expected scedge_cache_hits_total to report 2, got body:\n%s", body)
	}
	if !strings.Contains(body, "scedge_cache_misses_total 1") {
		t.Errorf("expected scedge_cache_misses_total to report 1, got body:\n%s", body)
	}
	if !strings.Contains(body, "scedge_upstream_latency_seconds") {
		t.Error("expected the latency histogram to be exposed")
	}
}

func TestCollector_IndependentInstances(t *testing.T) {
	a := NewCollector()
	b := NewCollector()

	a.CacheStores.Inc()

	rec := httptest.NewRecorder()
	b.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	if strings.Contains(rec.Body.String(), "scedge_cache_stores_total 1") {
		t.Error("expected each Collector to own an independent registry")
	}
}
