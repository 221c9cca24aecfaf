package metrics

import (
	"math"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestCounterAndGauge(t *testing.T) {
	c := NewMetricsCollector()

	ctr := c.Counter("test_total", "test counter")
	ctr.Inc()
	ctr.Add(4)
	if ctr.Value() != 5 {
		t.Fatalf("counter = %d, want 5", ctr.Value())
	}

	// Same name returns the same counter.
	if c.Counter("test_total", "ignored") != ctr {
		t.Fatal("counter not deduplicated by name")
	}

	g := c.Gauge("test_gauge", "test gauge")
	g.Set(10)
	g.Inc()
	g.Dec()
	g.Dec()
	if g.Value() != 9 {
		t.Fatalf("gauge = %d, want 9", g.Value())
	}
}

func TestHistogramBuckets(t *testing.T) {
	c := NewMetricsCollector()
	h := c.Histogram("test_seconds", "test histogram", []float64{1, 10, math.Inf(1)})

	for _, v := range []float64{0.5, 5, 50} {
		h.Observe(v)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.count != 3 || h.sum != 55.5 {
		t.Fatalf("count=%d sum=%f", h.count, h.sum)
	}
	// Buckets are cumulative.
	if h.buckets[0].count != 1 || h.buckets[1].count != 2 || h.buckets[2].count != 3 {
		t.Fatalf("bucket counts wrong: %+v", h.buckets)
	}
}

func TestHandler_ExpositionFormat(t *testing.T) {
	c := NewMetricsCollector()
	c.Counter("desk_widgets_total", "widgets").Add(7)
	c.Gauge("desk_depth", "queue depth").Set(3)
	c.Histogram("desk_wait_seconds", "wait", []float64{1, math.Inf(1)}).Observe(0.2)

	rec := httptest.NewRecorder()
	c.Handler()(rec, httptest.NewRequest("GET", "/metrics", nil))

	body := rec.Body.String()
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Fatalf("content type: %q", ct)
	}
	for _, want := range []string{
		"supportdesk_uptime_seconds",
		"# TYPE desk_widgets_total counter",
		"desk_widgets_total 7",
		"# TYPE desk_depth gauge",
		"desk_depth 3",
		"# TYPE desk_wait_seconds histogram",
		`desk_wait_seconds_bucket{le="+Inf"} 1`,
		"desk_wait_seconds_count 1",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("exposition missing %q\n%s", want, body)
		}
	}
}
