package observability

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"go.opentelemetry.io/otel"
)

func TestCollectorCountsIngest(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := NewCollector(reg)
	if err != nil {
		t.Fatalf("NewCollector: %v", err)
	}

	c.Datagram(70)
	c.Datagram(30)
	c.Sentence("decoded")
	c.Sentence("decoded")
	c.Sentence("checksum_error")

	if got := testutil.ToFloat64(c.Datagrams); got != 2 {
		t.Fatalf("avl_datagrams_total=%v want 2", got)
	}
	if got := testutil.ToFloat64(c.DatagramBytes); got != 100 {
		t.Fatalf("avl_datagram_bytes_total=%v want 100", got)
	}
	if got := testutil.ToFloat64(c.Sentences.WithLabelValues("decoded")); got != 2 {
		t.Fatalf("decoded=%v want 2", got)
	}
	if got := testutil.ToFloat64(c.Sentences.WithLabelValues("checksum_error")); got != 1 {
		t.Fatalf("checksum_error=%v want 1", got)
	}
}

func TestCollectorTracksWrites(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := NewCollector(reg)
	if err != nil {
		t.Fatalf("NewCollector: %v", err)
	}

	c.WriteStarted()
	c.WriteStarted()
	if got := testutil.ToFloat64(c.WritesInFlight); got != 2 {
		t.Fatalf("in_flight=%v want 2", got)
	}
	c.WriteFinished(3*time.Millisecond, nil)
	c.WriteFinished(time.Second, errors.New("db down"))

	if got := testutil.ToFloat64(c.WritesInFlight); got != 0 {
		t.Fatalf("in_flight=%v want 0", got)
	}
	if got := testutil.ToFloat64(c.Writes.WithLabelValues("ok")); got != 1 {
		t.Fatalf("ok=%v want 1", got)
	}
	if got := testutil.ToFloat64(c.Writes.WithLabelValues("error")); got != 1 {
		t.Fatalf("error=%v want 1", got)
	}
	if n := histogramCount(t, reg, "avl_store_write_duration_seconds"); n != 2 {
		t.Fatalf("write histogram count=%d want 2", n)
	}
}

func TestCollectorFeed(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := NewCollector(reg)
	if err != nil {
		t.Fatalf("NewCollector: %v", err)
	}

	c.FeedRendered(10*time.Millisecond, 7, nil)
	c.FeedRendered(10*time.Millisecond, 0, errors.New("boom"))
	c.FeedCacheHit()

	if got := testutil.ToFloat64(c.FeedEntities); got != 7 {
		t.Fatalf("entities=%v want 7 (errors must not reset)", got)
	}
	if got := testutil.ToFloat64(c.FeedRenders.WithLabelValues("error")); got != 1 {
		t.Fatalf("render errors=%v want 1", got)
	}
	if got := testutil.ToFloat64(c.FeedCacheHits); got != 1 {
		t.Fatalf("cache hits=%v want 1", got)
	}
}

func TestNewCollectorReusesRegistered(t *testing.T) {
	reg := prometheus.NewRegistry()
	a, err := NewCollector(reg)
	if err != nil {
		t.Fatalf("NewCollector: %v", err)
	}
	b, err := NewCollector(reg)
	if err != nil {
		t.Fatalf("second NewCollector: %v", err)
	}
	a.Datagram(1)
	if got := testutil.ToFloat64(b.Datagrams); got != 1 {
		t.Fatalf("shared counter=%v want 1", got)
	}
}

func TestNilCollectorIsSafe(t *testing.T) {
	var c *Collector
	c.Datagram(1)
	c.Sentence("decoded")
	c.WriteStarted()
	c.WriteFinished(time.Millisecond, nil)
	c.FeedCacheHit()
	c.FeedRendered(time.Millisecond, 1, nil)
}

func TestHandlerServesRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := NewCollector(reg)
	if err != nil {
		t.Fatalf("NewCollector: %v", err)
	}
	c.Datagram(5)

	rr := httptest.NewRecorder()
	c.Handler().ServeHTTP(rr, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rr.Body)
	if !strings.Contains(string(body), "avl_datagrams_total 1") {
		t.Fatalf("metrics output missing counter:\n%s", body)
	}
}

func TestInitTracingDisabled(t *testing.T) {
	shutdown, err := InitTracing(context.Background(), TracingConfig{Enabled: false}, nil)
	if err != nil {
		t.Fatalf("InitTracing: %v", err)
	}
	_, span := otel.Tracer("test").Start(context.Background(), "noop")
	if span.SpanContext().IsValid() {
		t.Fatalf("noop provider produced a valid span context")
	}
	span.End()
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestInitTracingStdout(t *testing.T) {
	var buf bytes.Buffer
	shutdown, err := InitTracing(context.Background(), TracingConfig{
		Enabled:     true,
		ServiceName: "avl-test",
		Exporter:    "stdout",
		Writer:      &buf,
	}, nil)
	if err != nil {
		t.Fatalf("InitTracing: %v", err)
	}
	t.Cleanup(func() {
		_, _ = InitTracing(context.Background(), TracingConfig{}, nil)
	})

	_, span := otel.Tracer("test").Start(context.Background(), "storage.record")
	span.End()
	ShutdownWithTimeout(context.Background(), shutdown, nil)

	if !strings.Contains(buf.String(), "storage.record") {
		t.Fatalf("stdout exporter did not emit span; got %q", buf.String())
	}
}

func TestInitTracingUnknownExporter(t *testing.T) {
	if _, err := InitTracing(context.Background(), TracingConfig{Enabled: true, Exporter: "zipkin"}, nil); err == nil {
		t.Fatalf("expected error for unsupported exporter")
	}
}

func histogramCount(t *testing.T, reg *prometheus.Registry, name string) uint64 {
	t.Helper()
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
		var total uint64
		for _, m := range mf.GetMetric() {
			if m.GetHistogram() != nil {
				total += histogramOf(m).GetSampleCount()
			}
		}
		return total
	}
	t.Fatalf("metric %s not found", name)
	return 0
}

func histogramOf(m *dto.Metric) *dto.Histogram { return m.GetHistogram() }
