package telemetry

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "default", mutate: func(*Config) {}},
		{name: "development", mutate: func(c *Config) { *c = *DevelopmentConfig() }},
		{name: "missing service name", mutate: func(c *Config) { c.ServiceName = "" }, wantErr: true},
		{name: "bad level", mutate: func(c *Config) { c.Logging.Level = "loud" }, wantErr: true},
		{name: "bad format", mutate: func(c *Config) { c.Logging.Format = "xml" }, wantErr: true},
		{
			name: "bad exporter",
			mutate: func(c *Config) {
				c.Tracing.Enabled = true
				c.Tracing.Exporter = "jaeger"
			},
			wantErr: true,
		},
		{
			name: "otlp without endpoint",
			mutate: func(c *Config) {
				c.Tracing.Enabled = true
				c.Tracing.Exporter = "otlp"
			},
			wantErr: true,
		},
		{
			name: "otlp with endpoint",
			mutate: func(c *Config) {
				c.Tracing.Enabled = true
				c.Tracing.Exporter = "otlp"
				c.Tracing.Endpoint = "collector:4317"
			},
		},
		{name: "unsorted fetch buckets", mutate: func(c *Config) { c.Metrics.FetchBuckets = []float64{1, 0.5} }, wantErr: true},
		{name: "unsorted operation buckets", mutate: func(c *Config) { c.Metrics.OperationBuckets = []float64{1, 0.5} }, wantErr: true},
		{
			name: "buckets ignored when metrics disabled",
			mutate: func(c *Config) {
				c.Metrics.Enabled = false
				c.Metrics.FetchBuckets = []float64{1, 0.5}
			},
		},
		{name: "bad sampling", mutate: func(c *Config) { c.Tracing.SamplingRate = 2 }, wantErr: true},
		{name: "bad buffer", mutate: func(c *Config) { c.Events.BufferSize = 0 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoggerVerboseIsShared(t *testing.T) {
	var buf bytes.Buffer
	root := NewLoggerFrom(zerolog.New(&buf))
	child := root.NewComponentLogger("fetcher").WithChartID("c1")

	child.Dump("fetched", map[string]interface{}{"a": 1})
	if buf.Len() != 0 {
		t.Fatalf("expected no output with verbose off, got %q", buf.String())
	}

	root.SetVerbose(true)
	if !child.Verbose() {
		t.Fatal("child logger did not observe verbose switch")
	}

	child.Dump("fetched", map[string]interface{}{"a": 1})
	out := buf.String()
	if !strings.Contains(out, `"chart_id":"c1"`) || !strings.Contains(out, `"payload":{"a":1}`) {
		t.Fatalf("unexpected dump output: %s", out)
	}
}

func TestMetricsNilSafe(t *testing.T) {
	var m *Metrics
	m.RecordChartOperation("create", "success", time.Millisecond)
	m.RecordFetch("json", "success", time.Millisecond)
	m.RecordClick("forwarded")
	m.RecordError("fatal", "FETCH_FAILED")

	disabled, err := NewMetrics(MetricsConfig{Enabled: false})
	if err != nil {
		t.Fatalf("NewMetrics() error = %v", err)
	}
	disabled.SetActiveCharts(3)
	if disabled.Registry() != nil {
		t.Fatal("expected no registry when disabled")
	}
}

func TestMetricsHandler(t *testing.T) {
	cfg := DefaultConfig().Metrics
	m, err := NewMetrics(cfg)
	if err != nil {
		t.Fatalf("NewMetrics() error = %v", err)
	}

	m.RecordChartOperation("create", "success", 5*time.Millisecond)
	m.RecordFetch("json", "failed", time.Millisecond)
	m.RecordMapRegistration("geoJSON", "registered")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	body := rec.Body.String()
	for _, want := range []string{
		`vizor_chart_operations_total{operation="create",status="success"} 1`,
		`vizor_fetches_total{fetch_as="json",status="failed"} 1`,
		`vizor_maps_registered_total{status="registered",type="geoJSON"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}

func TestMetricsHistogramBuckets(t *testing.T) {
	cfg := DefaultConfig().Metrics
	cfg.OperationBuckets = []float64{0.001, 0.01}
	cfg.FetchBuckets = []float64{1, 30}
	m, err := NewMetrics(cfg)
	if err != nil {
		t.Fatalf("NewMetrics() error = %v", err)
	}

	m.RecordChartOperation("create", "success", 5*time.Millisecond)
	m.RecordFetch("json", "success", 2*time.Second)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rec.Body.String()

	tests := []struct {
		name string
		want string
	}{
		{name: "operation bucket", want: `vizor_chart_operation_duration_seconds_bucket{operation="create",le="0.01"} 1`},
		{name: "fetch lower bucket", want: `vizor_fetch_duration_seconds_bucket{status="success",le="1"} 0`},
		{name: "fetch upper bucket", want: `vizor_fetch_duration_seconds_bucket{status="success",le="30"} 1`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !strings.Contains(body, tt.want) {
				t.Errorf("metrics output missing %q", tt.want)
			}
		})
	}
}

func TestEventPublisherSync(t *testing.T) {
	ep, err := NewEventPublisher(EventsConfig{Enabled: true, BufferSize: 10})
	if err != nil {
		t.Fatalf("NewEventPublisher() error = %v", err)
	}
	defer ep.Shutdown(context.Background())

	got := make(chan Event, 4)
	ep.Subscribe(func(e Event) { got <- e }, FilterByChartID("c1"))

	if err := ep.PublishChartDisposed("c2", nil); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if err := ep.PublishChartDisposed("c1", []string{"k1", "k2"}); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	select {
	case e := <-got:
		if e.ChartID != "c1" || e.Type != EventTypeChartDisposed {
			t.Fatalf("unexpected event %+v", e)
		}
		if e.ID == "" || e.Timestamp.IsZero() {
			t.Fatal("expected id and timestamp to be set")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}

	select {
	case e := <-got:
		t.Fatalf("unexpected second event %+v", e)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestEventPublisherAsyncFlushesOnShutdown(t *testing.T) {
	ep, err := NewEventPublisher(EventsConfig{
		Enabled:       true,
		BufferSize:    10,
		MaxBatchSize:  100,
		FlushInterval: time.Hour,
		EnableAsync:   true,
	})
	if err != nil {
		t.Fatalf("NewEventPublisher() error = %v", err)
	}

	got := make(chan Event, 4)
	ep.Subscribe(func(e Event) { got <- e }, nil)

	_ = ep.PublishChartCreated("c1", "")
	if err := ep.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}

	select {
	case e := <-got:
		if e.Type != EventTypeChartCreated {
			t.Fatalf("unexpected event %+v", e)
		}
	case <-time.After(time.Second):
		t.Fatal("event was not delivered on shutdown")
	}
}

func TestNopTelemetry(t *testing.T) {
	tel := NewNopTelemetry()
	op := tel.StartChartOperation(context.Background(), "create", "c1")
	op.End(nil)
	if err := tel.Events.PublishChartReady("c1", "create", op.Duration()); err != nil {
		t.Fatalf("PublishChartReady() error = %v", err)
	}
	if err := tel.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
}
