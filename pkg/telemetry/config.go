package telemetry

import (
	"fmt"
	"sort"
	"time"
)

// Config is the telemetry configuration of a Vizor process. It is usually
// derived from the settings file through config.Settings.TelemetryConfig.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string

	Logging LoggingConfig
	Tracing TracingConfig
	Metrics MetricsConfig
	Events  EventsConfig
}

// LoggingConfig configures the root zerolog logger.
type LoggingConfig struct {
	// Level is one of trace, debug, info, warn, error, fatal.
	Level string

	// Format is console or json.
	Format string

	// Output is stdout, stderr or a file path.
	Output string

	EnableCaller bool

	// TimeFormat is unix, unixms or rfc3339.
	TimeFormat string

	// Verbose enables payload dumps (fetched data, parsed options, click
	// parameters). It can be toggled at runtime with Logger.SetVerbose.
	Verbose bool
}

// TracingConfig configures chart and fetch spans.
type TracingConfig struct {
	Enabled bool

	// Exporter is otlp, stdout or none.
	Exporter string

	// Endpoint is the OTLP gRPC collector address. Required for otlp.
	Endpoint string

	// SamplingRate is the ratio of root spans kept, 0 to 1.
	SamplingRate float64

	// ExportTimeout bounds a single batch export.
	ExportTimeout time.Duration

	Insecure bool
}

// MetricsConfig configures the Prometheus registry served by the host API.
type MetricsConfig struct {
	Enabled   bool
	Namespace string

	// OperationBuckets are the latency buckets, in seconds, for chart
	// operations (create, set options, resize, dispose).
	OperationBuckets []float64

	// FetchBuckets are the latency buckets, in seconds, for external data
	// retrievals. Remote files over sftp routinely take seconds.
	FetchBuckets []float64
}

// EventsConfig configures the chart lifecycle and click event publisher.
type EventsConfig struct {
	Enabled       bool
	BufferSize    int
	FlushInterval time.Duration
	MaxBatchSize  int

	// EnableAsync delivers events from a background goroutine. When false,
	// subscribers run on the publishing goroutine.
	EnableAsync bool
}

// DefaultConfig returns the configuration used when no settings file is given.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "vizor",
		ServiceVersion: "dev",
		Environment:    "development",
		Logging: LoggingConfig{
			Level:        "info",
			Format:       "console",
			Output:       "stdout",
			EnableCaller: true,
			TimeFormat:   "rfc3339",
		},
		Tracing: TracingConfig{
			Exporter:      "none",
			SamplingRate:  1.0,
			ExportTimeout: 30 * time.Second,
			Insecure:      true,
		},
		Metrics: MetricsConfig{
			Enabled:          true,
			Namespace:        "vizor",
			OperationBuckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
			FetchBuckets:     []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		Events: EventsConfig{
			Enabled:       true,
			BufferSize:    1000,
			FlushInterval: 5 * time.Second,
			MaxBatchSize:  100,
			EnableAsync:   true,
		},
	}
}

// DevelopmentConfig is DefaultConfig with debug logs, payload dumps and
// spans printed to stdout.
func DevelopmentConfig() *Config {
	cfg := DefaultConfig()
	cfg.Logging.Level = "debug"
	cfg.Logging.Verbose = true
	cfg.Tracing.Enabled = true
	cfg.Tracing.Exporter = "stdout"
	return cfg
}

var validLevels = map[string]bool{
	"trace": true, "debug": true, "info": true,
	"warn": true, "error": true, "fatal": true,
}

var validExporters = map[string]bool{
	"otlp": true, "stdout": true, "none": true,
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.ServiceName == "" {
		return fmt.Errorf("service name is required")
	}
	if c.ServiceVersion == "" {
		return fmt.Errorf("service version is required")
	}

	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}
	if c.Logging.Format != "console" && c.Logging.Format != "json" {
		return fmt.Errorf("invalid log format: %s (must be 'console' or 'json')", c.Logging.Format)
	}

	if c.Tracing.Enabled {
		if !validExporters[c.Tracing.Exporter] {
			return fmt.Errorf("invalid trace exporter: %s", c.Tracing.Exporter)
		}
		if c.Tracing.Exporter == "otlp" && c.Tracing.Endpoint == "" {
			return fmt.Errorf("otlp trace exporter requires an endpoint")
		}
	}
	if c.Tracing.SamplingRate < 0 || c.Tracing.SamplingRate > 1 {
		return fmt.Errorf("trace sampling rate must be between 0 and 1, got: %f", c.Tracing.SamplingRate)
	}

	if c.Metrics.Enabled {
		if !sort.Float64sAreSorted(c.Metrics.OperationBuckets) {
			return fmt.Errorf("operation buckets must be ascending")
		}
		if !sort.Float64sAreSorted(c.Metrics.FetchBuckets) {
			return fmt.Errorf("fetch buckets must be ascending")
		}
	}

	if c.Events.Enabled && c.Events.BufferSize <= 0 {
		return fmt.Errorf("event buffer size must be positive, got: %d", c.Events.BufferSize)
	}

	return nil
}
