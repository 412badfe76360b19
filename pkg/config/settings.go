package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/vizor/vizor/pkg/telemetry"
)

// Environment variables that override settings files.
const (
	EnvLogLevel     = "VIZOR_LOG_LEVEL"
	EnvCacheBackend = "VIZOR_CACHE_BACKEND"
)

// Cache backends.
const (
	CacheBackendMemory = "memory"
	CacheBackendSQLite = "sqlite"
	CacheBackendRedis  = "redis"
)

// Settings is the process configuration of a Vizor host.
type Settings struct {
	Logging   LoggingSettings   `yaml:"logging" toml:"logging" json:"logging"`
	Tracing   TracingSettings   `yaml:"tracing" toml:"tracing" json:"tracing"`
	Metrics   MetricsSettings   `yaml:"metrics" toml:"metrics" json:"metrics"`
	Cache     CacheSettings     `yaml:"cache" toml:"cache" json:"cache"`
	Fetch     FetchSettings     `yaml:"fetch" toml:"fetch" json:"fetch"`
	SFTP      SFTPSettings      `yaml:"sftp" toml:"sftp" json:"sftp"`
	Policy    PolicySettings    `yaml:"policy" toml:"policy" json:"policy"`
	Evaluator EvaluatorSettings `yaml:"evaluator" toml:"evaluator" json:"evaluator"`
	Server    ServerSettings    `yaml:"server" toml:"server" json:"server"`
}

// LoggingSettings configures the zerolog logger.
type LoggingSettings struct {
	Level   string `yaml:"level" toml:"level" json:"level" validate:"oneof=trace debug info warn error fatal"`
	Format  string `yaml:"format" toml:"format" json:"format" validate:"oneof=console json"`
	Output  string `yaml:"output" toml:"output" json:"output"`
	Verbose bool   `yaml:"verbose" toml:"verbose" json:"verbose"`
	Caller  bool   `yaml:"caller" toml:"caller" json:"caller"`
}

// TracingSettings configures OpenTelemetry tracing.
type TracingSettings struct {
	Enabled      bool    `yaml:"enabled" toml:"enabled" json:"enabled"`
	Exporter     string  `yaml:"exporter" toml:"exporter" json:"exporter" validate:"oneof=otlp stdout none"`
	Endpoint     string  `yaml:"endpoint" toml:"endpoint" json:"endpoint" validate:"required_if=Exporter otlp"`
	SamplingRate float64 `yaml:"sampling_rate" toml:"sampling_rate" json:"sampling_rate" validate:"gte=0,lte=1"`
	Insecure     bool    `yaml:"insecure" toml:"insecure" json:"insecure"`
}

// MetricsSettings configures the Prometheus registry.
type MetricsSettings struct {
	Enabled bool   `yaml:"enabled" toml:"enabled" json:"enabled"`
	Path    string `yaml:"path" toml:"path" json:"path" validate:"startswith=/"`
}

// CacheSettings selects the data source cache backend.
type CacheSettings struct {
	Backend string         `yaml:"backend" toml:"backend" json:"backend" validate:"oneof=memory sqlite redis"`
	SQLite  SQLiteSettings `yaml:"sqlite" toml:"sqlite" json:"sqlite"`
	Redis   RedisSettings  `yaml:"redis" toml:"redis" json:"redis"`
}

// SQLiteSettings configures the SQLite cache backend.
type SQLiteSettings struct {
	Path string `yaml:"path" toml:"path" json:"path"`
}

// RedisSettings configures the Redis cache backend.
type RedisSettings struct {
	Addr     string `yaml:"addr" toml:"addr" json:"addr"`
	Password string `yaml:"password" toml:"password" json:"password"`
	DB       int    `yaml:"db" toml:"db" json:"db" validate:"gte=0"`
	Prefix   string `yaml:"prefix" toml:"prefix" json:"prefix"`
}

// FetchSettings configures the HTTP fetch transport.
type FetchSettings struct {
	Timeout      Duration `yaml:"timeout" toml:"timeout" json:"timeout"`
	UserAgent    string   `yaml:"user_agent" toml:"user_agent" json:"user_agent"`
	MaxBodyBytes int64    `yaml:"max_body_bytes" toml:"max_body_bytes" json:"max_body_bytes" validate:"gte=0"`
}

// SFTPSettings configures the sftp:// fetch transport.
type SFTPSettings struct {
	Enabled               bool     `yaml:"enabled" toml:"enabled" json:"enabled"`
	User                  string   `yaml:"user" toml:"user" json:"user" validate:"required_if=Enabled true"`
	Password              string   `yaml:"password" toml:"password" json:"password"`
	KeyFile               string   `yaml:"key_file" toml:"key_file" json:"key_file"`
	KnownHosts            string   `yaml:"known_hosts" toml:"known_hosts" json:"known_hosts"`
	InsecureIgnoreHostKey bool     `yaml:"insecure_ignore_host_key" toml:"insecure_ignore_host_key" json:"insecure_ignore_host_key"`
	Timeout               Duration `yaml:"timeout" toml:"timeout" json:"timeout"`
}

// PolicySettings configures fetch admission policies.
type PolicySettings struct {
	Enabled bool     `yaml:"enabled" toml:"enabled" json:"enabled"`
	Dirs    []string `yaml:"dirs" toml:"dirs" json:"dirs"`
	Watch   bool     `yaml:"watch" toml:"watch" json:"watch"`
}

// EvaluatorSettings bounds Starlark evaluation.
type EvaluatorSettings struct {
	Timeout  Duration `yaml:"timeout" toml:"timeout" json:"timeout"`
	MaxSteps uint64   `yaml:"max_steps" toml:"max_steps" json:"max_steps"`
}

// ServerSettings configures the HTTP host API.
type ServerSettings struct {
	Listen              string   `yaml:"listen" toml:"listen" json:"listen" validate:"required"`
	ReadTimeout         Duration `yaml:"read_timeout" toml:"read_timeout" json:"read_timeout"`
	WriteTimeout        Duration `yaml:"write_timeout" toml:"write_timeout" json:"write_timeout"`
	ClickWebhookTimeout Duration `yaml:"click_webhook_timeout" toml:"click_webhook_timeout" json:"click_webhook_timeout"`
}

// Duration is a time.Duration written as a string such as "5s" in settings files.
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// DefaultSettings returns settings suitable for local use.
func DefaultSettings() *Settings {
	return &Settings{
		Logging: LoggingSettings{
			Level:  "info",
			Format: "console",
			Output: "stderr",
		},
		Tracing: TracingSettings{
			Exporter:     "none",
			SamplingRate: 1.0,
			Insecure:     true,
		},
		Metrics: MetricsSettings{
			Enabled: true,
			Path:    "/metrics",
		},
		Cache: CacheSettings{
			Backend: CacheBackendMemory,
			SQLite:  SQLiteSettings{Path: "vizor-cache.db"},
			Redis:   RedisSettings{Addr: "localhost:6379", Prefix: "vizor:datasource:"},
		},
		Fetch: FetchSettings{
			Timeout:      Duration(30 * time.Second),
			UserAgent:    "vizor",
			MaxBodyBytes: 32 << 20,
		},
		SFTP: SFTPSettings{
			Timeout: Duration(30 * time.Second),
		},
		Evaluator: EvaluatorSettings{
			Timeout:  Duration(DefaultEvalTimeout),
			MaxSteps: DefaultMaxSteps,
		},
		Server: ServerSettings{
			Listen:              ":8080",
			ReadTimeout:         Duration(15 * time.Second),
			WriteTimeout:        Duration(60 * time.Second),
			ClickWebhookTimeout: Duration(10 * time.Second),
		},
	}
}

// LoadSettings reads settings from path, choosing the decoder by extension
// (.yaml/.yml, .toml or .json). Values not present in the file keep their
// defaults. Environment overrides are applied and the result is validated.
func LoadSettings(path string) (*Settings, error) {
	settings := DefaultSettings()

	if path != "" {
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read settings %s: %w", path, err)
		}

		switch ext := strings.ToLower(filepath.Ext(path)); ext {
		case ".yaml", ".yml":
			err = yaml.Unmarshal(content, settings)
		case ".toml":
			_, err = toml.Decode(string(content), settings)
		case ".json":
			err = json.Unmarshal(content, settings)
		default:
			return nil, fmt.Errorf("unsupported settings format %q", ext)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to decode settings %s: %w", path, err)
		}
	}

	settings.ApplyEnv(os.LookupEnv)

	if err := settings.Validate(); err != nil {
		return nil, err
	}
	return settings, nil
}

// ApplyEnv applies environment overrides using lookup.
func (s *Settings) ApplyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvLogLevel); ok && v != "" {
		s.Logging.Level = strings.ToLower(v)
	}
	if v, ok := lookup(EnvCacheBackend); ok && v != "" {
		s.Cache.Backend = strings.ToLower(v)
	}
}

// Validate checks the settings.
func (s *Settings) Validate() error {
	if err := validator.New().Struct(s); err != nil {
		return fmt.Errorf("invalid settings: %w", err)
	}

	switch s.Cache.Backend {
	case CacheBackendSQLite:
		if s.Cache.SQLite.Path == "" {
			return fmt.Errorf("invalid settings: cache.sqlite.path is required for the sqlite backend")
		}
	case CacheBackendRedis:
		if s.Cache.Redis.Addr == "" {
			return fmt.Errorf("invalid settings: cache.redis.addr is required for the redis backend")
		}
	}

	if s.Policy.Watch && len(s.Policy.Dirs) == 0 {
		return fmt.Errorf("invalid settings: policy.watch requires policy.dirs")
	}
	return nil
}

// TelemetryConfig converts the settings into a telemetry configuration.
func (s *Settings) TelemetryConfig(version string) *telemetry.Config {
	cfg := telemetry.DefaultConfig()
	if version != "" {
		cfg.ServiceVersion = version
	}

	cfg.Logging.Level = s.Logging.Level
	cfg.Logging.Format = s.Logging.Format
	cfg.Logging.Output = s.Logging.Output
	cfg.Logging.Verbose = s.Logging.Verbose
	cfg.Logging.EnableCaller = s.Logging.Caller

	cfg.Tracing.Enabled = s.Tracing.Enabled
	cfg.Tracing.Exporter = s.Tracing.Exporter
	cfg.Tracing.Endpoint = s.Tracing.Endpoint
	cfg.Tracing.SamplingRate = s.Tracing.SamplingRate
	cfg.Tracing.Insecure = s.Tracing.Insecure

	cfg.Metrics.Enabled = s.Metrics.Enabled

	return cfg
}
