package config

import (
	"testing"
	"time"
)

func TestLoadSettings_Formats(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name    string
		file    string
		content string
		check   func(*testing.T, *Settings)
	}{
		{
			name: "yaml",
			file: "vizor.yaml",
			content: `
logging:
  level: debug
  format: json
cache:
  backend: sqlite
  sqlite:
    path: /tmp/cache.db
fetch:
  timeout: 5s
`,
			check: func(t *testing.T, s *Settings) {
				if s.Logging.Level != "debug" || s.Logging.Format != "json" {
					t.Errorf("logging = %+v", s.Logging)
				}
				if s.Cache.Backend != CacheBackendSQLite || s.Cache.SQLite.Path != "/tmp/cache.db" {
					t.Errorf("cache = %+v", s.Cache)
				}
				if s.Fetch.Timeout.Std() != 5*time.Second {
					t.Errorf("fetch timeout = %v", s.Fetch.Timeout.Std())
				}
				// Untouched sections keep defaults.
				if s.Server.Listen != ":8080" {
					t.Errorf("server listen = %q", s.Server.Listen)
				}
			},
		},
		{
			name: "toml",
			file: "vizor.toml",
			content: `
[cache]
backend = "redis"

[cache.redis]
addr = "redis:6379"
db = 2

[evaluator]
timeout = "250ms"
max_steps = 5000
`,
			check: func(t *testing.T, s *Settings) {
				if s.Cache.Backend != CacheBackendRedis || s.Cache.Redis.Addr != "redis:6379" || s.Cache.Redis.DB != 2 {
					t.Errorf("cache = %+v", s.Cache)
				}
				if s.Evaluator.Timeout.Std() != 250*time.Millisecond || s.Evaluator.MaxSteps != 5000 {
					t.Errorf("evaluator = %+v", s.Evaluator)
				}
			},
		},
		{
			name:    "json",
			file:    "vizor.json",
			content: `{"server": {"listen": "127.0.0.1:9000"}, "policy": {"enabled": true, "dirs": ["policies"]}}`,
			check: func(t *testing.T, s *Settings) {
				if s.Server.Listen != "127.0.0.1:9000" {
					t.Errorf("server = %+v", s.Server)
				}
				if !s.Policy.Enabled || len(s.Policy.Dirs) != 1 {
					t.Errorf("policy = %+v", s.Policy)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, dir, tt.file, tt.content)
			s, err := LoadSettings(path)
			if err != nil {
				t.Fatalf("LoadSettings() error = %v", err)
			}
			tt.check(t, s)
		})
	}
}

func TestLoadSettings_Invalid(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name    string
		file    string
		content string
	}{
		{name: "bad level", file: "a.yaml", content: "logging:\n  level: loud\n"},
		{name: "bad backend", file: "b.yaml", content: "cache:\n  backend: mongo\n"},
		{name: "otlp without endpoint", file: "c.yaml", content: "tracing:\n  exporter: otlp\n"},
		{name: "sftp without user", file: "d.yaml", content: "sftp:\n  enabled: true\n"},
		{name: "watch without dirs", file: "e.yaml", content: "policy:\n  watch: true\n"},
		{name: "bad duration", file: "f.yaml", content: "fetch:\n  timeout: soon\n"},
		{name: "unsupported format", file: "g.ini", content: "x=1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, dir, tt.file, tt.content)
			if _, err := LoadSettings(path); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestSettings_ApplyEnv(t *testing.T) {
	s := DefaultSettings()
	env := map[string]string{
		EnvLogLevel:     "DEBUG",
		EnvCacheBackend: "sqlite",
	}
	s.ApplyEnv(func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	})

	if s.Logging.Level != "debug" {
		t.Errorf("level = %q, want debug", s.Logging.Level)
	}
	if s.Cache.Backend != CacheBackendSQLite {
		t.Errorf("backend = %q, want sqlite", s.Cache.Backend)
	}
	if err := s.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestSettings_TelemetryConfig(t *testing.T) {
	s := DefaultSettings()
	s.Logging.Verbose = true
	s.Tracing.Enabled = true
	s.Tracing.Exporter = "stdout"

	cfg := s.TelemetryConfig("1.2.3")
	if cfg.ServiceVersion != "1.2.3" {
		t.Errorf("version = %q", cfg.ServiceVersion)
	}
	if !cfg.Logging.Verbose || cfg.Tracing.Exporter != "stdout" {
		t.Errorf("unexpected telemetry config %+v", cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("telemetry config invalid: %v", err)
	}
}
