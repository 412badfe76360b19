package bridge

import (
	"context"
	"fmt"

	"github.com/vizor/vizor/pkg/config"
	"github.com/vizor/vizor/pkg/engine"
	"github.com/vizor/vizor/pkg/policy"
	"github.com/vizor/vizor/pkg/render/recorder"
	"github.com/vizor/vizor/pkg/stores"
	"github.com/vizor/vizor/pkg/telemetry"
	"github.com/vizor/vizor/pkg/transports/fetch"
	"github.com/vizor/vizor/pkg/transports/ssh"
)

// Option customizes the composition performed by New.
type Option func(*composeOptions)

type composeOptions struct {
	renderer  engine.Renderer
	viewport  engine.Viewport
	telemetry *telemetry.Telemetry
	version   string
	transport engine.Transport
}

// WithRenderer renders charts with renderer. viewport may be nil. The
// in-memory recorder is used otherwise.
func WithRenderer(renderer engine.Renderer, viewport engine.Viewport) Option {
	return func(o *composeOptions) {
		o.renderer = renderer
		o.viewport = viewport
	}
}

// WithTelemetry reports to tel instead of telemetry built from settings.
// The caller keeps ownership of tel.
func WithTelemetry(tel *telemetry.Telemetry) Option {
	return func(o *composeOptions) {
		o.telemetry = tel
	}
}

// WithVersion sets the service version reported by telemetry.
func WithVersion(version string) Option {
	return func(o *composeOptions) {
		o.version = version
	}
}

// WithTransport replaces the transports built from settings.
func WithTransport(transport engine.Transport) Option {
	return func(o *composeOptions) {
		o.transport = transport
	}
}

// New builds a Bridge from settings: telemetry, the data source cache
// backend, fetch transports, the policy engine and the evaluator. Close
// releases everything New opened.
func New(ctx context.Context, settings *config.Settings, opts ...Option) (_ *Bridge, err error) {
	if settings == nil {
		settings = config.DefaultSettings()
	}
	if err := settings.Validate(); err != nil {
		return nil, err
	}

	o := &composeOptions{}
	for _, opt := range opts {
		opt(o)
	}

	var closers []func(ctx context.Context) error
	defer func() {
		if err != nil {
			for i := len(closers) - 1; i >= 0; i-- {
				_ = closers[i](ctx)
			}
		}
	}()

	tel := o.telemetry
	if tel == nil {
		tel, err = telemetry.NewTelemetry(settings.TelemetryConfig(o.version))
		if err != nil {
			return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
		}
		closers = append(closers, tel.Shutdown)
	}
	logger := tel.Logger.NewComponentLogger("bridge")

	store, err := stores.Open(ctx, storeOptions(settings.Cache))
	if err != nil {
		return nil, err
	}
	closers = append(closers, func(context.Context) error { return store.Close() })
	logger.WithField("backend", settings.Cache.Backend).Debug("data source cache opened")

	transport := o.transport
	if transport == nil {
		mux := fetch.NewDefaultMux(fetch.NewClient(fetch.Options{
			Timeout:      settings.Fetch.Timeout.Std(),
			UserAgent:    settings.Fetch.UserAgent,
			MaxBodyBytes: settings.Fetch.MaxBodyBytes,
			Logger:       tel.Logger,
		}))

		if settings.SFTP.Enabled {
			cfg := sftpConfig(settings.SFTP)
			cfg.Logger = tel.Logger
			sftp, err := ssh.NewTransport(cfg)
			if err != nil {
				return nil, fmt.Errorf("failed to configure sftp transport: %w", err)
			}
			mux.Handle(ssh.Scheme, sftp)
			closers = append(closers, func(context.Context) error { return sftp.Close() })
		}
		logger.WithField("schemes", mux.Schemes()).Debug("fetch transports configured")
		transport = mux
	}

	var guard engine.FetchGuard
	if settings.Policy.Enabled {
		policies, err := newPolicyEngine(ctx, settings.Policy, tel)
		if err != nil {
			return nil, err
		}
		closers = append(closers, func(context.Context) error { return policies.Close() })
		guard = policies
	}

	evaluator := config.NewStarlarkEvaluator(settings.Evaluator.Timeout.Std(),
		config.WithMaxSteps(settings.Evaluator.MaxSteps))

	renderer, viewport := o.renderer, o.viewport
	if renderer == nil {
		rec := recorder.New()
		renderer, viewport = rec, rec
	}

	ctrl, err := engine.NewController(engine.Dependencies{
		Renderer:  renderer,
		Viewport:  viewport,
		Transport: transport,
		Cache:     store,
		Parser:    config.NewOptionsParser(evaluator),
		Path:      config.NewPathEvaluator(),
		Guard:     guard,
		Telemetry: tel,
	})
	if err != nil {
		return nil, err
	}

	b := NewBridge(ctrl, renderer, tel)
	b.closers = closers
	b.checks = append(b.checks, store.HealthCheck)
	return b, nil
}

func storeOptions(s config.CacheSettings) stores.Options {
	return stores.Options{
		Backend: s.Backend,
		SQLite:  stores.Config{Path: s.SQLite.Path},
		Redis: stores.RedisConfig{
			Addr:     s.Redis.Addr,
			Password: s.Redis.Password,
			DB:       s.Redis.DB,
			Prefix:   s.Redis.Prefix,
		},
	}
}

// sftpConfig maps settings onto an ssh transport configuration. A password
// selects password authentication, otherwise the key file is used.
func sftpConfig(s config.SFTPSettings) *ssh.Config {
	cfg := ssh.DefaultConfig(s.User)
	if s.Password != "" {
		cfg.AuthMethod = ssh.AuthMethodPassword
		cfg.Password = s.Password
	} else {
		cfg.PrivateKeyPath = s.KeyFile
	}
	if s.KnownHosts != "" {
		cfg.KnownHostsPath = s.KnownHosts
	}
	cfg.StrictHostKeyChecking = !s.InsecureIgnoreHostKey
	if s.Timeout > 0 {
		cfg.ConnectionTimeout = s.Timeout.Std()
	}
	return cfg
}

func newPolicyEngine(ctx context.Context, s config.PolicySettings, tel *telemetry.Telemetry) (*policy.Engine, error) {
	policies, err := policy.NewEngine(tel.Logger.Zerolog(), policy.WithEvents(tel.Events))
	if err != nil {
		return nil, fmt.Errorf("failed to create policy engine: %w", err)
	}

	if len(s.Dirs) > 0 {
		if err := policies.LoadPolicies(ctx, s.Dirs); err != nil {
			_ = policies.Close()
			return nil, err
		}
	}
	if s.Watch {
		// The watcher outlives the composing context; Close stops it.
		if err := policies.Watch(context.WithoutCancel(ctx), s.Dirs); err != nil {
			_ = policies.Close()
			return nil, fmt.Errorf("failed to watch policies: %w", err)
		}
	}
	return policies, nil
}
