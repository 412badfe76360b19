package commands

import (
	"context"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/vizor/vizor/pkg/bridge"
)

func newServeCommand() *cobra.Command {
	var (
		listen      string
		definitions []string
		watch       bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP host API",
		Long: `Serve the chart operations over HTTP.

Charts are rendered with the in-memory rendering engine. Prometheus metrics
are served on the configured metrics path when metrics are enabled.`,
		Example: `  # Serve on the configured address
  vizor serve --config vizor.yaml

  # Preload chart definitions and reload fetch policies on change
  vizor serve --listen :9000 --definitions ./charts --watch-policies`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			settings, err := loadSettings()
			if err != nil {
				return err
			}
			if listen != "" {
				settings.Server.Listen = listen
			}
			if watch {
				settings.Policy.Enabled = true
				settings.Policy.Watch = true
			}
			if err := settings.Validate(); err != nil {
				return err
			}

			b, err := bridge.New(ctx, settings, bridge.WithVersion(version))
			if err != nil {
				return err
			}
			defer func() {
				if err := b.Close(context.WithoutCancel(ctx)); err != nil {
					log.Warn().Err(err).Msg("Failed to release resources")
				}
			}()

			if len(definitions) > 0 {
				set, err := loadDefinitions(ctx, definitions)
				if err != nil {
					return err
				}
				for _, def := range set.Charts {
					result := renderChart(ctx, b, def, false)
					if result.Error != "" {
						log.Warn().Str("chart", def.ID).Str("error", result.Error).Msg("Preloaded chart failed")
					}
				}
				log.Info().Int("charts", len(set.Charts)).Msg("Chart definitions preloaded")
			}

			opts := bridge.ServerOptions{
				WebhookTimeout: settings.Server.ClickWebhookTimeout.Std(),
			}
			if settings.Metrics.Enabled {
				opts.MetricsPath = settings.Metrics.Path
			}

			log.Info().
				Str("listen", settings.Server.Listen).
				Str("cache", settings.Cache.Backend).
				Bool("policies", settings.Policy.Enabled).
				Msg("Starting host API")

			return bridge.NewServer(b, opts).ListenAndServe(ctx, settings.Server.Listen,
				settings.Server.ReadTimeout.Std(), settings.Server.WriteTimeout.Std())
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "listen address (overrides server.listen)")
	cmd.Flags().StringSliceVar(&definitions, "definitions", nil, "chart definitions to create at startup")
	cmd.Flags().BoolVar(&watch, "watch-policies", false, "reload fetch policies when policy files change")

	return cmd
}
