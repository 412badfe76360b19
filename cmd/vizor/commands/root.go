package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/vizor/vizor/pkg/config"
)

var (
	// Global flags
	configPath string
	verbose    bool
	jsonOutput bool

	version = "dev"
)

// Execute runs the root command
func Execute(ctx context.Context, ver, commit, buildDate string) error {
	version = ver
	rootCmd := newRootCommand(ver, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(ver, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "vizor",
		Short: "Vizor - chart lifecycle bridge",
		Long: `Vizor drives charts of a rendering engine from textual payloads.

It decodes chart options (JSON or expressions), fetches external data
sources into a shared cache, registers geographic maps and forwards chart
interactions back to the host application.

Features:
  - Chart definitions in CUE, YAML or JSON
  - Starlark expressions and afterLoad transforms
  - http, https and sftp data sources
  - Memory, SQLite and Redis data source caches
  - Fetch admission policies (OPA/rego)
  - HTTP host API with Prometheus metrics`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", ver, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "settings file path (yaml, toml or json)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log fetched data, parsed options and clicks")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	rootCmd.AddCommand(newRenderCommand())
	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newServeCommand())
	rootCmd.AddCommand(newPolicyCommand())

	return rootCmd
}

// loadSettings reads the settings named by --config, or the defaults.
func loadSettings() (*config.Settings, error) {
	settings, err := config.LoadSettings(configPath)
	if err != nil {
		return nil, err
	}
	if verbose {
		settings.Logging.Verbose = true
	}
	log.Debug().Str("config", configPath).Str("cache", settings.Cache.Backend).Msg("Settings loaded")
	return settings, nil
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printIndented writes v as indented JSON under a list entry.
func printIndented(w io.Writer, v interface{}) error {
	data, err := json.MarshalIndent(v, "    ", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	_, err = fmt.Fprintf(w, "    %s\n", data)
	return err
}
