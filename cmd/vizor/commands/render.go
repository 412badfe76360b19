package commands

import (
	"context"
	"fmt"
	"io"
	"sort"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/vizor/vizor/pkg/bridge"
	"github.com/vizor/vizor/pkg/config"
	"github.com/vizor/vizor/pkg/render/recorder"
)

// renderResult is the outcome of rendering one chart definition.
type renderResult struct {
	ID          string                 `json:"id"`
	State       string                 `json:"state"`
	Error       string                 `json:"error,omitempty"`
	Option      interface{}            `json:"option,omitempty"`
	Maps        []string               `json:"maps,omitempty"`
	DataSources map[string]interface{} `json:"data_sources,omitempty"`
}

func newRenderCommand() *cobra.Command {
	var (
		charts  []string
		data    bool
		dispose bool
	)

	cmd := &cobra.Command{
		Use:   "render <definitions>...",
		Short: "Create charts from definition files and print the applied options",
		Long: `Render chart definitions with the in-memory rendering engine.

Every chart is created the way a host application would create it: data
sources are fetched into the cache, maps are registered and the chart
options are decoded and applied. The applied options are printed.`,
		Example: `  # Render every chart under ./charts
  vizor render ./charts

  # Render one chart and show its cached data sources
  vizor render --chart sales --data ./charts/sales.cue

  # Dispose the charts afterwards and print JSON
  vizor render --dispose --json ./charts`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := loadSettings()
			if err != nil {
				return err
			}

			set, err := loadDefinitions(cmd.Context(), args)
			if err != nil {
				return err
			}

			b, err := bridge.New(cmd.Context(), settings, bridge.WithVersion(version))
			if err != nil {
				return err
			}
			defer func() {
				if err := b.Close(context.WithoutCancel(cmd.Context())); err != nil {
					log.Warn().Err(err).Msg("Failed to release resources")
				}
			}()

			selected := selectCharts(set.Charts, charts)
			if len(selected) == 0 {
				return fmt.Errorf("no chart definitions matched")
			}

			results := make([]renderResult, 0, len(selected))
			failed := 0
			for _, def := range selected {
				result := renderChart(cmd.Context(), b, def, data)
				if result.Error != "" {
					failed++
				}
				results = append(results, result)
			}

			if dispose {
				for _, def := range selected {
					if err := b.DisposeChart(cmd.Context(), def.ID); err != nil {
						log.Warn().Err(err).Str("chart", def.ID).Msg("Failed to evict data sources")
					}
				}
			}

			if err := printRenderResults(cmd.OutOrStdout(), results); err != nil {
				return err
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d charts failed to render", failed, len(results))
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&charts, "chart", nil, "render only the charts with these ids")
	cmd.Flags().BoolVar(&data, "data", false, "include the cached data sources of each chart")
	cmd.Flags().BoolVar(&dispose, "dispose", false, "dispose the charts after rendering")

	return cmd
}

func renderChart(ctx context.Context, b *bridge.Bridge, def config.ChartDefinition, withData bool) renderResult {
	result := renderResult{ID: def.ID}

	initOptions, chartOptions, mapOptions, fetchOptions, err := def.Payloads()
	if err != nil {
		result.State = "invalid"
		result.Error = err.Error()
		return result
	}

	log.Info().Str("chart", def.ID).Msg("Rendering chart")
	if err := b.CreateChart(ctx, def.ID, def.Theme, initOptions, chartOptions, mapOptions, fetchOptions); err != nil {
		result.Error = err.Error()
	}

	handle, ok := b.Chart(def.ID)
	if !ok {
		result.State = "uninitialized"
		return result
	}
	result.State = string(handle.State())

	if rec, ok := b.Renderer().(*recorder.Renderer); ok {
		if inst, ok := rec.Instance(def.ID); ok {
			result.Option = inst.Option()
		}
		result.Maps = rec.Maps()
	}

	if withData {
		result.DataSources = make(map[string]interface{})
		for _, key := range handle.DataSourceKeys() {
			if value, ok := b.GetCachedDataSource(ctx, key); ok {
				result.DataSources[key] = value
			}
		}
	}
	return result
}

func selectCharts(all []config.ChartDefinition, ids []string) []config.ChartDefinition {
	if len(ids) == 0 {
		return all
	}
	wanted := make(map[string]bool, len(ids))
	for _, id := range ids {
		wanted[id] = true
	}
	var selected []config.ChartDefinition
	for _, def := range all {
		if wanted[def.ID] {
			selected = append(selected, def)
		}
	}
	return selected
}

func loadDefinitions(ctx context.Context, sources []string) (*config.DefinitionSet, error) {
	set, err := config.NewDefinitionLoader().Load(ctx, sources)
	if err != nil {
		return nil, err
	}
	if !set.Valid() {
		for _, e := range set.Errors {
			log.Error().Str("file", e.File).Msg(e.Error())
		}
		return nil, fmt.Errorf("chart definitions have %d errors", len(set.Errors))
	}
	return set, nil
}

func printRenderResults(w io.Writer, results []renderResult) error {
	if jsonOutput {
		return printJSON(w, results)
	}

	for _, r := range results {
		fmt.Fprintf(w, "%s: %s\n", r.ID, r.State)
		if r.Error != "" {
			fmt.Fprintf(w, "  error: %s\n", r.Error)
		}
		if r.Option != nil {
			fmt.Fprintln(w, "  option:")
			if err := printIndented(w, r.Option); err != nil {
				return err
			}
		}
		keys := make([]string, 0, len(r.DataSources))
		for key := range r.DataSources {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			fmt.Fprintf(w, "  data source %s:\n", key)
			if err := printIndented(w, r.DataSources[key]); err != nil {
				return err
			}
		}
	}
	return nil
}
