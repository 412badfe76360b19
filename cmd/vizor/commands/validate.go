package commands

import (
	"context"
	"fmt"
	"io"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/vizor/vizor/pkg/config"
	"github.com/vizor/vizor/pkg/engine"
	"github.com/vizor/vizor/pkg/policy"
)

// validationReport lists the problems found in one chart definition.
type validationReport struct {
	ID       string   `json:"id"`
	Problems []string `json:"problems,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

func newValidateCommand() *cobra.Command {
	var checkPolicies bool

	cmd := &cobra.Command{
		Use:   "validate <definitions>...",
		Short: "Validate chart definition files",
		Long: `Validate chart definitions without fetching anything.

This command checks:
  - CUE, YAML and JSON syntax
  - Conformance to the chart schema
  - That chart options decode (JSON or expression)
  - That fetch descriptors are complete
  - Optionally, that every fetch is admitted by the fetch policies`,
		Example: `  # Validate every definition under ./charts
  vizor validate ./charts

  # Also evaluate fetch policies from the settings file
  vizor validate --config vizor.yaml --policies ./charts`,
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

			var policies *policy.Engine
			if checkPolicies {
				policies, err = policy.NewEngine(zerolog.Nop())
				if err != nil {
					return err
				}
				defer policies.Close()
				if len(settings.Policy.Dirs) > 0 {
					if err := policies.LoadPolicies(cmd.Context(), settings.Policy.Dirs); err != nil {
						return err
					}
				}
			}

			evaluator := config.NewStarlarkEvaluator(settings.Evaluator.Timeout.Std(),
				config.WithMaxSteps(settings.Evaluator.MaxSteps))
			parser := config.NewOptionsParser(evaluator)
			fetcher := engine.NewFetcher(engine.Dependencies{})

			reports := make([]validationReport, 0, len(set.Charts))
			invalid := 0
			for _, def := range set.Charts {
				report := validateChart(cmd.Context(), def, parser, fetcher, policies)
				if len(report.Problems) > 0 {
					invalid++
				}
				reports = append(reports, report)
			}

			log.Info().
				Int("charts", len(reports)).
				Int("invalid", invalid).
				Strs("files", set.SourceFiles).
				Msg("Validation finished")

			if err := printReports(cmd.OutOrStdout(), reports); err != nil {
				return err
			}
			if invalid > 0 {
				return fmt.Errorf("%d of %d charts are invalid", invalid, len(reports))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&checkPolicies, "policies", false, "evaluate fetch descriptors against the fetch policies")

	return cmd
}

func validateChart(ctx context.Context, def config.ChartDefinition, parser *config.OptionsParser, fetcher *engine.Fetcher, policies *policy.Engine) validationReport {
	report := validationReport{ID: def.ID}

	_, chartOptions, _, fetchOptions, err := def.Payloads()
	if err != nil {
		report.Problems = append(report.Problems, err.Error())
		return report
	}

	if config.IsAbsent(chartOptions) {
		report.Warnings = append(report.Warnings, "no chart options, the chart stays loading")
	} else if _, err := parser.Parse(ctx, chartOptions); err != nil {
		report.Problems = append(report.Problems, fmt.Sprintf("chart options: %v", err))
	}

	if config.IsAbsent(fetchOptions) {
		return report
	}
	descriptors, err := fetcher.Decode(fetchOptions)
	if err != nil {
		report.Problems = append(report.Problems, err.Error())
		return report
	}

	if policies == nil {
		return report
	}
	for _, d := range descriptors {
		decision, err := policies.Evaluate(ctx, policy.NewInput(def.ID, d))
		if err != nil {
			report.Problems = append(report.Problems, err.Error())
			continue
		}
		for _, v := range decision.Violations {
			report.Problems = append(report.Problems, fmt.Sprintf("fetch %s: %s", d.ID, v.Message))
		}
		for _, v := range decision.Warnings {
			report.Warnings = append(report.Warnings, fmt.Sprintf("fetch %s: %s", d.ID, v.Message))
		}
		for _, e := range decision.Errors {
			report.Problems = append(report.Problems, fmt.Sprintf("fetch %s: %s", d.ID, e))
		}
	}
	return report
}

func printReports(w io.Writer, reports []validationReport) error {
	if jsonOutput {
		return printJSON(w, reports)
	}

	for _, r := range reports {
		status := "ok"
		if len(r.Problems) > 0 {
			status = "invalid"
		}
		fmt.Fprintf(w, "%s: %s\n", r.ID, status)
		for _, p := range r.Problems {
			fmt.Fprintf(w, "  error: %s\n", p)
		}
		for _, warning := range r.Warnings {
			fmt.Fprintf(w, "  warning: %s\n", warning)
		}
	}
	return nil
}
