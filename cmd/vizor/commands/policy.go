package commands

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/vizor/vizor/pkg/engine"
	"github.com/vizor/vizor/pkg/policy"
)

func newPolicyCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Inspect fetch admission policies",
	}

	cmd.AddCommand(newPolicyListCommand())
	cmd.AddCommand(newPolicyCheckCommand())

	return cmd
}

// newPolicyEngine loads the builtin policies and those of the settings.
func newPolicyEngine(cmd *cobra.Command) (*policy.Engine, error) {
	settings, err := loadSettings()
	if err != nil {
		return nil, err
	}
	policies, err := policy.NewEngine(zerolog.Nop())
	if err != nil {
		return nil, err
	}
	if len(settings.Policy.Dirs) > 0 {
		if err := policies.LoadPolicies(cmd.Context(), settings.Policy.Dirs); err != nil {
			_ = policies.Close()
			return nil, err
		}
	}
	return policies, nil
}

func newPolicyListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the loaded fetch policies",
		RunE: func(cmd *cobra.Command, args []string) error {
			policies, err := newPolicyEngine(cmd)
			if err != nil {
				return err
			}
			defer policies.Close()

			list := policies.ListPolicies()
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), list)
			}
			for _, p := range list {
				origin := "custom"
				if p.Builtin {
					origin = "builtin"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%-20s %-8s %-8s %s\n", p.Name, origin, p.Severity, p.Description)
			}
			return nil
		},
	}
}

func newPolicyCheckCommand() *cobra.Command {
	var (
		method  string
		chartID string
	)

	cmd := &cobra.Command{
		Use:   "check <url>",
		Short: "Check whether a url may be fetched",
		Example: `  vizor policy check https://example.com/data.json
  vizor policy check --method DELETE https://example.com/data.json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			policies, err := newPolicyEngine(cmd)
			if err != nil {
				return err
			}
			defer policies.Close()

			d := engine.FetchDescriptor{ID: "check", URL: args[0], Options: engine.FetchOptions{Method: method}}
			decision, err := policies.Evaluate(cmd.Context(), policy.NewInput(chartID, d))
			if err != nil {
				return err
			}

			if jsonOutput {
				if err := printJSON(cmd.OutOrStdout(), decision); err != nil {
					return err
				}
			} else {
				for _, w := range decision.Warnings {
					fmt.Fprintf(cmd.OutOrStdout(), "warning (%s): %s\n", w.Policy, w.Message)
				}
				for _, v := range decision.Violations {
					fmt.Fprintf(cmd.OutOrStdout(), "denied (%s): %s\n", v.Policy, v.Message)
				}
				if decision.Allowed && len(decision.Errors) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "allowed")
				}
			}

			if len(decision.Errors) > 0 {
				return fmt.Errorf("policy evaluation failed: %s", strings.Join(decision.Errors, "; "))
			}
			if !decision.Allowed {
				return fmt.Errorf("fetch of %s denied", args[0])
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&method, "method", "GET", "request method")
	cmd.Flags().StringVar(&chartID, "chart", "", "chart id exposed to policies")

	return cmd
}
