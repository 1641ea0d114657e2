package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mbd888/fraudscore/internal/scoring"
)

// NewRulesCommand creates the rules command group.
func NewRulesCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Inspect rule thresholds",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "validate <file>",
		Short: "Validate a YAML rule thresholds file offline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := scoring.LoadThresholds(args[0])
			if err != nil {
				return &ExitError{Code: ExitFailure, Message: "invalid rules file", Err: err}
			}
			return printThresholds(cmd, rootOpts.Format, t)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "defaults",
		Short: "Print the built-in rule thresholds",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return printThresholds(cmd, rootOpts.Format, scoring.DefaultThresholds())
		},
	})
	return cmd
}

func printThresholds(cmd *cobra.Command, format string, t scoring.Thresholds) error {
	out := cmd.OutOrStdout()
	if format == "json" {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{
			"high_amount":      t.HighAmount.StringFixed(2),
			"velocity_window":  t.VelocityWindow.String(),
			"velocity_limit":   t.VelocityLimit,
			"user_risk_high":   t.UserRiskHigh,
			"user_risk_medium": t.UserRiskMedium,
			"night_start_hour": t.NightStartHour,
			"night_end_hour":   t.NightEndHour,
		})
	}
	fmt.Fprintf(out, "high_amount:      %s\n", t.HighAmount.StringFixed(2))
	fmt.Fprintf(out, "velocity_window:  %s\n", t.VelocityWindow)
	fmt.Fprintf(out, "velocity_limit:   %d\n", t.VelocityLimit)
	fmt.Fprintf(out, "user_risk_high:   %g\n", t.UserRiskHigh)
	fmt.Fprintf(out, "user_risk_medium: %g\n", t.UserRiskMedium)
	fmt.Fprintf(out, "night_hours:      %02d:00-%02d:00\n", t.NightStartHour, t.NightEndHour)
	return nil
}
