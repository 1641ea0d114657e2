package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mbd888/fraudscore/internal/health"
)

// NewHealthCommand creates the health command.
func NewHealthCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Show service health and dependency checks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := newAPIClient(rootOpts).do(cmd.Context(), http.MethodGet, "/health", nil)
			// An unhealthy service still answers with a full report.
			var exitErr *ExitError
			if err != nil && !(errors.As(err, &exitErr) && exitErr.Code == ExitFailure && len(body) > 0) {
				return err
			}

			if rootOpts.Format == "json" {
				fmt.Fprintln(cmd.OutOrStdout(), strings.TrimSpace(string(body)))
				return err
			}

			var resp health.Response
			if jerr := json.Unmarshal(body, &resp); jerr != nil {
				return &ExitError{Code: ExitCommandError, Message: "decode health", Err: jerr}
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s (version %s)\n", resp.Status, resp.Version)
			for _, c := range resp.Checks {
				state := "ok"
				if !c.Healthy {
					state = "FAIL"
				}
				fmt.Fprintf(out, "  %-10s %-4s %s\n", c.Name, state, c.Detail)
			}
			return err
		},
	}
}
