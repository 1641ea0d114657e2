package cli

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mbd888/fraudscore/internal/scoring"
)

// NewBatchCommand creates the batch command.
func NewBatchCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batch <file|->",
		Short: "Score a batch of transactions from a JSON file",
		Long: `Submit transactions to POST /v1/score/batch.

The input is either a JSON array of transactions or an object with a
"transactions" array. Use "-" to read from stdin.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readInput(args[0])
			if err != nil {
				return &ExitError{Code: ExitCommandError, Message: "read input", Err: err}
			}
			batch, err := parseBatch(data)
			if err != nil {
				return &ExitError{Code: ExitCommandError, Message: "parse input", Err: err}
			}

			body, err := newAPIClient(rootOpts).do(cmd.Context(), http.MethodPost, "/v1/score/batch", batch)
			if err != nil {
				return err
			}

			if rootOpts.Format == "json" {
				fmt.Fprintln(cmd.OutOrStdout(), strings.TrimSpace(string(body)))
				return nil
			}

			var resp struct {
				Verdicts []scoring.Verdict      `json:"verdicts"`
				Failures []scoring.BatchFailure `json:"failures"`
			}
			if err := json.Unmarshal(body, &resp); err != nil {
				return &ExitError{Code: ExitCommandError, Message: "decode response", Err: err}
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "scored %d of %d\n", len(resp.Verdicts), len(batch.Transactions))
			for i := range resp.Verdicts {
				writeVerdict(out, &resp.Verdicts[i])
			}
			for _, f := range resp.Failures {
				fmt.Fprintf(out, "FAILED #%d %s: %s\n", f.Index, f.Code, f.Error)
			}
			return nil
		},
	}
	return cmd
}

func parseBatch(data []byte) (*scoring.BatchRequest, error) {
	trimmed := strings.TrimSpace(string(data))
	batch := &scoring.BatchRequest{}
	if strings.HasPrefix(trimmed, "[") {
		if err := json.Unmarshal([]byte(trimmed), &batch.Transactions); err != nil {
			return nil, err
		}
	} else if err := json.Unmarshal([]byte(trimmed), batch); err != nil {
		return nil, err
	}
	if len(batch.Transactions) == 0 {
		return nil, fmt.Errorf("no transactions in input")
	}
	return batch, nil
}
