package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/mbd888/fraudscore/internal/scoring"
)

type scoreFlags struct {
	userID     string
	merchantID string
	amount     string
	currency   string
	device     string
	ip         string
	latitude   float64
	longitude  float64
}

// NewScoreCommand creates the score command.
func NewScoreCommand(rootOpts *RootOptions) *cobra.Command {
	f := &scoreFlags{}

	cmd := &cobra.Command{
		Use:   "score",
		Short: "Score a single transaction",
		Long: `Submit one transaction to POST /v1/score and print the verdict.

The process exits 1 when the service rejects the request (unknown user,
invalid amount) and 2 when it cannot be reached.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := f.request(cmd)
			if err != nil {
				return err
			}

			data, err := newAPIClient(rootOpts).do(cmd.Context(), http.MethodPost, "/v1/score", req)
			if err != nil {
				return err
			}
			return printVerdict(cmd.OutOrStdout(), rootOpts.Format, data)
		},
	}

	cmd.Flags().StringVarP(&f.userID, "user", "u", "", "user ID (required)")
	cmd.Flags().StringVarP(&f.merchantID, "merchant", "m", "", "merchant ID (required)")
	cmd.Flags().StringVarP(&f.amount, "amount", "a", "", "transaction amount, e.g. 125.50 (required)")
	cmd.Flags().StringVar(&f.currency, "currency", "", "ISO 4217 currency code (default USD)")
	cmd.Flags().StringVar(&f.device, "device", "", "device fingerprint")
	cmd.Flags().StringVar(&f.ip, "ip", "", "client IP address")
	cmd.Flags().Float64Var(&f.latitude, "lat", 0, "transaction latitude")
	cmd.Flags().Float64Var(&f.longitude, "lng", 0, "transaction longitude")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("merchant")
	_ = cmd.MarkFlagRequired("amount")

	return cmd
}

func (f *scoreFlags) request(cmd *cobra.Command) (*scoring.TransactionRequest, error) {
	amount, err := decimal.NewFromString(f.amount)
	if err != nil {
		return nil, &ExitError{Code: ExitCommandError, Message: fmt.Sprintf("invalid amount %q", f.amount), Err: err}
	}

	req := &scoring.TransactionRequest{
		UserID:            f.userID,
		MerchantID:        f.merchantID,
		Amount:            amount,
		Currency:          f.currency,
		DeviceFingerprint: f.device,
		IPAddress:         f.ip,
	}
	if cmd.Flags().Changed("lat") {
		req.Latitude = &f.latitude
	}
	if cmd.Flags().Changed("lng") {
		req.Longitude = &f.longitude
	}
	return req, nil
}

func printVerdict(w io.Writer, format string, data []byte) error {
	if format == "json" {
		_, err := fmt.Fprintln(w, strings.TrimSpace(string(data)))
		return err
	}

	var resp struct {
		Verdict scoring.Verdict `json:"verdict"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return &ExitError{Code: ExitCommandError, Message: "decode verdict", Err: err}
	}
	writeVerdict(w, &resp.Verdict)
	return nil
}

func writeVerdict(w io.Writer, v *scoring.Verdict) {
	ml := "n/a"
	if v.MLScore != nil {
		ml = fmt.Sprintf("%.2f", *v.MLScore)
	}
	fmt.Fprintf(w, "%-6s score=%.2f risk=%s ml=%s tx=%s\n", v.Action, v.FraudScore, v.RiskLevel, ml, v.TransactionID)
	for _, r := range v.Reasons {
		fmt.Fprintf(w, "  - %s\n", r)
	}
}

// readInput reads a file, or stdin when path is "-".
func readInput(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}
