package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// apiClient is a thin JSON client for the scoring API.
type apiClient struct {
	baseURL string
	http    *http.Client
}

func newAPIClient(opts *RootOptions) *apiClient {
	return &apiClient{
		baseURL: strings.TrimRight(opts.Server, "/"),
		http:    &http.Client{Timeout: opts.Timeout},
	}
}

// apiError is the service's error envelope.
type apiError struct {
	Status  int    `json:"-"`
	Code    string `json:"error"`
	Message string `json:"message"`
}

func (e *apiError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s (HTTP %d)", e.Code, e.Status)
	}
	return fmt.Sprintf("%s: %s (HTTP %d)", e.Code, e.Message, e.Status)
}

// do sends body (if any) as JSON and returns the raw response body. Non-2xx
// responses come back as *apiError wrapped in an ExitFailure, transport
// failures as ExitCommandError.
func (c *apiClient) do(ctx context.Context, method, path string, body any) ([]byte, error) {
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, &ExitError{Code: ExitCommandError, Message: "encode request", Err: err}
		}
		r = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, r)
	if err != nil {
		return nil, &ExitError{Code: ExitCommandError, Message: "build request", Err: err}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &ExitError{Code: ExitCommandError, Message: "request failed", Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, &ExitError{Code: ExitCommandError, Message: "read response", Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &apiError{Status: resp.StatusCode}
		if json.Unmarshal(data, apiErr) != nil || apiErr.Code == "" {
			apiErr.Code = http.StatusText(resp.StatusCode)
		}
		return data, &ExitError{Code: ExitFailure, Message: "request rejected", Err: apiErr}
	}
	return data, nil
}
