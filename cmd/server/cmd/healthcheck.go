package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
)

type healthcheckOptions struct {
	url     string
	timeout time.Duration
	strict  bool
}

// healthResponse is the subset of the /health payload the probe reads.
type healthResponse struct {
	Status string                     `json:"status"`
	Checks map[string]json.RawMessage `json:"checks,omitempty"`
}

type healthResult struct {
	Status    string
	IsHealthy bool
	LatencyMs int64
	Error     string
}

func newHealthcheckCommand() *cobra.Command {
	opts := &healthcheckOptions{}
	cmd := &cobra.Command{
		Use:   "healthcheck",
		Short: "Check if the server is healthy",
		Long: `Performs a health check by calling the /health endpoint.

This command is used by container HEALTHCHECK directives. A degraded server
(an optional client failing) passes unless --strict is set.

Exit codes:
  0 - Server is healthy
  1 - Server is unhealthy or unreachable
  2 - Invalid response from server`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			target := opts.url
			if target == "" {
				target = defaultHealthURL()
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
			defer cancel()

			res := performHealthCheck(ctx, http.DefaultClient, target, opts.strict)
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s (%dms)\n", target, res.Status, res.LatencyMs)
			if res.IsHealthy {
				return nil
			}
			if res.Error != "" {
				code := 1
				if res.Status == "invalid" {
					code = 2
				}
				return &exitError{code: code, err: errors.New(res.Error)}
			}
			return &exitError{code: 1, err: fmt.Errorf("server status: %s", res.Status)}
		},
	}
	cmd.Flags().StringVar(&opts.url, "url", "", "health check URL (default: http://localhost:{SERVER_PORT}/health)")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 5*time.Second, "request timeout")
	cmd.Flags().BoolVar(&opts.strict, "strict", false, "treat a degraded server as unhealthy")
	return cmd
}

func defaultHealthURL() string {
	port := os.Getenv("SERVER_PORT")
	if port == "" {
		port = "8080"
	}
	return fmt.Sprintf("http://localhost:%s/health", port)
}

func performHealthCheck(ctx context.Context, client *http.Client, target string, strict bool) (res healthResult) {
	start := time.Now()
	res.Status = "unreachable"
	defer func() { res.LatencyMs = time.Since(start).Milliseconds() }()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		res.Error = fmt.Sprintf("create request: %v", err)
		return res
	}
	resp, err := client.Do(req)
	if err != nil {
		res.Error = fmt.Sprintf("health check failed: %v", err)
		return res
	}
	defer func() { _ = resp.Body.Close() }()

	var body healthResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		res.Status = "invalid"
		res.Error = fmt.Sprintf("parse health response: %v", err)
		return res
	}
	res.Status = body.Status

	switch {
	case resp.StatusCode != http.StatusOK:
		res.IsHealthy = false
	case body.Status == "healthy":
		res.IsHealthy = true
	case body.Status == "degraded":
		res.IsHealthy = !strict
	}
	return res
}
