package cmd

import (
	"fmt"
	"net/url"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/Togather-Foundation/appkit/internal/config"
)

func newConfigCommand(global *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "check",
		Short: "Load and validate configuration",
		Long: `Load configuration from the environment (and --config if given), validate
it and print which features are enabled. Secrets are never printed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := global.loadConfig()
			if err != nil {
				return &exitError{code: 1, err: fmt.Errorf("config error: %w", err)}
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			for _, row := range summarize(cfg) {
				fmt.Fprintf(tw, "%s\t%s\n", row[0], row[1])
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "configuration OK")
			return nil
		},
	})
	return cmd
}

func summarize(cfg config.Config) [][2]string {
	email := "off (log)"
	if cfg.Email.Enabled {
		email = cfg.Email.Provider
	}
	embedder := "hash"
	if cfg.Embeddings.GeminiAPIKey != "" {
		embedder = "gemini " + cfg.Embeddings.Model
	}
	vectors := "memory"
	if cfg.VectorStore.Path != "" {
		vectors = cfg.VectorStore.Path
	}
	return [][2]string{
		{"environment", cfg.Environment},
		{"listen", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)},
		{"base url", cfg.Server.BaseURL},
		{"database", redactURL(cfg.Database.URL)},
		{"redis", onOff(cfg.Redis.URL != "", redactURL(cfg.Redis.URL))},
		{"oauth", onOff(cfg.OAuth.Enabled(), cfg.OAuth.AuthorizeURL)},
		{"email", email},
		{"ai", onOff(cfg.AI.Enabled(), cfg.AI.Model)},
		{"agents", fmt.Sprint(len(cfg.Agents))},
		{"embedder", embedder},
		{"vector store", vectors},
		{"kms", onOff(cfg.KMS.Enabled(), cfg.KMS.URL)},
		{"jobs", onOff(cfg.Jobs.Enabled, fmt.Sprintf("%d workers", cfg.Jobs.MaxWorkers))},
		{"tracing", onOff(cfg.Tracing.Enabled, cfg.Tracing.Exporter)},
		{"logging", cfg.Logging.Level + " " + cfg.Logging.Format},
	}
}

func onOff(enabled bool, detail string) string {
	if !enabled {
		return "off"
	}
	if detail == "" {
		return "on"
	}
	return "on (" + detail + ")"
}

// redactURL hides the password in connection URLs.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}
	return u.Redacted()
}
