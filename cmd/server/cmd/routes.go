package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/Togather-Foundation/appkit/internal/api"
	"github.com/Togather-Foundation/appkit/internal/app"
)

func newRoutesCommand(global *globalOptions) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "routes",
		Short: "Print the route table",
		Long: `Print every route and page the server would mount with the current
configuration. Clients are constructed as for "serve", so optional routes
appear only when their feature is configured. Fails if two declarations
claim the same method and path.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := global.loadConfig()
			if err != nil {
				return fmt.Errorf("config error: %w", err)
			}
			container := app.New(cfg, zerolog.Nop())
			defer func() { _ = container.Close(context.Background()) }()

			deps, err := container.Init(cmd.Context())
			if err != nil {
				return err
			}
			tree, err := api.Routes(deps, buildInfo())
			if err != nil {
				return err
			}
			if err := tree.Validate(); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			table := tree.Table()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(table)
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "METHOD\tPATH\tNAME\tKIND")
			for _, e := range table {
				method := e.Method
				if method == "" {
					method = "ANY"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", method, e.Path, e.Name, e.Kind)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of a table")
	return cmd
}
