package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kirillkom/research-assistant/internal/bootstrap"
)

func newSearchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "search <query> [query...]",
		Short: "Run a search batch and print the outcome as JSON",
		Long: `search runs every query through the retrying executor and prints the
collected results, failed queries and per-query attempt records.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			maxResults, _ := cmd.Flags().GetInt("max-results")

			cfg, logger, err := loadRuntime("research-cli")
			if err != nil {
				return err
			}
			if maxResults <= 0 {
				maxResults = cfg.SearchMaxResults
			}

			app, err := bootstrap.New(cmd.Context(), cfg, bootstrap.Options{Logger: logger})
			if err != nil {
				return fmt.Errorf("bootstrap: %w", err)
			}
			defer app.Close()

			outcome := app.Search.Run(cmd.Context(), args, maxResults)
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(outcome)
		},
	}
	cmd.Flags().Int("max-results", 0, "results per query (default from SEARCH_MAX_RESULTS)")
	return cmd
}
