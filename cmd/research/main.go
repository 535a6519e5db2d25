// Command research answers questions from live web search results with
// numbered citations.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kirillkom/research-assistant/internal/config"
	"github.com/kirillkom/research-assistant/internal/observability/logging"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "research",
		Short: "Web research assistant",
		Long: `research runs web searches with classified retries, synthesizes an answer
from the numbered results and rewrites the model's superscript citations into
[n] markers backed by a source list.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			path, _ := cmd.Flags().GetString("config")
			if path != "" {
				return os.Setenv(config.ConfigFileEnv, path)
			}
			return nil
		},
	}
	root.PersistentFlags().String("config", "", "YAML config file (overrides "+config.ConfigFileEnv+")")

	root.AddCommand(newAskCmd(), newSearchCmd(), newRecoverCmd())
	return root
}

func loadRuntime(service string) (config.Config, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, nil, err
	}
	return cfg, logging.NewJSONLogger(service, cfg.LogLevel), nil
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
