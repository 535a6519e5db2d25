package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/kirillkom/research-assistant/internal/core/recovery"
)

func newRecoverCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "recover <file|->",
		Short: "Recover a typed record from free-form model output",
		Long: `recover runs the structured output recovery cascade over a text file (or
stdin when the argument is "-") using a YAML schema and prints the record and
the strategy that produced it.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			schemaPath, _ := cmd.Flags().GetString("schema")
			schema, err := recovery.LoadSchema(schemaPath)
			if err != nil {
				return err
			}

			var text []byte
			if args[0] == "-" {
				text, err = io.ReadAll(cmd.InOrStdin())
			} else {
				text, err = os.ReadFile(args[0])
			}
			if err != nil {
				return fmt.Errorf("read input: %w", err)
			}

			result := recovery.Parse(string(text), schema)
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(map[string]any{
				"strategy": result.Strategy,
				"record":   result.Record,
			})
		},
	}
	cmd.Flags().String("schema", "", "YAML schema file listing fields and types")
	_ = cmd.MarkFlagRequired("schema")
	return cmd
}
