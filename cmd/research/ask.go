package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kirillkom/research-assistant/internal/bootstrap"
	"github.com/kirillkom/research-assistant/internal/core/domain"
)

func newAskCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Stream a cited answer to a question",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			maxResults, _ := cmd.Flags().GetInt("max-results")
			conversationID, _ := cmd.Flags().GetString("conversation")
			remote, _ := cmd.Flags().GetBool("remote")
			asJSON, _ := cmd.Flags().GetBool("json")

			cfg, logger, err := loadRuntime("research-cli")
			if err != nil {
				return err
			}

			app, err := bootstrap.New(cmd.Context(), cfg, bootstrap.Options{Logger: logger, WithQueue: remote})
			if err != nil {
				return fmt.Errorf("bootstrap: %w", err)
			}
			defer app.Close()

			req := domain.ResearchRequest{
				Query:          strings.Join(args, " "),
				MaxResults:     maxResults,
				ConversationID: conversationID,
			}
			out := cmd.OutOrStdout()

			if asJSON && !remote {
				answer, err := app.Research.Answer(cmd.Context(), req)
				if err != nil {
					return err
				}
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(answer)
			}

			printer := &streamPrinter{out: out}
			if remote {
				return app.Queue.Submit(cmd.Context(), req, printer.handle)
			}
			return app.Research.Stream(cmd.Context(), req, printer.handle)
		},
	}
	cmd.Flags().Int("max-results", 0, "results per query (default from SEARCH_MAX_RESULTS)")
	cmd.Flags().String("conversation", "", "conversation id for multi-turn history")
	cmd.Flags().Bool("remote", false, "submit the question to a worker over NATS")
	cmd.Flags().Bool("json", false, "print the full answer as JSON instead of streaming")
	return cmd
}

// streamPrinter writes content as it arrives and the source list at the end.
type streamPrinter struct {
	out io.Writer
}

func (p *streamPrinter) handle(event domain.StreamEvent) error {
	switch event.Type {
	case domain.EventContent:
		_, err := io.WriteString(p.out, event.Text)
		return err
	case domain.EventCitation:
		lines := domain.ResearchAnswer{Citations: event.Citations}.CitationList()
		if len(lines) == 0 {
			_, err := io.WriteString(p.out, "\n")
			return err
		}
		_, err := fmt.Fprintf(p.out, "\n\nSources:\n%s\n", strings.Join(lines, "\n"))
		return err
	case domain.EventError:
		_, err := fmt.Fprintf(p.out, "\nerror: %s\n", event.Error)
		return err
	}
	return nil
}
