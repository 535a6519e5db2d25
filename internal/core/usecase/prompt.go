package usecase

import (
	"fmt"
	"strings"
	"time"

	"github.com/kirillkom/research-assistant/internal/core/domain"
)

const promptTimeLayout = "2006-01-02 15:04:05"

// maxBlockRunes caps a single source block so one long page cannot crowd out
// the rest of the context.
const maxBlockRunes = 4000

func buildSystemPrompt(now time.Time) string {
	return fmt.Sprintf(`You are a research assistant that answers questions using web search results.
Current date and time: %s.

Rules:
- Answer only from the numbered sources provided with the question. If they are insufficient, say so directly.
- Cite sources inline with superscript digits matching the source number, for example ¹ or ³ or ¹². Place the marker right after the claim it supports.
- Do not invent sources and do not print a bibliography; citations are listed separately.
- Write in clear prose, using short paragraphs or bullet lists where they help.`, now.Format(promptTimeLayout))
}

func buildAnswerPrompt(question string, sources []domain.SearchResult) string {
	var blocks strings.Builder
	for idx, src := range sources {
		fmt.Fprintf(&blocks, "%d. %s\n\n", idx+1, clipRunes(strings.TrimSpace(src.Content), maxBlockRunes))
	}
	if blocks.Len() == 0 {
		blocks.WriteString("(no search results were found)\n\n")
	}

	return fmt.Sprintf(`Sources:
%s
Question:
%s
`, blocks.String(), question)
}

func buildRefinePrompt(question string) string {
	return fmt.Sprintf(`Rewrite the latest user question into a standalone web search query, using the conversation for context.
Decide whether the question needs several searches to be answered well.

Return a JSON object with keys:
refined_text (string), requires_escalation (boolean).
No markdown, no extra keys.

Question:
%s
`, question)
}

func buildExpansionPrompt(question string, limit int) string {
	return fmt.Sprintf(`Break the research question below into at most %d focused web search queries that together cover it.

Return a JSON object with key:
queries (array of strings).
No markdown, no extra keys.

Question:
%s
`, limit, question)
}

func clipRunes(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit])
}

// trimHistory keeps the last limit non-system messages.
func trimHistory(history []domain.ChatMessage, limit int) []domain.ChatMessage {
	out := make([]domain.ChatMessage, 0, len(history))
	for _, msg := range history {
		if msg.Role == domain.RoleSystem || strings.TrimSpace(msg.Content) == "" {
			continue
		}
		out = append(out, msg)
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}
