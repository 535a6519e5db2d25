package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const (
	MinQueryLength   = 3
	MaxQueryLength   = 1000
	MinResearchLimit = 1
	MaxResearchLimit = 50
)

type ResearchRequest struct {
	Query          string        `json:"query"`
	MaxResults     int           `json:"max_results"`
	ConversationID string        `json:"conversation_id,omitempty"`
	History        []ChatMessage `json:"history,omitempty"`
}

func (r ResearchRequest) Validate() error {
	query := strings.TrimSpace(r.Query)
	switch {
	case query == "":
		return WrapError(ErrInvalidInput, "validate research request", fmt.Errorf("query cannot be empty"))
	case len([]rune(query)) < MinQueryLength:
		return WrapError(ErrInvalidInput, "validate research request", fmt.Errorf("query must be at least %d characters long", MinQueryLength))
	case len([]rune(query)) > MaxQueryLength:
		return WrapError(ErrInvalidInput, "validate research request", fmt.Errorf("query too long (max %d characters)", MaxQueryLength))
	}
	if r.MaxResults < MinResearchLimit || r.MaxResults > MaxResearchLimit {
		return WrapError(ErrInvalidInput, "validate research request", fmt.Errorf("max results must be between %d and %d", MinResearchLimit, MaxResearchLimit))
	}
	return nil
}

// Stateless reports whether the answer depends only on the query and limit.
func (r ResearchRequest) Stateless() bool {
	return strings.TrimSpace(r.ConversationID) == "" && len(r.History) == 0
}

// Fingerprint is the sha256 of the request's sorted-key JSON form.
func (r ResearchRequest) Fingerprint() string {
	payload := map[string]any{
		"query":       strings.TrimSpace(r.Query),
		"max_results": r.MaxResults,
	}
	raw, _ := json.Marshal(payload)
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

// Refinement is the structured decision taken before searching.
type Refinement struct {
	RefinedText        string `json:"refined_text"`
	RequiresEscalation bool   `json:"requires_escalation"`
	Strategy           string `json:"strategy,omitempty"`
}

type ResearchAnswer struct {
	Query          string           `json:"query"`
	RefinedQuery   string           `json:"refined_query,omitempty"`
	Text           string           `json:"text"`
	Sources        []SearchResult   `json:"sources"`
	Citations      CitationIndexMap `json:"citations"`
	FailedQueries  []string         `json:"failed_queries,omitempty"`
	ConversationID string           `json:"conversation_id,omitempty"`
	Cached         bool             `json:"cached"`
	Duration       time.Duration    `json:"duration"`
}

// CitationList renders "n. Title. URL" lines in index order.
func (a ResearchAnswer) CitationList() []string {
	out := make([]string, 0, len(a.Citations))
	for _, idx := range a.Citations.Indices() {
		src := a.Citations[idx]
		if src.URL == "" || src.Title == "" {
			continue
		}
		out = append(out, fmt.Sprintf("%d. %s. %s", idx, src.Title, src.URL))
	}
	return out
}

type StreamEventType string

const (
	EventContent  StreamEventType = "content"
	EventCitation StreamEventType = "citation"
	EventComplete StreamEventType = "complete"
	EventError    StreamEventType = "error"
)

type StreamEvent struct {
	Type      StreamEventType  `json:"type"`
	Text      string           `json:"text,omitempty"`
	Citations CitationIndexMap `json:"citations,omitempty"`
	Error     string           `json:"error,omitempty"`
}
