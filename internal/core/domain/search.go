package domain

import "time"

const (
	UntitledResult = "Untitled"
	UnknownSource  = "Unknown"
)

// SearchQuery is one query issued against a search provider.
type SearchQuery struct {
	Text       string `json:"text"`
	MaxResults int    `json:"max_results"`
}

// RawResult is a provider result before normalization. Providers fill the
// fields they know; Body is used when Content is empty.
type RawResult struct {
	Title   string `json:"title"`
	Link    string `json:"link"`
	Content string `json:"content"`
	Body    string `json:"body"`
	Source  string `json:"source"`
}

// ProviderResponse mirrors the search capability contract: a result list plus
// an optional provider-reported error.
type ProviderResponse struct {
	Results []RawResult `json:"results"`
	Error   string      `json:"error,omitempty"`
}

type SearchResult struct {
	Title       string `json:"title"`
	URL         string `json:"url"`
	Content     string `json:"content"`
	SourceLabel string `json:"source"`
}

type AttemptOutcome string

const (
	AttemptSuccess   AttemptOutcome = "success"
	AttemptRetryable AttemptOutcome = "retryable_failure"
	AttemptFatal     AttemptOutcome = "fatal_failure"
)

type SearchAttempt struct {
	Number      int            `json:"attempt_number"`
	Delay       time.Duration  `json:"delay_applied"`
	Outcome     AttemptOutcome `json:"outcome"`
	Reason      string         `json:"reason,omitempty"`
	ResultCount int            `json:"result_count"`
}

// QueryBatchOutcome is produced once per executor run. Results keep arrival
// order; FailedQueries holds each failed query text once.
type QueryBatchOutcome struct {
	Results          []SearchResult             `json:"results"`
	FailedQueries    []string                   `json:"failed_queries"`
	AttemptsPerQuery map[string][]SearchAttempt `json:"attempts_per_query"`
}

func (o QueryBatchOutcome) Failed(query string) bool {
	for _, q := range o.FailedQueries {
		if q == query {
			return true
		}
	}
	return false
}

func (o QueryBatchOutcome) Attempts(query string) int {
	return len(o.AttemptsPerQuery[query])
}
