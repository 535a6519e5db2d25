package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kirillkom/research-assistant/internal/core/domain"
	"github.com/kirillkom/research-assistant/internal/core/ports"
	"github.com/kirillkom/research-assistant/internal/infrastructure/resilience"
)

const searchOperation = "web_search"

type SearchExecutorOptions struct {
	// Concurrency bounds how many distinct queries run at once. Values below
	// one run queries sequentially.
	Concurrency int
	Logger      *zap.Logger
	Observer    ports.PipelineObserver
}

// SearchExecutor runs query batches against a search provider with classified
// retries. A failing query never aborts the batch.
type SearchExecutor struct {
	provider    ports.SearchProvider
	retry       *resilience.Executor
	concurrency int
	logger      *zap.Logger
	observer    ports.PipelineObserver
}

func NewSearchExecutor(provider ports.SearchProvider, retry *resilience.Executor, opts SearchExecutorOptions) *SearchExecutor {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Observer == nil {
		opts.Observer = noopObserver{}
	}
	return &SearchExecutor{
		provider:    provider,
		retry:       retry,
		concurrency: opts.Concurrency,
		logger:      opts.Logger,
		observer:    opts.Observer,
	}
}

// Run executes every distinct non-blank query and returns the aggregated
// outcome. Cancellation keeps the results of queries that already finished;
// interrupted and never-started queries are reported as failed.
func (e *SearchExecutor) Run(ctx context.Context, queries []string, maxResults int) domain.QueryBatchOutcome {
	outcome := domain.QueryBatchOutcome{
		Results:          []domain.SearchResult{},
		FailedQueries:    []string{},
		AttemptsPerQuery: make(map[string][]domain.SearchAttempt),
	}

	unique := e.distinctQueries(queries)
	if len(unique) == 0 {
		return outcome
	}

	var (
		mu       sync.Mutex
		finished = make(map[string]bool, len(unique))
		group    errgroup.Group
	)
	group.SetLimit(e.concurrency)

	for _, query := range unique {
		if ctx.Err() != nil {
			break
		}
		group.Go(func() error {
			results, attempts := e.runQuery(ctx, query, maxResults)

			mu.Lock()
			defer mu.Unlock()
			finished[query] = true
			outcome.AttemptsPerQuery[query] = attempts
			if len(results) == 0 {
				outcome.FailedQueries = append(outcome.FailedQueries, query)
				return nil
			}
			outcome.Results = append(outcome.Results, results...)
			return nil
		})
	}
	_ = group.Wait()

	for _, query := range unique {
		if !finished[query] {
			outcome.FailedQueries = append(outcome.FailedQueries, query)
			outcome.AttemptsPerQuery[query] = []domain.SearchAttempt{}
		}
	}

	e.observer.ObserveSearchBatch(len(unique), len(outcome.Results), len(outcome.FailedQueries))
	e.logger.Info("search_batch_complete",
		zap.Int("queries", len(unique)),
		zap.Int("results", len(outcome.Results)),
		zap.Int("failed", len(outcome.FailedQueries)),
		zap.Strings("failed_queries", outcome.FailedQueries),
	)
	return outcome
}

func (e *SearchExecutor) distinctQueries(queries []string) []string {
	seen := make(map[string]struct{}, len(queries))
	out := make([]string, 0, len(queries))
	for _, raw := range queries {
		query := strings.TrimSpace(raw)
		if query == "" {
			e.logger.Warn("search_query_skipped", zap.String("reason", "empty query"))
			continue
		}
		if _, ok := seen[query]; ok {
			continue
		}
		seen[query] = struct{}{}
		out = append(out, query)
	}
	return out
}

func (e *SearchExecutor) runQuery(ctx context.Context, query string, maxResults int) ([]domain.SearchResult, []domain.SearchAttempt) {
	var results []domain.SearchResult
	records, _ := e.retry.Run(ctx, searchOperation, func(ctx context.Context) error {
		resp, err := e.provider.Search(ctx, query, maxResults)
		if err != nil {
			return err
		}
		if msg := strings.TrimSpace(resp.Error); msg != "" {
			return &ProviderError{Query: query, Message: msg}
		}
		normalized := NormalizeResults(resp.Results, maxResults)
		if len(normalized) == 0 {
			return domain.ErrNoResults
		}
		results = normalized
		return nil
	}, classifySearchError)

	attempts := make([]domain.SearchAttempt, 0, len(records))
	for _, rec := range records {
		attempt := domain.SearchAttempt{Number: rec.Number, Delay: rec.Delay}
		switch {
		case rec.Err == nil:
			attempt.Outcome = domain.AttemptSuccess
			attempt.ResultCount = len(results)
		case rec.Classification.Retryable:
			attempt.Outcome = domain.AttemptRetryable
			attempt.Reason = rec.Err.Error()
		default:
			attempt.Outcome = domain.AttemptFatal
			attempt.Reason = rec.Err.Error()
		}
		attempts = append(attempts, attempt)
		e.logAttempt(query, attempt)
		e.observer.ObserveSearchAttempt(attempt.Outcome)
	}
	return results, attempts
}

func (e *SearchExecutor) logAttempt(query string, attempt domain.SearchAttempt) {
	fields := []zap.Field{
		zap.String("query", query),
		zap.Int("attempt", attempt.Number),
		zap.Int("max_attempts", e.retry.MaxAttempts()),
		zap.Duration("delay", attempt.Delay),
		zap.String("outcome", string(attempt.Outcome)),
	}
	if attempt.Outcome == domain.AttemptSuccess {
		e.logger.Info("search_attempt", append(fields, zap.Int("results", attempt.ResultCount))...)
		return
	}
	e.logger.Warn("search_attempt", append(fields, zap.String("reason", attempt.Reason))...)
}

// ProviderError is a failure reported inside a provider payload rather than
// by the transport.
type ProviderError struct {
	Query   string
	Message string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("search provider error for %q: %s", e.Query, e.Message)
}

func classifySearchError(err error) resilience.ErrorClassification {
	var providerErr *ProviderError
	if errors.As(err, &providerErr) {
		if resilience.MatchesTransient(providerErr.Message) {
			return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
		}
		return resilience.ErrorClassification{Retryable: false, RecordFailure: true}
	}
	return resilience.ClassifyTransport(err)
}

// NormalizeResults drops entries without usable content, fills the title and
// source sentinels and caps the list at maxResults when it is positive.
func NormalizeResults(raw []domain.RawResult, maxResults int) []domain.SearchResult {
	out := make([]domain.SearchResult, 0, len(raw))
	for _, r := range raw {
		content := strings.TrimSpace(r.Content)
		if content == "" {
			content = strings.TrimSpace(r.Body)
		}
		if content == "" {
			continue
		}
		title := strings.TrimSpace(r.Title)
		if title == "" {
			title = domain.UntitledResult
		}
		source := strings.TrimSpace(r.Source)
		if source == "" {
			source = domain.UnknownSource
		}
		out = append(out, domain.SearchResult{
			Title:       title,
			URL:         strings.TrimSpace(r.Link),
			Content:     content,
			SourceLabel: source,
		})
		if maxResults > 0 && len(out) == maxResults {
			break
		}
	}
	return out
}
