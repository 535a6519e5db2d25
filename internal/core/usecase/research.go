package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/kirillkom/research-assistant/internal/core/citation"
	"github.com/kirillkom/research-assistant/internal/core/domain"
	"github.com/kirillkom/research-assistant/internal/core/ports"
)

type ResearchOptions struct {
	DefaultMaxResults int
	MaxSubqueries     int
	HistoryMessages   int
	Logger            *zap.Logger
	Observer          ports.PipelineObserver
	Tracer            trace.Tracer
}

// ResearchUseCase answers a research request end to end: history, question
// refinement, optional expansion, search, synthesis and citation remapping.
// ConversationStore and AnswerCache are optional.
type ResearchUseCase struct {
	search        ports.SearchBatcher
	synth         *Synthesizer
	conversations ports.ConversationStore
	cache         ports.AnswerCache
	opts          ResearchOptions
}

func NewResearchUseCase(
	search ports.SearchBatcher,
	synth *Synthesizer,
	conversations ports.ConversationStore,
	cache ports.AnswerCache,
	opts ResearchOptions,
) *ResearchUseCase {
	if opts.DefaultMaxResults <= 0 {
		opts.DefaultMaxResults = 10
	}
	if opts.MaxSubqueries < 0 {
		opts.MaxSubqueries = 0
	}
	if opts.HistoryMessages <= 0 {
		opts.HistoryMessages = 10
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Observer == nil {
		opts.Observer = noopObserver{}
	}
	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer("github.com/kirillkom/research-assistant/usecase")
	}
	return &ResearchUseCase{
		search:        search,
		synth:         synth,
		conversations: conversations,
		cache:         cache,
		opts:          opts,
	}
}

// Stream emits content events as the answer is produced, then one citation
// event and a complete event.
func (uc *ResearchUseCase) Stream(ctx context.Context, req domain.ResearchRequest, emit func(domain.StreamEvent) error) error {
	_, err := uc.execute(ctx, "research.stream", req, emit, true)
	return err
}

func (uc *ResearchUseCase) Answer(ctx context.Context, req domain.ResearchRequest) (*domain.ResearchAnswer, error) {
	answer, err := uc.execute(ctx, "research.answer", req, func(domain.StreamEvent) error { return nil }, false)
	if err != nil {
		return nil, err
	}
	return &answer, nil
}

func (uc *ResearchUseCase) execute(
	ctx context.Context,
	spanName string,
	req domain.ResearchRequest,
	emit func(domain.StreamEvent) error,
	streaming bool,
) (domain.ResearchAnswer, error) {
	start := time.Now()
	req.Query = strings.TrimSpace(req.Query)
	if req.MaxResults == 0 {
		req.MaxResults = uc.opts.DefaultMaxResults
	}
	if err := req.Validate(); err != nil {
		uc.opts.Observer.ObservePipeline("invalid", time.Since(start))
		return domain.ResearchAnswer{}, err
	}

	ctx, span := uc.opts.Tracer.Start(ctx, spanName)
	defer span.End()
	span.SetAttributes(
		attribute.Int("research.max_results", req.MaxResults),
		attribute.Bool("research.stateless", req.Stateless()),
	)

	answer, err := uc.answerWithCache(ctx, req, emit, streaming)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "research failed")
		uc.opts.Observer.ObservePipeline(pipelineStatus(err), time.Since(start))
		return domain.ResearchAnswer{}, err
	}

	span.SetAttributes(
		attribute.Int("research.sources", len(answer.Sources)),
		attribute.Int("research.citations", len(answer.Citations)),
		attribute.Bool("research.cached", answer.Cached),
	)
	status := "ok"
	if answer.Cached {
		status = "cached"
	}
	uc.opts.Observer.ObservePipeline(status, time.Since(start))
	return answer, nil
}

func (uc *ResearchUseCase) answerWithCache(
	ctx context.Context,
	req domain.ResearchRequest,
	emit func(domain.StreamEvent) error,
	streaming bool,
) (domain.ResearchAnswer, error) {
	if uc.cache == nil || !req.Stateless() {
		return uc.run(ctx, req, emit, streaming)
	}

	// The shared computation may outlive this caller; stop forwarding events
	// once the caller is gone.
	callerCtx := ctx
	forward := func(event domain.StreamEvent) error {
		if callerCtx.Err() != nil {
			return nil
		}
		return emit(event)
	}

	computed := false
	answer, cached, err := uc.cache.Do(ctx, req.Fingerprint(), func(ctx context.Context) (domain.ResearchAnswer, error) {
		computed = true
		return uc.run(ctx, req, forward, streaming)
	})
	if err != nil {
		return domain.ResearchAnswer{}, err
	}
	if computed {
		return answer, nil
	}

	uc.opts.Logger.Info("answer_cache_hit",
		zap.String("fingerprint", req.Fingerprint()),
		zap.Bool("stored", cached),
	)
	answer.Cached = true
	if err := replay(answer, emit); err != nil {
		return domain.ResearchAnswer{}, err
	}
	return answer, nil
}

func (uc *ResearchUseCase) run(
	ctx context.Context,
	req domain.ResearchRequest,
	emit func(domain.StreamEvent) error,
	streaming bool,
) (domain.ResearchAnswer, error) {
	start := time.Now()
	history, turn := uc.loadHistory(ctx, req)

	refinement, err := uc.synth.Refine(ctx, req.Query, history)
	if err != nil {
		return domain.ResearchAnswer{}, err
	}
	uc.opts.Logger.Info("question_refined",
		zap.String("refined", refinement.RefinedText),
		zap.Bool("requires_escalation", refinement.RequiresEscalation),
		zap.String("strategy", refinement.Strategy),
	)

	queries := []string{refinement.RefinedText}
	if refinement.RequiresEscalation && uc.opts.MaxSubqueries > 0 {
		subqueries, err := uc.synth.Expand(ctx, refinement.RefinedText, uc.opts.MaxSubqueries)
		switch {
		case err == nil:
			queries = append(queries, subqueries...)
		case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
			return domain.ResearchAnswer{}, err
		default:
			uc.opts.Logger.Warn("question_expansion_failed", zap.Error(err))
		}
	}

	searchCtx, searchSpan := uc.opts.Tracer.Start(ctx, "research.search")
	outcome := uc.search.Run(searchCtx, queries, req.MaxResults)
	searchSpan.SetAttributes(
		attribute.Int("search.queries", len(queries)),
		attribute.Int("search.results", len(outcome.Results)),
		attribute.Int("search.failed", len(outcome.FailedQueries)),
	)
	searchSpan.End()
	if err := ctx.Err(); err != nil {
		return domain.ResearchAnswer{}, err
	}

	sources := dedupeSources(outcome.Results)
	synthReq := SynthesisRequest{Question: refinement.RefinedText, Sources: sources, History: history}

	synthCtx, synthSpan := uc.opts.Tracer.Start(ctx, "research.synthesize")
	text, citations, err := uc.synthesize(synthCtx, synthReq, emit, streaming)
	if err != nil {
		synthSpan.RecordError(err)
		synthSpan.SetStatus(codes.Error, "synthesis failed")
	}
	synthSpan.End()
	if err != nil {
		return domain.ResearchAnswer{}, err
	}
	uc.opts.Observer.ObserveCitations(len(citations))

	if err := emit(domain.StreamEvent{Type: domain.EventCitation, Citations: citations}); err != nil {
		return domain.ResearchAnswer{}, err
	}

	answer := domain.ResearchAnswer{
		Query:          req.Query,
		RefinedQuery:   refinement.RefinedText,
		Text:           text,
		Sources:        sources,
		Citations:      citations,
		FailedQueries:  outcome.FailedQueries,
		ConversationID: strings.TrimSpace(req.ConversationID),
		Duration:       time.Since(start),
	}
	uc.saveTurn(ctx, answer, turn)

	if err := emit(domain.StreamEvent{Type: domain.EventComplete}); err != nil {
		return domain.ResearchAnswer{}, err
	}
	return answer, nil
}

func (uc *ResearchUseCase) synthesize(
	ctx context.Context,
	req SynthesisRequest,
	emit func(domain.StreamEvent) error,
	streaming bool,
) (string, domain.CitationIndexMap, error) {
	remapper := citation.NewRemapper(req.Sources)
	var text strings.Builder
	send := func(chunk string) error {
		if chunk == "" {
			return nil
		}
		text.WriteString(chunk)
		return emit(domain.StreamEvent{Type: domain.EventContent, Text: chunk})
	}

	if streaming {
		err := uc.synth.Stream(ctx, req, func(delta string) error {
			return send(remapper.Feed(delta))
		})
		if err != nil {
			return "", nil, err
		}
	} else {
		raw, err := uc.synth.Answer(ctx, req)
		if err != nil {
			return "", nil, err
		}
		if err := send(remapper.Feed(raw)); err != nil {
			return "", nil, err
		}
	}
	if err := send(remapper.Finish()); err != nil {
		return "", nil, err
	}
	return text.String(), remapper.Citations(), nil
}

// loadHistory merges stored turns with request-supplied history and returns
// the turn number for this exchange. Store failures degrade to no history.
func (uc *ResearchUseCase) loadHistory(ctx context.Context, req domain.ResearchRequest) ([]domain.ChatMessage, int) {
	history := append([]domain.ChatMessage(nil), req.History...)
	conversationID := strings.TrimSpace(req.ConversationID)
	if uc.conversations == nil || conversationID == "" {
		return trimHistory(history, uc.opts.HistoryMessages), 0
	}

	if _, err := uc.conversations.EnsureConversation(ctx, conversationID); err != nil {
		uc.opts.Logger.Warn("conversation_unavailable", zap.String("conversation_id", conversationID), zap.Error(err))
		return trimHistory(history, uc.opts.HistoryMessages), 0
	}
	stored, err := uc.conversations.ListRecentMessages(ctx, conversationID, uc.opts.HistoryMessages)
	if err != nil {
		uc.opts.Logger.Warn("conversation_history_failed", zap.String("conversation_id", conversationID), zap.Error(err))
	}
	turn, err := uc.conversations.NextTurn(ctx, conversationID)
	if err != nil {
		uc.opts.Logger.Warn("conversation_turn_failed", zap.String("conversation_id", conversationID), zap.Error(err))
		turn = 0
	}

	merged := make([]domain.ChatMessage, 0, len(stored)+len(history))
	for _, msg := range stored {
		merged = append(merged, msg.ChatMessage())
	}
	merged = append(merged, history...)
	return trimHistory(merged, uc.opts.HistoryMessages), turn
}

func (uc *ResearchUseCase) saveTurn(ctx context.Context, answer domain.ResearchAnswer, turn int) {
	if uc.conversations == nil || answer.ConversationID == "" || turn <= 0 {
		return
	}
	now := time.Now().UTC()
	messages := []domain.ConversationMessage{
		{Role: domain.RoleUser, Content: answer.Query},
		{Role: domain.RoleAssistant, Content: answer.Text},
	}
	for _, msg := range messages {
		msg.ID = uuid.NewString()
		msg.ConversationID = answer.ConversationID
		msg.Turn = turn
		msg.CreatedAt = now
		if err := uc.conversations.AppendMessage(ctx, msg); err != nil {
			uc.opts.Logger.Warn("conversation_append_failed",
				zap.String("conversation_id", answer.ConversationID),
				zap.String("role", msg.Role),
				zap.Error(err),
			)
			return
		}
	}
}

func replay(answer domain.ResearchAnswer, emit func(domain.StreamEvent) error) error {
	events := []domain.StreamEvent{
		{Type: domain.EventContent, Text: answer.Text},
		{Type: domain.EventCitation, Citations: answer.Citations},
		{Type: domain.EventComplete},
	}
	for _, event := range events {
		if err := emit(event); err != nil {
			return fmt.Errorf("replay cached answer: %w", err)
		}
	}
	return nil
}

func dedupeSources(results []domain.SearchResult) []domain.SearchResult {
	seen := make(map[string]struct{}, len(results))
	out := make([]domain.SearchResult, 0, len(results))
	for _, r := range results {
		if r.URL != "" {
			if _, ok := seen[r.URL]; ok {
				continue
			}
			seen[r.URL] = struct{}{}
		}
		out = append(out, r)
	}
	return out
}

func pipelineStatus(err error) string {
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		return "invalid"
	case errors.Is(err, domain.ErrServiceUnavailable):
		return "unavailable"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "error"
	}
}
