package usecase

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kirillkom/research-assistant/internal/core/domain"
	"github.com/kirillkom/research-assistant/internal/core/ports"
	"github.com/kirillkom/research-assistant/internal/core/recovery"
	"github.com/kirillkom/research-assistant/internal/infrastructure/resilience"
)

const EmptyAnswerApology = "I apologize, but I received an empty response. Please try again."

var (
	RefinementSchema = domain.NewSchema(
		domain.SchemaField{Name: "refined_text", Type: domain.FieldString},
		domain.SchemaField{Name: "requires_escalation", Type: domain.FieldBool},
	)
	ExpansionSchema = domain.NewSchema(
		domain.SchemaField{Name: "queries", Type: domain.FieldList},
	)
)

type SynthesizerOptions struct {
	HistoryMessages int
	Now             func() time.Time
	Logger          *zap.Logger
	Observer        ports.PipelineObserver
}

// SynthesisRequest carries the sources in arrival order; source i is
// presented to the model as block i+1.
type SynthesisRequest struct {
	Question string
	Sources  []domain.SearchResult
	History  []domain.ChatMessage
}

// Synthesizer turns search results into an answer with a text completer and
// takes structured decisions, recovering them from raw text when the
// completer has no native structured output.
type Synthesizer struct {
	completer    ports.TextCompleter
	retry        *resilience.Executor
	historyLimit int
	now          func() time.Time
	logger       *zap.Logger
	observer     ports.PipelineObserver
}

func NewSynthesizer(completer ports.TextCompleter, retry *resilience.Executor, opts SynthesizerOptions) *Synthesizer {
	if opts.HistoryMessages <= 0 {
		opts.HistoryMessages = 10
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Observer == nil {
		opts.Observer = noopObserver{}
	}
	return &Synthesizer{
		completer:    completer,
		retry:        retry,
		historyLimit: opts.HistoryMessages,
		now:          opts.Now,
		logger:       opts.Logger,
		observer:     opts.Observer,
	}
}

func (s *Synthesizer) Messages(req SynthesisRequest) []domain.ChatMessage {
	history := trimHistory(req.History, s.historyLimit)
	messages := make([]domain.ChatMessage, 0, len(history)+2)
	messages = append(messages, domain.ChatMessage{Role: domain.RoleSystem, Content: buildSystemPrompt(s.now())})
	messages = append(messages, history...)
	messages = append(messages, domain.ChatMessage{Role: domain.RoleUser, Content: buildAnswerPrompt(req.Question, req.Sources)})
	return messages
}

func (s *Synthesizer) Answer(ctx context.Context, req SynthesisRequest) (string, error) {
	messages := s.Messages(req)

	var text string
	attempts, err := s.retry.Run(ctx, "synthesize_answer", func(ctx context.Context) error {
		out, err := s.completer.Complete(ctx, messages)
		if err != nil {
			return err
		}
		text = strings.TrimSpace(out)
		return nil
	}, resilience.ClassifyTransport)
	s.observer.ObserveSynthesisAttempts("answer", len(attempts), err)
	if err != nil {
		return "", s.unavailable("synthesize answer", len(attempts), err)
	}
	if text == "" {
		s.logger.Warn("synthesis_empty_response", zap.String("operation", "answer"))
		return EmptyAnswerApology, nil
	}
	return text, nil
}

// Stream delivers the answer through onDelta. Retries happen only while
// nothing has been delivered; an error from onDelta stops the stream and is
// returned unchanged.
func (s *Synthesizer) Stream(ctx context.Context, req SynthesisRequest, onDelta func(string) error) error {
	messages := s.Messages(req)

	var (
		delivered   bool
		callbackErr error
	)
	attempts, err := s.retry.Run(ctx, "synthesize_stream", func(ctx context.Context) error {
		return s.completer.CompleteStream(ctx, messages, func(delta string) error {
			if delta == "" {
				return nil
			}
			delivered = true
			if err := onDelta(delta); err != nil {
				callbackErr = err
				return err
			}
			return nil
		})
	}, func(err error) resilience.ErrorClassification {
		if callbackErr != nil {
			return resilience.ErrorClassification{Retryable: false, RecordFailure: false}
		}
		if delivered {
			return resilience.ErrorClassification{Retryable: false, RecordFailure: true}
		}
		return resilience.ClassifyTransport(err)
	})
	s.observer.ObserveSynthesisAttempts("stream", len(attempts), err)

	if callbackErr != nil {
		return callbackErr
	}
	if err != nil {
		return s.unavailable("synthesize stream", len(attempts), err)
	}
	if !delivered {
		s.logger.Warn("synthesis_empty_response", zap.String("operation", "stream"))
		return onDelta(EmptyAnswerApology)
	}
	return nil
}

// Refine rewrites the question into a standalone search query and decides
// whether it needs several searches.
func (s *Synthesizer) Refine(ctx context.Context, question string, history []domain.ChatMessage) (domain.Refinement, error) {
	messages := append(trimHistory(history, s.historyLimit), domain.ChatMessage{
		Role:    domain.RoleUser,
		Content: buildRefinePrompt(question),
	})

	result, err := s.decide(ctx, "refine_question", messages, RefinementSchema)
	if err != nil {
		return domain.Refinement{}, err
	}

	refined := strings.TrimSpace(result.Record.String("refined_text"))
	if refined == "" {
		refined = strings.TrimSpace(question)
	}
	return domain.Refinement{
		RefinedText:        refined,
		RequiresEscalation: result.Record.Bool("requires_escalation"),
		Strategy:           result.Strategy,
	}, nil
}

// Expand proposes up to limit sub-queries for a question.
func (s *Synthesizer) Expand(ctx context.Context, question string, limit int) ([]string, error) {
	if limit <= 0 {
		return nil, nil
	}
	messages := []domain.ChatMessage{{Role: domain.RoleUser, Content: buildExpansionPrompt(question, limit)}}

	result, err := s.decide(ctx, "expand_question", messages, ExpansionSchema)
	if err != nil {
		return nil, err
	}

	queries := make([]string, 0, limit)
	for _, q := range result.Record.List("queries") {
		if q = strings.TrimSpace(q); q != "" {
			queries = append(queries, q)
		}
		if len(queries) == limit {
			break
		}
	}
	return queries, nil
}

func (s *Synthesizer) decide(ctx context.Context, operation string, messages []domain.ChatMessage, schema domain.SchemaDescriptor) (recovery.Result, error) {
	structured, native := s.completer.(ports.StructuredCompleter)

	var result recovery.Result
	attempts, err := s.retry.Run(ctx, operation, func(ctx context.Context) error {
		if native {
			record, err := structured.CompleteStructured(ctx, messages, schema)
			if err != nil {
				return err
			}
			result = recovery.Result{Record: record, Strategy: recovery.StrategyNative}
			return nil
		}
		text, err := s.completer.Complete(ctx, messages)
		if err != nil {
			return err
		}
		result = recovery.Parse(text, schema)
		return nil
	}, resilience.ClassifyTransport)
	s.observer.ObserveSynthesisAttempts(operation, len(attempts), err)
	if err != nil {
		return recovery.Result{}, s.unavailable(operation, len(attempts), err)
	}

	s.logger.Debug("structured_decision",
		zap.String("operation", operation),
		zap.String("strategy", result.Strategy),
		zap.Bool("native", native),
	)
	return result, nil
}

func (s *Synthesizer) unavailable(operation string, attempts int, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	s.logger.Error("completion_unavailable",
		zap.String("operation", operation),
		zap.Int("attempts", attempts),
		zap.Error(err),
	)
	return domain.WrapError(domain.ErrServiceUnavailable, operation, err)
}
