package ports

import (
	"context"
	"time"

	"github.com/kirillkom/research-assistant/internal/core/domain"
)

// SearchProvider runs one web search. Transport failures are returned as
// errors; provider-reported failures may come back in ProviderResponse.Error.
type SearchProvider interface {
	Search(ctx context.Context, query string, maxResults int) (domain.ProviderResponse, error)
}

// TextCompleter produces free-form model text for a role-tagged conversation.
type TextCompleter interface {
	Complete(ctx context.Context, messages []domain.ChatMessage) (string, error)
	// CompleteStream delivers the answer incrementally. A non-nil error from
	// onDelta aborts the stream and is returned.
	CompleteStream(ctx context.Context, messages []domain.ChatMessage, onDelta func(delta string) error) error
}

// StructuredCompleter is implemented by completers that can return typed
// output natively instead of free-form text.
type StructuredCompleter interface {
	CompleteStructured(ctx context.Context, messages []domain.ChatMessage, schema domain.SchemaDescriptor) (domain.RecoveredRecord, error)
}

// ConversationStore persists conversation turns.
type ConversationStore interface {
	EnsureConversation(ctx context.Context, conversationID string) (*domain.Conversation, error)
	NextTurn(ctx context.Context, conversationID string) (int, error)
	AppendMessage(ctx context.Context, message domain.ConversationMessage) error
	ListRecentMessages(ctx context.Context, conversationID string, limit int) ([]domain.ConversationMessage, error)
}

// AnswerCache stores finished answers by request fingerprint and runs at most
// one computation per key at a time.
type AnswerCache interface {
	Do(ctx context.Context, key string, compute func(context.Context) (domain.ResearchAnswer, error)) (answer domain.ResearchAnswer, cached bool, err error)
}

// EventPublisher delivers stream events to a remote subscriber.
type EventPublisher interface {
	PublishEvent(ctx context.Context, subject string, event domain.StreamEvent) error
}

// PipelineObserver receives pipeline measurements.
type PipelineObserver interface {
	ObserveSearchAttempt(outcome domain.AttemptOutcome)
	ObserveSearchBatch(queries, results, failed int)
	ObserveSynthesisAttempts(operation string, attempts int, err error)
	ObserveCitations(resolved int)
	ObservePipeline(status string, duration time.Duration)
}
