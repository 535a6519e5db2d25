package ports

import (
	"context"

	"github.com/kirillkom/research-assistant/internal/core/domain"
)

// ResearchService is the inbound contract for answering research requests.
type ResearchService interface {
	Stream(ctx context.Context, req domain.ResearchRequest, emit func(domain.StreamEvent) error) error
	Answer(ctx context.Context, req domain.ResearchRequest) (*domain.ResearchAnswer, error)
}

// SearchBatcher is the inbound contract for running a retrieval batch alone.
type SearchBatcher interface {
	Run(ctx context.Context, queries []string, maxResults int) domain.QueryBatchOutcome
}

// RequestHandler consumes research requests delivered by a queue.
type RequestHandler interface {
	HandleRequest(ctx context.Context, req domain.ResearchRequest, reply string) error
}
