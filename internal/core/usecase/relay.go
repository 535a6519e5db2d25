package usecase

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/kirillkom/research-assistant/internal/core/domain"
	"github.com/kirillkom/research-assistant/internal/core/ports"
)

// StreamRelay runs queued research requests and publishes every stream event
// to the requester's reply subject. A failed run ends with one error event.
type StreamRelay struct {
	research  ports.ResearchService
	publisher ports.EventPublisher
	logger    *zap.Logger
}

func NewStreamRelay(research ports.ResearchService, publisher ports.EventPublisher, logger *zap.Logger) *StreamRelay {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StreamRelay{research: research, publisher: publisher, logger: logger}
}

func (r *StreamRelay) HandleRequest(ctx context.Context, req domain.ResearchRequest, reply string) error {
	if reply == "" {
		// Nobody is listening; run for side effects (history, cache) only.
		_, err := r.research.Answer(ctx, req)
		return err
	}

	var publishErr error
	err := r.research.Stream(ctx, req, func(event domain.StreamEvent) error {
		if err := r.publisher.PublishEvent(ctx, reply, event); err != nil {
			publishErr = err
			return err
		}
		return nil
	})
	if err == nil {
		return nil
	}
	if publishErr != nil && errors.Is(err, publishErr) {
		return fmt.Errorf("relay events to %s: %w", reply, err)
	}

	r.logger.Warn("research_request_failed", zap.String("reply", reply), zap.Error(err))
	event := domain.StreamEvent{Type: domain.EventError, Error: clientMessage(err)}
	if pubErr := r.publisher.PublishEvent(context.WithoutCancel(ctx), reply, event); pubErr != nil {
		r.logger.Warn("error_event_publish_failed", zap.String("reply", reply), zap.Error(pubErr))
	}
	return err
}

// clientMessage keeps error events free of upstream response bodies.
func clientMessage(err error) string {
	switch {
	case domain.IsKind(err, domain.ErrInvalidInput):
		return err.Error()
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "request cancelled"
	case domain.IsKind(err, domain.ErrServiceUnavailable):
		return "answer service unavailable"
	default:
		return "research failed"
	}
}
