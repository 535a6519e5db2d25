package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/kirillkom/research-assistant/internal/core/domain"
	"github.com/kirillkom/research-assistant/internal/core/ports"
	"github.com/kirillkom/research-assistant/internal/infrastructure/resilience"
)

const workerGroup = "research-workers"

type Queue struct {
	conn     *nats.Conn
	subject  string
	executor *resilience.Executor
	logger   *zap.Logger
}

func New(url, subject string) (*Queue, error) {
	return NewWithOptions(url, subject, Options{})
}

type Options struct {
	ConnectTimeout       time.Duration
	ReconnectWait        time.Duration
	MaxReconnects        int
	RetryOnFailedConnect *bool
	ResilienceExecutor   *resilience.Executor
	Logger               *zap.Logger
}

func NewWithOptions(url, subject string, options Options) (*Queue, error) {
	connectTimeout := options.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 2 * time.Second
	}
	reconnectWait := options.ReconnectWait
	if reconnectWait <= 0 {
		reconnectWait = 2 * time.Second
	}
	maxReconnects := options.MaxReconnects
	if maxReconnects <= 0 {
		maxReconnects = 60
	}
	retryOnFailedConnect := true
	if options.RetryOnFailedConnect != nil {
		retryOnFailedConnect = *options.RetryOnFailedConnect
	}
	logger := options.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "nats"))

	conn, err := nats.Connect(
		url,
		nats.Name("research-assistant"),
		nats.Timeout(connectTimeout),
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(maxReconnects),
		nats.RetryOnFailedConnect(retryOnFailedConnect),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats_disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats_reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &Queue{
		conn:     conn,
		subject:  subject,
		executor: options.ResilienceExecutor,
		logger:   logger,
	}, nil
}

func (q *Queue) Close() {
	if q.conn != nil {
		q.conn.Close()
	}
}

// PublishEvent sends one JSON-encoded stream event to subject.
func (q *Queue) PublishEvent(ctx context.Context, subject string, event domain.StreamEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal stream event: %w", err)
	}
	return q.publish(ctx, "nats.publish_event", subject, "", payload)
}

// Submit publishes req to the request subject and calls onEvent for every
// event on a private inbox until a complete or error event arrives.
func (q *Queue) Submit(ctx context.Context, req domain.ResearchRequest, onEvent func(domain.StreamEvent) error) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal research request: %w", err)
	}

	inbox := q.conn.NewRespInbox()
	sub, err := q.conn.SubscribeSync(inbox)
	if err != nil {
		return fmt.Errorf("nats subscribe inbox: %w", err)
	}
	defer func() {
		_ = sub.Unsubscribe()
	}()

	if err := q.publish(ctx, "nats.submit", q.subject, inbox, payload); err != nil {
		return err
	}

	for {
		msg, err := sub.NextMsgWithContext(ctx)
		if err != nil {
			return fmt.Errorf("nats wait event: %w", err)
		}
		event, err := decodeEvent(msg.Data)
		if err != nil {
			return err
		}
		if err := onEvent(event); err != nil {
			return err
		}
		switch event.Type {
		case domain.EventComplete:
			return nil
		case domain.EventError:
			return fmt.Errorf("remote research failed: %s", event.Error)
		}
	}
}

// SubscribeRequests delivers queued research requests to handler until ctx is
// done, then drains the subscription.
func (q *Queue) SubscribeRequests(ctx context.Context, handler ports.RequestHandler, timeout time.Duration) error {
	sub, err := q.conn.QueueSubscribe(q.subject, workerGroup, func(msg *nats.Msg) {
		if errors.Is(ctx.Err(), context.Canceled) {
			return
		}

		var (
			handlerCtx context.Context
			cancel     context.CancelFunc
		)
		if timeout > 0 {
			handlerCtx, cancel = context.WithTimeout(ctx, timeout)
		} else {
			handlerCtx, cancel = context.WithCancel(ctx)
		}
		defer cancel()

		req, err := decodeRequest(msg.Data)
		if err != nil {
			q.logger.Warn("research_request_rejected", zap.String("reply", msg.Reply), zap.Error(err))
			if msg.Reply != "" {
				event := domain.StreamEvent{Type: domain.EventError, Error: err.Error()}
				if pubErr := q.PublishEvent(handlerCtx, msg.Reply, event); pubErr != nil {
					q.logger.Warn("error_event_publish_failed", zap.Error(pubErr))
				}
			}
			return
		}

		if err := handler.HandleRequest(handlerCtx, req, msg.Reply); err != nil {
			q.logger.Error("research_request_failed",
				zap.String("reply", msg.Reply),
				zap.String("conversation_id", req.ConversationID),
				zap.Error(err),
			)
		}
	})
	if err != nil {
		return fmt.Errorf("nats subscribe: %w", err)
	}

	if err := q.conn.Flush(); err != nil {
		return fmt.Errorf("nats flush: %w", err)
	}

	<-ctx.Done()
	if err := sub.Drain(); err != nil {
		return fmt.Errorf("nats drain subscription: %w", err)
	}
	if err := q.conn.FlushTimeout(5 * time.Second); err != nil {
		return fmt.Errorf("nats flush after drain: %w", err)
	}
	return nil
}

func (q *Queue) publish(ctx context.Context, operation, subject, reply string, payload []byte) error {
	call := func(_ context.Context) error {
		var err error
		if reply != "" {
			err = q.conn.PublishRequest(subject, reply, payload)
		} else {
			err = q.conn.Publish(subject, payload)
		}
		if err != nil {
			return fmt.Errorf("nats publish: %w", err)
		}
		return nil
	}

	var err error
	if q.executor != nil {
		err = q.executor.Execute(ctx, operation, call, classifyNATSError)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return wrapTemporaryIfNeeded(err)
	}
	return nil
}

func decodeRequest(data []byte) (domain.ResearchRequest, error) {
	var req domain.ResearchRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return domain.ResearchRequest{}, domain.WrapError(domain.ErrInvalidInput, "decode research request", err)
	}
	return req, nil
}

func decodeEvent(data []byte) (domain.StreamEvent, error) {
	var event domain.StreamEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return domain.StreamEvent{}, fmt.Errorf("decode stream event: %w", err)
	}
	return event, nil
}
