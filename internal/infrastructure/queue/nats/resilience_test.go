package nats

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/nats-io/nats.go"
	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kirillkom/research-assistant/internal/core/domain"
)

func TestClassifyNATSError(t *testing.T) {
	cases := []struct {
		name      string
		err       error
		retryable bool
		record    bool
	}{
		{name: "nil", err: nil},
		{name: "cancelled", err: context.Canceled},
		{name: "circuit open", err: gobreaker.ErrOpenState},
		{name: "no servers", err: fmt.Errorf("nats publish: %w", nats.ErrNoServers), retryable: true, record: true},
		{name: "reconnecting", err: nats.ErrConnectionReconnecting, retryable: true, record: true},
		{name: "bad subject", err: nats.ErrBadSubject, record: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := classifyNATSError(tc.err)
			assert.Equal(t, tc.retryable, got.Retryable)
			assert.Equal(t, tc.record, got.RecordFailure)
		})
	}
}

func TestWrapTemporaryIfNeeded(t *testing.T) {
	assert.NoError(t, wrapTemporaryIfNeeded(nil))

	wrapped := wrapTemporaryIfNeeded(nats.ErrTimeout)
	assert.True(t, domain.IsKind(wrapped, domain.ErrTemporary))
	assert.ErrorIs(t, wrapped, nats.ErrTimeout)

	fatal := errors.New("payload too large")
	assert.Equal(t, fatal, wrapTemporaryIfNeeded(fatal))
}

func TestDecodeRequest(t *testing.T) {
	req, err := decodeRequest([]byte(`{"query":"what is go","max_results":3,"conversation_id":"c-1"}`))
	require.NoError(t, err)
	assert.Equal(t, "what is go", req.Query)
	assert.Equal(t, 3, req.MaxResults)
	assert.Equal(t, "c-1", req.ConversationID)

	_, err = decodeRequest([]byte(`not json`))
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.ErrInvalidInput))
}

func TestDecodeEvent(t *testing.T) {
	event, err := decodeEvent([]byte(`{"type":"citation","citations":{"1":{"title":"Go","url":"https://go.dev","content":"x","source":"DuckDuckGo"}}}`))
	require.NoError(t, err)
	assert.Equal(t, domain.EventCitation, event.Type)
	assert.Equal(t, "https://go.dev", event.Citations[1].URL)
}
