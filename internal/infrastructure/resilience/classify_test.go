package resilience

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"syscall"
	"testing"

	"github.com/kirillkom/research-assistant/internal/core/domain"
	"github.com/stretchr/testify/assert"
)

func TestClassifyTransport(t *testing.T) {
	cases := []struct {
		name      string
		err       error
		retryable bool
	}{
		{"rate limit status", &StatusError{Operation: "search", StatusCode: http.StatusTooManyRequests}, true},
		{"bad gateway status", &StatusError{Operation: "search", StatusCode: http.StatusBadGateway}, true},
		{"not found status", &StatusError{Operation: "search", StatusCode: http.StatusNotFound}, false},
		{"wrapped status", fmt.Errorf("call: %w", &StatusError{StatusCode: 503}), true},
		{"connection reset", fmt.Errorf("read: %w", syscall.ECONNRESET), true},
		{"net op error", &net.OpError{Op: "dial", Err: errors.New("refused")}, true},
		{"message timeout", errors.New("request Timeout after 10s"), true},
		{"message rate limit", errors.New("Rate limit exceeded"), true},
		{"message gateway", errors.New("upstream gateway failure"), true},
		{"temporary kind", domain.WrapError(domain.ErrTemporary, "op", errors.New("x")), true},
		{"no results", domain.ErrNoResults, true},
		{"invalid query", errors.New("invalid query syntax"), false},
		{"number containing status digits", errors.New(`invalid query "1500 words"`), false},
		{"canceled", context.Canceled, false},
		{"deadline", fmt.Errorf("op: %w", context.DeadlineExceeded), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.retryable, ClassifyTransport(tc.err).Retryable)
		})
	}
}

func TestMatchesTransient(t *testing.T) {
	cases := map[string]bool{
		"HTTP 502 from upstream":          true,
		"status=429":                      true,
		"Service Unavailable":             true,
		"unsupported region":              false,
		`invalid query "1500 words"`:      false,
		"page 4290 of results":            false,
		"limit 5040 exceeds maximum size": false,
	}
	for message, want := range cases {
		assert.Equal(t, want, MatchesTransient(message), message)
	}
}

func TestStatusErrorMessage(t *testing.T) {
	err := &StatusError{Operation: "duckduckgo search", StatusCode: 503, Body: " busy "}
	assert.Equal(t, "duckduckgo search status: 503 Service Unavailable: busy", err.Error())
}
