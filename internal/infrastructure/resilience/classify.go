package resilience

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"regexp"
	"strings"
	"syscall"

	"github.com/kirillkom/research-assistant/internal/core/domain"
)

type ErrorClassification struct {
	Retryable     bool
	RecordFailure bool
}

type ErrorClassifier func(err error) ErrorClassification

// StatusError carries a non-2xx upstream HTTP status.
type StatusError struct {
	Operation  string
	StatusCode int
	Status     string
	Body       string
}

func (e *StatusError) Error() string {
	if e == nil {
		return "upstream status error"
	}
	status := e.Status
	if strings.TrimSpace(status) == "" {
		status = fmt.Sprintf("%d %s", e.StatusCode, http.StatusText(e.StatusCode))
	}
	if strings.TrimSpace(e.Body) == "" {
		return fmt.Sprintf("%s status: %s", e.Operation, status)
	}
	return fmt.Sprintf("%s status: %s: %s", e.Operation, status, strings.TrimSpace(e.Body))
}

var transientPatterns = []string{
	"rate limit",
	"too many requests",
	"timeout",
	"timed out",
	"connection",
	"network",
	"temporary",
	"service unavailable",
	"gateway",
	"internal server error",
	"overloaded",
	"eof",
}

// transientStatus matches a bare status code, not digits inside a larger number.
var transientStatus = regexp.MustCompile(`\b(429|50[0-4])\b`)

var (
	retryable = ErrorClassification{Retryable: true, RecordFailure: true}
	fatal     = ErrorClassification{Retryable: false, RecordFailure: true}
)

// ClassifyTransport decides whether a provider or model failure is worth
// another attempt. Context errors are never retried.
func ClassifyTransport(err error) ErrorClassification {
	if err == nil {
		return ErrorClassification{}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return ErrorClassification{Retryable: false, RecordFailure: false}
	}
	if IsCircuitOpen(err) {
		return ErrorClassification{Retryable: false, RecordFailure: false}
	}
	if errors.Is(err, domain.ErrTemporary) || errors.Is(err, domain.ErrNoResults) {
		return retryable
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		if IsRetryableStatus(statusErr.StatusCode) {
			return retryable
		}
		return ErrorClassification{Retryable: false, RecordFailure: false}
	}

	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.EPIPE) {
		return retryable
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return retryable
	}

	if MatchesTransient(err.Error()) {
		return retryable
	}
	return fatal
}

// MatchesTransient applies the substring heuristics to a bare message, e.g.
// an error string reported inside a provider payload.
func MatchesTransient(message string) bool {
	lower := strings.ToLower(message)
	for _, pattern := range transientPatterns {
		if strings.Contains(lower, pattern) {
			return true
		}
	}
	return transientStatus.MatchString(lower)
}

func IsRetryableStatus(statusCode int) bool {
	switch statusCode {
	case http.StatusRequestTimeout, http.StatusTooManyRequests:
		return true
	}
	return statusCode >= 500 && statusCode <= 599
}
