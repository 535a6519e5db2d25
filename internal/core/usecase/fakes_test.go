package usecase

import (
	"context"
	"sync"
	"time"

	"github.com/kirillkom/research-assistant/internal/core/domain"
	"github.com/kirillkom/research-assistant/internal/infrastructure/resilience"
)

func testRetry(attempts int) *resilience.Executor {
	return resilience.NewExecutor(resilience.Config{
		RetryMaxAttempts: attempts,
		RetryBaseDelay:   time.Microsecond,
		RetryMaxDelay:    time.Millisecond,
	}, resilience.WithRand(func() float64 { return 0 }))
}

type searchReply struct {
	resp domain.ProviderResponse
	err  error
}

// providerFake replays scripted replies per query; the last reply repeats.
type providerFake struct {
	mu      sync.Mutex
	replies map[string][]searchReply
	calls   map[string]int
	hook    func(query string)
}

func newProviderFake() *providerFake {
	return &providerFake{replies: map[string][]searchReply{}, calls: map[string]int{}}
}

func (f *providerFake) script(query string, replies ...searchReply) *providerFake {
	f.replies[query] = replies
	return f
}

func (f *providerFake) Search(_ context.Context, query string, _ int) (domain.ProviderResponse, error) {
	f.mu.Lock()
	n := f.calls[query]
	f.calls[query] = n + 1
	replies := f.replies[query]
	hook := f.hook
	f.mu.Unlock()

	if hook != nil {
		defer hook(query)
	}
	if len(replies) == 0 {
		return domain.ProviderResponse{}, nil
	}
	if n >= len(replies) {
		n = len(replies) - 1
	}
	return replies[n].resp, replies[n].err
}

func (f *providerFake) callCount(query string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[query]
}

func ok(titles ...string) searchReply {
	results := make([]domain.RawResult, 0, len(titles))
	for _, title := range titles {
		results = append(results, domain.RawResult{
			Title:   title,
			Link:    "https://example.com/" + title,
			Content: "about " + title,
			Source:  "example.com",
		})
	}
	return searchReply{resp: domain.ProviderResponse{Results: results}}
}

func fail(err error) searchReply {
	return searchReply{err: err}
}

type completerFake struct {
	mu       sync.Mutex
	texts    []string
	errs     []error
	chunks   [][]string
	calls    int
	messages [][]domain.ChatMessage
}

func (f *completerFake) next() (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := f.calls
	f.calls++
	if n < len(f.errs) && f.errs[n] != nil {
		return n, f.errs[n]
	}
	return n, nil
}

func (f *completerFake) record(messages []domain.ChatMessage) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, messages)
}

func (f *completerFake) Complete(_ context.Context, messages []domain.ChatMessage) (string, error) {
	f.record(messages)
	n, err := f.next()
	if err != nil {
		return "", err
	}
	if len(f.texts) == 0 {
		return "", nil
	}
	if n >= len(f.texts) {
		n = len(f.texts) - 1
	}
	return f.texts[n], nil
}

func (f *completerFake) CompleteStream(_ context.Context, messages []domain.ChatMessage, onDelta func(string) error) error {
	f.record(messages)
	n, err := f.next()
	if err != nil {
		return err
	}
	if len(f.chunks) == 0 {
		return nil
	}
	if n >= len(f.chunks) {
		n = len(f.chunks) - 1
	}
	for _, chunk := range f.chunks[n] {
		if err := onDelta(chunk); err != nil {
			return err
		}
	}
	return nil
}

func (f *completerFake) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type structuredFake struct {
	*completerFake
	record  domain.RecoveredRecord
	schemas []domain.SchemaDescriptor
}

func (f *structuredFake) CompleteStructured(_ context.Context, _ []domain.ChatMessage, schema domain.SchemaDescriptor) (domain.RecoveredRecord, error) {
	f.schemas = append(f.schemas, schema)
	return f.record, nil
}
