package usecase

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"sync"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/kirillkom/research-assistant/internal/core/domain"
	"github.com/kirillkom/research-assistant/internal/core/ports"
)

type cacheFake struct {
	mu      sync.Mutex
	entries map[string]domain.ResearchAnswer
}

func (c *cacheFake) Do(ctx context.Context, key string, compute func(context.Context) (domain.ResearchAnswer, error)) (domain.ResearchAnswer, bool, error) {
	c.mu.Lock()
	if answer, ok := c.entries[key]; ok {
		c.mu.Unlock()
		return answer, true, nil
	}
	c.mu.Unlock()

	answer, err := compute(ctx)
	if err != nil {
		return domain.ResearchAnswer{}, false, err
	}
	c.mu.Lock()
	c.entries[key] = answer
	c.mu.Unlock()
	return answer, false, nil
}

// abandonedCacheFake cancels the calling request before running the shared
// computation on a detached context.
type abandonedCacheFake struct {
	cancelCaller context.CancelFunc
	computed     int
}

func (c *abandonedCacheFake) Do(ctx context.Context, _ string, compute func(context.Context) (domain.ResearchAnswer, error)) (domain.ResearchAnswer, bool, error) {
	c.cancelCaller()
	answer, err := compute(context.WithoutCancel(ctx))
	if err == nil {
		c.computed++
	}
	return answer, false, err
}

type conversationFake struct {
	stored   []domain.ConversationMessage
	appended []domain.ConversationMessage
	turn     int
	listErr  error
}

func (f *conversationFake) EnsureConversation(_ context.Context, id string) (*domain.Conversation, error) {
	return &domain.Conversation{ConversationID: id}, nil
}

func (f *conversationFake) NextTurn(context.Context, string) (int, error) {
	return f.turn, nil
}

func (f *conversationFake) AppendMessage(_ context.Context, msg domain.ConversationMessage) error {
	f.appended = append(f.appended, msg)
	return nil
}

func (f *conversationFake) ListRecentMessages(context.Context, string, int) ([]domain.ConversationMessage, error) {
	return f.stored, f.listErr
}

const refinedJSON = `{"refined_text": "go news", "requires_escalation": false}`

func newResearch(provider *providerFake, completer *completerFake, store *conversationFake, cache *cacheFake, subqueries int) *ResearchUseCase {
	var answers ports.AnswerCache
	if cache != nil {
		answers = cache
	}
	return newResearchWith(provider, completer, store, answers, ResearchOptions{MaxSubqueries: subqueries})
}

func newResearchWith(provider *providerFake, completer *completerFake, store *conversationFake, cache ports.AnswerCache, opts ResearchOptions) *ResearchUseCase {
	search := NewSearchExecutor(provider, testRetry(2), SearchExecutorOptions{})
	synth := NewSynthesizer(completer, testRetry(2), SynthesizerOptions{Now: fixedNow})

	var conversations ports.ConversationStore
	if store != nil {
		conversations = store
	}
	return NewResearchUseCase(search, synth, conversations, cache, opts)
}

func collect(events *[]domain.StreamEvent) func(domain.StreamEvent) error {
	return func(e domain.StreamEvent) error {
		*events = append(*events, e)
		return nil
	}
}

func TestResearchStreamRemapsCitations(t *testing.T) {
	provider := newProviderFake().script("go news", ok("one", "two"))
	completer := &completerFake{
		texts:  []string{refinedJSON},
		chunks: [][]string{nil, {"Go shipped²", " with iterators¹", "."}},
	}
	uc := newResearch(provider, completer, nil, nil, 0)

	var events []domain.StreamEvent
	err := uc.Stream(context.Background(), domain.ResearchRequest{Query: "what's new in go", MaxResults: 5}, collect(&events))
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}

	if len(events) != 5 {
		t.Fatalf("expected 5 events, got %d: %+v", len(events), events)
	}
	if !reflect.DeepEqual(events[0], domain.StreamEvent{Type: domain.EventContent, Text: "Go shipped"}) {
		t.Fatalf("unexpected first event %+v", events[0])
	}
	if events[1].Text != "[1] with iterators" || events[2].Text != "[2]." {
		t.Fatalf("unexpected content %q / %q", events[1].Text, events[2].Text)
	}
	citation := events[3]
	if citation.Type != domain.EventCitation || len(citation.Citations) != 2 {
		t.Fatalf("unexpected citation event %+v", citation)
	}
	if citation.Citations[1].Title != "two" || citation.Citations[2].Title != "one" {
		t.Fatalf("expected first-seen order, got %+v", citation.Citations)
	}
	if events[4].Type != domain.EventComplete {
		t.Fatalf("expected complete last, got %s", events[4].Type)
	}
}

func TestResearchAnswerNonStreaming(t *testing.T) {
	provider := newProviderFake().script("go news", ok("one"))
	completer := &completerFake{texts: []string{refinedJSON, "Fact¹. Unknown⁷."}}
	uc := newResearch(provider, completer, nil, nil, 0)

	answer, err := uc.Answer(context.Background(), domain.ResearchRequest{Query: "go news today"})
	if err != nil {
		t.Fatalf("Answer() error = %v", err)
	}
	if answer.Text != "Fact[1]. Unknown⁷." || answer.RefinedQuery != "go news" {
		t.Fatalf("unexpected answer %+v", answer)
	}
	if !reflect.DeepEqual(answer.CitationList(), []string{"1. one. https://example.com/one"}) {
		t.Fatalf("unexpected citations %v", answer.CitationList())
	}
	if len(answer.FailedQueries) != 0 {
		t.Fatalf("expected no failed queries, got %v", answer.FailedQueries)
	}
}

func TestResearchRejectsInvalidRequest(t *testing.T) {
	completer := &completerFake{}
	uc := newResearch(newProviderFake(), completer, nil, nil, 0)

	err := uc.Stream(context.Background(), domain.ResearchRequest{Query: "go", MaxResults: 5}, collect(&[]domain.StreamEvent{}))
	if !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input for short query, got %v", err)
	}

	_, err = uc.Answer(context.Background(), domain.ResearchRequest{Query: "golang", MaxResults: 51})
	if !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input for max results, got %v", err)
	}
	if completer.callCount() != 0 {
		t.Fatalf("expected no model calls, got %d", completer.callCount())
	}
}

func TestResearchEscalationExpandsQueries(t *testing.T) {
	provider := newProviderFake().
		script("go news", ok("a")).
		script("go release", ok("b")).
		script("go tooling", fail(errors.New("access forbidden")))
	completer := &completerFake{texts: []string{
		`{"refined_text": "go news", "requires_escalation": true}`,
		"## Queries\n- go release\n- go tooling\n- go news",
		"Answer¹²",
	}}
	uc := newResearch(provider, completer, nil, nil, 3)

	answer, err := uc.Answer(context.Background(), domain.ResearchRequest{Query: "all about go", MaxResults: 3})
	if err != nil {
		t.Fatalf("Answer() error = %v", err)
	}
	if provider.callCount("go news") != 1 || provider.callCount("go release") != 1 {
		t.Fatalf("expected each query searched once")
	}
	if !reflect.DeepEqual(answer.FailedQueries, []string{"go tooling"}) {
		t.Fatalf("unexpected failed queries %v", answer.FailedQueries)
	}
	if len(answer.Sources) != 2 {
		t.Fatalf("expected 2 sources, got %d", len(answer.Sources))
	}
	if answer.Text != "Answer¹²" || len(answer.Citations) != 0 {
		t.Fatalf("expected unresolved run kept raw, got %q %+v", answer.Text, answer.Citations)
	}
}

func TestResearchDegradesWhenSearchFails(t *testing.T) {
	provider := newProviderFake().script("go news", fail(errors.New("access forbidden")))
	completer := &completerFake{texts: []string{refinedJSON, "I could not find sources."}}
	uc := newResearch(provider, completer, nil, nil, 0)

	answer, err := uc.Answer(context.Background(), domain.ResearchRequest{Query: "go news today", MaxResults: 5})
	if err != nil {
		t.Fatalf("Answer() error = %v", err)
	}
	if answer.Text != "I could not find sources." {
		t.Fatalf("unexpected answer %q", answer.Text)
	}
	if !reflect.DeepEqual(answer.FailedQueries, []string{"go news"}) {
		t.Fatalf("unexpected failed queries %v", answer.FailedQueries)
	}
	prompt := completer.messages[1][len(completer.messages[1])-1].Content
	if !strings.Contains(prompt, "no search results") {
		t.Fatalf("expected prompt to state missing sources, got %q", prompt)
	}
}

func TestResearchCompletionUnavailable(t *testing.T) {
	provider := newProviderFake().script("go news", ok("a"))
	down := errors.New("502 bad gateway")
	completer := &completerFake{errs: []error{down, down}}
	uc := newResearch(provider, completer, nil, nil, 0)

	var events []domain.StreamEvent
	err := uc.Stream(context.Background(), domain.ResearchRequest{Query: "go news today", MaxResults: 5}, collect(&events))
	if !domain.IsKind(err, domain.ErrServiceUnavailable) {
		t.Fatalf("expected service unavailable, got %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("expected no events, got %+v", events)
	}
}

func TestResearchReplaysCachedAnswer(t *testing.T) {
	provider := newProviderFake().script("go news", ok("one"))
	completer := &completerFake{
		texts:  []string{refinedJSON},
		chunks: [][]string{nil, {"Cached fact¹"}},
	}
	cache := &cacheFake{entries: map[string]domain.ResearchAnswer{}}
	uc := newResearch(provider, completer, nil, cache, 0)
	req := domain.ResearchRequest{Query: "go news today", MaxResults: 5}

	var first []domain.StreamEvent
	if err := uc.Stream(context.Background(), req, collect(&first)); err != nil {
		t.Fatalf("first Stream() error = %v", err)
	}
	calls := completer.callCount()

	var second []domain.StreamEvent
	if err := uc.Stream(context.Background(), req, collect(&second)); err != nil {
		t.Fatalf("second Stream() error = %v", err)
	}
	if completer.callCount() != calls {
		t.Fatalf("expected cached replay without model calls")
	}

	if len(second) != 3 {
		t.Fatalf("expected 3 replayed events, got %d", len(second))
	}
	if second[0].Text != "Cached fact[1]" || second[1].Citations[1].Title != "one" {
		t.Fatalf("unexpected replay %+v", second)
	}
	if second[2].Type != domain.EventComplete {
		t.Fatalf("expected complete last, got %s", second[2].Type)
	}
}

func TestResearchStopsForwardingWhenCallerLeavesSharedComputation(t *testing.T) {
	provider := newProviderFake().script("go news", ok("one"))
	completer := &completerFake{
		texts:  []string{refinedJSON},
		chunks: [][]string{nil, {"Shared fact¹"}},
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	cache := &abandonedCacheFake{cancelCaller: cancel}
	uc := newResearchWith(provider, completer, nil, cache, ResearchOptions{})

	var events []domain.StreamEvent
	err := uc.Stream(ctx, domain.ResearchRequest{Query: "go news today", MaxResults: 5}, collect(&events))
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	if cache.computed != 1 {
		t.Fatalf("expected the shared computation to finish, got %d", cache.computed)
	}
	if len(events) != 0 {
		t.Fatalf("expected no events for a departed caller, got %+v", events)
	}
}

func TestResearchUsesAndRecordsConversation(t *testing.T) {
	provider := newProviderFake().script("go news", ok("one"))
	completer := &completerFake{texts: []string{refinedJSON, "Answer text"}}
	store := &conversationFake{
		turn: 3,
		stored: []domain.ConversationMessage{
			{Role: domain.RoleUser, Content: "earlier question"},
			{Role: domain.RoleAssistant, Content: "earlier answer"},
		},
	}
	uc := newResearch(provider, completer, store, nil, 0)

	_, err := uc.Answer(context.Background(), domain.ResearchRequest{Query: "and now?", MaxResults: 5, ConversationID: "conv-1"})
	if err != nil {
		t.Fatalf("Answer() error = %v", err)
	}

	refineMessages := completer.messages[0]
	if len(refineMessages) != 3 || refineMessages[0].Content != "earlier question" {
		t.Fatalf("expected history in refine prompt, got %+v", refineMessages)
	}

	if len(store.appended) != 2 {
		t.Fatalf("expected 2 appended messages, got %d", len(store.appended))
	}
	question, reply := store.appended[0], store.appended[1]
	if question.Role != domain.RoleUser || question.Content != "and now?" {
		t.Fatalf("unexpected user message %+v", question)
	}
	if reply.Content != "Answer text" || reply.Turn != 3 || reply.ConversationID != "conv-1" || reply.ID == "" {
		t.Fatalf("unexpected assistant message %+v", reply)
	}
}

func newTracedResearch(t *testing.T, provider *providerFake, completer *completerFake) (*ResearchUseCase, *tracetest.SpanRecorder) {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	uc := newResearchWith(provider, completer, nil, nil, ResearchOptions{Tracer: tp.Tracer("research-test")})
	return uc, recorder
}

func spansByName(spans []sdktrace.ReadOnlySpan) map[string]sdktrace.ReadOnlySpan {
	out := make(map[string]sdktrace.ReadOnlySpan, len(spans))
	for _, span := range spans {
		out[span.Name()] = span
	}
	return out
}

func intAttribute(span sdktrace.ReadOnlySpan, key attribute.Key) (int64, bool) {
	for _, kv := range span.Attributes() {
		if kv.Key == key {
			return kv.Value.AsInt64(), true
		}
	}
	return 0, false
}

func TestResearchRecordsPipelineSpans(t *testing.T) {
	provider := newProviderFake().script("go news", ok("one", "two"))
	completer := &completerFake{texts: []string{refinedJSON, "Fact¹."}}
	uc, recorder := newTracedResearch(t, provider, completer)

	if _, err := uc.Answer(context.Background(), domain.ResearchRequest{Query: "go news today", MaxResults: 5}); err != nil {
		t.Fatalf("Answer() error = %v", err)
	}

	spans := spansByName(recorder.Ended())
	root, ok := spans["research.answer"]
	if !ok {
		t.Fatalf("expected research.answer span, got %v", spans)
	}
	for _, name := range []string{"research.search", "research.synthesize"} {
		child, ok := spans[name]
		if !ok {
			t.Fatalf("expected %s span", name)
		}
		if child.Parent().SpanID() != root.SpanContext().SpanID() {
			t.Fatalf("%s is not a child of research.answer", name)
		}
	}
	if n, ok := intAttribute(spans["research.search"], "search.results"); !ok || n != 2 {
		t.Fatalf("expected search.results=2, got %d (present=%v)", n, ok)
	}
	if n, ok := intAttribute(root, "research.citations"); !ok || n != 1 {
		t.Fatalf("expected research.citations=1, got %d (present=%v)", n, ok)
	}
	if root.Status().Code == codes.Error {
		t.Fatalf("expected successful root span")
	}
}

func TestResearchMarksFailedSpans(t *testing.T) {
	provider := newProviderFake().script("go news", ok("a"))
	down := errors.New("502 bad gateway")
	completer := &completerFake{texts: []string{refinedJSON}, errs: []error{nil, down, down}}
	uc, recorder := newTracedResearch(t, provider, completer)

	_, err := uc.Answer(context.Background(), domain.ResearchRequest{Query: "go news today", MaxResults: 5})
	if !domain.IsKind(err, domain.ErrServiceUnavailable) {
		t.Fatalf("expected service unavailable, got %v", err)
	}

	spans := spansByName(recorder.Ended())
	for _, name := range []string{"research.answer", "research.synthesize"} {
		span, ok := spans[name]
		if !ok {
			t.Fatalf("expected %s span", name)
		}
		if span.Status().Code != codes.Error {
			t.Fatalf("expected %s marked as error, got %v", name, span.Status())
		}
	}
}
