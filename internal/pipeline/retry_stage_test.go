package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/vektah/gqlparser/v2/gqlerror"

	"github.com/tjfontaine/gqlink/internal/core/domain"
	"github.com/tjfontaine/gqlink/internal/core/ports"
)

func newRetryChain(t *testing.T, transport *fakeTransport, opts ...RetryOption) *Chain {
	t.Helper()
	retry, err := NewRetryPolicy(opts...)
	if err != nil {
		t.Fatalf("NewRetryPolicy: %v", err)
	}
	chain, err := Build(retry, transport)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return chain
}

func TestRetryPolicy_FailTwiceThenSucceed(t *testing.T) {
	transport := &fakeTransport{outcomes: []outcome{
		{err: networkFailure()},
		{err: networkFailure()},
		{resp: okResponse()},
	}}
	chain := newRetryChain(t, transport, WithMaxAttempts(3))

	resp, err := chain.Execute(context.Background(), domain.NewRequest("{ ok }"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !resp.HasData() {
		t.Error("expected successful response")
	}
	if transport.attempts() != 3 {
		t.Errorf("expected 3 attempts, got %d", transport.attempts())
	}
}

func TestRetryPolicy_AlwaysFails(t *testing.T) {
	first := &domain.NetworkFailure{Kind: domain.FailureTimeout}
	last := &domain.NetworkFailure{Kind: domain.FailureHTTPStatus, StatusCode: 503}
	transport := &fakeTransport{outcomes: []outcome{
		{err: first},
		{err: first},
		{err: last},
	}}
	chain := newRetryChain(t, transport, WithMaxAttempts(3))

	_, err := chain.Execute(context.Background(), domain.NewRequest("{ ok }"))
	if err == nil {
		t.Fatal("expected error")
	}
	if transport.attempts() != 3 {
		t.Errorf("expected 3 attempts, got %d", transport.attempts())
	}
	nf, ok := domain.IsNetworkFailure(err)
	if !ok || nf != last {
		t.Errorf("expected last NetworkFailure to surface, got %v", err)
	}
}

func TestRetryPolicy_AttemptsWithinBudget(t *testing.T) {
	for maxAttempts := 1; maxAttempts <= 5; maxAttempts++ {
		for failures := 0; failures <= 6; failures++ {
			script := make([]outcome, 0, failures+1)
			for i := 0; i < failures; i++ {
				script = append(script, outcome{err: networkFailure()})
			}
			script = append(script, outcome{resp: okResponse()})

			transport := &fakeTransport{outcomes: script}
			chain := newRetryChain(t, transport, WithMaxAttempts(maxAttempts))
			_, _ = chain.Execute(context.Background(), domain.NewRequest("{ ok }"))

			n := transport.attempts()
			if n < 1 || n > maxAttempts {
				t.Errorf("max=%d failures=%d: %d attempts outside [1,%d]", maxAttempts, failures, n, maxAttempts)
			}
		}
	}
}

func TestRetryPolicy_GraphQLErrorsNotRetriedByDefault(t *testing.T) {
	withErrors := &domain.Response{
		Data:   []byte(`{"user":null}`),
		Errors: gqlerror.List{{Message: "user not found"}},
	}
	transport := &fakeTransport{outcomes: []outcome{{resp: withErrors}}}
	chain := newRetryChain(t, transport, WithMaxAttempts(3))

	resp, err := chain.Execute(context.Background(), domain.NewRequest("{ user { id } }"))
	if err != nil {
		t.Fatalf("GraphQL errors must not become a Go error: %v", err)
	}
	if resp != withErrors {
		t.Error("expected the response with errors to be returned")
	}
	if transport.attempts() != 1 {
		t.Errorf("expected 1 attempt, got %d", transport.attempts())
	}
}

func TestRetryPolicy_RetryGraphQLErrorsOptIn(t *testing.T) {
	withErrors := &domain.Response{Errors: gqlerror.List{{Message: "flaky resolver"}}}
	transport := &fakeTransport{outcomes: []outcome{{resp: withErrors}}}

	var seen []error
	chain := newRetryChain(t, transport,
		WithMaxAttempts(3),
		WithRetryGraphQLErrors(true),
		WithRetryIf(func(_ *domain.Request, err error) bool {
			seen = append(seen, err)
			return true
		}))

	resp, err := chain.Execute(context.Background(), domain.NewRequest("{ ok }"))
	if err != nil {
		t.Fatalf("exhausted GraphQL retries should return the response, got %v", err)
	}
	if resp != withErrors {
		t.Error("expected last response")
	}
	if transport.attempts() != 3 {
		t.Errorf("expected 3 attempts, got %d", transport.attempts())
	}
	if len(seen) != 2 {
		t.Fatalf("predicate should see 2 failures, saw %d", len(seen))
	}
	var gqlErrs *domain.GraphQLErrors
	if !errors.As(seen[0], &gqlErrs) {
		t.Errorf("predicate should see *domain.GraphQLErrors, got %T", seen[0])
	}
}

func TestRetryPolicy_PredicateDeclines(t *testing.T) {
	transport := &fakeTransport{outcomes: []outcome{{err: networkFailure()}}}
	chain := newRetryChain(t, transport,
		WithMaxAttempts(5),
		WithRetryIf(func(*domain.Request, error) bool { return false }))

	if _, err := chain.Execute(context.Background(), domain.NewRequest("{ ok }")); err == nil {
		t.Fatal("expected error")
	}
	if transport.attempts() != 1 {
		t.Errorf("expected 1 attempt, got %d", transport.attempts())
	}
}

func TestRetryPolicy_MalformedNotRetried(t *testing.T) {
	transport := &fakeTransport{outcomes: []outcome{{err: domain.NewMalformedRequestError(errors.New("syntax"))}}}
	chain := newRetryChain(t, transport, WithMaxAttempts(3))

	_, err := chain.Execute(context.Background(), domain.NewRequest("{"))
	var malformed *domain.MalformedRequestError
	if !errors.As(err, &malformed) {
		t.Fatalf("expected MalformedRequestError, got %v", err)
	}
	if transport.attempts() != 1 {
		t.Errorf("expected 1 attempt, got %d", transport.attempts())
	}
}

func TestRetryPolicy_InvalidMaxAttempts(t *testing.T) {
	for _, n := range []int{0, -1} {
		_, err := NewRetryPolicy(WithMaxAttempts(n))
		var cfgErr *domain.ConfigurationError
		if !errors.As(err, &cfgErr) {
			t.Errorf("WithMaxAttempts(%d): expected ConfigurationError, got %v", n, err)
		}
	}
}

func TestRetryPolicy_CancelMidRetry(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	transport := &fakeTransport{
		outcomes: []outcome{{err: networkFailure()}},
		onSend: func(attempt int) {
			if attempt == 2 {
				cancel()
			}
		},
	}
	chain := newRetryChain(t, transport, WithMaxAttempts(5))

	_, err := chain.Execute(ctx, domain.NewRequest("{ ok }"))
	var cancelled *domain.CancelledError
	if !errors.As(err, &cancelled) {
		t.Fatalf("expected CancelledError, got %v", err)
	}
	if !errors.Is(err, context.Canceled) {
		t.Error("CancelledError should unwrap to context.Canceled")
	}
	if cancelled.Attempts != 2 {
		t.Errorf("expected 2 attempts recorded, got %d", cancelled.Attempts)
	}

	// Nothing may be sent after cancellation.
	time.Sleep(20 * time.Millisecond)
	if transport.attempts() != 2 {
		t.Errorf("expected no attempts after cancel, got %d", transport.attempts())
	}
}

func TestRetryPolicy_CancelDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	transport := &fakeTransport{
		outcomes: []outcome{{err: networkFailure()}},
		onSend: func(int) {
			go func() {
				time.Sleep(10 * time.Millisecond)
				cancel()
			}()
		},
	}
	chain := newRetryChain(t, transport,
		WithMaxAttempts(3),
		WithBackoff(ConstantBackoff(time.Hour)))

	done := make(chan error, 1)
	go func() {
		_, err := chain.Execute(ctx, domain.NewRequest("{ ok }"))
		done <- err
	}()

	select {
	case err := <-done:
		if !domain.IsCancelled(err) {
			t.Errorf("expected cancellation, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("backoff wait did not observe cancellation")
	}
	if transport.attempts() != 1 {
		t.Errorf("expected 1 attempt, got %d", transport.attempts())
	}
}

func TestRetryPolicy_CancelledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	transport := &fakeTransport{}
	chain := newRetryChain(t, transport)

	_, err := chain.Execute(ctx, domain.NewRequest("{ ok }"))
	if !domain.IsCancelled(err) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	if transport.attempts() != 0 {
		t.Errorf("expected no attempts, got %d", transport.attempts())
	}
}

// stopAfter is a backoff that permits n retries then stops.
type stopAfter struct {
	n, used int
}

func (s *stopAfter) NextBackOff() time.Duration {
	if s.used >= s.n {
		return backoff.Stop
	}
	s.used++
	return 0
}

func (s *stopAfter) Reset() { s.used = 0 }

func TestRetryPolicy_BackoffStop(t *testing.T) {
	transport := &fakeTransport{outcomes: []outcome{{err: networkFailure()}}}
	chain := newRetryChain(t, transport,
		WithMaxAttempts(10),
		WithBackoff(func() backoff.BackOff { return &stopAfter{n: 1} }))

	if _, err := chain.Execute(context.Background(), domain.NewRequest("{ ok }")); err == nil {
		t.Fatal("expected error")
	}
	if transport.attempts() != 2 {
		t.Errorf("expected 2 attempts, got %d", transport.attempts())
	}
}

func TestRetryPolicy_ConcurrentRequestsIsolated(t *testing.T) {
	// Each request fails on its first attempt only, keyed by query.
	var mu sync.Mutex
	seen := map[string]int{}
	transport := &keyedFlakyTransport{mu: &mu, seen: seen}

	retry, err := NewRetryPolicy(WithMaxAttempts(2))
	if err != nil {
		t.Fatal(err)
	}
	chain, err := Build(retry, transport)
	if err != nil {
		t.Fatal(err)
	}

	const n = 20
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			q := "{ f" + string(rune('a'+i)) + " }"
			if _, err := chain.Execute(context.Background(), domain.NewRequest(q)); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("unexpected error: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	for q, attempts := range seen {
		if attempts != 2 {
			t.Errorf("%s: expected 2 attempts, got %d", q, attempts)
		}
	}
}

type keyedFlakyTransport struct {
	mu   *sync.Mutex
	seen map[string]int
}

func (k *keyedFlakyTransport) Name() string { return "keyed" }

func (k *keyedFlakyTransport) Process(ctx context.Context, req *domain.Request, _ ports.NextFunc) (*domain.Response, error) {
	return k.Send(ctx, req)
}

func (k *keyedFlakyTransport) Send(_ context.Context, req *domain.Request) (*domain.Response, error) {
	k.mu.Lock()
	k.seen[req.Query]++
	first := k.seen[req.Query] == 1
	k.mu.Unlock()
	if first {
		return nil, networkFailure()
	}
	return okResponse(), nil
}
