package pipeline

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/tjfontaine/gqlink/internal/core/domain"
	"github.com/tjfontaine/gqlink/internal/core/ports"
)

// outcome is one scripted result of fakeTransport.Send.
type outcome struct {
	resp *domain.Response
	err  error
}

// fakeTransport is a terminal that replays scripted outcomes and records
// every request it receives. The last outcome repeats once the script
// runs out.
type fakeTransport struct {
	mu       sync.Mutex
	outcomes []outcome
	calls    []*domain.Request
	onSend   func(attempt int)
}

func (f *fakeTransport) Name() string { return "fake" }

func (f *fakeTransport) Process(ctx context.Context, req *domain.Request, _ ports.NextFunc) (*domain.Response, error) {
	return f.Send(ctx, req)
}

func (f *fakeTransport) Send(ctx context.Context, req *domain.Request) (*domain.Response, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	n := len(f.calls)
	var o outcome
	if len(f.outcomes) > 0 {
		idx := n - 1
		if idx >= len(f.outcomes) {
			idx = len(f.outcomes) - 1
		}
		o = f.outcomes[idx]
	}
	hook := f.onSend
	f.mu.Unlock()

	if hook != nil {
		hook(n)
	}
	if o.resp == nil && o.err == nil {
		return okResponse(), nil
	}
	return o.resp, o.err
}

func (f *fakeTransport) attempts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeTransport) lastRequest() *domain.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.calls) == 0 {
		return nil
	}
	return f.calls[len(f.calls)-1]
}

// mockStage is a non-terminal stage that records calls and forwards.
type mockStage struct {
	name      string
	callOrder *[]string
	calls     []*domain.Request
}

func (s *mockStage) Name() string { return s.name }

func (s *mockStage) Process(ctx context.Context, req *domain.Request, next ports.NextFunc) (*domain.Response, error) {
	s.calls = append(s.calls, req)
	if s.callOrder != nil {
		*s.callOrder = append(*s.callOrder, s.name)
	}
	return next(ctx, req)
}

func okResponse() *domain.Response {
	return &domain.Response{Data: json.RawMessage(`{"ok":true}`)}
}

func networkFailure() error {
	return &domain.NetworkFailure{Kind: domain.FailureConnectionRefused}
}

// recordingSink collects reported events.
type recordingSink struct {
	mu     sync.Mutex
	events []domain.Event
}

func (s *recordingSink) Report(_ context.Context, ev domain.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

func (s *recordingSink) byKind(kind domain.EventKind) []domain.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Event
	for _, ev := range s.events {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}
