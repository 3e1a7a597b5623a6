package pipeline

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/tjfontaine/gqlink/internal/core/domain"
	"github.com/tjfontaine/gqlink/internal/core/ports"
)

func TestBuild_Validation(t *testing.T) {
	tests := []struct {
		name   string
		stages []ports.Stage
	}{
		{"empty", nil},
		{"nil stage", []ports.Stage{nil, &fakeTransport{}}},
		{"no terminal", []ports.Stage{&mockStage{name: "a"}}},
		{"two terminals", []ports.Stage{&fakeTransport{}, &fakeTransport{}}},
		{"stage after terminal", []ports.Stage{&fakeTransport{}, &mockStage{name: "late"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Build(tt.stages...)
			if err == nil {
				t.Fatal("expected error")
			}
			var cfgErr *domain.ConfigurationError
			if !errors.As(err, &cfgErr) {
				t.Errorf("expected ConfigurationError, got %T", err)
			}
		})
	}
}

func TestBuild_TerminalOnly(t *testing.T) {
	transport := &fakeTransport{}
	chain, err := Build(transport)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	resp, err := chain.Execute(context.Background(), domain.NewRequest("{ ok }"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !resp.HasData() {
		t.Error("expected data")
	}
	if transport.attempts() != 1 {
		t.Errorf("expected 1 attempt, got %d", transport.attempts())
	}
}

func TestChain_OrderedExecution(t *testing.T) {
	var callOrder []string
	first := &mockStage{name: "first", callOrder: &callOrder}
	second := &mockStage{name: "second", callOrder: &callOrder}

	chain, err := Build(first, second, &fakeTransport{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := chain.Execute(context.Background(), domain.NewRequest("{ ok }")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(callOrder, []string{"first", "second"}) {
		t.Errorf("unexpected order: %v", callOrder)
	}
	if !reflect.DeepEqual(chain.Stages(), []string{"first", "second", "fake"}) {
		t.Errorf("unexpected stages: %v", chain.Stages())
	}
}

// replacingStage swaps the request for a new one.
type replacingStage struct{ query string }

func (s *replacingStage) Name() string { return "replace" }

func (s *replacingStage) Process(ctx context.Context, req *domain.Request, next ports.NextFunc) (*domain.Response, error) {
	return next(ctx, req.WithQuery(s.query))
}

func TestChain_StageReplacesRequest(t *testing.T) {
	transport := &fakeTransport{}
	chain, err := Build(&replacingStage{query: "{ replaced }"}, transport)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	orig := domain.NewRequest("{ original }")
	if _, err := chain.Execute(context.Background(), orig); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := transport.lastRequest().Query; got != "{ replaced }" {
		t.Errorf("transport saw %q", got)
	}
	if orig.Query != "{ original }" {
		t.Error("original request was mutated")
	}
}

// shortCircuitStage answers without calling next.
type shortCircuitStage struct{}

func (shortCircuitStage) Name() string { return "short-circuit" }

func (shortCircuitStage) Process(context.Context, *domain.Request, ports.NextFunc) (*domain.Response, error) {
	return &domain.Response{Data: []byte(`{"cached":true}`)}, nil
}

func TestChain_ShortCircuit(t *testing.T) {
	transport := &fakeTransport{}
	chain, err := Build(shortCircuitStage{}, transport)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	resp, err := chain.Execute(context.Background(), domain.NewRequest("{ ok }"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(resp.Data) != `{"cached":true}` {
		t.Errorf("unexpected data: %s", resp.Data)
	}
	if transport.attempts() != 0 {
		t.Errorf("transport should not be called, got %d attempts", transport.attempts())
	}
}

func TestBuild_CopiesStageSlice(t *testing.T) {
	stages := []ports.Stage{&mockStage{name: "a"}, &fakeTransport{}}
	chain, err := Build(stages...)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	stages[0] = &mockStage{name: "swapped"}

	if chain.Stages()[0] != "a" {
		t.Error("chain must not observe changes to the caller's slice")
	}
}
