package pipeline

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/tjfontaine/gqlink/internal/core/domain"
	"github.com/tjfontaine/gqlink/internal/pkg/config"
)

func TestNewChainFromConfig_Stages(t *testing.T) {
	tests := []struct {
		name       string
		serverSide bool
		want       []string
	}{
		{
			name:       "client",
			serverSide: false,
			want:       []string{"error-interceptor", "retry", "environment-split(client)", "fake"},
		},
		{
			name:       "server",
			serverSide: true,
			want:       []string{"error-interceptor", "retry", "environment-split(server:multipart-strip)", "fake"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			cfg.ServerSide = tt.serverSide

			chain, err := NewChainFromConfig(cfg, ChainOptions{Transport: &fakeTransport{}})
			if err != nil {
				t.Fatal(err)
			}
			if got := chain.Stages(); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Stages() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNewChainFromConfig_RetryBudget(t *testing.T) {
	cfg := config.Default()
	cfg.Retry.MaxAttempts = 2

	sink := &recordingSink{}
	transport := &fakeTransport{outcomes: []outcome{{err: networkFailure()}}}
	chain, err := NewChainFromConfig(cfg, ChainOptions{Transport: transport, Sink: sink})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := chain.Execute(context.Background(), domain.NewRequest("{ a }")); err == nil {
		t.Fatal("expected error")
	}
	if transport.attempts() != 2 {
		t.Errorf("attempts = %d, want 2", transport.attempts())
	}
	if n := len(sink.byKind(domain.EventNetworkError)); n != 1 {
		t.Errorf("network events = %d, want 1", n)
	}
}

func TestNewChainFromConfig_InvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Retry.MaxAttempts = 0
	_, err := NewChainFromConfig(cfg, ChainOptions{Transport: &fakeTransport{}})
	var cfgErr *domain.ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Errorf("expected ConfigurationError, got %v", err)
	}

	cfg = config.Default()
	cfg.Endpoint = "nope"
	if _, err := NewChainFromConfig(cfg, ChainOptions{}); !errors.As(err, &cfgErr) {
		t.Errorf("expected ConfigurationError for endpoint, got %v", err)
	}
}

func TestBackoffFromConfig(t *testing.T) {
	if BackoffFromConfig(config.RetryConfig{Backoff: "none"}) != nil {
		t.Error("none should yield no backoff")
	}

	constant := BackoffFromConfig(config.RetryConfig{Backoff: "constant", InitialInterval: "250ms"})
	if constant == nil {
		t.Fatal("constant backoff missing")
	}
	if d := constant().NextBackOff(); d != 250*time.Millisecond {
		t.Errorf("constant delay = %v", d)
	}

	exp := BackoffFromConfig(config.RetryConfig{Backoff: "exponential", InitialInterval: "100ms", MaxInterval: "1s"})
	if exp == nil {
		t.Fatal("exponential backoff missing")
	}
	bo := exp()
	for i := 0; i < 10; i++ {
		if d := bo.NextBackOff(); d <= 0 || d > 1500*time.Millisecond {
			t.Fatalf("exponential delay %d = %v outside jittered bound", i, d)
		}
	}
}
