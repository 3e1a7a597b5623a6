package pipeline

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/tjfontaine/gqlink/internal/core/ports"
	"github.com/tjfontaine/gqlink/internal/pkg/config"
)

// ChainOptions supplies collaborators that do not come from configuration.
type ChainOptions struct {
	Logger *slog.Logger
	Sink   ports.EventSink
	// Transport replaces the HTTP terminal, mostly for tests.
	Transport  ports.Terminal
	HTTPClient *http.Client
	// RetryOptions are applied after the configured ones.
	RetryOptions []RetryOption
}

// NewChainFromConfig assembles the standard chain:
// error interceptor, retry, environment split, transport.
func NewChainFromConfig(cfg *config.Config, opts ChainOptions) (*Chain, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	retryOpts := []RetryOption{
		WithMaxAttempts(cfg.Retry.MaxAttempts),
		WithRetryGraphQLErrors(cfg.Retry.RetryGraphQLErrors),
		WithRetryLogger(logger),
	}
	if bo := BackoffFromConfig(cfg.Retry); bo != nil {
		retryOpts = append(retryOpts, WithBackoff(bo))
	}
	retry, err := NewRetryPolicy(append(retryOpts, opts.RetryOptions...)...)
	if err != nil {
		return nil, err
	}

	var stripOpts []MultipartOption
	if cfg.Multipart.StripStream {
		stripOpts = append(stripOpts, WithStripStream())
	}
	split := NewSSRSplit(RenderContextFor(cfg.ServerSide), stripOpts...)

	transport := opts.Transport
	if transport == nil {
		httpTransport, err := NewHTTPTransport(HTTPTransportConfig{
			Endpoint:     cfg.Endpoint,
			Timeout:      cfg.TransportTimeout(),
			Headers:      cfg.Transport.Headers,
			BlockPrivate: cfg.Transport.BlockPrivate,
			Client:       opts.HTTPClient,
		})
		if err != nil {
			return nil, fmt.Errorf("transport: %w", err)
		}
		transport = httpTransport
	}

	chain, err := Build(
		NewErrorInterceptor(opts.Sink, WithInterceptorLogger(logger)),
		retry,
		split,
		transport,
	)
	if err != nil {
		return nil, err
	}

	logger.Debug("link chain built",
		slog.String("endpoint", cfg.Endpoint),
		slog.String("render_context", split.Context().String()),
		slog.Int("max_attempts", retry.MaxAttempts()),
		slog.Any("stages", chain.Stages()))

	return chain, nil
}

// BackoffFromConfig returns the configured backoff, nil for none.
func BackoffFromConfig(cfg config.RetryConfig) BackoffFactory {
	switch cfg.Backoff {
	case "constant":
		return ConstantBackoff(cfg.InitialIntervalDuration())
	case "exponential":
		return ExponentialBackoff(cfg.InitialIntervalDuration(), cfg.MaxIntervalDuration())
	default:
		return nil
	}
}
