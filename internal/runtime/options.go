package runtime

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/tjfontaine/gqlink/internal/adapters/config/file"
	"github.com/tjfontaine/gqlink/internal/core/ports"
	"github.com/tjfontaine/gqlink/internal/pipeline"
	"github.com/tjfontaine/gqlink/internal/pkg/config"
)

// Option is a functional option for configuring a Client.
type Option func(*Client) error

// WithConfig uses cfg as-is. It takes precedence over a config provider.
func WithConfig(cfg *config.Config) Option {
	return func(c *Client) error {
		if cfg == nil {
			return fmt.Errorf("config cannot be nil")
		}
		c.cfg = cfg
		return nil
	}
}

// WithFileConfig loads configuration from a YAML file plus environment.
func WithFileConfig(path string) Option {
	return func(c *Client) error {
		provider, err := file.NewProvider(path)
		if err != nil {
			return fmt.Errorf("create file config provider: %w", err)
		}
		c.config = provider
		return nil
	}
}

// WithConfigProvider sets a custom config provider.
func WithConfigProvider(provider ports.ConfigProvider) Option {
	return func(c *Client) error {
		c.config = provider
		return nil
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) error {
		c.logger = logger
		return nil
	}
}

// WithEventSink receives every error event the interceptor reports.
// The default sink logs through the client's logger.
func WithEventSink(sink ports.EventSink) Option {
	return func(c *Client) error {
		c.sink = sink
		return nil
	}
}

// WithCacheStore replaces the configured cache. A nil store disables
// caching. The caller keeps ownership: Close does not close it.
func WithCacheStore(store ports.CacheStore) Option {
	return func(c *Client) error {
		c.cache = store
		c.cacheSet = true
		return nil
	}
}

// WithTransport replaces the HTTP terminal stage.
func WithTransport(transport ports.Terminal) Option {
	return func(c *Client) error {
		c.transport = transport
		return nil
	}
}

// WithHTTPClient sets the HTTP client used by the default transport.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) error {
		c.httpClient = client
		return nil
	}
}

// WithRenderContext overrides the configured server_side flag.
func WithRenderContext(rc pipeline.RenderContext) Option {
	return func(c *Client) error {
		c.renderContext = &rc
		return nil
	}
}

// WithRetryOptions are applied after the configured retry settings.
func WithRetryOptions(opts ...pipeline.RetryOption) Option {
	return func(c *Client) error {
		c.retryOpts = append(c.retryOpts, opts...)
		return nil
	}
}
