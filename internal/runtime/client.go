// Package runtime provides the Client that owns a link chain and its
// response cache.
package runtime

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/tjfontaine/gqlink/internal/core/domain"
	"github.com/tjfontaine/gqlink/internal/core/ports"
	"github.com/tjfontaine/gqlink/internal/pipeline"
	"github.com/tjfontaine/gqlink/internal/pkg/config"
	"github.com/tjfontaine/gqlink/internal/storage"
)

// Client executes GraphQL operations through a link chain built once at
// construction. It is safe for concurrent use.
type Client struct {
	// Dependencies (injected via options)
	cfg           *config.Config
	config        ports.ConfigProvider
	logger        *slog.Logger
	sink          ports.EventSink
	cache         ports.CacheStore
	cacheSet      bool
	transport     ports.Terminal
	httpClient    *http.Client
	renderContext *pipeline.RenderContext
	retryOpts     []pipeline.RetryOption

	// Internal state
	chain     *pipeline.Chain
	ownsCache bool
	flights   singleflight.Group
	epoch     atomic.Uint64
	closed    atomic.Bool
}

// NewClient creates a Client. Without WithConfig or a config provider the
// defaults plus environment are used.
func NewClient(opts ...Option) (*Client, error) {
	c := &Client{
		logger: slog.Default(),
	}

	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, fmt.Errorf("apply option: %w", err)
		}
	}

	if c.cfg == nil && c.config != nil {
		cfg, err := c.config.Load(context.Background())
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		c.cfg = cfg
	}
	if c.cfg == nil {
		cfg, err := config.Load("")
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		c.cfg = cfg
	}

	// The chain reads its own copy; later changes to the caller's config
	// have no effect.
	cfg := *c.cfg
	if c.renderContext != nil {
		cfg.ServerSide = *c.renderContext == pipeline.RenderServer
	}
	c.cfg = &cfg

	chain, err := pipeline.NewChainFromConfig(&cfg, pipeline.ChainOptions{
		Logger:       c.logger,
		Sink:         c.sink,
		Transport:    c.transport,
		HTTPClient:   c.httpClient,
		RetryOptions: c.retryOpts,
	})
	if err != nil {
		return nil, err
	}
	c.chain = chain

	if !c.cacheSet {
		store, err := storage.Open(cfg.Cache)
		if err != nil {
			return nil, fmt.Errorf("open cache: %w", err)
		}
		c.cache = store
		c.ownsCache = store != nil
	}

	c.logger.Info("graphql client ready",
		slog.String("endpoint", cfg.Endpoint),
		slog.Bool("server_side", cfg.ServerSide),
		slog.String("cache", cacheName(c.cache)))

	return c, nil
}

// Config returns the configuration the client was built with.
func (c *Client) Config() *config.Config {
	return c.cfg
}

// Stages returns the link chain's stage names in order.
func (c *Client) Stages() []string {
	return c.chain.Stages()
}

// Execute runs req through the link chain, consulting the cache for
// queries according to the request's fetch policy.
func (c *Client) Execute(ctx context.Context, req *domain.Request) (*domain.Response, error) {
	if req == nil {
		return nil, domain.NewMalformedRequestError(errors.New("nil request"))
	}

	op, err := parseOperation(req)
	if err != nil {
		return nil, err
	}

	if req.RequestID() == "" {
		req = req.WithMetadata(domain.MetaRequestID, uuid.NewString())
	}
	if req.OperationName == "" && op.name != "" {
		req = req.WithOperationName(op.name)
	}

	policy := req.FetchPolicy()
	if c.cache == nil || !op.cacheable() || policy == domain.FetchNoCache {
		return c.chain.Execute(ctx, req)
	}

	key, err := cacheKey(op.normalized, req.OperationName, req.Variables)
	if err != nil {
		return nil, domain.NewMalformedRequestError(err)
	}

	if policy == domain.FetchCacheFirst {
		cached, ok, err := c.cache.Get(ctx, key)
		if err != nil {
			c.logger.Warn("cache read failed",
				slog.String("request_id", req.RequestID()),
				slog.String("error", err.Error()))
		}
		if ok {
			c.logger.Debug("cache hit",
				slog.String("request_id", req.RequestID()),
				slog.String("operation", req.OperationName))
			return cached, nil
		}
	}

	return c.fetch(ctx, key, req)
}

// fetch runs the chain once per key and epoch; concurrent callers share
// the result whatever their fetch policy, since every policy that reaches
// here ends in a network fetch.
func (c *Client) fetch(ctx context.Context, key string, req *domain.Request) (*domain.Response, error) {
	epoch := c.epoch.Load()
	flightKey := strconv.FormatUint(epoch, 10) + ":" + key

	ch := c.flights.DoChan(flightKey, func() (any, error) {
		resp, err := c.chain.Execute(ctx, req)
		if err == nil && !resp.HasErrors() && c.epoch.Load() == epoch {
			if putErr := c.cache.Put(ctx, key, resp); putErr != nil {
				c.logger.Warn("cache write failed",
					slog.String("request_id", req.RequestID()),
					slog.String("error", putErr.Error()))
			}
		}
		return resp, err
	})

	select {
	case <-ctx.Done():
		// The flight's attempt count belongs to its leader.
		return nil, &domain.CancelledError{Err: ctx.Err()}
	case res := <-ch:
		// A leader cancelled by its own caller must not fail live waiters;
		// they join or start a fresh flight for the same key.
		var cancelled *domain.CancelledError
		if res.Shared && errors.As(res.Err, &cancelled) && ctx.Err() == nil {
			return c.fetch(ctx, key, req)
		}
		resp, _ := res.Val.(*domain.Response)
		if res.Shared {
			resp = resp.Clone()
		}
		return resp, res.Err
	}
}

// ResetCache drops every cached response. Requests already in flight keep
// running but their results are not cached.
func (c *Client) ResetCache() error {
	c.epoch.Add(1)
	if c.cache == nil {
		return nil
	}
	if err := c.cache.Clear(context.Background()); err != nil {
		return fmt.Errorf("reset cache: %w", err)
	}
	c.logger.Info("cache reset")
	return nil
}

// Close releases the cache store when the client created it.
func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	if c.ownsCache && c.cache != nil {
		return c.cache.Close()
	}
	return nil
}

// cacheKey hashes the normalized document, operation name and variables.
// json.Marshal sorts map keys, which makes the variables canonical.
func cacheKey(document, operationName string, variables map[string]any) (string, error) {
	vars, err := json.Marshal(variables)
	if err != nil {
		return "", fmt.Errorf("encode variables: %w", err)
	}

	h := sha256.New()
	h.Write([]byte(document))
	h.Write([]byte{0})
	h.Write([]byte(operationName))
	h.Write([]byte{0})
	h.Write(vars)
	return hex.EncodeToString(h.Sum(nil)), nil
}

func cacheName(store ports.CacheStore) string {
	if store == nil {
		return "none"
	}
	name := fmt.Sprintf("%T", store)
	return strings.TrimPrefix(name, "*")
}
