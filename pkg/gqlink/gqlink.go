// Package gqlink provides the public API for executing GraphQL operations
// through the link pipeline. This is the stable API for external consumers.
package gqlink

import (
	"github.com/tjfontaine/gqlink/internal/core/domain"
	"github.com/tjfontaine/gqlink/internal/pipeline"
	"github.com/tjfontaine/gqlink/internal/runtime"
)

// Client executes operations against one endpoint.
// See internal/runtime.Client for full documentation.
type Client = runtime.Client

// Option is a functional option for configuring a Client.
type Option = runtime.Option

// Request and response types.
type (
	Request     = domain.Request
	Response    = domain.Response
	Event       = domain.Event
	FetchPolicy = domain.FetchPolicy
)

// Error types.
type (
	NetworkFailure        = domain.NetworkFailure
	MalformedRequestError = domain.MalformedRequestError
	ConfigurationError    = domain.ConfigurationError
	CancelledError        = domain.CancelledError
)

// New creates a new Client with the given options.
// Example:
//
//	client, err := gqlink.New(
//	    gqlink.WithFileConfig("gqlink.yaml"),
//	    gqlink.WithRenderContext(gqlink.RenderServer),
//	)
var New = runtime.NewClient

// NewRequest creates a request for a GraphQL document.
var NewRequest = domain.NewRequest

// Request metadata keys and fetch policies.
const (
	MetaSupportsDefer = domain.MetaSupportsDefer
	MetaFetchPolicy   = domain.MetaFetchPolicy
	MetaRequestID     = domain.MetaRequestID

	FetchCacheFirst  = domain.FetchCacheFirst
	FetchNetworkOnly = domain.FetchNetworkOnly
	FetchNoCache     = domain.FetchNoCache
)

// Render contexts.
const (
	RenderClient = pipeline.RenderClient
	RenderServer = pipeline.RenderServer
)

// Configuration options
var (
	// Config sources
	WithConfig         = runtime.WithConfig
	WithFileConfig     = runtime.WithFileConfig
	WithConfigProvider = runtime.WithConfigProvider

	// Pipeline
	WithRenderContext = runtime.WithRenderContext
	WithRetryOptions  = runtime.WithRetryOptions
	WithTransport     = runtime.WithTransport
	WithHTTPClient    = runtime.WithHTTPClient

	// Cache and observability
	WithCacheStore = runtime.WithCacheStore
	WithEventSink  = runtime.WithEventSink
	WithLogger     = runtime.WithLogger
)

// Retry options
var (
	WithMaxAttempts        = pipeline.WithMaxAttempts
	WithRetryIf            = pipeline.WithRetryIf
	WithRetryGraphQLErrors = pipeline.WithRetryGraphQLErrors
	WithBackoff            = pipeline.WithBackoff
	ConstantBackoff        = pipeline.ConstantBackoff
	ExponentialBackoff     = pipeline.ExponentialBackoff
)

// Error helpers
var (
	IsNetworkFailure = domain.IsNetworkFailure
	IsCancelled      = domain.IsCancelled
)
