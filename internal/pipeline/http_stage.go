package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"net/url"
	"syscall"
	"time"

	"github.com/99designs/gqlgen/graphql"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/tjfontaine/gqlink/internal/core/domain"
	"github.com/tjfontaine/gqlink/internal/core/ports"
	"github.com/tjfontaine/gqlink/internal/pkg/safehttp"
)

const (
	acceptJSON      = "application/graphql-response+json, application/json"
	acceptMultipart = "multipart/mixed;deferSpec=20220824, " + acceptJSON

	// maxErrorBody bounds the body copy kept on a NetworkFailure.
	maxErrorBody = 4 << 10
)

// HTTPTransport is the terminal stage: it POSTs each request as JSON to a
// single GraphQL endpoint.
type HTTPTransport struct {
	endpoint string
	headers  map[string]string
	client   *http.Client
}

// HTTPTransportConfig configures an HTTPTransport.
type HTTPTransportConfig struct {
	Endpoint string
	Timeout  time.Duration
	Headers  map[string]string
	// BlockPrivate refuses connections to loopback and private addresses.
	BlockPrivate bool
	// Client overrides the HTTP client. Timeout and BlockPrivate are
	// ignored when it is set.
	Client *http.Client
}

// wireRequest is the JSON body sent to the endpoint.
type wireRequest struct {
	Query         string         `json:"query"`
	OperationName string         `json:"operationName,omitempty"`
	Variables     map[string]any `json:"variables,omitempty"`
}

// NewHTTPTransport creates the terminal stage for cfg.Endpoint.
func NewHTTPTransport(cfg HTTPTransportConfig) (*HTTPTransport, error) {
	u, err := url.Parse(cfg.Endpoint)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, domain.NewConfigurationError("invalid endpoint %q", cfg.Endpoint)
	}

	client := cfg.Client
	if client == nil {
		client = &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(safehttp.NewTransport(safehttp.Options{BlockPrivate: cfg.BlockPrivate})),
		}
	}

	return &HTTPTransport{
		endpoint: cfg.Endpoint,
		headers:  cfg.Headers,
		client:   client,
	}, nil
}

// Name returns the stage identifier.
func (t *HTTPTransport) Name() string {
	return "http"
}

// Endpoint returns the target URL.
func (t *HTTPTransport) Endpoint() string {
	return t.endpoint
}

// Process sends req; the transport is always last so next is unused.
func (t *HTTPTransport) Process(ctx context.Context, req *domain.Request, _ ports.NextFunc) (*domain.Response, error) {
	return t.Send(ctx, req)
}

// Send performs one HTTP exchange.
func (t *HTTPTransport) Send(ctx context.Context, req *domain.Request) (*domain.Response, error) {
	reqBody, err := json.Marshal(wireRequest{
		Query:         req.Query,
		OperationName: req.OperationName,
		Variables:     req.Variables,
	})
	if err != nil {
		return nil, domain.NewMalformedRequestError(fmt.Errorf("marshal request: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept-Encoding", acceptEncoding)
	if req.MetaBool(domain.MetaSupportsDefer) {
		httpReq.Header.Set("Accept", acceptMultipart)
	} else {
		httpReq.Header.Set("Accept", acceptJSON)
	}
	if id := req.RequestID(); id != "" {
		httpReq.Header.Set("X-Request-ID", id)
	}
	for k, v := range t.headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := t.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, classifyTransportError(err)
	}
	defer resp.Body.Close()

	body, err := decodeBody(resp)
	if err != nil {
		return nil, &domain.NetworkFailure{Kind: domain.FailureTransport, StatusCode: resp.StatusCode, Err: err}
	}
	defer body.Close()

	ok := resp.StatusCode >= 200 && resp.StatusCode < 300
	mediaType, params, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if ok && mediaType == "multipart/mixed" {
		out, err := readIncremental(body, params["boundary"])
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, &domain.NetworkFailure{Kind: domain.FailureTransport, StatusCode: resp.StatusCode, Err: err}
		}
		return out, nil
	}

	respBody, err := io.ReadAll(body)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, classifyTransportError(fmt.Errorf("read response: %w", err))
	}

	var payload graphql.Response
	decodeErr := json.Unmarshal(respBody, &payload)
	if decodeErr == nil && len(payload.Data) == 0 && len(payload.Errors) == 0 {
		decodeErr = errors.New("response has neither data nor errors")
	}

	if !ok {
		nf := &domain.NetworkFailure{
			Kind:       domain.FailureHTTPStatus,
			StatusCode: resp.StatusCode,
			Body:       truncate(respBody, maxErrorBody),
			Err:        fmt.Errorf("endpoint returned %s", resp.Status),
		}
		if decodeErr == nil {
			nf.Errors = payload.Errors
		}
		return nil, nf
	}

	if decodeErr != nil {
		return nil, &domain.NetworkFailure{
			Kind:       domain.FailureTransport,
			StatusCode: resp.StatusCode,
			Body:       truncate(respBody, maxErrorBody),
			Err:        fmt.Errorf("decode response: %w", decodeErr),
		}
	}

	return &domain.Response{
		Data:       payload.Data,
		Errors:     payload.Errors,
		Extensions: payload.Extensions,
	}, nil
}

func classifyTransportError(err error) *domain.NetworkFailure {
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.As(err, &netErr) && netErr.Timeout():
		return &domain.NetworkFailure{Kind: domain.FailureTimeout, Err: err}
	case errors.Is(err, syscall.ECONNREFUSED):
		return &domain.NetworkFailure{Kind: domain.FailureConnectionRefused, Err: err}
	default:
		return &domain.NetworkFailure{Kind: domain.FailureTransport, Err: err}
	}
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n])
	}
	return string(b)
}

var _ ports.Terminal = (*HTTPTransport)(nil)
