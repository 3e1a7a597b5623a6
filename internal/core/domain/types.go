// Package domain holds the request, response and error types that flow
// through the link pipeline.
package domain

import (
	"bytes"
	"encoding/json"
	"maps"
	"slices"

	"github.com/vektah/gqlparser/v2/gqlerror"
)

// Well-known request metadata keys.
const (
	// MetaSupportsDefer marks whether the consumer can read incremental
	// (multipart) responses.
	MetaSupportsDefer = "supports-defer"
	// MetaFetchPolicy selects how the client uses its result cache.
	MetaFetchPolicy = "fetch-policy"
	// MetaRequestID carries the client-assigned request identifier.
	MetaRequestID = "request-id"
)

// FetchPolicy controls cache reads and writes for a single request.
type FetchPolicy string

const (
	FetchCacheFirst  FetchPolicy = "cache-first"
	FetchNetworkOnly FetchPolicy = "network-only"
	FetchNoCache     FetchPolicy = "no-cache"
)

// Request is a GraphQL operation on its way to the endpoint.
// Stages never modify a Request in place; the With* helpers return copies.
type Request struct {
	OperationName string         `json:"operationName,omitempty"`
	Query         string         `json:"query"`
	Variables     map[string]any `json:"variables,omitempty"`
	Metadata      map[string]any `json:"-"`
}

// NewRequest creates a request for the given document.
func NewRequest(query string) *Request {
	return &Request{Query: query}
}

func (r *Request) clone() *Request {
	return &Request{
		OperationName: r.OperationName,
		Query:         r.Query,
		Variables:     maps.Clone(r.Variables),
		Metadata:      maps.Clone(r.Metadata),
	}
}

// WithQuery returns a copy of r with its document replaced.
func (r *Request) WithQuery(query string) *Request {
	c := r.clone()
	c.Query = query
	return c
}

// WithOperationName returns a copy of r naming the operation to run.
func (r *Request) WithOperationName(name string) *Request {
	c := r.clone()
	c.OperationName = name
	return c
}

// WithVariables returns a copy of r with its variables replaced.
func (r *Request) WithVariables(vars map[string]any) *Request {
	c := r.clone()
	c.Variables = maps.Clone(vars)
	return c
}

// WithMetadata returns a copy of r with key set to value.
func (r *Request) WithMetadata(key string, value any) *Request {
	c := r.clone()
	if c.Metadata == nil {
		c.Metadata = make(map[string]any, 1)
	}
	c.Metadata[key] = value
	return c
}

// Meta returns the metadata value stored under key.
func (r *Request) Meta(key string) (any, bool) {
	if r.Metadata == nil {
		return nil, false
	}
	v, ok := r.Metadata[key]
	return v, ok
}

// MetaBool returns the boolean metadata value under key, false if absent.
func (r *Request) MetaBool(key string) bool {
	v, _ := r.Meta(key)
	b, _ := v.(bool)
	return b
}

// MetaString returns the string metadata value under key, "" if absent.
func (r *Request) MetaString(key string) string {
	v, _ := r.Meta(key)
	s, _ := v.(string)
	return s
}

// RequestID returns the client-assigned identifier, if any.
func (r *Request) RequestID() string {
	return r.MetaString(MetaRequestID)
}

// FetchPolicy returns the requested fetch policy, defaulting to cache-first.
func (r *Request) FetchPolicy() FetchPolicy {
	switch p := FetchPolicy(r.MetaString(MetaFetchPolicy)); p {
	case FetchNetworkOnly, FetchNoCache:
		return p
	default:
		return FetchCacheFirst
	}
}

// Response is a well-formed GraphQL result. GraphQL errors travel inside
// it alongside any partial data; they are never returned as a Go error.
type Response struct {
	Data       json.RawMessage `json:"data"`
	Errors     gqlerror.List   `json:"errors,omitempty"`
	Extensions map[string]any  `json:"extensions,omitempty"`
}

// HasErrors reports whether the response carries GraphQL errors.
func (r *Response) HasErrors() bool {
	return r != nil && len(r.Errors) > 0
}

// HasData reports whether the response carries a non-null data payload.
func (r *Response) HasData() bool {
	if r == nil {
		return false
	}
	d := bytes.TrimSpace(r.Data)
	return len(d) > 0 && !bytes.Equal(d, []byte("null"))
}

// Clone returns a copy whose Data, Errors and Extensions can be changed
// without affecting r. Individual error values are shared.
func (r *Response) Clone() *Response {
	if r == nil {
		return nil
	}
	return &Response{
		Data:       bytes.Clone(r.Data),
		Errors:     slices.Clone(r.Errors),
		Extensions: maps.Clone(r.Extensions),
	}
}

// UnmarshalData decodes the data payload into v.
func (r *Response) UnmarshalData(v any) error {
	if !r.HasData() {
		return nil
	}
	return json.Unmarshal(r.Data, v)
}

// EventKind classifies an observability event.
type EventKind string

const (
	EventGraphQLError EventKind = "graphql_error"
	EventNetworkError EventKind = "network_error"
)

// Event is a single structured report emitted by the error interceptor.
type Event struct {
	Kind          EventKind           `json:"kind"`
	Message       string              `json:"message"`
	Locations     []gqlerror.Location `json:"locations,omitempty"`
	Path          []any               `json:"path,omitempty"`
	OperationName string              `json:"operation_name,omitempty"`
	RequestID     string              `json:"request_id,omitempty"`
}
