package domain

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/vektah/gqlparser/v2/gqlerror"
)

// ConfigurationError reports an invalid pipeline or client assembly.
type ConfigurationError struct {
	Message string
}

func (e *ConfigurationError) Error() string {
	return "configuration error: " + e.Message
}

// NewConfigurationError formats a configuration error.
func NewConfigurationError(format string, args ...any) *ConfigurationError {
	return &ConfigurationError{Message: fmt.Sprintf(format, args...)}
}

// MalformedRequestError reports a document that could not be parsed.
type MalformedRequestError struct {
	Err error
}

func (e *MalformedRequestError) Error() string {
	return "malformed request: " + e.Err.Error()
}

func (e *MalformedRequestError) Unwrap() error {
	return e.Err
}

// NewMalformedRequestError wraps a parse failure. A nil *gqlerror.Error is
// never passed in, parser results are checked first.
func NewMalformedRequestError(err error) *MalformedRequestError {
	return &MalformedRequestError{Err: err}
}

// FailureKind is the subtype of a NetworkFailure.
type FailureKind string

const (
	FailureTimeout           FailureKind = "timeout"
	FailureConnectionRefused FailureKind = "connection_refused"
	FailureHTTPStatus        FailureKind = "http_status"
	FailureTransport         FailureKind = "transport"
)

// NetworkFailure is a transport-level failure: the endpoint could not be
// reached or did not answer with a successful GraphQL payload.
type NetworkFailure struct {
	Kind       FailureKind
	StatusCode int
	// Body holds a truncated copy of a non-2xx response body.
	Body string
	// Errors holds GraphQL errors decoded from a non-2xx body, if any.
	Errors gqlerror.List
	Err    error
}

func (e *NetworkFailure) Error() string {
	var b strings.Builder
	b.WriteString("network failure (")
	b.WriteString(string(e.Kind))
	b.WriteString(")")
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, ": status %d", e.StatusCode)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *NetworkFailure) Unwrap() error {
	return e.Err
}

// Timeout reports whether the failure was a timeout.
func (e *NetworkFailure) Timeout() bool {
	return e.Kind == FailureTimeout
}

// IsNetworkFailure returns the NetworkFailure in err's chain, if any.
func IsNetworkFailure(err error) (*NetworkFailure, bool) {
	var nf *NetworkFailure
	if errors.As(err, &nf) {
		return nf, true
	}
	return nil, false
}

// GraphQLErrors adapts a Response carrying GraphQL errors into an error so
// a retry predicate can inspect it. It is only produced when a retry policy
// opts in to retrying GraphQL errors and is never returned to callers.
type GraphQLErrors struct {
	Response *Response
}

func (e *GraphQLErrors) Error() string {
	return "graphql errors: " + e.Response.Errors.Error()
}

// CancelledError is returned when a request is cancelled before it could
// complete. Attempts counts the transport attempts started before that; it
// is zero when none started or when the caller was waiting on a request
// run on its behalf and the count is not known.
type CancelledError struct {
	Attempts int
	Err      error
}

func (e *CancelledError) Error() string {
	if e.Attempts == 0 {
		return fmt.Sprintf("request cancelled: %v", e.Err)
	}
	return fmt.Sprintf("request cancelled after %d attempt(s): %v", e.Attempts, e.Err)
}

func (e *CancelledError) Unwrap() error {
	return e.Err
}

// IsCancelled reports whether err is a cancellation, either a
// CancelledError or a bare context error.
func IsCancelled(err error) bool {
	var ce *CancelledError
	if errors.As(err, &ce) {
		return true
	}
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
