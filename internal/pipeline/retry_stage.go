package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/tjfontaine/gqlink/internal/core/domain"
	"github.com/tjfontaine/gqlink/internal/core/ports"
)

// DefaultMaxAttempts is the attempt budget when none is configured.
const DefaultMaxAttempts = 3

// RetryIf decides whether a failed attempt should be sent again.
type RetryIf func(req *domain.Request, err error) bool

// BackoffFactory returns a fresh backoff for one logical request.
type BackoffFactory func() backoff.BackOff

// RetryPolicy resends a request after failures, up to a fixed number of
// attempts. It holds only configuration; the attempt counter of each
// request lives inside that request's Process call.
type RetryPolicy struct {
	maxAttempts        int
	retryIf            RetryIf
	retryGraphQLErrors bool
	newBackoff         BackoffFactory
	logger             *slog.Logger
}

// RetryOption configures a RetryPolicy.
type RetryOption func(*RetryPolicy)

// WithMaxAttempts sets the total number of attempts, including the first.
func WithMaxAttempts(n int) RetryOption {
	return func(p *RetryPolicy) {
		p.maxAttempts = n
	}
}

// WithRetryIf replaces the retry predicate.
func WithRetryIf(fn RetryIf) RetryOption {
	return func(p *RetryPolicy) {
		p.retryIf = fn
	}
}

// WithRetryGraphQLErrors makes responses carrying GraphQL errors eligible
// for retry. The predicate sees them as *domain.GraphQLErrors.
func WithRetryGraphQLErrors(enabled bool) RetryOption {
	return func(p *RetryPolicy) {
		p.retryGraphQLErrors = enabled
	}
}

// WithBackoff sets the delay policy between attempts.
func WithBackoff(factory BackoffFactory) RetryOption {
	return func(p *RetryPolicy) {
		p.newBackoff = factory
	}
}

// WithRetryLogger sets the logger for state transitions.
func WithRetryLogger(logger *slog.Logger) RetryOption {
	return func(p *RetryPolicy) {
		p.logger = logger
	}
}

// ConstantBackoff waits d between attempts.
func ConstantBackoff(d time.Duration) BackoffFactory {
	return func() backoff.BackOff {
		return backoff.NewConstantBackOff(d)
	}
}

// ExponentialBackoff grows the delay from initial up to maxInterval, with jitter.
func ExponentialBackoff(initial, maxInterval time.Duration) BackoffFactory {
	return func() backoff.BackOff {
		b := backoff.NewExponentialBackOff()
		if initial > 0 {
			b.InitialInterval = initial
		}
		if maxInterval > 0 {
			b.MaxInterval = maxInterval
		}
		return b
	}
}

// DefaultRetryIf retries every failure except malformed requests and
// configuration errors, which would fail the same way again.
func DefaultRetryIf(_ *domain.Request, err error) bool {
	var malformed *domain.MalformedRequestError
	var cfgErr *domain.ConfigurationError
	return err != nil && !errors.As(err, &malformed) && !errors.As(err, &cfgErr)
}

// NewRetryPolicy creates a policy. A non-positive attempt budget is a
// configuration error.
func NewRetryPolicy(opts ...RetryOption) (*RetryPolicy, error) {
	p := &RetryPolicy{
		maxAttempts: DefaultMaxAttempts,
		retryIf:     DefaultRetryIf,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}

	if p.maxAttempts <= 0 {
		return nil, domain.NewConfigurationError("retry max attempts must be positive, got %d", p.maxAttempts)
	}
	if p.retryIf == nil {
		p.retryIf = DefaultRetryIf
	}

	return p, nil
}

// MaxAttempts returns the attempt budget.
func (p *RetryPolicy) MaxAttempts() int {
	return p.maxAttempts
}

// Name returns the stage identifier.
func (p *RetryPolicy) Name() string {
	return "retry"
}

// Process sends req through next until it succeeds, the budget runs out,
// the predicate declines, or ctx is done.
func (p *RetryPolicy) Process(ctx context.Context, req *domain.Request, next ports.NextFunc) (*domain.Response, error) {
	st := &retryState{req: req, logger: p.logger}

	var bo backoff.BackOff
	if p.newBackoff != nil {
		bo = p.newBackoff()
		bo.Reset()
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil, st.cancel(err)
		}

		st.attempts++
		st.transition(stateAttempting)

		resp, err := next(ctx, req)
		if err != nil && ctx.Err() != nil {
			return nil, st.cancel(ctx.Err())
		}

		failure := err
		if err == nil {
			if !p.retryGraphQLErrors || !resp.HasErrors() {
				st.transition(stateSucceeded)
				return resp, nil
			}
			failure = &domain.GraphQLErrors{Response: resp}
		}

		if st.attempts >= p.maxAttempts || !p.retryIf(req, failure) {
			st.transition(stateFailed)
			return resp, err
		}

		st.transition(stateRetrying)

		if bo == nil {
			continue
		}
		delay := bo.NextBackOff()
		if delay == backoff.Stop {
			st.transition(stateFailed)
			return resp, err
		}
		if delay <= 0 {
			continue
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, st.cancel(ctx.Err())
		case <-timer.C:
		}
	}
}

type attemptState int

const (
	stateIdle attemptState = iota
	stateAttempting
	stateRetrying
	stateSucceeded
	stateFailed
	stateCancelled
)

func (s attemptState) String() string {
	switch s {
	case stateIdle:
		return "idle"
	case stateAttempting:
		return "attempting"
	case stateRetrying:
		return "retrying"
	case stateSucceeded:
		return "terminated_success"
	case stateFailed:
		return "terminated_failure"
	case stateCancelled:
		return "terminated_cancelled"
	default:
		return "unknown"
	}
}

// retryState belongs to exactly one Process call and dies with it.
type retryState struct {
	req      *domain.Request
	logger   *slog.Logger
	attempts int
	state    attemptState
}

func (s *retryState) transition(to attemptState) {
	s.logger.Debug("retry state",
		slog.String("request_id", s.req.RequestID()),
		slog.String("operation", s.req.OperationName),
		slog.String("from", s.state.String()),
		slog.String("to", to.String()),
		slog.Int("attempts", s.attempts))
	s.state = to
}

func (s *retryState) cancel(cause error) error {
	s.transition(stateCancelled)
	return &domain.CancelledError{Attempts: s.attempts, Err: cause}
}

var _ ports.Stage = (*RetryPolicy)(nil)
