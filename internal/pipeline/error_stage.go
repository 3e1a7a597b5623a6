package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/gqlerror"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"

	"github.com/tjfontaine/gqlink/internal/core/domain"
	"github.com/tjfontaine/gqlink/internal/core/ports"
)

var noopMeter = noop.NewMeterProvider().Meter(tracerName)

// ErrorInterceptor reports every GraphQL error and network failure that
// passes back through it. The outcome itself is returned untouched.
type ErrorInterceptor struct {
	sink          ports.EventSink
	logger        *slog.Logger
	graphqlErrors metric.Int64Counter
	networkErrors metric.Int64Counter
}

// InterceptorOption configures an ErrorInterceptor.
type InterceptorOption func(*ErrorInterceptor)

// WithInterceptorLogger sets the logger used for sink failures.
func WithInterceptorLogger(logger *slog.Logger) InterceptorOption {
	return func(i *ErrorInterceptor) {
		i.logger = logger
	}
}

// NewErrorInterceptor creates an interceptor reporting to sink. A nil sink
// logs through slog.Default().
func NewErrorInterceptor(sink ports.EventSink, opts ...InterceptorOption) *ErrorInterceptor {
	i := &ErrorInterceptor{
		sink:   sink,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(i)
	}
	if i.sink == nil {
		i.sink = NewSlogSink(i.logger)
	}

	meter := otel.Meter(tracerName)
	// Counter creation only fails for invalid names.
	var err error
	if i.graphqlErrors, err = meter.Int64Counter("gqlink.graphql_errors",
		metric.WithDescription("GraphQL errors returned inside responses")); err != nil {
		i.graphqlErrors, _ = noopMeter.Int64Counter("gqlink.graphql_errors")
	}
	if i.networkErrors, err = meter.Int64Counter("gqlink.network_errors",
		metric.WithDescription("Transport-level failures surfaced to callers")); err != nil {
		i.networkErrors, _ = noopMeter.Int64Counter("gqlink.network_errors")
	}

	return i
}

// Name returns the stage identifier.
func (i *ErrorInterceptor) Name() string {
	return "error-interceptor"
}

// Process forwards req and observes whatever comes back.
func (i *ErrorInterceptor) Process(ctx context.Context, req *domain.Request, next ports.NextFunc) (*domain.Response, error) {
	resp, err := next(ctx, req)
	i.observe(ctx, req, resp, err)
	return resp, err
}

func (i *ErrorInterceptor) observe(ctx context.Context, req *domain.Request, resp *domain.Response, err error) {
	opAttr := metric.WithAttributes(attribute.String("graphql.operation.name", req.OperationName))

	if resp != nil {
		for _, gqlErr := range resp.Errors {
			i.graphqlErrors.Add(ctx, 1, opAttr)
			i.report(ctx, graphQLEvent(req, gqlErr))
		}
	}

	if err == nil || domain.IsCancelled(err) {
		return
	}

	if nf, ok := domain.IsNetworkFailure(err); ok {
		for _, gqlErr := range nf.Errors {
			i.graphqlErrors.Add(ctx, 1, opAttr)
			i.report(ctx, graphQLEvent(req, gqlErr))
		}
	}

	i.networkErrors.Add(ctx, 1, opAttr)
	trace.SpanFromContext(ctx).RecordError(err)
	i.report(ctx, domain.Event{
		Kind:          domain.EventNetworkError,
		Message:       err.Error(),
		OperationName: req.OperationName,
		RequestID:     req.RequestID(),
	})
}

// report delivers one event. Sink errors and panics stay here.
func (i *ErrorInterceptor) report(ctx context.Context, ev domain.Event) {
	defer func() {
		if r := recover(); r != nil {
			i.logger.Debug("event sink panicked",
				slog.String("kind", string(ev.Kind)),
				slog.String("panic", fmt.Sprint(r)))
		}
	}()

	if err := i.sink.Report(ctx, ev); err != nil {
		i.logger.Debug("event sink failed",
			slog.String("kind", string(ev.Kind)),
			slog.String("error", err.Error()))
	}
}

func graphQLEvent(req *domain.Request, e *gqlerror.Error) domain.Event {
	return domain.Event{
		Kind:          domain.EventGraphQLError,
		Message:       e.Message,
		Locations:     e.Locations,
		Path:          pathElements(e.Path),
		OperationName: req.OperationName,
		RequestID:     req.RequestID(),
	}
}

func pathElements(p ast.Path) []any {
	if len(p) == 0 {
		return nil
	}
	out := make([]any, len(p))
	for i, el := range p {
		switch v := el.(type) {
		case ast.PathIndex:
			out[i] = int(v)
		case ast.PathName:
			out[i] = string(v)
		default:
			out[i] = fmt.Sprint(v)
		}
	}
	return out
}

// SlogSink writes events as structured log lines.
type SlogSink struct {
	logger *slog.Logger
}

// NewSlogSink creates a sink logging to logger.
func NewSlogSink(logger *slog.Logger) *SlogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogSink{logger: logger}
}

// Report logs ev at warn level.
func (s *SlogSink) Report(ctx context.Context, ev domain.Event) error {
	attrs := []slog.Attr{
		slog.String("message", ev.Message),
		slog.String("operation", ev.OperationName),
		slog.String("request_id", ev.RequestID),
	}

	switch ev.Kind {
	case domain.EventGraphQLError:
		attrs = append(attrs,
			slog.String("locations", formatLocations(ev.Locations)),
			slog.String("path", formatPath(ev.Path)))
		s.logger.LogAttrs(ctx, slog.LevelWarn, "[GraphQL error]", attrs...)
	default:
		s.logger.LogAttrs(ctx, slog.LevelWarn, "[Network error]", attrs...)
	}
	return nil
}

func formatLocations(locs []gqlerror.Location) string {
	parts := make([]string, len(locs))
	for i, l := range locs {
		parts[i] = fmt.Sprintf("%d:%d", l.Line, l.Column)
	}
	return strings.Join(parts, ",")
}

func formatPath(path []any) string {
	parts := make([]string, len(path))
	for i, el := range path {
		parts[i] = fmt.Sprint(el)
	}
	return strings.Join(parts, ".")
}

// SinkFunc adapts a function to ports.EventSink.
type SinkFunc func(ctx context.Context, ev domain.Event) error

// Report calls f.
func (f SinkFunc) Report(ctx context.Context, ev domain.Event) error {
	return f(ctx, ev)
}

// MultiSink fans an event out to several sinks. Every sink is tried; the
// failures are joined.
type MultiSink []ports.EventSink

// Report delivers ev to every sink.
func (m MultiSink) Report(ctx context.Context, ev domain.Event) error {
	var errs []error
	for _, s := range m {
		if err := s.Report(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

var (
	_ ports.Stage     = (*ErrorInterceptor)(nil)
	_ ports.EventSink = (*SlogSink)(nil)
	_ ports.EventSink = SinkFunc(nil)
	_ ports.EventSink = MultiSink(nil)
)
