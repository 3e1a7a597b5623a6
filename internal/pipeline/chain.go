package pipeline

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tjfontaine/gqlink/internal/core/domain"
	"github.com/tjfontaine/gqlink/internal/core/ports"
)

const tracerName = "github.com/tjfontaine/gqlink/internal/pipeline"

// Chain is an immutable, validated sequence of stages.
type Chain struct {
	stages []ports.Stage
	head   ports.NextFunc
	tracer trace.Tracer
}

// Build validates stages and composes them into a Chain. The last stage
// must be the only ports.Terminal in the sequence.
func Build(stages ...ports.Stage) (*Chain, error) {
	if len(stages) == 0 {
		return nil, domain.NewConfigurationError("link chain has no stages")
	}

	terminalAt := -1
	for i, s := range stages {
		if s == nil {
			return nil, domain.NewConfigurationError("stage %d is nil", i)
		}
		if _, ok := s.(ports.Terminal); !ok {
			if terminalAt >= 0 {
				return nil, domain.NewConfigurationError("stage %s follows terminal stage %s", s.Name(), stages[terminalAt].Name())
			}
			continue
		}
		if terminalAt >= 0 {
			return nil, domain.NewConfigurationError("more than one terminal stage (%s, %s)", stages[terminalAt].Name(), s.Name())
		}
		terminalAt = i
	}
	if terminalAt < 0 {
		return nil, domain.NewConfigurationError("link chain has no terminal stage")
	}

	c := &Chain{
		stages: append([]ports.Stage(nil), stages...),
		tracer: otel.Tracer(tracerName),
	}

	// Compose from the tail so Execute is a single call.
	terminal := c.stages[len(c.stages)-1].(ports.Terminal)
	next := ports.NextFunc(terminal.Send)
	for i := len(c.stages) - 2; i >= 0; i-- {
		stage, downstream := c.stages[i], next
		next = func(ctx context.Context, req *domain.Request) (*domain.Response, error) {
			return stage.Process(ctx, req, downstream)
		}
	}
	c.head = next

	return c, nil
}

// Execute sends req through every stage and returns the final outcome.
func (c *Chain) Execute(ctx context.Context, req *domain.Request) (*domain.Response, error) {
	ctx, span := c.tracer.Start(ctx, "gqlink.execute",
		trace.WithAttributes(attribute.String("graphql.operation.name", req.OperationName)))
	defer span.End()

	resp, err := c.head(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return resp, err
}

// Stages returns the stage names in order.
func (c *Chain) Stages() []string {
	names := make([]string, len(c.stages))
	for i, s := range c.stages {
		names[i] = s.Name()
	}
	return names
}
