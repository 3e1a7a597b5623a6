// Package ports defines the core interfaces for the link pipeline.
// This file contains the stage interfaces a request flows through.
package ports

import (
	"context"

	"github.com/tjfontaine/gqlink/internal/core/domain"
)

// NextFunc forwards a request to the remainder of the chain.
type NextFunc func(ctx context.Context, req *domain.Request) (*domain.Response, error)

// Stage is a middleware unit in the link chain. A stage may inspect or
// replace the request, short-circuit with its own outcome, or call next
// and observe what comes back.
type Stage interface {
	// Name returns the identifier used in logs and diagnostics.
	Name() string
	// Process handles req, usually by calling next.
	Process(ctx context.Context, req *domain.Request, next NextFunc) (*domain.Response, error)
}

// Terminal is the stage that performs the network exchange. Exactly one
// terminal sits at the tail of every chain; its Process ignores next.
type Terminal interface {
	Stage
	// Send performs one exchange. Transport problems are returned as
	// *domain.NetworkFailure; GraphQL errors arrive inside the Response.
	Send(ctx context.Context, req *domain.Request) (*domain.Response, error)
}
