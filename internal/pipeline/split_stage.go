package pipeline

import (
	"context"

	"github.com/tjfontaine/gqlink/internal/core/domain"
	"github.com/tjfontaine/gqlink/internal/core/ports"
)

// RenderContext tells the pipeline who consumes responses.
type RenderContext int

const (
	// RenderClient is an interactive consumer that can read incremental
	// (multipart) responses.
	RenderClient RenderContext = iota
	// RenderServer renders once and needs a single complete response.
	RenderServer
)

// RenderContextFor maps a server-side flag to a RenderContext.
func RenderContextFor(serverSide bool) RenderContext {
	if serverSide {
		return RenderServer
	}
	return RenderClient
}

func (rc RenderContext) String() string {
	if rc == RenderServer {
		return "server"
	}
	return "client"
}

// EnvironmentSplit routes requests into one of two sub-stages. The branch
// is chosen when the split is built and never changes afterwards.
type EnvironmentSplit struct {
	rc     RenderContext
	branch ports.Stage
}

// NewEnvironmentSplit selects server or client for rc. A nil branch
// forwards requests unchanged.
func NewEnvironmentSplit(rc RenderContext, server, client ports.Stage) *EnvironmentSplit {
	return &EnvironmentSplit{
		rc:     rc,
		branch: selectBranch(rc, server, client),
	}
}

// NewSSRSplit builds the standard split: multipart stripping when
// rendering on the server, nothing on the client.
func NewSSRSplit(rc RenderContext, opts ...MultipartOption) *EnvironmentSplit {
	return NewEnvironmentSplit(rc, NewMultipartStrip(opts...), nil)
}

func selectBranch(rc RenderContext, server, client ports.Stage) ports.Stage {
	if rc == RenderServer {
		return server
	}
	return client
}

// Name returns the stage identifier.
func (s *EnvironmentSplit) Name() string {
	if s.branch == nil {
		return "environment-split(" + s.rc.String() + ")"
	}
	return "environment-split(" + s.rc.String() + ":" + s.branch.Name() + ")"
}

// Context returns the render context the split was built for.
func (s *EnvironmentSplit) Context() RenderContext {
	return s.rc
}

// Branch returns the selected stage, nil for pass-through.
func (s *EnvironmentSplit) Branch() ports.Stage {
	return s.branch
}

// Process delegates to the selected branch.
func (s *EnvironmentSplit) Process(ctx context.Context, req *domain.Request, next ports.NextFunc) (*domain.Response, error) {
	if s.branch == nil {
		return next(ctx, req)
	}
	return s.branch.Process(ctx, req, next)
}

var _ ports.Stage = (*EnvironmentSplit)(nil)
