package pipeline

import (
	"bytes"
	"context"
	"slices"

	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/formatter"
	"github.com/vektah/gqlparser/v2/parser"

	"github.com/tjfontaine/gqlink/internal/core/domain"
	"github.com/tjfontaine/gqlink/internal/core/ports"
)

// Directives requesting incremental delivery.
const (
	DirectiveDefer  = "defer"
	DirectiveStream = "stream"
)

// MultipartStrip removes incremental-delivery directives from outgoing
// documents so the endpoint answers with one complete response.
type MultipartStrip struct {
	directives []string
}

// MultipartOption configures a MultipartStrip.
type MultipartOption func(*MultipartStrip)

// WithStripStream also removes @stream.
func WithStripStream() MultipartOption {
	return func(m *MultipartStrip) {
		if !slices.Contains(m.directives, DirectiveStream) {
			m.directives = append(m.directives, DirectiveStream)
		}
	}
}

// NewMultipartStrip creates a stage stripping @defer.
func NewMultipartStrip(opts ...MultipartOption) *MultipartStrip {
	m := &MultipartStrip{directives: []string{DirectiveDefer}}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Name returns the stage identifier.
func (m *MultipartStrip) Name() string {
	return "multipart-strip"
}

// Process forwards the rewritten request.
func (m *MultipartStrip) Process(ctx context.Context, req *domain.Request, next ports.NextFunc) (*domain.Response, error) {
	rewritten, err := m.Rewrite(req)
	if err != nil {
		return nil, err
	}
	return next(ctx, rewritten)
}

// Rewrite returns req without the configured directives. When nothing
// needs to change the same request is returned.
func (m *MultipartStrip) Rewrite(req *domain.Request) (*domain.Request, error) {
	query, removed, err := StripDirectives(req.Query, m.directives...)
	if err != nil {
		return nil, err
	}

	out := req
	if removed > 0 {
		out = out.WithQuery(query)
	}
	if out.MetaBool(domain.MetaSupportsDefer) {
		out = out.WithMetadata(domain.MetaSupportsDefer, false)
	}
	return out, nil
}

// StripDirectives removes every directive named in names from query and
// reports how many were removed. The document is reprinted only when
// something was removed.
func StripDirectives(query string, names ...string) (string, int, error) {
	doc, err := parser.ParseQuery(&ast.Source{Input: query})
	if err != nil {
		return "", 0, domain.NewMalformedRequestError(err)
	}

	s := &stripper{names: names}
	for _, op := range doc.Operations {
		op.Directives = s.filter(op.Directives)
		s.selections(op.SelectionSet)
	}
	for _, frag := range doc.Fragments {
		frag.Directives = s.filter(frag.Directives)
		s.selections(frag.SelectionSet)
	}

	if s.removed == 0 {
		return query, 0, nil
	}

	var buf bytes.Buffer
	formatter.NewFormatter(&buf).FormatQueryDocument(doc)
	return buf.String(), s.removed, nil
}

// CountDirectives reports how many directives named in names appear in
// query.
func CountDirectives(query string, names ...string) (int, error) {
	_, n, err := StripDirectives(query, names...)
	return n, err
}

type stripper struct {
	names   []string
	removed int
}

func (s *stripper) filter(list ast.DirectiveList) ast.DirectiveList {
	if len(list) == 0 {
		return list
	}
	kept := list[:0:0]
	for _, d := range list {
		if slices.Contains(s.names, d.Name) {
			s.removed++
			continue
		}
		kept = append(kept, d)
	}
	return kept
}

func (s *stripper) selections(set ast.SelectionSet) {
	for _, sel := range set {
		switch v := sel.(type) {
		case *ast.Field:
			v.Directives = s.filter(v.Directives)
			s.selections(v.SelectionSet)
		case *ast.FragmentSpread:
			v.Directives = s.filter(v.Directives)
		case *ast.InlineFragment:
			v.Directives = s.filter(v.Directives)
			s.selections(v.SelectionSet)
		}
	}
}

var _ ports.Stage = (*MultipartStrip)(nil)
