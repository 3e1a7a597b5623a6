package runtime

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/formatter"
	"github.com/vektah/gqlparser/v2/parser"

	"github.com/tjfontaine/gqlink/internal/core/domain"
)

// operation is the parsed view of a request used for cache decisions.
type operation struct {
	name       string
	kind       ast.Operation
	normalized string
}

func (o operation) cacheable() bool {
	return o.kind == ast.Query
}

// parseOperation parses req.Query and selects the operation to run.
// Every failure is a MalformedRequestError.
func parseOperation(req *domain.Request) (operation, error) {
	if req.Query == "" {
		return operation{}, domain.NewMalformedRequestError(errors.New("empty document"))
	}

	doc, err := parser.ParseQuery(&ast.Source{Input: req.Query})
	if err != nil {
		return operation{}, domain.NewMalformedRequestError(err)
	}
	if len(doc.Operations) == 0 {
		return operation{}, domain.NewMalformedRequestError(errors.New("document has no operations"))
	}

	var op *ast.OperationDefinition
	switch {
	case req.OperationName != "":
		op = doc.Operations.ForName(req.OperationName)
		if op == nil {
			return operation{}, domain.NewMalformedRequestError(fmt.Errorf("operation %q not found in document", req.OperationName))
		}
	case len(doc.Operations) == 1:
		op = doc.Operations[0]
	default:
		return operation{}, domain.NewMalformedRequestError(errors.New("operation name required for documents with several operations"))
	}

	var buf bytes.Buffer
	formatter.NewFormatter(&buf).FormatQueryDocument(doc)

	return operation{
		name:       op.Name,
		kind:       op.Operation,
		normalized: buf.String(),
	}, nil
}
