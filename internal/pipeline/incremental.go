package pipeline

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"

	"github.com/vektah/gqlparser/v2/gqlerror"

	"github.com/tjfontaine/gqlink/internal/core/domain"
)

// incrementalPayload is one part of a multipart/mixed response.
type incrementalPayload struct {
	Data        json.RawMessage     `json:"data"`
	Errors      gqlerror.List       `json:"errors"`
	Extensions  map[string]any      `json:"extensions"`
	Incremental []incrementalResult `json:"incremental"`
	HasNext     *bool               `json:"hasNext"`
}

type incrementalResult struct {
	Data   json.RawMessage `json:"data"`
	Items  []any           `json:"items"`
	Path   []any           `json:"path"`
	Label  string          `json:"label"`
	Errors gqlerror.List   `json:"errors"`
}

// readIncremental reads an incremental delivery stream to completion and
// merges every part into a single response.
func readIncremental(body io.Reader, boundary string) (*domain.Response, error) {
	if boundary == "" {
		return nil, errors.New("multipart response without boundary")
	}

	mr := multipart.NewReader(body, boundary)
	var (
		data    any
		errs    gqlerror.List
		ext     map[string]any
		initial = true
	)

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read multipart: %w", err)
		}

		raw, err := io.ReadAll(part)
		part.Close()
		if err != nil {
			return nil, fmt.Errorf("read part: %w", err)
		}
		raw = bytes.TrimSpace(raw)
		if len(raw) == 0 || bytes.Equal(raw, []byte("{}")) {
			continue
		}

		var p incrementalPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("decode part: %w", err)
		}

		if initial {
			initial = false
			if len(p.Data) > 0 {
				if err := json.Unmarshal(p.Data, &data); err != nil {
					return nil, fmt.Errorf("decode initial data: %w", err)
				}
			}
		}
		errs = append(errs, p.Errors...)
		if p.Extensions != nil {
			if ext == nil {
				ext = make(map[string]any)
			}
			for k, v := range p.Extensions {
				ext[k] = v
			}
		}

		for _, inc := range p.Incremental {
			errs = append(errs, inc.Errors...)
			if err := applyIncrement(data, inc); err != nil {
				return nil, err
			}
		}

		if p.HasNext != nil && !*p.HasNext {
			break
		}
	}

	if initial {
		return nil, errors.New("multipart response had no payload")
	}

	out := &domain.Response{Errors: errs, Extensions: ext}
	if data != nil {
		merged, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("encode merged data: %w", err)
		}
		out.Data = merged
	} else {
		out.Data = json.RawMessage("null")
	}
	return out, nil
}

// applyIncrement merges a deferred fragment or appends streamed items at
// inc.Path inside root.
func applyIncrement(root any, inc incrementalResult) error {
	if inc.Items != nil {
		if len(inc.Path) == 0 {
			return errors.New("stream payload without path")
		}
		// The path ends at the index of the first new item.
		listPath := inc.Path[:len(inc.Path)-1]
		list, err := walkPath(root, listPath)
		if err != nil {
			return err
		}
		return appendItems(root, listPath, list, inc.Items)
	}

	if len(inc.Data) == 0 {
		return nil
	}
	target, err := walkPath(root, inc.Path)
	if err != nil {
		return err
	}
	dst, ok := target.(map[string]any)
	if !ok {
		return fmt.Errorf("defer path %v does not point at an object", inc.Path)
	}
	var src map[string]any
	if err := json.Unmarshal(inc.Data, &src); err != nil {
		return fmt.Errorf("decode deferred data: %w", err)
	}
	mergeObjects(dst, src)
	return nil
}

func walkPath(root any, path []any) (any, error) {
	cur := root
	for _, el := range path {
		switch key := el.(type) {
		case string:
			m, ok := cur.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("path element %q: not an object", key)
			}
			cur = m[key]
		case float64:
			list, ok := cur.([]any)
			idx := int(key)
			if !ok || idx < 0 || idx >= len(list) {
				return nil, fmt.Errorf("path element %d: out of range", idx)
			}
			cur = list[idx]
		default:
			return nil, fmt.Errorf("unsupported path element %v", el)
		}
	}
	return cur, nil
}

func appendItems(root any, listPath []any, list any, items []any) error {
	if len(listPath) == 0 {
		return errors.New("stream path has no list")
	}
	existing, ok := list.([]any)
	if !ok && list != nil {
		return fmt.Errorf("stream path %v does not point at a list", listPath)
	}
	owner, err := walkPath(root, listPath[:len(listPath)-1])
	if err != nil {
		return err
	}
	key, ok := listPath[len(listPath)-1].(string)
	obj, isObj := owner.(map[string]any)
	if !ok || !isObj {
		return fmt.Errorf("stream path %v does not end at a field", listPath)
	}
	obj[key] = append(existing, items...)
	return nil
}

func mergeObjects(dst, src map[string]any) {
	for k, v := range src {
		if sub, ok := v.(map[string]any); ok {
			if existing, ok := dst[k].(map[string]any); ok {
				mergeObjects(existing, sub)
				continue
			}
		}
		dst[k] = v
	}
}
