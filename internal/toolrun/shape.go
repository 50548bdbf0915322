package toolrun

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/dshills/gauntlet/internal/config"
)

// Shape kinds.
const (
	ShapeAuto   = ""
	ShapeList   = "list"
	ShapeObject = "object"
	ShapeKey    = "key"
)

// Unwrap turns a decoded JSON document into the list of items a tool
// reported, following the declared shape.
//
//	list   - the document is the list
//	object - the document is a single item
//	key    - the list lives at a dotted path inside the document
//
// With no declared kind a list is used as-is and anything else becomes a
// single item.
func Unwrap(doc any, shape config.ShapeSpec) ([]any, error) {
	switch shape.Kind {
	case ShapeAuto:
		if doc == nil {
			return nil, nil
		}
		if items, ok := doc.([]any); ok {
			return items, nil
		}
		return []any{doc}, nil
	case ShapeList:
		items, ok := doc.([]any)
		if !ok {
			return nil, fmt.Errorf("expected a JSON list, got %s", jsonKind(doc))
		}
		return items, nil
	case ShapeObject:
		if _, ok := doc.(map[string]any); !ok {
			return nil, fmt.Errorf("expected a JSON object, got %s", jsonKind(doc))
		}
		return []any{doc}, nil
	case ShapeKey:
		v, ok := Lookup(doc, shape.Key)
		if !ok {
			return nil, fmt.Errorf("key %q not found", shape.Key)
		}
		if v == nil {
			return nil, nil
		}
		items, ok := v.([]any)
		if !ok {
			return nil, fmt.Errorf("key %q: expected a JSON list, got %s", shape.Key, jsonKind(v))
		}
		return items, nil
	default:
		return nil, fmt.Errorf("unknown shape kind %q", shape.Kind)
	}
}

// Lookup resolves a dotted path ("extra.severity", "runs.0.results")
// inside a decoded JSON value. Numeric segments index into lists.
func Lookup(doc any, path string) (any, bool) {
	if path == "" {
		return doc, true
	}
	cur := doc
	for _, seg := range strings.Split(path, ".") {
		switch node := cur.(type) {
		case map[string]any:
			v, ok := node[seg]
			if !ok {
				return nil, false
			}
			cur = v
		case []any:
			i, err := strconv.Atoi(seg)
			if err != nil || i < 0 || i >= len(node) {
				return nil, false
			}
			cur = node[i]
		default:
			return nil, false
		}
	}
	return cur, true
}

func jsonKind(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case map[string]any:
		return "object"
	case []any:
		return "list"
	case string:
		return "string"
	case float64:
		return "number"
	case bool:
		return "boolean"
	default:
		return fmt.Sprintf("%T", v)
	}
}
