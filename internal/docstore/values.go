package docstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var errUnsupportedOperator = errors.New("query operators are not supported")

// Document is a decoded document. Values are JSON-compatible Go values.
type Document = map[string]any

// valueKey is the comparison key of a value. encoding/json sorts map keys
// and renders 1 and 1.0 the same, so equal documents get equal keys.
func valueKey(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Filter is an equality filter on top-level fields.
type Filter map[string]string

// compileFilter validates a filter argument and precomputes value keys.
// Query operators ($gt, $in, ...) are not supported.
func compileFilter(arg any) (Filter, error) {
	m, ok := arg.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("filter must be an object, got %T", arg)
	}
	f := make(Filter, len(m))
	for k, v := range m {
		if strings.HasPrefix(k, "$") {
			return nil, fmt.Errorf("%w: %s", errUnsupportedOperator, k)
		}
		if sub, ok := v.(map[string]any); ok {
			for sk := range sub {
				if strings.HasPrefix(sk, "$") {
					return nil, fmt.Errorf("%w: %s on %s", errUnsupportedOperator, sk, k)
				}
			}
		}
		key, err := valueKey(v)
		if err != nil {
			return nil, fmt.Errorf("filter field %s: %w", k, err)
		}
		f[k] = key
	}
	return f, nil
}

// Matches reports whether doc equals the filter on every filtered field.
func (f Filter) Matches(doc Document) bool {
	for field, want := range f {
		got, ok := doc[field]
		if !ok {
			if want == "null" {
				continue
			}
			return false
		}
		key, err := valueKey(got)
		if err != nil || key != want {
			return false
		}
	}
	return true
}

func decodeDocument(body string) (Document, error) {
	var doc Document
	if err := json.Unmarshal([]byte(body), &doc); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	return doc, nil
}
