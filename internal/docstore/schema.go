package docstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// bsonTypes maps MongoDB bsonType names onto JSON Schema types.
// Names not listed ("object", "array", "string", "null") are shared.
var bsonTypes = map[string]string{
	"int":       "integer",
	"long":      "integer",
	"double":    "number",
	"decimal":   "number",
	"bool":      "boolean",
	"objectId":  "string",
	"date":      "string",
	"timestamp": "string",
	"binData":   "string",
	"regex":     "string",
}

// bsonFormats pins the string shape of types the shell helpers produce:
// ObjectId(...) decodes to 24 hex digits, dates to RFC 3339 text.
var bsonFormats = map[string]map[string]any{
	"objectId": {"pattern": "^[0-9a-fA-F]{24}$"},
	"date":     {"format": "date-time"},
}

// TranslateSchema rewrites a $jsonSchema document into plain JSON Schema:
// every bsonType keyword becomes type, plus a pattern or format for
// objectId and date.
func TranslateSchema(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, x := range t {
			if k == "bsonType" {
				if _, has := t["type"]; !has {
					out["type"] = translateBSONType(x)
				}
				for kw, v := range bsonFormats[fmt.Sprint(x)] {
					if _, has := t[kw]; !has {
						out[kw] = v
					}
				}
				continue
			}
			out[k] = TranslateSchema(x)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, x := range t {
			out[i] = TranslateSchema(x)
		}
		return out
	default:
		return v
	}
}

func translateBSONType(v any) any {
	switch t := v.(type) {
	case string:
		if js, ok := bsonTypes[t]; ok {
			return js
		}
		return t
	case []any:
		out := make([]any, len(t))
		for i, x := range t {
			out[i] = translateBSONType(x)
		}
		return out
	default:
		return v
	}
}

// CompileValidator translates and compiles a $jsonSchema document.
// Returns the JSON text that is stored with the collection.
func CompileValidator(jsonSchema any) (string, *gojsonschema.Schema, error) {
	translated := TranslateSchema(jsonSchema)
	raw, err := json.Marshal(translated)
	if err != nil {
		return "", nil, fmt.Errorf("encode schema: %w", err)
	}
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(string(raw)))
	if err != nil {
		return "", nil, fmt.Errorf("compile schema: %w", err)
	}
	return string(raw), schema, nil
}

// ValidatorFromOptions extracts the $jsonSchema of createCollection options.
// ok is false when the options carry no validator.
func ValidatorFromOptions(opts any) (jsonSchema any, ok bool, err error) {
	m, isMap := opts.(map[string]any)
	if !isMap {
		return nil, false, fmt.Errorf("options must be an object, got %T", opts)
	}
	v, has := m["validator"]
	if !has {
		return nil, false, nil
	}
	vm, isMap := v.(map[string]any)
	if !isMap {
		return nil, false, fmt.Errorf("validator must be an object, got %T", v)
	}
	js, has := vm["$jsonSchema"]
	if !has || len(vm) != 1 {
		return nil, false, fmt.Errorf("only {$jsonSchema: ...} validators are supported")
	}
	return js, true, nil
}

// validate checks doc against a compiled schema and joins every violation.
func validate(schema *gojsonschema.Schema, doc Document) error {
	res, err := schema.Validate(gojsonschema.NewGoLoader(doc))
	if err != nil {
		return err
	}
	if res.Valid() {
		return nil
	}
	msgs := make([]string, 0, len(res.Errors()))
	for _, e := range res.Errors() {
		msgs = append(msgs, e.String())
	}
	return errors.New(strings.Join(msgs, "; "))
}
