package docstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTranslateSchema(t *testing.T) {
	in := map[string]any{
		"bsonType": "object",
		"required": []any{"_id", "age"},
		"properties": map[string]any{
			"age":  map[string]any{"bsonType": "int", "minimum": 0},
			"tags": map[string]any{"bsonType": []any{"array", "null"}},
			"ts":   map[string]any{"bsonType": "date"},
		},
	}
	want := map[string]any{
		"type":     "object",
		"required": []any{"_id", "age"},
		"properties": map[string]any{
			"age":  map[string]any{"type": "integer", "minimum": 0},
			"tags": map[string]any{"type": []any{"array", "null"}},
			"ts":   map[string]any{"type": "string", "format": "date-time"},
		},
	}
	assert.Equal(t, want, TranslateSchema(in))
}

func TestCompileValidator(t *testing.T) {
	raw, schema, err := CompileValidator(map[string]any{
		"bsonType": "object",
		"required": []any{"name"},
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"object","required":["name"]}`, raw)

	assert.NoError(t, validate(schema, Document{"name": "Acme"}))
	err = validate(schema, Document{"other": 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "name")
}

func TestCompileValidator_ShellTypes(t *testing.T) {
	_, schema, err := CompileValidator(map[string]any{
		"bsonType": "object",
		"properties": map[string]any{
			"ref":     map[string]any{"bsonType": "objectId"},
			"created": map[string]any{"bsonType": "date"},
		},
	})
	require.NoError(t, err)

	assert.NoError(t, validate(schema, Document{
		"ref":     "507f1f77bcf86cd799439011",
		"created": "2024-01-02T03:04:05Z",
	}))

	err = validate(schema, Document{"ref": "ObjectId(\"507f1f77bcf86cd799439011\")"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ref")

	err = validate(schema, Document{"created": "new Date()"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "created")
}

func TestCompileValidator_Invalid(t *testing.T) {
	_, _, err := CompileValidator(map[string]any{"type": 12})
	assert.Error(t, err)
}

func TestValidatorFromOptions(t *testing.T) {
	js, ok, err := ValidatorFromOptions(map[string]any{
		"validator": map[string]any{"$jsonSchema": map[string]any{"bsonType": "object"}},
	})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, map[string]any{"bsonType": "object"}, js)

	_, ok, err = ValidatorFromOptions(map[string]any{"capped": true})
	require.NoError(t, err)
	assert.False(t, ok)

	_, _, err = ValidatorFromOptions(map[string]any{"validator": map[string]any{"name": "x"}})
	assert.Error(t, err)

	_, _, err = ValidatorFromOptions("nope")
	assert.Error(t, err)
}
