package translate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeSchema_EmptySchemaGetsPlaceholder(t *testing.T) {
	result := SanitizeSchema(nil)
	assert.Equal(t, "object", result["type"])
	props := result["properties"].(map[string]interface{})
	assert.Contains(t, props, "reason")
}

func TestSanitizeSchema_ConstBecomesEnum(t *testing.T) {
	result := SanitizeSchema(map[string]interface{}{"type": "string", "const": "fixed"})
	enum, ok := result["enum"].([]interface{})
	require.True(t, ok)
	assert.Equal(t, "fixed", enum[0])
}

func TestSanitizeSchema_DropsDisallowedFields(t *testing.T) {
	result := SanitizeSchema(map[string]interface{}{"type": "string", "pattern": "^[a-z]+$"})
	_, present := result["pattern"]
	assert.False(t, present)
}

func TestCleanSchema_ConvertsRefToDescriptionHint(t *testing.T) {
	result := CleanSchema(map[string]interface{}{"$ref": "#/$defs/Widget"})
	assert.Equal(t, "OBJECT", result["type"])
	assert.Contains(t, result["description"], "Widget")
}

func TestCleanSchema_StripsUnsupportedKeywords(t *testing.T) {
	result := CleanSchema(map[string]interface{}{"type": "string", "format": "email", "default": "x"})
	_, hasFormat := result["format"]
	_, hasDefault := result["default"]
	assert.False(t, hasFormat)
	assert.False(t, hasDefault)
}

func TestCleanSchema_UppercasesType(t *testing.T) {
	result := CleanSchema(map[string]interface{}{"type": "integer"})
	assert.Equal(t, "INTEGER", result["type"])
}

func TestCleanSchema_PicksBestAnyOfBranch(t *testing.T) {
	result := CleanSchema(map[string]interface{}{
		"anyOf": []interface{}{
			map[string]interface{}{"type": "null"},
			map[string]interface{}{"type": "object", "properties": map[string]interface{}{"a": map[string]interface{}{"type": "string"}}},
		},
	})
	assert.Equal(t, "OBJECT", result["type"])
}

func TestCleanSchema_PrunesRequiredForMissingProperty(t *testing.T) {
	result := CleanSchema(map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{"a": map[string]interface{}{"type": "string"}},
		"required":   []interface{}{"a", "ghost"},
	})
	required := result["required"].([]interface{})
	assert.Equal(t, []interface{}{"a"}, required)
}

func TestSanitizeAndCleanSchema_EmptyRawProducesPlaceholder(t *testing.T) {
	result := SanitizeAndCleanSchema(nil)
	assert.Equal(t, "OBJECT", result["type"])
}
