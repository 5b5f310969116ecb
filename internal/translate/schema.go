package translate

import (
	"encoding/json"
	"fmt"
	"strings"
)

// SanitizeAndCleanSchema unmarshals a tool's raw JSON Schema and runs it
// through SanitizeSchema then CleanSchema, producing the parameters object
// Gemini's function-declaration format accepts. Falls back to an empty
// object schema when the input can't be parsed.
func SanitizeAndCleanSchema(raw json.RawMessage) map[string]interface{} {
	var schema map[string]interface{}
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &schema)
	}
	return CleanSchema(SanitizeSchema(schema))
}

// SanitizeSchema restricts a JSON Schema to the fields Gemini's function
// declarations understand, using an allowlist rather than trying to strip
// every unsupported construct individually. const is folded into enum.
// A schema with no usable properties gets a placeholder "reason" property,
// since Gemini rejects object schemas with an empty properties map.
func SanitizeSchema(schema map[string]interface{}) map[string]interface{} {
	if len(schema) == 0 {
		return placeholderSchema()
	}

	allowed := map[string]bool{
		"type": true, "description": true, "properties": true,
		"required": true, "items": true, "enum": true, "title": true,
	}

	sanitized := make(map[string]interface{})
	for key, value := range schema {
		if key == "const" {
			sanitized["enum"] = []interface{}{value}
			continue
		}
		if !allowed[key] {
			continue
		}
		switch key {
		case "properties":
			if props, ok := value.(map[string]interface{}); ok {
				newProps := make(map[string]interface{}, len(props))
				for k, v := range props {
					if m, ok := v.(map[string]interface{}); ok {
						newProps[k] = SanitizeSchema(m)
					} else {
						newProps[k] = v
					}
				}
				sanitized["properties"] = newProps
			}
		case "items":
			sanitized["items"] = sanitizeItems(value)
		default:
			if m, ok := value.(map[string]interface{}); ok {
				sanitized[key] = SanitizeSchema(m)
			} else {
				sanitized[key] = value
			}
		}
	}

	if _, ok := sanitized["type"]; !ok {
		sanitized["type"] = "object"
	}
	if sanitized["type"] == "object" {
		props, _ := sanitized["properties"].(map[string]interface{})
		if len(props) == 0 {
			sanitized["properties"] = placeholderSchema()["properties"]
			sanitized["required"] = []string{"reason"}
		}
	}

	return sanitized
}

func sanitizeItems(value interface{}) interface{} {
	switch v := value.(type) {
	case map[string]interface{}:
		return SanitizeSchema(v)
	case []interface{}:
		out := make([]interface{}, 0, len(v))
		for _, item := range v {
			if m, ok := item.(map[string]interface{}); ok {
				out = append(out, SanitizeSchema(m))
			} else {
				out = append(out, item)
			}
		}
		return out
	default:
		return value
	}
}

func placeholderSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"reason": map[string]interface{}{
				"type":        "string",
				"description": "Reason for calling this tool",
			},
		},
		"required": []string{"reason"},
	}
}

var unsupportedSchemaKeys = []string{
	"additionalProperties", "default", "$schema", "$defs", "definitions",
	"$ref", "$id", "$comment", "title", "minLength", "maxLength", "pattern",
	"format", "minItems", "maxItems", "examples", "allOf", "anyOf", "oneOf",
}

// CleanSchema rewrites a JSON Schema into the subset Gemini's v1internal API
// accepts: $ref/allOf/anyOf/oneOf are folded away (as description hints or
// by keeping the most informative branch), unsupported keywords are
// stripped, and remaining type names are upper-cased to Gemini's convention.
func CleanSchema(schema map[string]interface{}) map[string]interface{} {
	if schema == nil {
		return schema
	}

	result := copySchemaMap(schema)
	result = convertRefToHint(result)
	result = addEnumHint(result)
	result = addAdditionalPropertiesHint(result)
	result = moveConstraintsToDescription(result)
	result = flattenCombinator(result, "allOf", mergeAllOfBranches)
	result = flattenCombinator(result, "anyOf", pickBestBranch)
	result = flattenCombinator(result, "oneOf", pickBestBranch)
	result = flattenNullableTypeArray(result)

	for _, key := range unsupportedSchemaKeys {
		delete(result, key)
	}
	if result["type"] == "string" {
		if format, ok := result["format"].(string); ok && format != "date-time" {
			delete(result, "format")
		}
	}

	if props, ok := result["properties"].(map[string]interface{}); ok {
		cleaned := make(map[string]interface{}, len(props))
		for k, v := range props {
			if m, ok := v.(map[string]interface{}); ok {
				cleaned[k] = CleanSchema(m)
			} else {
				cleaned[k] = v
			}
		}
		result["properties"] = cleaned
	}
	if items, ok := result["items"].(map[string]interface{}); ok {
		result["items"] = CleanSchema(items)
	}

	pruneMissingRequired(result)

	if t, ok := result["type"].(string); ok {
		result["type"] = toGoogleType(t)
	}

	return result
}

func copySchemaMap(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func convertRefToHint(schema map[string]interface{}) map[string]interface{} {
	ref, ok := schema["$ref"].(string)
	if !ok {
		return schema
	}
	parts := strings.Split(ref, "/")
	name := parts[len(parts)-1]
	if name == "" {
		name = "unknown"
	}
	return map[string]interface{}{
		"type":        "object",
		"description": describeWithHint(schema, fmt.Sprintf("see: %s", name)),
	}
}

func addEnumHint(schema map[string]interface{}) map[string]interface{} {
	if _, ok := schema["enum"]; !ok {
		return schema
	}
	return schema
}

func addAdditionalPropertiesHint(schema map[string]interface{}) map[string]interface{} {
	ap, ok := schema["additionalProperties"]
	if !ok {
		return schema
	}
	if b, ok := ap.(bool); ok && !b {
		return schema
	}
	schema["description"] = describeWithHint(schema, "accepts additional properties")
	return schema
}

func moveConstraintsToDescription(schema map[string]interface{}) map[string]interface{} {
	var hints []string
	if minLen, ok := schema["minLength"]; ok {
		hints = append(hints, fmt.Sprintf("minLength: %v", minLen))
	}
	if maxLen, ok := schema["maxLength"]; ok {
		hints = append(hints, fmt.Sprintf("maxLength: %v", maxLen))
	}
	if pattern, ok := schema["pattern"]; ok {
		hints = append(hints, fmt.Sprintf("pattern: %v", pattern))
	}
	for _, h := range hints {
		schema["description"] = describeWithHint(schema, h)
	}
	return schema
}

func describeWithHint(schema map[string]interface{}, hint string) string {
	if desc, ok := schema["description"].(string); ok && desc != "" {
		return fmt.Sprintf("%s (%s)", desc, hint)
	}
	return hint
}

// flattenCombinator reduces a combinator keyword (allOf/anyOf/oneOf) down to
// a single schema using reduce, then merges that schema's fields in place.
func flattenCombinator(schema map[string]interface{}, key string, reduce func([]interface{}) map[string]interface{}) map[string]interface{} {
	arr, ok := schema[key].([]interface{})
	if !ok || len(arr) == 0 {
		return schema
	}
	merged := reduce(arr)
	for k, v := range merged {
		if _, exists := schema[k]; !exists {
			schema[k] = v
		}
	}
	delete(schema, key)
	return schema
}

func mergeAllOfBranches(branches []interface{}) map[string]interface{} {
	merged := map[string]interface{}{"type": "object", "properties": map[string]interface{}{}}
	props := merged["properties"].(map[string]interface{})
	var required []string
	for _, b := range branches {
		bm, ok := b.(map[string]interface{})
		if !ok {
			continue
		}
		if t, ok := bm["type"].(string); ok {
			merged["type"] = t
		}
		if bp, ok := bm["properties"].(map[string]interface{}); ok {
			for k, v := range bp {
				props[k] = v
			}
		}
		if req, ok := bm["required"].([]interface{}); ok {
			for _, r := range req {
				if s, ok := r.(string); ok {
					required = append(required, s)
				}
			}
		}
	}
	if len(required) > 0 {
		merged["required"] = required
	}
	return merged
}

// pickBestBranch picks the most informative branch of an anyOf/oneOf list:
// object schemas beat array schemas beat scalar schemas beat null, since
// Gemini has no native union type and needs one concrete shape to declare.
func pickBestBranch(branches []interface{}) map[string]interface{} {
	best := map[string]interface{}{"type": "object"}
	bestScore := -1
	for _, b := range branches {
		bm, ok := b.(map[string]interface{})
		if !ok {
			continue
		}
		if score := scoreSchemaOption(bm); score > bestScore {
			bestScore = score
			best = bm
		}
	}
	return best
}

func scoreSchemaOption(schema map[string]interface{}) int {
	if schema["type"] == "object" || schema["properties"] != nil {
		return 3
	}
	if schema["type"] == "array" || schema["items"] != nil {
		return 2
	}
	if t, ok := schema["type"].(string); ok && t != "null" {
		return 1
	}
	return 0
}

// flattenNullableTypeArray collapses a JSON Schema 2020-12 style type array
// (e.g. ["string", "null"]) down to the single non-null type, since Gemini's
// schema format has no nullable union syntax.
func flattenNullableTypeArray(schema map[string]interface{}) map[string]interface{} {
	arr, ok := schema["type"].([]interface{})
	if !ok {
		return schema
	}
	for _, t := range arr {
		if s, ok := t.(string); ok && s != "null" {
			schema["type"] = s
			return schema
		}
	}
	schema["type"] = "string"
	return schema
}

func pruneMissingRequired(schema map[string]interface{}) {
	required, ok := schema["required"].([]interface{})
	if !ok {
		if reqStrings, ok := schema["required"].([]string); ok {
			required = make([]interface{}, len(reqStrings))
			for i, s := range reqStrings {
				required[i] = s
			}
		} else {
			return
		}
	}
	props, ok := schema["properties"].(map[string]interface{})
	if !ok {
		delete(schema, "required")
		return
	}
	kept := make([]interface{}, 0, len(required))
	for _, r := range required {
		if s, ok := r.(string); ok {
			if _, exists := props[s]; exists {
				kept = append(kept, s)
			}
		}
	}
	if len(kept) == 0 {
		delete(schema, "required")
	} else {
		schema["required"] = kept
	}
}

func toGoogleType(typeName string) string {
	switch strings.ToLower(typeName) {
	case "string":
		return "STRING"
	case "number":
		return "NUMBER"
	case "integer":
		return "INTEGER"
	case "boolean":
		return "BOOLEAN"
	case "array":
		return "ARRAY"
	case "object":
		return "OBJECT"
	default:
		return strings.ToUpper(typeName)
	}
}
