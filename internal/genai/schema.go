package genai

import (
	gemini "google.golang.org/genai"
)

// SchemaType is a JSON schema primitive type.
type SchemaType string

const (
	TypeObject  SchemaType = "object"
	TypeString  SchemaType = "string"
	TypeArray   SchemaType = "array"
	TypeInteger SchemaType = "integer"
	TypeNumber  SchemaType = "number"
	TypeBoolean SchemaType = "boolean"
)

// Schema is the subset of JSON schema both backends understand.
type Schema struct {
	Type        SchemaType
	Description string
	Properties  map[string]*Schema
	Order       []string // property order; also used to keep output stable
	Required    []string
	Enum        []string
	Items       *Schema
}

// JSONSchema renders the schema as a JSON-schema map (OpenAI function parameters).
func (s *Schema) JSONSchema() map[string]any {
	if s == nil {
		return map[string]any{"type": "object", "properties": map[string]any{}}
	}
	out := map[string]any{"type": string(s.Type)}
	if s.Description != "" {
		out["description"] = s.Description
	}
	if len(s.Enum) > 0 {
		out["enum"] = s.Enum
	}
	if s.Items != nil {
		out["items"] = s.Items.JSONSchema()
	}
	if s.Type == TypeObject {
		props := make(map[string]any, len(s.Properties))
		for name, prop := range s.Properties {
			props[name] = prop.JSONSchema()
		}
		out["properties"] = props
		if len(s.Required) > 0 {
			out["required"] = s.Required
		}
		out["additionalProperties"] = false
	}
	return out
}

// GeminiSchema renders the schema for the Gemini API.
func (s *Schema) GeminiSchema() *gemini.Schema {
	if s == nil {
		return nil
	}
	out := &gemini.Schema{
		Type:        geminiType(s.Type),
		Description: s.Description,
		Enum:        s.Enum,
		Required:    s.Required,
	}
	if s.Items != nil {
		out.Items = s.Items.GeminiSchema()
	}
	if len(s.Properties) > 0 {
		out.Properties = make(map[string]*gemini.Schema, len(s.Properties))
		for name, prop := range s.Properties {
			out.Properties[name] = prop.GeminiSchema()
		}
		out.PropertyOrdering = s.Order
	}
	return out
}

func geminiType(t SchemaType) gemini.Type {
	switch t {
	case TypeString:
		return gemini.TypeString
	case TypeArray:
		return gemini.TypeArray
	case TypeInteger:
		return gemini.TypeInteger
	case TypeNumber:
		return gemini.TypeNumber
	case TypeBoolean:
		return gemini.TypeBoolean
	default:
		return gemini.TypeObject
	}
}
