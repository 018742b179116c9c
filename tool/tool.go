// Package tool holds the functions the journaling model may call during
// generation, and runs them on its behalf.
package tool

import (
	"context"
	"encoding/json"
)

// Tool is a function the model can request by name.
type Tool interface {
	// Name is the identifier the model calls the tool by.
	Name() string

	// Description tells the model when the tool is useful.
	Description() string

	// InputSchema describes the arguments. Its Type must be "object".
	InputSchema() Schema

	// Execute runs the tool and returns the text handed back to the model.
	Execute(ctx context.Context, input json.RawMessage) (string, error)
}

// Schema is the JSON schema of a tool's arguments.
type Schema struct {
	Type       string              `json:"type"`
	Properties map[string]Property `json:"properties"`
	Required   []string            `json:"required,omitempty"`
}

// Property is one argument in a Schema.
type Property struct {
	Type        string              `json:"type"`
	Description string              `json:"description,omitempty"`
	Enum        []string            `json:"enum,omitempty"`
	Items       *Property           `json:"items,omitempty"`
	Properties  map[string]Property `json:"properties,omitempty"`
}

// NoArgs is the schema of a tool that takes no arguments.
func NoArgs() Schema {
	return Schema{Type: "object", Properties: map[string]Property{}}
}

// Map renders s as a plain JSON schema value.
func (s Schema) Map() map[string]any {
	props := make(map[string]any, len(s.Properties))
	for name, p := range s.Properties {
		props[name] = p.value()
	}
	out := map[string]any{
		"type":       s.Type,
		"properties": props,
	}
	if len(s.Required) > 0 {
		out["required"] = s.Required
	}
	return out
}

func (p Property) value() map[string]any {
	v := map[string]any{"type": p.Type}
	if p.Description != "" {
		v["description"] = p.Description
	}
	if len(p.Enum) > 0 {
		v["enum"] = p.Enum
	}
	if p.Items != nil {
		v["items"] = p.Items.value()
	}
	if len(p.Properties) > 0 {
		nested := make(map[string]any, len(p.Properties))
		for name, np := range p.Properties {
			nested[name] = np.value()
		}
		v["properties"] = nested
	}
	return v
}

type funcTool struct {
	name        string
	description string
	schema      Schema
	fn          func(context.Context, json.RawMessage) (string, error)
}

func (t *funcTool) Name() string        { return t.name }
func (t *funcTool) Description() string { return t.description }
func (t *funcTool) InputSchema() Schema { return t.schema }

func (t *funcTool) Execute(ctx context.Context, input json.RawMessage) (string, error) {
	return t.fn(ctx, input)
}

// NewFuncTool adapts fn into a Tool.
func NewFuncTool(name, description string, schema Schema, fn func(context.Context, json.RawMessage) (string, error)) Tool {
	return &funcTool{name: name, description: description, schema: schema, fn: fn}
}
