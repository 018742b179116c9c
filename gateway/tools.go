package gateway

import "encoding/json"

// ToolDef describes a function the model may call.
type ToolDef struct {
	Name        string
	Description string

	// InputSchema is a JSON schema object for the arguments.
	InputSchema map[string]any
}

// ToolCall is one function call requested by the model.
type ToolCall struct {
	// ID correlates the call with its result. Providers that do not issue
	// ids get one synthesized from the name and position.
	ID    string
	Name  string
	Input json.RawMessage
}

// ToolExchange is a call together with the output it produced.
type ToolExchange struct {
	Call    ToolCall
	Output  string
	IsError bool
}

// ToolRound is one model step that ended in tool calls. Text is whatever the
// model said before calling.
type ToolRound struct {
	Text      string
	Exchanges []ToolExchange
}

// Properties returns the "properties" member of the schema, or an empty map.
func (d ToolDef) Properties() map[string]any {
	if p, ok := d.InputSchema["properties"].(map[string]any); ok {
		return p
	}
	return map[string]any{}
}

// Required returns the "required" member of the schema.
func (d ToolDef) Required() []string {
	switch v := d.InputSchema["required"].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, s := range v {
			if str, ok := s.(string); ok {
				out = append(out, str)
			}
		}
		return out
	}
	return nil
}
