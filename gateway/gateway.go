// Package gateway defines the boundary between the journal core and a hosted
// language model.
//
// A Gateway offers two calls: a single structured completion, used for
// validation, summarization and analysis, and a streaming generation whose
// output arrives as an ordered sequence of Fragments. Provider
// implementations live in the anthropic, openai and gemini subpackages.
package gateway

import (
	"context"
	"strings"

	"github.com/tracejournal/trace/types"
)

// Gateway is a hosted model the journal talks to.
type Gateway interface {
	// GenerateStructured returns the full completion text for req. Callers
	// expecting data parse the returned text themselves.
	GenerateStructured(ctx context.Context, req Request) (string, error)

	// GenerateStream starts a streaming completion for req. The caller must
	// drain or Close the returned Stream.
	GenerateStream(ctx context.Context, req Request) (Stream, error)
}

// Request is one model call.
type Request struct {
	// Preset selects the model and sampling parameters.
	Preset Preset

	// System is the system prompt, if any.
	System string

	// Turns is the ordered conversation sent to the model.
	Turns []types.Turn

	// Schema, when set, asks providers that support it to constrain the
	// completion to this JSON schema.
	Schema *Schema

	// Tools are offered to the model on streaming calls.
	Tools []ToolDef

	// ToolRounds are the tool calls already made while answering the last
	// user turn, sent after Turns in order.
	ToolRounds []ToolRound
}

// Schema is a named JSON schema for structured output.
type Schema struct {
	Name        string
	Description string
	Value       map[string]any
}

// SummaryPrefix marks summary turns when they are sent to a provider, since
// no provider has a dedicated role for them.
const SummaryPrefix = "[Summary of the earlier conversation]\n"

// Message is a provider-neutral chat message. Only user and assistant roles
// appear here.
type Message struct {
	Role    types.Role
	Content string
}

// Normalize flattens turns into user/assistant messages. Summary turns are
// sent as user messages carrying SummaryPrefix, and consecutive messages with
// the same role are merged so providers that require alternation accept them.
func Normalize(turns []types.Turn) []Message {
	out := make([]Message, 0, len(turns))
	for _, t := range turns {
		role := t.Role
		content := t.Content
		if t.Role == types.RoleSummary {
			role = types.RoleUser
			content = SummaryPrefix + content
		}
		if strings.TrimSpace(content) == "" {
			continue
		}
		if n := len(out); n > 0 && out[n-1].Role == role {
			out[n-1].Content += "\n\n" + content
			continue
		}
		out = append(out, Message{Role: role, Content: content})
	}
	return out
}

// UserPrompt is a convenience for single-message structured requests.
func UserPrompt(text string) []types.Turn {
	return []types.Turn{{Role: types.RoleUser, Content: text}}
}
