// Package anthropic implements gateway.Gateway on the Anthropic Messages API.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"
	"github.com/anthropics/anthropic-sdk-go/shared/constant"
	"github.com/tracejournal/trace/gateway"
	"github.com/tracejournal/trace/types"
)

// ProviderName identifies this provider in errors and logs.
const ProviderName = "anthropic"

// DefaultModel is used when a preset leaves the model empty.
const DefaultModel = "claude-sonnet-4-5-20250929"

// Gateway talks to Claude through the official SDK.
type Gateway struct {
	client *anthropic.Client
}

// New wraps an existing client.
func New(client *anthropic.Client) *Gateway {
	return &Gateway{client: client}
}

// NewFromAPIKey builds a client from an API key.
func NewFromAPIKey(apiKey string, opts ...option.RequestOption) *Gateway {
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	client := anthropic.NewClient(opts...)
	return New(&client)
}

// GenerateStructured sends req and concatenates the text blocks of the reply.
func (g *Gateway) GenerateStructured(ctx context.Context, req gateway.Request) (string, error) {
	msg, err := g.client.Messages.New(ctx, buildParams(req))
	if err != nil {
		return "", wrapError(err)
	}

	var sb strings.Builder
	for _, block := range msg.Content {
		if text, ok := block.AsAny().(anthropic.TextBlock); ok {
			sb.WriteString(text.Text)
		}
	}
	if sb.Len() == 0 {
		return "", gateway.ErrEmptyResponse
	}
	return sb.String(), nil
}

// GenerateStream starts a streaming request. Errors from the SDK surface
// through Stream.Err once iteration stops.
func (g *Gateway) GenerateStream(ctx context.Context, req gateway.Request) (gateway.Stream, error) {
	s := g.client.Messages.NewStreaming(ctx, buildParams(req))
	return &stream{src: s, calls: make(map[int64]*pendingCall)}, nil
}

func buildParams(req gateway.Request) anthropic.MessageNewParams {
	model := req.Preset.Model
	if model == "" {
		model = DefaultModel
	}

	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(model),
		MaxTokens:   req.Preset.MaxTokensOrDefault(),
		Messages:    append(ConvertTurns(req.Turns), ConvertToolRounds(req.ToolRounds)...),
		Temperature: anthropic.Float(req.Preset.Temperature),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	if len(req.Tools) > 0 {
		params.Tools = ConvertTools(req.Tools)
	}
	return params
}

// ConvertTools converts tool definitions into Anthropic tool parameters.
func ConvertTools(defs []gateway.ToolDef) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, 0, len(defs))
	for _, d := range defs {
		p := anthropic.ToolParam{
			Name:        d.Name,
			Description: anthropic.String(d.Description),
			InputSchema: anthropic.ToolInputSchemaParam{
				Type:       constant.Object("object"),
				Properties: d.Properties(),
				Required:   d.Required(),
			},
		}
		out = append(out, anthropic.ToolUnionParam{OfTool: &p})
	}
	return out
}

// ConvertToolRounds renders each round as an assistant tool_use message
// followed by a user message carrying the results.
func ConvertToolRounds(rounds []gateway.ToolRound) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, 2*len(rounds))
	for _, r := range rounds {
		if len(r.Exchanges) == 0 {
			continue
		}
		uses := make([]anthropic.ContentBlockParamUnion, 0, len(r.Exchanges)+1)
		results := make([]anthropic.ContentBlockParamUnion, 0, len(r.Exchanges))
		if strings.TrimSpace(r.Text) != "" {
			uses = append(uses, anthropic.NewTextBlock(r.Text))
		}
		for _, ex := range r.Exchanges {
			var input any = map[string]any{}
			if len(ex.Call.Input) > 0 {
				_ = json.Unmarshal(ex.Call.Input, &input)
			}
			uses = append(uses, anthropic.NewToolUseBlock(ex.Call.ID, input, ex.Call.Name))
			results = append(results, anthropic.NewToolResultBlock(ex.Call.ID, ex.Output, ex.IsError))
		}
		out = append(out, anthropic.NewAssistantMessage(uses...), anthropic.NewUserMessage(results...))
	}
	return out
}

// ConvertTurns converts journal turns into Anthropic message parameters.
func ConvertTurns(turns []types.Turn) []anthropic.MessageParam {
	messages := gateway.Normalize(turns)
	params := make([]anthropic.MessageParam, 0, len(messages))
	for _, m := range messages {
		block := anthropic.NewTextBlock(m.Content)
		if m.Role == types.RoleAssistant {
			params = append(params, anthropic.NewAssistantMessage(block))
		} else {
			params = append(params, anthropic.NewUserMessage(block))
		}
	}
	return params
}

// stream adapts the SDK event stream to gateway fragments. Text deltas become
// TextFragments, a tool_use block becomes one ToolCallFragment when it stops,
// and every other content delta is passed through as opaque.
type stream struct {
	src   *ssestream.Stream[anthropic.MessageStreamEventUnion]
	cur   gateway.Fragment
	calls map[int64]*pendingCall
}

// pendingCall is a tool_use block whose input is still arriving.
type pendingCall struct {
	id, name string
	input    strings.Builder
}

func (s *stream) Next() bool {
	for s.src.Next() {
		switch e := s.src.Current().AsAny().(type) {
		case anthropic.ContentBlockStartEvent:
			if tu, ok := e.ContentBlock.AsAny().(anthropic.ToolUseBlock); ok {
				s.calls[e.Index] = &pendingCall{id: tu.ID, name: tu.Name}
			}
		case anthropic.ContentBlockDeltaEvent:
			switch delta := e.Delta.AsAny().(type) {
			case anthropic.TextDelta:
				s.cur = gateway.TextFragment{Text: delta.Text}
				return true
			case anthropic.InputJSONDelta:
				if pc, ok := s.calls[e.Index]; ok {
					pc.input.WriteString(delta.PartialJSON)
					continue
				}
			}
			s.cur = gateway.OpaqueFragment{Kind: e.Delta.Type, Raw: []byte(e.Delta.RawJSON())}
			return true
		case anthropic.ContentBlockStopEvent:
			pc, ok := s.calls[e.Index]
			if !ok {
				continue
			}
			delete(s.calls, e.Index)
			input := json.RawMessage(pc.input.String())
			if len(input) == 0 {
				input = json.RawMessage(`{}`)
			}
			s.cur = gateway.ToolCallFragment{Call: gateway.ToolCall{ID: pc.id, Name: pc.name, Input: input}}
			return true
		}
	}
	return false
}

func (s *stream) Current() gateway.Fragment {
	return s.cur
}

func (s *stream) Err() error {
	if err := s.src.Err(); err != nil {
		return wrapError(err)
	}
	return nil
}

func (s *stream) Close() error {
	return s.src.Close()
}

// wrapError maps SDK API errors onto gateway.ProviderError.
func wrapError(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return &gateway.ProviderError{Provider: ProviderName, StatusCode: apiErr.StatusCode, Err: err}
	}
	return &gateway.ProviderError{Provider: ProviderName, Err: err}
}
