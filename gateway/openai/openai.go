// Package openai implements gateway.Gateway on the OpenAI API. Structured
// calls use the Responses API with a strict JSON schema when the request
// carries one; generation streams Chat Completions.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/ssestream"
	"github.com/openai/openai-go/responses"
	"github.com/openai/openai-go/shared"
	"github.com/tracejournal/trace/gateway"
	"github.com/tracejournal/trace/types"
)

// ProviderName identifies this provider in errors and logs.
const ProviderName = "openai"

// DefaultModel is used when a preset leaves the model empty.
const DefaultModel = "gpt-4o-mini"

// Gateway talks to OpenAI through the official SDK.
type Gateway struct {
	client *openai.Client
}

// New wraps an existing client.
func New(client *openai.Client) *Gateway {
	return &Gateway{client: client}
}

// NewFromAPIKey builds a client from an API key.
func NewFromAPIKey(apiKey string, opts ...option.RequestOption) *Gateway {
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	client := openai.NewClient(opts...)
	return New(&client)
}

// GenerateStructured sends req through the Responses API.
func (g *Gateway) GenerateStructured(ctx context.Context, req gateway.Request) (string, error) {
	resp, err := g.client.Responses.New(ctx, buildResponseParams(req))
	if err != nil {
		return "", wrapError(err)
	}
	out := resp.OutputText()
	if strings.TrimSpace(out) == "" {
		return "", gateway.ErrEmptyResponse
	}
	return out, nil
}

// GenerateStream streams a chat completion.
func (g *Gateway) GenerateStream(ctx context.Context, req gateway.Request) (gateway.Stream, error) {
	s := g.client.Chat.Completions.NewStreaming(ctx, buildChatParams(req))
	return &stream{src: s, calls: make(map[int64]*pendingCall)}, nil
}

func modelOf(p gateway.Preset) string {
	if p.Model == "" {
		return DefaultModel
	}
	return p.Model
}

func buildResponseParams(req gateway.Request) responses.ResponseNewParams {
	items := make([]responses.ResponseInputItemUnionParam, 0, len(req.Turns))
	for _, m := range gateway.Normalize(req.Turns) {
		role := responses.EasyInputMessageRoleUser
		if m.Role == types.RoleAssistant {
			role = responses.EasyInputMessageRoleAssistant
		}
		items = append(items, responses.ResponseInputItemParamOfMessage(m.Content, role))
	}

	params := responses.ResponseNewParams{
		Model:           modelOf(req.Preset),
		MaxOutputTokens: openai.Int(req.Preset.MaxTokensOrDefault()),
		Temperature:     openai.Float(req.Preset.Temperature),
		Input: responses.ResponseNewParamsInputUnion{
			OfInputItemList: items,
		},
	}
	if req.System != "" {
		params.Instructions = openai.String(req.System)
	}
	if req.Schema != nil {
		format := &responses.ResponseFormatTextJSONSchemaConfigParam{
			Name:   req.Schema.Name,
			Schema: req.Schema.Value,
			Strict: openai.Bool(true),
			Type:   "json_schema",
		}
		if req.Schema.Description != "" {
			format.Description = openai.String(req.Schema.Description)
		}
		params.Text = responses.ResponseTextConfigParam{
			Format: responses.ResponseFormatTextConfigUnionParam{OfJSONSchema: format},
		}
	}
	return params
}

func buildChatParams(req gateway.Request) openai.ChatCompletionNewParams {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Turns)+1)
	if req.System != "" {
		messages = append(messages, openai.SystemMessage(req.System))
	}
	for _, m := range gateway.Normalize(req.Turns) {
		if m.Role == types.RoleAssistant {
			messages = append(messages, openai.AssistantMessage(m.Content))
		} else {
			messages = append(messages, openai.UserMessage(m.Content))
		}
	}

	messages = append(messages, convertToolRounds(req.ToolRounds)...)

	params := openai.ChatCompletionNewParams{
		Model:               openai.ChatModel(modelOf(req.Preset)),
		Messages:            messages,
		Temperature:         openai.Float(req.Preset.Temperature),
		MaxCompletionTokens: openai.Int(req.Preset.MaxTokensOrDefault()),
	}
	for _, d := range req.Tools {
		params.Tools = append(params.Tools, openai.ChatCompletionToolParam{
			Function: shared.FunctionDefinitionParam{
				Name:        d.Name,
				Description: openai.String(d.Description),
				Parameters:  shared.FunctionParameters(d.InputSchema),
			},
		})
	}
	return params
}

// convertToolRounds renders each round as an assistant message carrying
// tool_calls followed by one tool message per result.
func convertToolRounds(rounds []gateway.ToolRound) []openai.ChatCompletionMessageParamUnion {
	var out []openai.ChatCompletionMessageParamUnion
	for _, r := range rounds {
		if len(r.Exchanges) == 0 {
			continue
		}
		assistant := openai.ChatCompletionAssistantMessageParam{}
		if strings.TrimSpace(r.Text) != "" {
			assistant.Content.OfString = openai.String(r.Text)
		}
		for _, ex := range r.Exchanges {
			args := string(ex.Call.Input)
			if args == "" {
				args = "{}"
			}
			assistant.ToolCalls = append(assistant.ToolCalls, openai.ChatCompletionMessageToolCallParam{
				ID: ex.Call.ID,
				Function: openai.ChatCompletionMessageToolCallFunctionParam{
					Name:      ex.Call.Name,
					Arguments: args,
				},
			})
		}
		out = append(out, openai.ChatCompletionMessageParamUnion{OfAssistant: &assistant})
		for _, ex := range r.Exchanges {
			out = append(out, openai.ToolMessage(ex.Output, ex.Call.ID))
		}
	}
	return out
}

// stream adapts chat completion chunks to gateway fragments. Tool call
// deltas are assembled by index and released as ToolCallFragments once the
// choice finishes or the stream ends.
type stream struct {
	src   *ssestream.Stream[openai.ChatCompletionChunk]
	cur   gateway.Fragment
	calls map[int64]*pendingCall
	ready []gateway.Fragment
}

type pendingCall struct {
	id, name string
	args     strings.Builder
}

func (s *stream) Next() bool {
	for {
		if len(s.ready) > 0 {
			s.cur, s.ready = s.ready[0], s.ready[1:]
			return true
		}
		if !s.src.Next() {
			s.flushCalls()
			if len(s.ready) == 0 {
				return false
			}
			continue
		}
		chunk := s.src.Current()
		if len(chunk.Choices) == 0 {
			continue
		}
		choice := chunk.Choices[0]
		delta := choice.Delta
		for _, tc := range delta.ToolCalls {
			pc, ok := s.calls[tc.Index]
			if !ok {
				pc = &pendingCall{}
				s.calls[tc.Index] = pc
			}
			if tc.ID != "" {
				pc.id = tc.ID
			}
			if tc.Function.Name != "" {
				pc.name = tc.Function.Name
			}
			pc.args.WriteString(tc.Function.Arguments)
		}
		switch {
		case delta.Content != "":
			s.ready = append(s.ready, gateway.TextFragment{Text: delta.Content})
		case delta.Refusal != "":
			s.ready = append(s.ready, gateway.OpaqueFragment{Kind: "refusal", Raw: []byte(delta.Refusal)})
		}
		if choice.FinishReason != "" {
			s.flushCalls()
		}
	}
}

// flushCalls queues every assembled tool call in index order.
func (s *stream) flushCalls() {
	if len(s.calls) == 0 {
		return
	}
	indexes := make([]int64, 0, len(s.calls))
	for i := range s.calls {
		indexes = append(indexes, i)
	}
	slices.Sort(indexes)
	for _, i := range indexes {
		pc := s.calls[i]
		args := json.RawMessage(pc.args.String())
		if len(args) == 0 {
			args = json.RawMessage(`{}`)
		}
		s.ready = append(s.ready, gateway.ToolCallFragment{Call: gateway.ToolCall{ID: pc.id, Name: pc.name, Input: args}})
	}
	clear(s.calls)
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

func wrapError(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return &gateway.ProviderError{Provider: ProviderName, StatusCode: apiErr.StatusCode, Err: err}
	}
	return &gateway.ProviderError{Provider: ProviderName, Err: err}
}
