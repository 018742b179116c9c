// Package gemini implements gateway.Gateway on the Google Gen AI SDK.
package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"iter"
	"strconv"
	"strings"

	"google.golang.org/genai"

	"github.com/tracejournal/trace/gateway"
	"github.com/tracejournal/trace/types"
)

// ProviderName identifies this provider in errors and logs.
const ProviderName = "gemini"

// DefaultModel is used when a preset leaves the model empty.
const DefaultModel = "gemini-2.5-flash"

// Gateway talks to Gemini through genai.Client.
type Gateway struct {
	client *genai.Client
}

// New wraps an existing client.
func New(client *genai.Client) *Gateway {
	return &Gateway{client: client}
}

// NewFromAPIKey creates a Gemini API client.
func NewFromAPIKey(ctx context.Context, apiKey string) (*Gateway, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, err
	}
	return New(client), nil
}

// GenerateStructured returns the text of the first candidate.
func (g *Gateway) GenerateStructured(ctx context.Context, req gateway.Request) (string, error) {
	config := buildConfig(req)
	if req.Schema != nil {
		config.ResponseMIMEType = "application/json"
	}

	resp, err := g.client.Models.GenerateContent(ctx, modelOf(req.Preset), ConvertTurns(req.Turns), config)
	if err != nil {
		return "", wrapError(err)
	}
	out := resp.Text()
	if strings.TrimSpace(out) == "" {
		return "", gateway.ErrEmptyResponse
	}
	return out, nil
}

// GenerateStream pulls from the SDK's streaming iterator.
func (g *Gateway) GenerateStream(ctx context.Context, req gateway.Request) (gateway.Stream, error) {
	contents := append(ConvertTurns(req.Turns), ConvertToolRounds(req.ToolRounds)...)
	seq := g.client.Models.GenerateContentStream(ctx, modelOf(req.Preset), contents, buildConfig(req))
	return newStream(seq), nil
}

func modelOf(p gateway.Preset) string {
	if p.Model == "" {
		return DefaultModel
	}
	return p.Model
}

func buildConfig(req gateway.Request) *genai.GenerateContentConfig {
	config := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(float32(req.Preset.Temperature)),
		MaxOutputTokens: int32(req.Preset.MaxTokensOrDefault()),
	}
	if req.System != "" {
		config.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}
	if len(req.Tools) > 0 {
		decls := make([]*genai.FunctionDeclaration, 0, len(req.Tools))
		for _, d := range req.Tools {
			decls = append(decls, &genai.FunctionDeclaration{
				Name:                 d.Name,
				Description:          d.Description,
				ParametersJsonSchema: d.InputSchema,
			})
		}
		config.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}
	return config
}

// ConvertToolRounds renders each round as a model content of function calls
// followed by a user content of function responses.
func ConvertToolRounds(rounds []gateway.ToolRound) []*genai.Content {
	var out []*genai.Content
	for _, r := range rounds {
		if len(r.Exchanges) == 0 {
			continue
		}
		var calls, responses []*genai.Part
		if strings.TrimSpace(r.Text) != "" {
			calls = append(calls, genai.NewPartFromText(r.Text))
		}
		for _, ex := range r.Exchanges {
			args := map[string]any{}
			if len(ex.Call.Input) > 0 {
				_ = json.Unmarshal(ex.Call.Input, &args)
			}
			call := genai.NewPartFromFunctionCall(ex.Call.Name, args)
			call.FunctionCall.ID = ex.Call.ID

			key := "output"
			if ex.IsError {
				key = "error"
			}
			resp := genai.NewPartFromFunctionResponse(ex.Call.Name, map[string]any{key: ex.Output})
			resp.FunctionResponse.ID = ex.Call.ID

			calls = append(calls, call)
			responses = append(responses, resp)
		}
		out = append(out,
			genai.NewContentFromParts(calls, genai.RoleModel),
			genai.NewContentFromParts(responses, genai.RoleUser),
		)
	}
	return out
}

// ConvertTurns maps journal turns onto genai contents. Assistant turns use
// the model role.
func ConvertTurns(turns []types.Turn) []*genai.Content {
	messages := gateway.Normalize(turns)
	contents := make([]*genai.Content, 0, len(messages))
	for _, m := range messages {
		role := genai.Role(genai.RoleUser)
		if m.Role == types.RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(m.Content, role))
	}
	return contents
}

// stream turns the push iterator into a pull stream, buffering the parts of
// one response at a time.
type stream struct {
	next    func() (*genai.GenerateContentResponse, error, bool)
	stop    func()
	pending []gateway.Fragment
	cur     gateway.Fragment
	err     error
	done    bool
}

func newStream(seq iter.Seq2[*genai.GenerateContentResponse, error]) *stream {
	next, stop := iter.Pull2(seq)
	return &stream{next: next, stop: stop}
}

func (s *stream) Next() bool {
	for len(s.pending) == 0 {
		if s.done {
			return false
		}
		resp, err, ok := s.next()
		if !ok {
			s.done = true
			return false
		}
		if err != nil {
			s.err = wrapError(err)
			s.done = true
			s.stop()
			return false
		}
		s.pending = fragmentsOf(resp)
	}
	s.cur = s.pending[0]
	s.pending = s.pending[1:]
	return true
}

func (s *stream) Current() gateway.Fragment {
	return s.cur
}

func (s *stream) Err() error {
	return s.err
}

func (s *stream) Close() error {
	s.done = true
	s.stop()
	return nil
}

func fragmentsOf(resp *genai.GenerateContentResponse) []gateway.Fragment {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil
	}
	var out []gateway.Fragment
	for i, part := range resp.Candidates[0].Content.Parts {
		if part == nil {
			continue
		}
		if fc := part.FunctionCall; fc != nil {
			id := fc.ID
			if id == "" {
				id = fc.Name + "-" + strconv.Itoa(i)
			}
			input, err := json.Marshal(fc.Args)
			if err != nil || fc.Args == nil {
				input = []byte(`{}`)
			}
			out = append(out, gateway.ToolCallFragment{Call: gateway.ToolCall{ID: id, Name: fc.Name, Input: input}})
			continue
		}
		if part.Text != "" && !part.Thought {
			out = append(out, gateway.TextFragment{Text: part.Text})
			continue
		}
		raw, _ := json.Marshal(part)
		kind := "part"
		if part.Thought {
			kind = "thought"
		}
		out = append(out, gateway.OpaqueFragment{Kind: kind, Raw: raw})
	}
	return out
}

func wrapError(err error) error {
	if err == nil {
		return nil
	}
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return &gateway.ProviderError{Provider: ProviderName, StatusCode: apiErr.Code, Err: err}
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) {
		return &gateway.ProviderError{Provider: ProviderName, StatusCode: apiErrPtr.Code, Err: err}
	}
	return &gateway.ProviderError{Provider: ProviderName, Err: err}
}
