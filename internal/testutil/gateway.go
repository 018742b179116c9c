package testutil

import (
	"context"
	"sync"

	"github.com/tracejournal/trace/gateway"
)

// AdmitJSON is the structured reply FakeGateway gives validation calls by default.
const AdmitJSON = `{"is_valid": true, "reason": "journaling content"}`

// RejectJSON builds a structured refusal.
func RejectJSON(reason string) string {
	return `{"is_valid": false, "reason": "` + reason + `"}`
}

type structuredReply struct {
	text string
	err  error
}

// FakeGateway is a scripted gateway.Gateway. Structured replies are keyed by
// preset name; streams replay queued fragment lists first and then a fixed
// one. It records every call.
type FakeGateway struct {
	mu sync.Mutex

	structured map[string]structuredReply
	fragments  []gateway.Fragment
	queued     [][]gateway.Fragment
	streamErr  error
	startErr   error

	// BeforeStream, if set, runs at the start of every GenerateStream call.
	BeforeStream func(ctx context.Context, req gateway.Request)

	structuredCalls map[string]int
	streamCalls     int
	requests        []gateway.Request
}

// NewFakeGateway returns a gateway that admits every input, summarizes as
// "summary" and streams "ok".
func NewFakeGateway() *FakeGateway {
	return &FakeGateway{
		structured: map[string]structuredReply{
			gateway.PresetValidation:    {text: AdmitJSON},
			gateway.PresetSummarization: {text: "summary"},
		},
		fragments:       []gateway.Fragment{gateway.TextFragment{Text: "ok"}},
		structuredCalls: make(map[string]int),
	}
}

// Respond sets the structured reply for preset.
func (g *FakeGateway) Respond(preset, text string) *FakeGateway {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.structured[preset] = structuredReply{text: text}
	return g
}

// Fail makes structured calls for preset return err.
func (g *FakeGateway) Fail(preset string, err error) *FakeGateway {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.structured[preset] = structuredReply{err: err}
	return g
}

// Stream sets the fragments replayed by GenerateStream.
func (g *FakeGateway) Stream(fragments ...gateway.Fragment) *FakeGateway {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.fragments = fragments
	g.streamErr = nil
	return g
}

// QueueStream adds a fragment list served by the next unanswered
// GenerateStream call, ahead of the fixed list set by Stream.
func (g *FakeGateway) QueueStream(fragments ...gateway.Fragment) *FakeGateway {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.queued = append(g.queued, fragments)
	return g
}

// StreamTexts is Stream with text fragments.
func (g *FakeGateway) StreamTexts(parts ...string) *FakeGateway {
	frags := make([]gateway.Fragment, len(parts))
	for i, p := range parts {
		frags[i] = gateway.TextFragment{Text: p}
	}
	return g.Stream(frags...)
}

// StreamError makes the stream fail with err after replaying fragments.
func (g *FakeGateway) StreamError(err error, fragments ...gateway.Fragment) *FakeGateway {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.fragments = fragments
	g.streamErr = err
	return g
}

// FailStreamStart makes GenerateStream itself return err.
func (g *FakeGateway) FailStreamStart(err error) *FakeGateway {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.startErr = err
	return g
}

func (g *FakeGateway) GenerateStructured(ctx context.Context, req gateway.Request) (string, error) {
	g.mu.Lock()
	g.structuredCalls[req.Preset.Name]++
	g.requests = append(g.requests, req)
	reply, ok := g.structured[req.Preset.Name]
	g.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return "", err
	}
	if !ok {
		return "", gateway.ErrEmptyResponse
	}
	return reply.text, reply.err
}

func (g *FakeGateway) GenerateStream(ctx context.Context, req gateway.Request) (gateway.Stream, error) {
	if g.BeforeStream != nil {
		g.BeforeStream(ctx, req)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.streamCalls++
	g.requests = append(g.requests, req)

	if g.startErr != nil {
		return nil, g.startErr
	}
	if len(g.queued) > 0 {
		next := g.queued[0]
		g.queued = g.queued[1:]
		return gateway.NewSliceStream(next, nil), nil
	}
	frags := make([]gateway.Fragment, len(g.fragments))
	copy(frags, g.fragments)
	return gateway.NewSliceStream(frags, g.streamErr), nil
}

// StructuredCalls returns how many structured calls used preset.
func (g *FakeGateway) StructuredCalls(preset string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.structuredCalls[preset]
}

// StreamCalls returns how many streaming calls were made.
func (g *FakeGateway) StreamCalls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.streamCalls
}

// Requests returns every request received, in order.
func (g *FakeGateway) Requests() []gateway.Request {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]gateway.Request, len(g.requests))
	copy(out, g.requests)
	return out
}

// LastStreamRequest returns the most recent streaming request, if any.
func (g *FakeGateway) LastStreamRequest() (gateway.Request, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for i := len(g.requests) - 1; i >= 0; i-- {
		if g.requests[i].Preset.Name == gateway.PresetGeneration {
			return g.requests[i], true
		}
	}
	return gateway.Request{}, false
}
