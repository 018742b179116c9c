// Package streaming reduces a gateway stream into the final reply text.
package streaming

import (
	"context"
	"strings"

	"github.com/tracejournal/trace/gateway"
)

// Accumulator collects fragments in delivery order. Only TextFragments
// contribute to the text; tool calls are kept aside and opaque fragments are
// counted and dropped.
type Accumulator struct {
	text      strings.Builder
	calls     []gateway.ToolCall
	fragments int
	opaque    int
	onText    func(string)
}

// NewAccumulator creates an empty accumulator.
func NewAccumulator() *Accumulator {
	return &Accumulator{}
}

// OnText registers a callback invoked with each text fragment as it arrives.
func (a *Accumulator) OnText(fn func(string)) *Accumulator {
	a.onText = fn
	return a
}

// Add folds one fragment into the accumulator.
func (a *Accumulator) Add(f gateway.Fragment) {
	if f == nil {
		return
	}
	a.fragments++
	if tc, ok := f.(gateway.ToolCallFragment); ok {
		a.calls = append(a.calls, tc.Call)
		return
	}
	text, ok := gateway.TextOf(f)
	if !ok {
		a.opaque++
		return
	}
	if text == "" {
		return
	}
	a.text.WriteString(text)
	if a.onText != nil {
		a.onText(text)
	}
}

// Text returns the concatenated text seen so far.
func (a *Accumulator) Text() string {
	return a.text.String()
}

// ToolCalls returns the function calls seen so far, in order.
func (a *Accumulator) ToolCalls() []gateway.ToolCall {
	return a.calls
}

// Reset clears the text and tool calls for the next model step. Stats keep
// counting.
func (a *Accumulator) Reset() {
	a.text.Reset()
	a.calls = nil
}

// Stats reports how many fragments were seen and how many were opaque.
func (a *Accumulator) Stats() (fragments, opaque int) {
	return a.fragments, a.opaque
}

// Drain consumes s to exhaustion and closes it. It stops early when ctx is
// done. The returned text is only meaningful when err is nil.
func (a *Accumulator) Drain(ctx context.Context, s gateway.Stream) (string, error) {
	defer s.Close()

	for s.Next() {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		a.Add(s.Current())
	}
	if err := s.Err(); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return a.Text(), nil
}

// Reduce is the pure form of the accumulator: the concatenated text of
// every TextFragment in order.
func Reduce(fragments []gateway.Fragment) string {
	a := NewAccumulator()
	for _, f := range fragments {
		a.Add(f)
	}
	return a.Text()
}
