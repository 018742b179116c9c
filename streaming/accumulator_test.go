package streaming

import (
	"context"
	"errors"
	"testing"

	"github.com/tracejournal/trace/gateway"
)

func texts(parts ...string) []gateway.Fragment {
	out := make([]gateway.Fragment, len(parts))
	for i, p := range parts {
		out[i] = gateway.TextFragment{Text: p}
	}
	return out
}

func TestReduce_IgnoresOpaque(t *testing.T) {
	frags := []gateway.Fragment{
		gateway.TextFragment{Text: "I'm"},
		gateway.OpaqueFragment{Kind: "thinking_delta", Raw: []byte(`{"thinking":"hmm"}`)},
		gateway.TextFragment{Text: " glad"},
		nil,
		&gateway.TextFragment{Text: " to hear that."},
	}

	if got, want := Reduce(frags), "I'm glad to hear that."; got != want {
		t.Errorf("Reduce() = %q, want %q", got, want)
	}
}

func TestReduce_AssociativeUnderFragmentation(t *testing.T) {
	const whole = "Writing things down helps you notice patterns."

	tests := []struct {
		name  string
		parts []string
	}{
		{"single", []string{whole}},
		{"words", []string{"Writing", " things", " down", " helps", " you", " notice", " patterns."}},
		{"uneven", []string{"Wri", "ting things d", "", "own helps you notice patt", "erns."}},
	}

	var runes []string
	for _, r := range whole {
		runes = append(runes, string(r))
	}
	tests = append(tests, struct {
		name  string
		parts []string
	}{"runes", runes})

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Reduce(texts(tt.parts...)); got != whole {
				t.Errorf("Reduce() = %q, want %q", got, whole)
			}
		})
	}

	// Reducing partial reductions yields the same result as reducing all.
	left := Reduce(texts("Writing things", " down"))
	right := Reduce(texts(" helps you notice patterns."))
	if got := Reduce(texts(left, right)); got != whole {
		t.Errorf("nested Reduce() = %q, want %q", got, whole)
	}
}

func TestAccumulator_Drain(t *testing.T) {
	var seen []string
	acc := NewAccumulator().OnText(func(s string) { seen = append(seen, s) })

	got, err := acc.Drain(context.Background(), gateway.Texts("a", "b", "c"))
	if err != nil {
		t.Fatalf("Drain() error = %v", err)
	}
	if got != "abc" {
		t.Errorf("Drain() = %q, want %q", got, "abc")
	}
	if len(seen) != 3 {
		t.Errorf("OnText calls = %d, want 3", len(seen))
	}
	if n, opaque := acc.Stats(); n != 3 || opaque != 0 {
		t.Errorf("Stats() = (%d, %d), want (3, 0)", n, opaque)
	}
}

func TestAccumulator_DrainError(t *testing.T) {
	boom := errors.New("rate limited")
	s := gateway.NewSliceStream(texts("partial"), boom)

	got, err := NewAccumulator().Drain(context.Background(), s)
	if !errors.Is(err, boom) {
		t.Fatalf("Drain() error = %v, want %v", err, boom)
	}
	if got != "" {
		t.Errorf("Drain() text = %q, want empty on error", got)
	}
}

func TestAccumulator_DrainCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewAccumulator().Drain(ctx, gateway.Texts("a"))
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Drain() error = %v, want context.Canceled", err)
	}
}

func TestAccumulator_ToolCallsKeptAside(t *testing.T) {
	call := gateway.ToolCall{ID: "call_1", Name: "get_a_prompt", Input: []byte(`{}`)}
	acc := NewAccumulator()
	for _, f := range []gateway.Fragment{
		gateway.TextFragment{Text: "Let me find one."},
		gateway.ToolCallFragment{Call: call},
	} {
		acc.Add(f)
	}

	if got := acc.Text(); got != "Let me find one." {
		t.Errorf("Text() = %q, want %q", got, "Let me find one.")
	}
	calls := acc.ToolCalls()
	if len(calls) != 1 || calls[0].ID != "call_1" || calls[0].Name != "get_a_prompt" {
		t.Fatalf("ToolCalls() = %+v, want one get_a_prompt call", calls)
	}
	if _, opaque := acc.Stats(); opaque != 0 {
		t.Errorf("opaque = %d, want 0", opaque)
	}

	acc.Reset()
	if acc.Text() != "" || len(acc.ToolCalls()) != 0 {
		t.Errorf("after Reset: text %q, calls %d", acc.Text(), len(acc.ToolCalls()))
	}
	if n, _ := acc.Stats(); n != 2 {
		t.Errorf("fragments after Reset = %d, want 2", n)
	}
}
