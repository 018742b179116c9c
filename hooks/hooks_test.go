package hooks

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/tracejournal/trace/compaction"
	"github.com/tracejournal/trace/turnstate"
	"github.com/tracejournal/trace/types"
	"github.com/tracejournal/trace/validation"
)

func TestOnTransition(t *testing.T) {
	r := NewRegistry()
	var got []turnstate.State

	r.OnTransition(func(ctx context.Context, sessionID string, from, to turnstate.State) {
		got = append(got, from, to)
	})

	r.TriggerTransition(context.Background(), "s1", turnstate.StateStart, turnstate.StateValidating)
	if len(got) != 2 || got[0] != turnstate.StateStart || got[1] != turnstate.StateValidating {
		t.Errorf("transition hook saw %v", got)
	}
}

func TestOnValidation(t *testing.T) {
	r := NewRegistry()
	var got validation.Verdict

	r.OnValidation(func(ctx context.Context, sessionID string, v validation.Verdict) error {
		got = v
		return nil
	})

	want := validation.Verdict{Admitted: false, Reason: "spam"}
	if err := r.TriggerValidation(context.Background(), "s1", want); err != nil {
		t.Errorf("TriggerValidation returned error: %v", err)
	}
	if got != want {
		t.Errorf("hook saw %+v, want %+v", got, want)
	}
}

func TestOnAfterCompaction(t *testing.T) {
	r := NewRegistry()
	var removed int

	r.OnAfterCompaction(func(ctx context.Context, sessionID string, result *compaction.Result) error {
		removed = result.TurnsRemoved
		return nil
	})

	err := r.TriggerAfterCompaction(context.Background(), "s1", &compaction.Result{TurnsRemoved: 19})
	if err != nil {
		t.Errorf("TriggerAfterCompaction returned error: %v", err)
	}
	if removed != 19 {
		t.Errorf("TurnsRemoved = %d, want 19", removed)
	}
}

func TestOnAfterCommit(t *testing.T) {
	r := NewRegistry()
	var version int64

	r.OnAfterCommit(func(ctx context.Context, e *CommitEvent) error {
		version = e.Version
		return nil
	})

	if err := r.TriggerAfterCommit(context.Background(), &CommitEvent{SessionID: "s1", Version: 3}); err != nil {
		t.Errorf("TriggerAfterCommit returned error: %v", err)
	}
	if version != 3 {
		t.Errorf("Version = %d, want 3", version)
	}
}

func TestHookStopsOnError(t *testing.T) {
	r := NewRegistry()
	called := []int{}
	expectedErr := errors.New("stop here")

	r.OnBeforeGeneration(func(ctx context.Context, sessionID string, turns []types.Turn) error {
		called = append(called, 1)
		return nil
	})
	r.OnBeforeGeneration(func(ctx context.Context, sessionID string, turns []types.Turn) error {
		called = append(called, 2)
		return expectedErr
	})
	r.OnBeforeGeneration(func(ctx context.Context, sessionID string, turns []types.Turn) error {
		called = append(called, 3)
		return nil
	})

	err := r.TriggerBeforeGeneration(context.Background(), "s1", nil)
	if !errors.Is(err, expectedErr) {
		t.Errorf("expected error %v, got %v", expectedErr, err)
	}
	if len(called) != 2 || called[0] != 1 || called[1] != 2 {
		t.Errorf("called = %v, want [1 2]", called)
	}
}

func TestConcurrentRegistrationAndTrigger(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup

	for i := 0; i < 10; i++ {
		r.OnBeforeGeneration(func(ctx context.Context, sessionID string, turns []types.Turn) error {
			return nil
		})
	}

	wg.Add(200)
	for i := 0; i < 100; i++ {
		go func() {
			defer wg.Done()
			r.OnBeforeGeneration(func(ctx context.Context, sessionID string, turns []types.Turn) error {
				return nil
			})
		}()
		go func() {
			defer wg.Done()
			r.TriggerBeforeGeneration(context.Background(), "s1", nil)
		}()
	}
	wg.Wait()
}

func TestLoggingHooks(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	r := NewRegistry()
	NewLoggingHooks(logger).Register(r)

	ctx := context.Background()
	r.TriggerTransition(ctx, "s1", turnstate.StateStart, turnstate.StateGenerating)
	_ = r.TriggerValidation(ctx, "s1", validation.Verdict{Admitted: false, Reason: "private reason"})
	_ = r.TriggerAfterCompaction(ctx, "s1", &compaction.Result{OriginalTokens: 100, CompactedTokens: 25})
	_ = r.TriggerAfterCommit(ctx, &CommitEvent{SessionID: "s1", Version: 2, TurnCount: 4, Path: "start→generating→persisted"})

	out := buf.String()
	for _, want := range []string{"turn transition", "validation verdict", "reduction_pct=75", "session committed", "version=2"} {
		if !strings.Contains(out, want) {
			t.Errorf("log output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "private reason") {
		t.Error("validation reason was logged")
	}
}

func TestMetricsHooks(t *testing.T) {
	metrics := map[string]float64{}
	r := NewRegistry()
	NewMetricsHooks(func(name string, v float64, tags map[string]string) {
		if tags != nil && tags["outcome"] != "" {
			name += "." + tags["outcome"]
		}
		metrics[name] += v
	}).Register(r)

	ctx := context.Background()
	_ = r.TriggerValidation(ctx, "s1", validation.Verdict{Admitted: true, Degraded: true})
	_ = r.TriggerValidation(ctx, "s1", validation.Verdict{Admitted: false})
	_ = r.TriggerAfterCommit(ctx, &CommitEvent{TurnCount: 6})

	if metrics["trace.validation.degraded"] != 1 || metrics["trace.validation.rejected"] != 1 {
		t.Errorf("validation metrics = %v", metrics)
	}
	if metrics["trace.session.turns"] != 6 {
		t.Errorf("trace.session.turns = %v, want 6", metrics["trace.session.turns"])
	}
}
