// Package hooks lets callers observe and veto steps of a journaling turn.
package hooks

import (
	"context"
	"sync"

	"github.com/tracejournal/trace/compaction"
	"github.com/tracejournal/trace/turnstate"
	"github.com/tracejournal/trace/types"
	"github.com/tracejournal/trace/validation"
)

// TransitionHook is called after every turn state change.
type TransitionHook func(ctx context.Context, sessionID string, from, to turnstate.State)

// ValidationHook is called with the validator's verdict.
type ValidationHook func(ctx context.Context, sessionID string, verdict validation.Verdict) error

// BeforeGenerationHook is called with the turns about to be sent for
// generation. A non-nil error aborts the turn without committing.
type BeforeGenerationHook func(ctx context.Context, sessionID string, turns []types.Turn) error

// AfterCompactionHook is called after the history was compacted
type AfterCompactionHook func(ctx context.Context, sessionID string, result *compaction.Result) error

// CommitEvent describes a successful session commit.
type CommitEvent struct {
	SessionID string
	Version   int64
	TurnCount int
	Path      string
	Entry     *types.JournalEntry
}

// AfterCommitHook is called after a session commit succeeded.
type AfterCommitHook func(ctx context.Context, event *CommitEvent) error

// Registry holds all registered hooks
type Registry struct {
	mu               sync.RWMutex
	transition       []TransitionHook
	validation       []ValidationHook
	beforeGeneration []BeforeGenerationHook
	afterCompaction  []AfterCompactionHook
	afterCommit      []AfterCommitHook
}

// NewRegistry creates a new hook registry
func NewRegistry() *Registry {
	return &Registry{}
}

// OnTransition registers a hook for state changes
func (r *Registry) OnTransition(hook TransitionHook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transition = append(r.transition, hook)
}

// OnValidation registers a hook for validator verdicts
func (r *Registry) OnValidation(hook ValidationHook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.validation = append(r.validation, hook)
}

// OnBeforeGeneration registers a hook called before the reply stream opens
func (r *Registry) OnBeforeGeneration(hook BeforeGenerationHook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.beforeGeneration = append(r.beforeGeneration, hook)
}

// OnAfterCompaction registers a hook to be called after compaction
func (r *Registry) OnAfterCompaction(hook AfterCompactionHook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.afterCompaction = append(r.afterCompaction, hook)
}

// OnAfterCommit registers a hook to be called after a commit
func (r *Registry) OnAfterCommit(hook AfterCommitHook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.afterCommit = append(r.afterCommit, hook)
}

// snapshot copies the slice chosen by field under the read lock.
func snapshot[T any](r *Registry, field func(*Registry) []T) []T {
	r.mu.RLock()
	defer r.mu.RUnlock()
	hooks := field(r)
	out := make([]T, len(hooks))
	copy(out, hooks)
	return out
}

// TriggerTransition calls every transition hook.
func (r *Registry) TriggerTransition(ctx context.Context, sessionID string, from, to turnstate.State) {
	for _, hook := range snapshot(r, func(r *Registry) []TransitionHook { return r.transition }) {
		hook(ctx, sessionID, from, to)
	}
}

// TriggerValidation calls validation hooks, stopping at the first error.
func (r *Registry) TriggerValidation(ctx context.Context, sessionID string, verdict validation.Verdict) error {
	for _, hook := range snapshot(r, func(r *Registry) []ValidationHook { return r.validation }) {
		if err := hook(ctx, sessionID, verdict); err != nil {
			return err
		}
	}
	return nil
}

// TriggerBeforeGeneration calls before-generation hooks, stopping at the
// first error.
func (r *Registry) TriggerBeforeGeneration(ctx context.Context, sessionID string, turns []types.Turn) error {
	for _, hook := range snapshot(r, func(r *Registry) []BeforeGenerationHook { return r.beforeGeneration }) {
		if err := hook(ctx, sessionID, turns); err != nil {
			return err
		}
	}
	return nil
}

// TriggerAfterCompaction calls after-compaction hooks, stopping at the first error.
func (r *Registry) TriggerAfterCompaction(ctx context.Context, sessionID string, result *compaction.Result) error {
	for _, hook := range snapshot(r, func(r *Registry) []AfterCompactionHook { return r.afterCompaction }) {
		if err := hook(ctx, sessionID, result); err != nil {
			return err
		}
	}
	return nil
}

// TriggerAfterCommit calls after-commit hooks, stopping at the first error.
func (r *Registry) TriggerAfterCommit(ctx context.Context, event *CommitEvent) error {
	for _, hook := range snapshot(r, func(r *Registry) []AfterCommitHook { return r.afterCommit }) {
		if err := hook(ctx, event); err != nil {
			return err
		}
	}
	return nil
}
