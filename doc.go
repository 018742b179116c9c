// Package trace is the core of a conversational journaling service.
//
// A Journal takes one user message at a time and drives it through a small
// state machine:
//
//	start -> validating -> generating -> persisted
//	                    \-> rejected  -> persisted
//
// Validation classifies the message as journaling content with one
// structured model call and fails open when the model is unavailable.
// Generation compacts long histories into a summary turn plus the most
// recent turns, streams the reply and keeps only its text fragments.
// Everything a turn produces is committed in one compare-and-swap write to
// the storage.SessionStore, together with an append-only journal entry.
//
// # Quick Start
//
//	store := storage.NewMemoryStore()
//	gw := anthropic.NewFromAPIKey(os.Getenv("ANTHROPIC_API_KEY"))
//	j, err := trace.New(store, gw, trace.DefaultConfig(anthropic.DefaultModel),
//	    trace.WithLogger(slog.Default()),
//	)
//
//	ctx = trace.ContextWithUserID(ctx, "user-123")
//	res, err := j.ProcessTurn(ctx, sessionID, "I had a great day")
//	fmt.Println(res.Text)
//
// # Errors
//
// ProcessTurn returns *TurnError. Use errors.Is with ErrEmptyMessage,
// ErrGenerationFailed, ErrCommitFailed or storage.ErrVersionConflict, and
// IsRetryable to decide whether the caller may try again. On error nothing
// was committed.
//
// # Hooks
//
// Journal.Hooks exposes a hooks.Registry for state transitions, verdicts,
// compaction and commits. hooks.LoggingHooks logs all of them via slog.
package trace
