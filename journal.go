package trace

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tracejournal/trace/compaction"
	"github.com/tracejournal/trace/gateway"
	"github.com/tracejournal/trace/hooks"
	"github.com/tracejournal/trace/storage"
	"github.com/tracejournal/trace/streaming"
	"github.com/tracejournal/trace/tool"
	"github.com/tracejournal/trace/turnstate"
	"github.com/tracejournal/trace/types"
	"github.com/tracejournal/trace/validation"
)

// TurnResult describes one processed message.
type TurnResult struct {
	SessionID string

	// Text is the assistant reply, or the rejection message when Rejected.
	Text string

	Rejected bool
	Reason   string

	// Degraded is set when validation failed open.
	Degraded bool

	// Compacted is set when the history was summarized before generation.
	Compacted bool

	// ToolCalls counts the tool calls the model made while answering.
	ToolCalls int

	// Empty is set when generation produced no text. Nothing was committed.
	Empty bool

	// Version is the committed session version, or the loaded one when Empty.
	Version int64

	Path []turnstate.State

	// Entry is the journal entry committed with the reply, if any.
	Entry *types.JournalEntry
}

// Journal drives one message at a time through
// validation, compaction, generation and commit.
//
// Journal is safe for concurrent use. Turns on the same session id are
// serialized in process; across processes the store's version check
// rejects the slower writer with storage.ErrVersionConflict.
type Journal struct {
	store     storage.SessionStore
	gw        gateway.Gateway
	validator *validation.Validator
	compactor *compaction.Manager
	tools     *tool.Registry
	executor  *tool.Executor
	config    *internalConfig
	locks     *sessionLocks
}

// New creates a Journal. A nil cfg is treated as an empty Config, which
// then needs a model on every preset.
func New(store storage.SessionStore, gw gateway.Gateway, cfg *Config, opts ...Option) (*Journal, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store is required", ErrInvalidConfig)
	}
	if gw == nil {
		return nil, fmt.Errorf("%w: gateway is required", ErrInvalidConfig)
	}

	ic := &internalConfig{
		logger: noopLogger{},
		hooks:  hooks.NewRegistry(),
		now:    time.Now,
		newID:  uuid.NewString,
	}
	if cfg != nil {
		ic.Config = *cfg
		if cfg.Compaction != nil {
			cp := *cfg.Compaction
			ic.Compaction = &cp
		}
	}
	for _, opt := range opts {
		if err := opt(ic); err != nil {
			return nil, err
		}
	}
	ic.ApplyDefaults()
	if err := ic.Validate(); err != nil {
		return nil, err
	}
	if ic.tools == nil {
		ic.tools = tool.NewRegistry(tool.NewPromptTool(ic.Prompts))
	}

	return &Journal{
		store: store,
		gw:    gw,
		validator: validation.New(gw, ic.Presets.Validation,
			validation.WithLogger(ic.logger),
			validation.WithSystemPrompt(ic.validatorPrompt),
		),
		compactor: compaction.NewManager(gw, ic.Compaction),
		tools:     ic.tools,
		executor:  tool.NewExecutor(ic.tools, ic.ToolTimeout),
		config:    ic,
		locks:     newSessionLocks(),
	}, nil
}

// Hooks returns the hook registry.
func (j *Journal) Hooks() *hooks.Registry {
	return j.config.hooks
}

// SkipsValidation reports whether turns bypass the validator.
func (j *Journal) SkipsValidation() bool {
	return j.config.SkipValidation
}

// NewSessionID returns a fresh session id.
func (j *Journal) NewSessionID() string {
	return j.config.newID()
}

// StartSession opens a new session whose first journal entry is a greeting
// built from a random prompt. The user id, if any, comes from
// ContextWithUserID. The session is created with a version check, so an id
// collision fails with storage.ErrVersionConflict instead of overwriting.
func (j *Journal) StartSession(ctx context.Context) (*TurnResult, error) {
	sessionID := j.config.newID()
	userID, _ := UserIDFromContext(ctx)
	at := j.config.now()
	greeting := j.config.GreetingPrefix + tool.RandomPrompt(j.config.Prompts)

	turns := []types.Turn{types.NewTurn(types.RoleAssistant, greeting, at)}
	entry := &types.JournalEntry{
		ID:         j.config.newID(),
		UserID:     userID,
		SessionID:  sessionID,
		AIResponse: greeting,
		CreatedAt:  at,
	}
	err := j.store.Commit(ctx, &storage.Commit{
		SessionID:     sessionID,
		UserID:        userID,
		Turns:         turns,
		TokenEstimate: compaction.EstimateTokens(turns),
		Entry:         entry,
		At:            at,
	})
	if errors.Is(err, storage.ErrVersionConflict) {
		return nil, NewTurnError("StartSession", sessionID, err)
	}
	if err != nil {
		return nil, NewTurnError("StartSession", sessionID, fmt.Errorf("%w: %w", ErrCommitFailed, err))
	}
	j.config.logger.Debug("session started", "session_id", sessionID, "user_id", userID)

	event := &hooks.CommitEvent{
		SessionID: sessionID,
		Version:   1,
		TurnCount: len(turns),
		Entry:     entry,
	}
	if err := j.config.hooks.TriggerAfterCommit(ctx, event); err != nil {
		j.config.logger.Warn("commit hook failed", "session_id", sessionID, "error", err)
	}
	return &TurnResult{SessionID: sessionID, Text: greeting, Version: 1, Entry: entry}, nil
}

// turn carries the state of one ProcessTurn call.
type turn struct {
	sessionID string
	userID    string
	text      string
	at        time.Time
	loaded    *types.Session
	working   []types.Turn
	machine   *turnstate.Machine
	result    *TurnResult
}

// ProcessTurn handles one user message on sessionID. An empty sessionID
// starts a new session. The user id, if any, comes from ContextWithUserID.
//
// On error nothing is committed and the stored session is unchanged.
func (j *Journal) ProcessTurn(ctx context.Context, sessionID, text string) (*TurnResult, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, NewTurnError("ProcessTurn", sessionID, ErrEmptyMessage)
	}
	if sessionID == "" {
		sessionID = j.config.newID()
	}
	userID, _ := UserIDFromContext(ctx)

	unlock := j.locks.lock(sessionID)
	defer unlock()

	loaded, err := j.store.Load(ctx, sessionID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		loaded = &types.Session{ID: sessionID, UserID: userID}
	case err != nil:
		return nil, NewTurnError("Load", sessionID, fmt.Errorf("%w: %w", ErrLoadFailed, err))
	case loaded.UserID != "" && userID != "" && loaded.UserID != userID:
		return nil, NewTurnError("Load", sessionID, ErrSessionForbidden)
	}

	at := j.config.now()
	t := &turn{
		sessionID: sessionID,
		userID:    userID,
		text:      text,
		at:        at,
		loaded:    loaded,
		working:   append(loaded.Clone().Turns, types.NewTurn(types.RoleUser, text, at)),
		machine:   turnstate.New(j.config.SkipValidation),
		result:    &TurnResult{SessionID: sessionID, Version: loaded.Version},
	}
	if t.userID == "" {
		t.userID = loaded.UserID
	}

	if err := j.transition(ctx, t, t.machine.Next()); err != nil {
		return nil, err
	}

	if t.machine.Current() == turnstate.StateValidating {
		verdict := j.validator.Validate(ctx, text)
		if err := j.config.hooks.TriggerValidation(ctx, sessionID, verdict); err != nil {
			j.config.logger.Warn("validation hook failed", "session_id", sessionID, "error", err)
		}
		t.result.Degraded = verdict.Degraded

		if !verdict.Admitted {
			return j.reject(ctx, t, verdict.Reason)
		}
		if err := j.transition(ctx, t, turnstate.StateGenerating); err != nil {
			return nil, err
		}
	}

	return j.generate(ctx, t)
}

// reject stores the user turn with a synthesized reply. No generation call
// is made and no journal entry is written.
func (j *Journal) reject(ctx context.Context, t *turn, reason string) (*TurnResult, error) {
	if err := j.transition(ctx, t, turnstate.StateRejected); err != nil {
		return nil, err
	}

	reply := j.config.RejectionPrefix + reason
	t.working = append(t.working, types.NewTurn(types.RoleAssistant, reply, j.config.now()))
	t.result.Rejected = true
	t.result.Reason = reason
	t.result.Text = reply

	return j.persist(ctx, t, nil)
}

func (j *Journal) generate(ctx context.Context, t *turn) (*TurnResult, error) {
	compacted, res, err := j.compactor.MaybeCompact(ctx, t.working)
	switch {
	case errors.Is(err, compaction.ErrCompactionIneffective):
		j.config.logger.Warn("compaction ineffective, continuing with full history",
			"session_id", t.sessionID,
			"error", err,
		)
	case err != nil:
		return nil, NewTurnError("Compact", t.sessionID, fmt.Errorf("%w: %w", ErrGenerationFailed, err))
	case res != nil:
		t.working = compacted
		t.result.Compacted = true
		if err := j.config.hooks.TriggerAfterCompaction(ctx, t.sessionID, res); err != nil {
			j.config.logger.Warn("compaction hook failed", "session_id", t.sessionID, "error", err)
		}
	}

	if err := j.config.hooks.TriggerBeforeGeneration(ctx, t.sessionID, t.working); err != nil {
		return nil, NewTurnError("Generate", t.sessionID, fmt.Errorf("%w: %w", ErrAborted, err))
	}

	reply, err := j.stream(ctx, t)
	if err != nil {
		return nil, err
	}

	if reply == "" {
		j.config.logger.Warn("generation returned no text, nothing committed", "session_id", t.sessionID)
		t.result.Empty = true
		if err := j.transition(ctx, t, turnstate.StatePersisted); err != nil {
			return nil, err
		}
		t.result.Path = t.machine.Path()
		return t.result, nil
	}

	replyAt := j.config.now()
	t.working = append(t.working, types.NewTurn(types.RoleAssistant, reply, replyAt))
	t.result.Text = reply

	entry := &types.JournalEntry{
		ID:          j.config.newID(),
		UserID:      t.userID,
		SessionID:   t.sessionID,
		UserMessage: t.text,
		AIResponse:  reply,
		CreatedAt:   replyAt,
	}
	return j.persist(ctx, t, entry)
}

// stream runs generation until the model answers without calling a tool, or
// MaxToolRounds is spent. Tool calls are executed between model steps and
// their results sent back with the next request. Only the final step's text
// becomes the reply.
func (j *Journal) stream(ctx context.Context, t *turn) (string, error) {
	req := gateway.Request{
		Preset: j.config.Presets.Generation,
		System: j.config.SystemPrompt,
		Turns:  t.working,
		Tools:  j.tools.Definitions(),
	}

	acc := streaming.NewAccumulator()
	for round := 0; ; round++ {
		s, err := j.gw.GenerateStream(ctx, req)
		if err != nil {
			return "", j.generationError(t, err)
		}
		acc.Reset()
		text, err := acc.Drain(ctx, s)
		if err != nil {
			return "", j.generationError(t, err)
		}

		calls := acc.ToolCalls()
		if len(calls) == 0 {
			if fragments, opaque := acc.Stats(); opaque > 0 {
				j.config.logger.Debug("ignored non-text fragments",
					"session_id", t.sessionID,
					"fragments", fragments,
					"opaque", opaque,
				)
			}
			return text, nil
		}
		if round >= j.config.MaxToolRounds {
			j.config.logger.Warn("tool round limit reached, using partial reply",
				"session_id", t.sessionID,
				"rounds", round,
			)
			return text, nil
		}

		step := gateway.ToolRound{Text: text}
		for _, res := range j.executor.ExecuteAll(ctx, calls) {
			if res.Err != nil {
				j.config.logger.Warn("tool call failed",
					"session_id", t.sessionID,
					"tool", res.Call.Name,
					"error", res.Err,
				)
			} else {
				j.config.logger.Debug("tool call completed",
					"session_id", t.sessionID,
					"tool", res.Call.Name,
					"duration", res.Duration,
				)
			}
			step.Exchanges = append(step.Exchanges, res.Exchange())
		}
		t.result.ToolCalls += len(calls)
		req.ToolRounds = append(req.ToolRounds, step)
	}
}

func (j *Journal) generationError(t *turn, err error) error {
	j.config.logger.Error("generation failed",
		"session_id", t.sessionID,
		"rate_limited", gateway.IsRateLimited(err),
		"error", err,
	)
	return NewTurnError("Generate", t.sessionID, fmt.Errorf("%w: %w", ErrGenerationFailed, err)).
		WithContext("turns", len(t.working))
}

// persist commits the working turns against the loaded version.
func (j *Journal) persist(ctx context.Context, t *turn, entry *types.JournalEntry) (*TurnResult, error) {
	err := j.store.Commit(ctx, &storage.Commit{
		SessionID:       t.sessionID,
		UserID:          t.userID,
		ExpectedVersion: t.loaded.Version,
		Turns:           t.working,
		TokenEstimate:   compaction.EstimateTokens(t.working),
		Entry:           entry,
		At:              t.at,
	})
	if errors.Is(err, storage.ErrVersionConflict) {
		return nil, NewTurnError("Commit", t.sessionID, err).
			WithContext("expected_version", t.loaded.Version)
	}
	if err != nil {
		return nil, NewTurnError("Commit", t.sessionID, fmt.Errorf("%w: %w", ErrCommitFailed, err))
	}

	if err := j.transition(ctx, t, turnstate.StatePersisted); err != nil {
		return nil, err
	}
	t.result.Version = t.loaded.Version + 1
	t.result.Entry = entry
	t.result.Path = t.machine.Path()

	event := &hooks.CommitEvent{
		SessionID: t.sessionID,
		Version:   t.result.Version,
		TurnCount: len(t.working),
		Path:      t.machine.PathString(),
		Entry:     entry,
	}
	if err := j.config.hooks.TriggerAfterCommit(ctx, event); err != nil {
		j.config.logger.Warn("commit hook failed", "session_id", t.sessionID, "error", err)
	}
	return t.result, nil
}

func (j *Journal) transition(ctx context.Context, t *turn, to turnstate.State) error {
	from := t.machine.Current()
	if err := t.machine.Transition(to); err != nil {
		return NewTurnError("Transition", t.sessionID, err)
	}
	j.config.logger.Debug("turn state changed", "session_id", t.sessionID, "from", from, "to", to)
	j.config.hooks.TriggerTransition(ctx, t.sessionID, from, to)
	return nil
}
