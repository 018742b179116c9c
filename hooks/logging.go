package hooks

import (
	"context"
	"log/slog"

	"github.com/tracejournal/trace/compaction"
	"github.com/tracejournal/trace/turnstate"
	"github.com/tracejournal/trace/types"
	"github.com/tracejournal/trace/validation"
)

// LoggingHooks logs every turn event through slog.
type LoggingHooks struct {
	logger *slog.Logger
}

// NewLoggingHooks creates logging hooks with the provided logger
func NewLoggingHooks(logger *slog.Logger) *LoggingHooks {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingHooks{logger: logger.With("component", "hooks")}
}

// Register adds every logging hook to r.
func (h *LoggingHooks) Register(r *Registry) {
	r.OnTransition(h.Transition)
	r.OnValidation(h.Validation)
	r.OnBeforeGeneration(h.BeforeGeneration)
	r.OnAfterCompaction(h.AfterCompaction)
	r.OnAfterCommit(h.AfterCommit)
}

// Transition logs a state change at debug level.
func (h *LoggingHooks) Transition(ctx context.Context, sessionID string, from, to turnstate.State) {
	h.logger.DebugContext(ctx, "turn transition", "session_id", sessionID, "from", from, "to", to)
}

// Validation logs the verdict. The message text is never logged.
func (h *LoggingHooks) Validation(ctx context.Context, sessionID string, v validation.Verdict) error {
	level := slog.LevelDebug
	if !v.Admitted || v.Degraded {
		level = slog.LevelInfo
	}
	h.logger.Log(ctx, level, "validation verdict",
		"session_id", sessionID,
		"admitted", v.Admitted,
		"degraded", v.Degraded,
		"fallback", v.Fallback,
	)
	return nil
}

// BeforeGeneration logs the size of the history being sent.
func (h *LoggingHooks) BeforeGeneration(ctx context.Context, sessionID string, turns []types.Turn) error {
	h.logger.DebugContext(ctx, "generating reply", "session_id", sessionID, "turns", len(turns))
	return nil
}

// AfterCompaction logs token counts before and after.
func (h *LoggingHooks) AfterCompaction(ctx context.Context, sessionID string, result *compaction.Result) error {
	reduction := float64(0)
	if result.OriginalTokens > 0 {
		reduction = float64(result.OriginalTokens-result.CompactedTokens) / float64(result.OriginalTokens) * 100
	}
	h.logger.InfoContext(ctx, "history compacted",
		"session_id", sessionID,
		"original_tokens", result.OriginalTokens,
		"compacted_tokens", result.CompactedTokens,
		"reduction_pct", reduction,
		"turns_removed", result.TurnsRemoved,
		"duration", result.Duration,
	)
	return nil
}

// AfterCommit logs the committed version.
func (h *LoggingHooks) AfterCommit(ctx context.Context, e *CommitEvent) error {
	h.logger.InfoContext(ctx, "session committed",
		"session_id", e.SessionID,
		"version", e.Version,
		"turns", e.TurnCount,
		"path", e.Path,
		"journaled", e.Entry != nil,
	)
	return nil
}

// MetricsHooks reports numeric turn metrics to a callback.
type MetricsHooks struct {
	OnMetric func(name string, value float64, tags map[string]string)
}

// NewMetricsHooks creates metrics collection hooks
func NewMetricsHooks(onMetric func(string, float64, map[string]string)) *MetricsHooks {
	return &MetricsHooks{OnMetric: onMetric}
}

// Register adds the metrics hooks to r.
func (h *MetricsHooks) Register(r *Registry) {
	r.OnValidation(h.Validation)
	r.OnAfterCompaction(h.AfterCompaction)
	r.OnAfterCommit(h.AfterCommit)
}

// Validation counts verdicts by outcome.
func (h *MetricsHooks) Validation(ctx context.Context, sessionID string, v validation.Verdict) error {
	outcome := "admitted"
	switch {
	case v.Degraded:
		outcome = "degraded"
	case !v.Admitted:
		outcome = "rejected"
	}
	h.OnMetric("trace.validation", 1, map[string]string{"outcome": outcome})
	return nil
}

// AfterCompaction records compaction metrics
func (h *MetricsHooks) AfterCompaction(ctx context.Context, sessionID string, result *compaction.Result) error {
	h.OnMetric("trace.compaction.original_tokens", float64(result.OriginalTokens), nil)
	h.OnMetric("trace.compaction.compacted_tokens", float64(result.CompactedTokens), nil)
	h.OnMetric("trace.compaction.turns_removed", float64(result.TurnsRemoved), nil)
	return nil
}

// AfterCommit records the committed history length.
func (h *MetricsHooks) AfterCommit(ctx context.Context, e *CommitEvent) error {
	h.OnMetric("trace.session.turns", float64(e.TurnCount), map[string]string{"path": e.Path})
	return nil
}
