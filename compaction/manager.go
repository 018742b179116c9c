package compaction

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tracejournal/trace/gateway"
	"github.com/tracejournal/trace/types"
)

// Result describes a compaction that took place.
type Result struct {
	OriginalTokens  int
	CompactedTokens int
	TurnsRemoved    int
	Summary         string
	Duration        time.Duration
}

// Manager decides when to compact and splices summaries into the history.
// It holds no per-session state and is safe for concurrent use.
type Manager struct {
	gw     gateway.Gateway
	config *Config
}

// NewManager creates a Manager. A nil config uses DefaultConfig.
func NewManager(gw gateway.Gateway, config *Config) *Manager {
	if config == nil {
		config = DefaultConfig()
	}
	config.ApplyDefaults()
	return &Manager{gw: gw, config: config}
}

// Config returns the manager's configuration.
func (m *Manager) Config() *Config {
	return m.config
}

// ShouldCompact reports whether turns are over the trigger and longer than
// the keep window.
func (m *Manager) ShouldCompact(turns []types.Turn) bool {
	if len(turns) <= m.config.KeepCount {
		return false
	}
	return EstimateTokens(turns) > m.config.TokenTrigger
}

// Partition splits turns into the prefix to summarize and the verbatim tail.
func Partition(turns []types.Turn, keep int) (older, recent []types.Turn) {
	if len(turns) <= keep {
		return nil, turns
	}
	cut := len(turns) - keep
	return turns[:cut], turns[cut:]
}

// MaybeCompact returns turns unchanged with a nil Result when no compaction
// is needed. Otherwise it returns [summary] + the last KeepCount turns.
//
// The returned slice never aliases turns. On any error, turns is returned
// as-is alongside a *CompactionError.
func (m *Manager) MaybeCompact(ctx context.Context, turns []types.Turn) ([]types.Turn, *Result, error) {
	if !m.ShouldCompact(turns) {
		return turns, nil, nil
	}

	start := time.Now()
	original := EstimateTokens(turns)
	older, recent := Partition(turns, m.config.KeepCount)

	summary, err := m.Summarize(ctx, older)
	if err != nil {
		return turns, nil, NewCompactionError("Summarize", err).
			WithContext("turns", len(older))
	}

	summaryTurn := types.Turn{
		ID:      uuid.NewString(),
		Role:    types.RoleSummary,
		Content: summary,
		// Sits where the prefix was, so chronological order holds.
		CreatedAt: older[len(older)-1].CreatedAt,
	}

	compacted := make([]types.Turn, 0, len(recent)+1)
	compacted = append(compacted, summaryTurn)
	compacted = append(compacted, recent...)

	after := EstimateTokens(compacted)
	if after > m.config.TokenTrigger {
		return turns, nil, NewCompactionError("MaybeCompact", ErrCompactionIneffective).
			WithContext("original_tokens", original).
			WithContext("compacted_tokens", after)
	}

	return compacted, &Result{
		OriginalTokens:  original,
		CompactedTokens: after,
		TurnsRemoved:    len(older),
		Summary:         summary,
		Duration:        time.Since(start),
	}, nil
}

// Summarize asks the gateway for a summary of turns.
func (m *Manager) Summarize(ctx context.Context, turns []types.Turn) (string, error) {
	out, err := m.gw.GenerateStructured(ctx, gateway.Request{
		Preset: m.config.Preset,
		System: m.config.SystemPrompt,
		Turns:  gateway.UserPrompt(FormatTranscript(turns)),
	})
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrSummarizationFailed, err)
	}

	summary := strings.TrimSpace(out)
	if summary == "" {
		return "", ErrEmptySummary
	}
	return summary, nil
}
