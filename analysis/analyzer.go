package analysis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/tracejournal/trace/gateway"
	"github.com/tracejournal/trace/types"
)

// Defaults for pattern analysis.
const (
	DefaultWindow     = 30 * 24 * time.Hour
	DefaultMaxEntries = 200
	MaxThemes         = 5
	MaxInsights       = 3
)

// Store is the storage the Analyzer needs.
type Store interface {
	EntriesSince(ctx context.Context, userID string, since time.Time) ([]*types.JournalEntry, error)
	SaveAnalysis(ctx context.Context, a *types.PatternAnalysis) error
}

type patternReply struct {
	Summary  string   `json:"summary" jsonschema:"required"`
	Themes   []string `json:"themes" jsonschema:"required"`
	Insights []string `json:"insights" jsonschema:"required"`
}

var patternSchema = gateway.GenerateSchema[patternReply]("journal_patterns", "Recurring patterns across journal entries")

// Analyzer summarizes a user's recent entries.
type Analyzer struct {
	gw         gateway.Gateway
	preset     gateway.Preset
	store      Store
	window     time.Duration
	maxEntries int
	logger     Logger
}

// AnalyzerOption configures an Analyzer.
type AnalyzerOption func(*Analyzer)

// WithWindow sets how far back Analyze looks.
func WithWindow(d time.Duration) AnalyzerOption {
	return func(a *Analyzer) {
		if d > 0 {
			a.window = d
		}
	}
}

// WithMaxEntries caps how many of the newest entries are sent.
func WithMaxEntries(n int) AnalyzerOption {
	return func(a *Analyzer) {
		if n > 0 {
			a.maxEntries = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l Logger) AnalyzerOption {
	return func(a *Analyzer) {
		if l != nil {
			a.logger = l
		}
	}
}

// NewAnalyzer creates an Analyzer.
func NewAnalyzer(gw gateway.Gateway, preset gateway.Preset, store Store, opts ...AnalyzerOption) *Analyzer {
	a := &Analyzer{
		gw:         gw,
		preset:     preset,
		store:      store,
		window:     DefaultWindow,
		maxEntries: DefaultMaxEntries,
		logger:     noopLogger{},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Analyze reads the user's entries in the configured window ending at now,
// asks the model for patterns and stores the result.
func (a *Analyzer) Analyze(ctx context.Context, userID string, now time.Time) (*types.PatternAnalysis, error) {
	return a.AnalyzeWindow(ctx, userID, now, a.window)
}

// AnalyzeWindow is Analyze over the window ending at now. A non-positive
// window uses the configured one.
func (a *Analyzer) AnalyzeWindow(ctx context.Context, userID string, now time.Time, window time.Duration) (*types.PatternAnalysis, error) {
	if window <= 0 {
		window = a.window
	}
	start := now.Add(-window)
	entries, err := a.store.EntriesSince(ctx, userID, start)
	if err != nil {
		return nil, fmt.Errorf("failed to load entries: %w", err)
	}
	if len(entries) == 0 {
		return nil, ErrNoEntries
	}
	if len(entries) > a.maxEntries {
		a.logger.Debug("truncating analysis input", "user_id", userID, "entries", len(entries), "kept", a.maxEntries)
		entries = entries[len(entries)-a.maxEntries:]
	}

	out, err := a.gw.GenerateStructured(ctx, gateway.Request{
		Preset: a.preset,
		System: PatternSystemPrompt,
		Turns:  gateway.UserPrompt(formatEntries(entries)),
		Schema: patternSchema,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to analyze patterns: %w", err)
	}

	result, err := ParsePatterns(out)
	if err != nil {
		return nil, err
	}
	result.ID = uuid.NewString()
	result.UserID = userID
	result.WindowStart = start
	result.WindowEnd = now
	result.EntryCount = len(entries)
	result.CreatedAt = now

	if err := a.store.SaveAnalysis(ctx, result); err != nil {
		return nil, fmt.Errorf("failed to save analysis: %w", err)
	}
	a.logger.Info("pattern analysis stored", "user_id", userID, "entries", len(entries), "themes", len(result.Themes))
	return result, nil
}

// ParsePatterns decodes an analyzer reply. The summary must be non-blank.
func ParsePatterns(reply string) (*types.PatternAnalysis, error) {
	raw, ok := gateway.ExtractJSON(reply)
	if !ok || !gjson.Valid(raw) {
		return nil, fmt.Errorf("%w: no JSON object", ErrInvalidReply)
	}
	summary := gjson.Get(raw, "summary")
	if summary.Type != gjson.String || strings.TrimSpace(summary.String()) == "" {
		return nil, fmt.Errorf("%w: summary missing", ErrInvalidReply)
	}
	return &types.PatternAnalysis{
		Summary:  strings.TrimSpace(summary.String()),
		Themes:   stringList(gjson.Get(raw, "themes"), MaxThemes, false),
		Insights: stringList(gjson.Get(raw, "insights"), MaxInsights, false),
	}, nil
}
