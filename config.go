package trace

import (
	"fmt"
	"time"

	"github.com/tracejournal/trace/compaction"
	"github.com/tracejournal/trace/gateway"
	"github.com/tracejournal/trace/tool"
)

// DefaultRejectionPrefix starts the reply stored when validation rejects a
// message. The validator's reason follows it.
const DefaultRejectionPrefix = "I couldn't process that input. "

// DefaultGreetingPrefix starts the greeting of a session opened with
// StartSession. A random journaling prompt follows it.
const DefaultGreetingPrefix = "Hi! I'm Trace, your journaling companion. Here's something to think about today: "

// DefaultSystemPrompt frames the journaling companion for reply generation.
const DefaultSystemPrompt = `You are a warm, attentive journaling companion. The person you talk with is writing in their private journal.

- Listen first. Reflect back what they shared in your own words.
- Ask at most one gentle follow-up question that helps them go deeper.
- Do not diagnose, lecture or give unsolicited advice.
- Keep replies short: two to four sentences.
- If they are unsure what to write about, call get_a_prompt and offer the prompt it returns.
- A turn that starts with "[Summary of the earlier conversation]" summarizes what was said before; treat it as shared memory.`

// Config holds the required configuration for a Journal.
//
// Example:
//
//	j, _ := trace.New(store, gw, &trace.Config{
//	    Model: "claude-sonnet-4-5-20250929",
//	})
type Config struct {
	// Model is used by every preset that has no model of its own.
	Model string

	// Presets overrides the per-call model parameters.
	// Default: gateway.DefaultPresets(Model)
	Presets gateway.Presets

	// SystemPrompt frames reply generation.
	// Default: DefaultSystemPrompt
	SystemPrompt string

	// SkipValidation routes every turn straight from start to generating.
	// Default: false, every message is validated first.
	SkipValidation bool

	// Compaction configures history compaction. Its preset defaults to
	// Presets.Summarization.
	Compaction *compaction.Config

	// RejectionPrefix starts the reply stored for a rejected message.
	// Default: DefaultRejectionPrefix
	RejectionPrefix string

	// Prompts feed the session greeting and the prompt tool.
	// Default: tool.DefaultPrompts
	Prompts []string

	// GreetingPrefix starts the greeting written by StartSession.
	// Default: DefaultGreetingPrefix
	GreetingPrefix string

	// MaxToolRounds caps how many times one turn may go back to the model
	// with tool results.
	// Default: 3
	MaxToolRounds int

	// ToolTimeout bounds a single tool call.
	// Default: 30 seconds
	ToolTimeout time.Duration
}

// Default tool limits.
const (
	DefaultMaxToolRounds = 3
	DefaultToolTimeout   = 30 * time.Second
)

// DefaultConfig returns a Config with defaults for model.
func DefaultConfig(model string) *Config {
	cfg := &Config{Model: model}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills in zero values with defaults.
func (c *Config) ApplyDefaults() {
	defaults := gateway.DefaultPresets(c.Model)
	fill := func(p *gateway.Preset, d gateway.Preset) {
		if p.Name == "" {
			p.Name = d.Name
		}
		if p.Model == "" {
			p.Model = d.Model
		}
		if p.Temperature == 0 {
			p.Temperature = d.Temperature
		}
		if p.MaxTokens == 0 {
			p.MaxTokens = d.MaxTokens
		}
	}
	fill(&c.Presets.Validation, defaults.Validation)
	fill(&c.Presets.Summarization, defaults.Summarization)
	fill(&c.Presets.Generation, defaults.Generation)
	fill(&c.Presets.Analysis, defaults.Analysis)

	if c.SystemPrompt == "" {
		c.SystemPrompt = DefaultSystemPrompt
	}
	if c.RejectionPrefix == "" {
		c.RejectionPrefix = DefaultRejectionPrefix
	}
	if len(c.Prompts) == 0 {
		c.Prompts = tool.DefaultPrompts
	}
	if c.GreetingPrefix == "" {
		c.GreetingPrefix = DefaultGreetingPrefix
	}
	if c.MaxToolRounds <= 0 {
		c.MaxToolRounds = DefaultMaxToolRounds
	}
	if c.ToolTimeout <= 0 {
		c.ToolTimeout = DefaultToolTimeout
	}
	if c.Compaction == nil {
		c.Compaction = compaction.DefaultConfig()
	}
	fill(&c.Compaction.Preset, c.Presets.Summarization)
	c.Compaction.ApplyDefaults()
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if err := c.Presets.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if c.Compaction == nil {
		return fmt.Errorf("%w: compaction config is required", ErrInvalidConfig)
	}
	if err := c.Compaction.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if c.SystemPrompt == "" {
		return fmt.Errorf("%w: SystemPrompt is required", ErrInvalidConfig)
	}
	return nil
}

// Logger is the logging interface used by the journal. *slog.Logger
// satisfies it.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}
