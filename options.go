package trace

import (
	"fmt"
	"time"

	"github.com/tracejournal/trace/compaction"
	"github.com/tracejournal/trace/hooks"
	"github.com/tracejournal/trace/tool"
)

// internalConfig holds the Config plus optional collaborators.
type internalConfig struct {
	Config

	logger          Logger
	hooks           *hooks.Registry
	tools           *tool.Registry
	now             func() time.Time
	newID           func() string
	validatorPrompt string
}

// Option is a functional option for configuring a Journal
type Option func(*internalConfig) error

// WithLogger sets the logger. *slog.Logger satisfies Logger.
func WithLogger(l Logger) Option {
	return func(c *internalConfig) error {
		if l == nil {
			return fmt.Errorf("%w: logger is nil", ErrInvalidConfig)
		}
		c.logger = l
		return nil
	}
}

// WithHooks replaces the hook registry.
func WithHooks(r *hooks.Registry) Option {
	return func(c *internalConfig) error {
		if r == nil {
			return fmt.Errorf("%w: hook registry is nil", ErrInvalidConfig)
		}
		c.hooks = r
		return nil
	}
}

// WithTools replaces the tools offered during generation. The default
// registry holds the journaling prompt tool; an empty registry offers none.
func WithTools(r *tool.Registry) Option {
	return func(c *internalConfig) error {
		if r == nil {
			return fmt.Errorf("%w: tool registry is nil", ErrInvalidConfig)
		}
		c.tools = r
		return nil
	}
}

// WithSkipValidation overrides Config.SkipValidation.
func WithSkipValidation(skip bool) Option {
	return func(c *internalConfig) error {
		c.SkipValidation = skip
		return nil
	}
}

// WithCompactionConfig overrides Config.Compaction.
func WithCompactionConfig(cfg *compaction.Config) Option {
	return func(c *internalConfig) error {
		if cfg == nil {
			return fmt.Errorf("%w: compaction config is nil", ErrInvalidConfig)
		}
		cp := *cfg
		c.Compaction = &cp
		return nil
	}
}

// WithSystemPrompt overrides Config.SystemPrompt.
func WithSystemPrompt(prompt string) Option {
	return func(c *internalConfig) error {
		c.SystemPrompt = prompt
		return nil
	}
}

// WithValidatorPrompt replaces the validator's system prompt.
func WithValidatorPrompt(prompt string) Option {
	return func(c *internalConfig) error {
		c.validatorPrompt = prompt
		return nil
	}
}

// WithClock sets the time source for turn timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *internalConfig) error {
		if now == nil {
			return fmt.Errorf("%w: clock is nil", ErrInvalidConfig)
		}
		c.now = now
		return nil
	}
}

// WithIDGenerator sets the generator for new session and entry ids.
func WithIDGenerator(newID func() string) Option {
	return func(c *internalConfig) error {
		if newID == nil {
			return fmt.Errorf("%w: id generator is nil", ErrInvalidConfig)
		}
		c.newID = newID
		return nil
	}
}
