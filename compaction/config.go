package compaction

import (
	"fmt"

	"github.com/tracejournal/trace/gateway"
)

// Default configuration values.
const (
	DefaultTokenTrigger        = 60000 // Compact once the estimate exceeds 60K tokens
	DefaultKeepCount           = 20    // Always keep the last 20 turns verbatim
	DefaultSummarizerMaxTokens = 4096
	DefaultTurnOverheadTokens  = 4
)

// Config holds compaction configuration.
type Config struct {
	// TokenTrigger is the token estimate above which compaction runs.
	// Default: 60000
	TokenTrigger int

	// KeepCount is the number of most recent turns that are never summarized.
	// Default: 20
	KeepCount int

	// Preset selects the model used for summarization. An empty Model is
	// left to the gateway's default.
	Preset gateway.Preset

	// SystemPrompt instructs the summarizer.
	// Default: SummarizationSystemPrompt
	SystemPrompt string
}

// DefaultConfig returns a Config with the default trigger and keep window.
func DefaultConfig() *Config {
	return &Config{
		TokenTrigger: DefaultTokenTrigger,
		KeepCount:    DefaultKeepCount,
		Preset: gateway.Preset{
			Name:        gateway.PresetSummarization,
			Temperature: gateway.DefaultStructuredTemperature,
			MaxTokens:   DefaultSummarizerMaxTokens,
		},
		SystemPrompt: SummarizationSystemPrompt,
	}
}

// Validate validates the configuration and returns an error if invalid.
func (c *Config) Validate() error {
	if c.TokenTrigger <= 0 {
		return fmt.Errorf("%w: token_trigger must be positive, got %d", ErrInvalidConfig, c.TokenTrigger)
	}

	if c.KeepCount < 1 {
		return fmt.Errorf("%w: keep_count must be at least 1, got %d", ErrInvalidConfig, c.KeepCount)
	}

	if c.Preset.Temperature < 0 || c.Preset.Temperature > 2 {
		return fmt.Errorf("%w: summarizer temperature must be between 0 and 2, got %f", ErrInvalidConfig, c.Preset.Temperature)
	}

	return nil
}

// ApplyDefaults fills in zero values with defaults.
func (c *Config) ApplyDefaults() {
	if c.TokenTrigger == 0 {
		c.TokenTrigger = DefaultTokenTrigger
	}
	if c.KeepCount == 0 {
		c.KeepCount = DefaultKeepCount
	}
	if c.Preset.Name == "" {
		c.Preset.Name = gateway.PresetSummarization
	}
	if c.Preset.Temperature == 0 {
		c.Preset.Temperature = gateway.DefaultStructuredTemperature
	}
	if c.Preset.MaxTokens == 0 {
		c.Preset.MaxTokens = DefaultSummarizerMaxTokens
	}
	if c.SystemPrompt == "" {
		c.SystemPrompt = SummarizationSystemPrompt
	}
}
