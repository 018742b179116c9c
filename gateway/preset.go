package gateway

import "fmt"

// Preset names.
const (
	PresetValidation    = "validation"
	PresetSummarization = "summarization"
	PresetGeneration    = "generation"
	PresetAnalysis      = "analysis"
)

// Default sampling temperatures. Classification-like calls run cooler than
// the conversational reply.
const (
	DefaultStructuredTemperature = 0.3
	DefaultGenerationTemperature = 0.7
	DefaultMaxTokens             = 4096
)

// Preset is a named set of model parameters. Presets are values; each call
// carries its own copy.
type Preset struct {
	Name        string
	Model       string
	Temperature float64
	MaxTokens   int64
}

// Validate checks the preset is usable.
func (p Preset) Validate() error {
	if p.Model == "" {
		return fmt.Errorf("gateway: preset %q has no model", p.Name)
	}
	if p.Temperature < 0 || p.Temperature > 2 {
		return fmt.Errorf("gateway: preset %q temperature %.2f out of range", p.Name, p.Temperature)
	}
	if p.MaxTokens < 0 {
		return fmt.Errorf("gateway: preset %q max tokens must be non-negative", p.Name)
	}
	return nil
}

// MaxTokensOrDefault returns MaxTokens, or DefaultMaxTokens when unset.
func (p Preset) MaxTokensOrDefault() int64 {
	if p.MaxTokens <= 0 {
		return DefaultMaxTokens
	}
	return p.MaxTokens
}

// Presets groups the presets used by the journal.
type Presets struct {
	Validation    Preset
	Summarization Preset
	Generation    Preset
	Analysis      Preset
}

// DefaultPresets returns presets for model with the default temperatures.
func DefaultPresets(model string) Presets {
	structured := func(name string) Preset {
		return Preset{Name: name, Model: model, Temperature: DefaultStructuredTemperature, MaxTokens: 1024}
	}
	return Presets{
		Validation:    structured(PresetValidation),
		Summarization: Preset{Name: PresetSummarization, Model: model, Temperature: DefaultStructuredTemperature, MaxTokens: DefaultMaxTokens},
		Generation:    Preset{Name: PresetGeneration, Model: model, Temperature: DefaultGenerationTemperature, MaxTokens: DefaultMaxTokens},
		Analysis:      structured(PresetAnalysis),
	}
}

// Validate checks every preset.
func (p Presets) Validate() error {
	for _, preset := range []Preset{p.Validation, p.Summarization, p.Generation, p.Analysis} {
		if err := preset.Validate(); err != nil {
			return err
		}
	}
	return nil
}
