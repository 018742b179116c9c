// Package validation decides whether an inbound message is journaling content
// before any reply is generated.
package validation

import (
	"context"

	"github.com/tracejournal/trace/gateway"
)

// DegradedReason is reported when the validator could not reach the model
// and admitted the message anyway.
const DegradedReason = "Validation service unavailable"

// Verdict is the outcome of validating one message. It is never persisted.
type Verdict struct {
	Admitted bool   `json:"admitted"`
	Reason   string `json:"reason"`

	// Degraded is set when the gateway failed and the verdict is fail-open.
	Degraded bool `json:"-"`

	// Fallback is set when the reply could not be parsed.
	Fallback bool `json:"-"`
}

// reply is the structured shape requested from the model.
type reply struct {
	IsValid bool   `json:"is_valid" jsonschema:"required"`
	Reason  string `json:"reason" jsonschema:"required"`
}

var replySchema = gateway.GenerateSchema[reply]("validation_verdict", "Whether the message is journaling content")

// Logger is the logging interface used by the validator.
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

// Validator classifies inbound messages with one structured gateway call.
type Validator struct {
	gw     gateway.Gateway
	preset gateway.Preset
	system string
	logger Logger
}

// Option configures a Validator.
type Option func(*Validator)

// WithLogger sets the logger used for degraded-mode events.
func WithLogger(l Logger) Option {
	return func(v *Validator) {
		if l != nil {
			v.logger = l
		}
	}
}

// WithSystemPrompt replaces SystemPrompt.
func WithSystemPrompt(prompt string) Option {
	return func(v *Validator) {
		if prompt != "" {
			v.system = prompt
		}
	}
}

// New creates a Validator that calls gw with preset.
func New(gw gateway.Gateway, preset gateway.Preset, opts ...Option) *Validator {
	v := &Validator{
		gw:     gw,
		preset: preset,
		system: SystemPrompt,
		logger: noopLogger{},
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Validate classifies text. It never fails: a gateway error admits the
// message (fail open) and an unparsable reply yields Fallback(text).
//
// The model's reason is only ever used as display text; nothing derived
// from text is sent anywhere else.
func (v *Validator) Validate(ctx context.Context, text string) Verdict {
	out, err := v.gw.GenerateStructured(ctx, gateway.Request{
		Preset: v.preset,
		System: v.system,
		Turns:  gateway.UserPrompt(Envelope(text)),
		Schema: replySchema,
	})
	if err != nil {
		v.logger.Warn("validation degraded, admitting message",
			"error", err,
			"rate_limited", gateway.IsRateLimited(err),
		)
		return Verdict{Admitted: true, Reason: DegradedReason, Degraded: true}
	}

	verdict, ok := ParseVerdict(out, text)
	if !ok {
		v.logger.Debug("validation reply unparsable, using fallback", "reply_len", len(out))
		verdict.Fallback = true
	}
	return verdict
}
