package validation

import (
	"strings"

	"github.com/tidwall/gjson"

	"github.com/tracejournal/trace/gateway"
)

// FallbackReason is reported when the model's reply could not be parsed.
const FallbackReason = "fallback"

// ParseVerdict extracts a verdict from the model's reply. The outermost
// {...} span is decoded and must contain a boolean is_valid and a string
// reason. Anything else yields Fallback(text) and ok=false.
func ParseVerdict(reply, text string) (v Verdict, ok bool) {
	raw, found := gateway.ExtractJSON(reply)
	if !found || !gjson.Valid(raw) {
		return Fallback(text), false
	}

	isValid := gjson.Get(raw, "is_valid")
	reason := gjson.Get(raw, "reason")
	if !isValid.IsBool() || reason.Type != gjson.String {
		return Fallback(text), false
	}

	return Verdict{Admitted: isValid.Bool(), Reason: strings.TrimSpace(reason.String())}, true
}

// Fallback is the permissive verdict used when the reply is unusable:
// anything non-blank is admitted.
func Fallback(text string) Verdict {
	return Verdict{
		Admitted: strings.TrimSpace(text) != "",
		Reason:   FallbackReason,
	}
}
