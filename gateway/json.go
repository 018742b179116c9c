package gateway

import "strings"

// ExtractJSON returns the span from the first '{' to the last '}' in text.
// Models often wrap structured output in prose or code fences; this recovers
// the object without trusting the wrapper.
func ExtractJSON(text string) (string, bool) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return "", false
	}
	return text[start : end+1], true
}
