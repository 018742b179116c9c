package server

import "github.com/tracejournal/trace/tool"

// DefaultPrompts seed /random-prompt and the session greeting. They are the
// same list the model's prompt tool draws from.
var DefaultPrompts = tool.DefaultPrompts
