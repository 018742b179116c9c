package analysis

import "errors"

var (
	// ErrNoEntries is returned when the analysis window has no entries.
	ErrNoEntries = errors.New("analysis: no journal entries in window")

	// ErrInvalidReply is returned when the model reply is not the requested shape.
	ErrInvalidReply = errors.New("analysis: invalid model reply")
)
