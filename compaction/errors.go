package compaction

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for compaction operations.
var (
	// ErrInvalidConfig indicates invalid compaction configuration.
	ErrInvalidConfig = errors.New("invalid compaction configuration")

	// ErrSummarizationFailed indicates the summarization gateway call failed.
	ErrSummarizationFailed = errors.New("summarization failed")

	// ErrEmptySummary indicates the summarizer returned no usable text.
	ErrEmptySummary = errors.New("summarizer returned empty summary")

	// ErrCompactionIneffective indicates the compacted sequence is still over
	// the trigger. The caller receives its input back unchanged.
	ErrCompactionIneffective = errors.New("compacted history still exceeds token trigger")
)

// CompactionError reports which compaction step failed and the token
// counts involved.
type CompactionError struct {
	Op        string // MaybeCompact or Summarize
	SessionID string
	Err       error
	Context   map[string]any
}

func (e *CompactionError) Error() string {
	var b strings.Builder
	b.WriteString("compaction: ")
	b.WriteString(e.Op)
	if e.SessionID != "" {
		fmt.Fprintf(&b, " (session=%s)", e.SessionID)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *CompactionError) Unwrap() error {
	return e.Err
}

// NewCompactionError wraps err for op.
func NewCompactionError(op string, err error) *CompactionError {
	return &CompactionError{Op: op, Err: err}
}

// WithSession records the session the error belongs to.
func (e *CompactionError) WithSession(sessionID string) *CompactionError {
	e.SessionID = sessionID
	return e
}

// WithContext attaches a diagnostic value such as a token count.
func (e *CompactionError) WithContext(key string, value any) *CompactionError {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}
