package trace

import (
	"errors"
	"fmt"

	"github.com/tracejournal/trace/gateway"
	"github.com/tracejournal/trace/storage"
)

// Common errors
var (
	// ErrInvalidConfig is returned when the journal configuration is invalid
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrEmptyMessage is returned for a message that is blank after trimming
	ErrEmptyMessage = errors.New("message is empty")

	// ErrSessionForbidden is returned when a session belongs to another user
	ErrSessionForbidden = errors.New("session belongs to another user")

	// ErrLoadFailed is returned when the session could not be loaded
	ErrLoadFailed = errors.New("session load failed")

	// ErrGenerationFailed is returned when summarization or reply generation fails
	ErrGenerationFailed = errors.New("generation failed")

	// ErrAborted is returned when a before-generation hook vetoes the turn
	ErrAborted = errors.New("turn aborted by hook")

	// ErrCommitFailed is returned when the session commit fails for a reason
	// other than a version conflict
	ErrCommitFailed = errors.New("commit failed")
)

// TurnError represents a failed turn with additional context
type TurnError struct {
	Op        string         // Operation that failed
	Err       error          // Underlying error
	SessionID string         // Session ID if applicable
	Context   map[string]any // Additional context
}

// Error implements the error interface
func (e *TurnError) Error() string {
	if e.SessionID != "" {
		return fmt.Sprintf("%s (session=%s): %v", e.Op, e.SessionID, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error
func (e *TurnError) Unwrap() error {
	return e.Err
}

// WithContext adds additional context to the error
func (e *TurnError) WithContext(key string, value any) *TurnError {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// NewTurnError creates a new TurnError for a session
func NewTurnError(op, sessionID string, err error) *TurnError {
	return &TurnError{
		Op:        op,
		Err:       err,
		SessionID: sessionID,
	}
}

// IsRetryable reports whether err is transient for the caller: a provider
// rate limit or a lost commit race. The journal itself never retries.
func IsRetryable(err error) bool {
	return gateway.IsRateLimited(err) || errors.Is(err, storage.ErrVersionConflict)
}
