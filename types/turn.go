// Package types holds the data shapes shared between the journal core,
// its stores and the HTTP surface.
package types

import (
	"time"

	"github.com/google/uuid"
)

// Role represents the author of a turn
type Role string

const (
	// RoleUser is a turn written by the journaling user
	RoleUser Role = "user"

	// RoleAssistant is a turn produced by the model (or a rejection notice)
	RoleAssistant Role = "assistant"

	// RoleSummary is a synthetic turn produced by compaction. It replaces a
	// prefix of the conversation and is never a verbatim exchange.
	RoleSummary Role = "summary"
)

// IsValid reports whether r is a known role.
func (r Role) IsValid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSummary:
		return true
	default:
		return false
	}
}

// Turn is one immutable message in a session.
type Turn struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// NewTurn creates a turn with a fresh ID.
func NewTurn(role Role, content string, at time.Time) Turn {
	return Turn{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		CreatedAt: at,
	}
}

// IsSummary reports whether the turn was synthesized by compaction.
func (t Turn) IsSummary() bool {
	return t.Role == RoleSummary
}

// Session is the working conversation for one session id.
type Session struct {
	ID            string    `json:"id"`
	UserID        string    `json:"user_id,omitempty"`
	Turns         []Turn    `json:"turns"`
	TokenEstimate int       `json:"token_estimate"`
	Version       int64     `json:"version"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// IsNew reports whether the session has never been committed.
func (s *Session) IsNew() bool {
	return s.Version == 0
}

// Clone returns a copy whose turn slice can be appended to without
// affecting s.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	c.Turns = make([]Turn, len(s.Turns))
	copy(c.Turns, s.Turns)
	return &c
}

// LastTurn returns the most recent turn, if any.
func (s *Session) LastTurn() (Turn, bool) {
	if len(s.Turns) == 0 {
		return Turn{}, false
	}
	return s.Turns[len(s.Turns)-1], true
}
