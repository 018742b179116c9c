// Package storage persists journal sessions, the journal entry log, sentiment
// scores, pattern analyses and the leader lease.
//
// Four backends implement every interface here: MemoryStore, PostgresStore
// (pgx), SQLStore (database/sql with lib/pq) and RedisStore. Session commits
// are compare-and-swap on Session.Version, so two writers that loaded the
// same version cannot both succeed.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/tracejournal/trace/types"
)

var (
	// ErrNotFound is returned when the requested record does not exist.
	ErrNotFound = errors.New("storage: not found")

	// ErrVersionConflict is returned by Commit when the stored session
	// version differs from Commit.ExpectedVersion.
	ErrVersionConflict = errors.New("storage: session version conflict")

	// ErrInvalidCommit is returned for a malformed Commit.
	ErrInvalidCommit = errors.New("storage: invalid commit")
)

// Commit is one all-or-nothing write of a session.
type Commit struct {
	SessionID string

	// UserID owns a new session. On an existing session it only takes
	// effect when the session has no owner yet.
	UserID string

	// ExpectedVersion is the Version the session had when it was loaded;
	// 0 means the session must not exist yet.
	ExpectedVersion int64

	// Turns is the complete working sequence after this invocation.
	Turns []types.Turn

	TokenEstimate int

	// Entry, when set, is appended to the journal log in the same write.
	Entry *types.JournalEntry

	At time.Time
}

// Validate checks the commit is well-formed.
func (c *Commit) Validate() error {
	if c.SessionID == "" {
		return errors.Join(ErrInvalidCommit, errors.New("session id is required"))
	}
	if c.ExpectedVersion < 0 {
		return errors.Join(ErrInvalidCommit, errors.New("expected version must be non-negative"))
	}
	for _, t := range c.Turns {
		if !t.Role.IsValid() {
			return errors.Join(ErrInvalidCommit, errors.New("turn with unknown role "+string(t.Role)))
		}
	}
	if c.Entry != nil && c.Entry.SessionID != c.SessionID {
		return errors.Join(ErrInvalidCommit, errors.New("journal entry belongs to another session"))
	}
	return nil
}

// ownerAfter returns the session owner after a commit by userID.
func ownerAfter(current, userID string) string {
	if current != "" {
		return current
	}
	return userID
}

// SessionStore holds the working conversation per session id.
type SessionStore interface {
	// Load returns the session or ErrNotFound.
	Load(ctx context.Context, sessionID string) (*types.Session, error)

	// Commit writes c atomically, or returns ErrVersionConflict.
	Commit(ctx context.Context, c *Commit) error
}

// JournalStore reads the append-only journal entry log.
type JournalStore interface {
	// ListEntries returns a user's entries, newest first.
	ListEntries(ctx context.Context, userID string, limit, offset int) ([]*types.JournalEntry, error)

	// ListSessionEntries returns one session's entries, oldest first.
	ListSessionEntries(ctx context.Context, userID, sessionID string) ([]*types.JournalEntry, error)

	// ListSessions summarizes a user's sessions, most recently active first.
	ListSessions(ctx context.Context, userID string) ([]*types.SessionSummary, error)

	// EntriesSince returns a user's entries created at or after since, oldest first.
	EntriesSince(ctx context.Context, userID string, since time.Time) ([]*types.JournalEntry, error)

	// DeleteSession removes the user's entries in a session, their
	// sentiment scores, and the session snapshot if the user owns it. It
	// returns the number of entries removed; entries of other users are
	// never touched.
	DeleteSession(ctx context.Context, userID, sessionID string) (int, error)
}

// AnalysisStore holds sentiment scores and pattern analyses.
type AnalysisStore interface {
	// UnscoredEntries returns up to limit entries without a sentiment score, oldest first.
	UnscoredEntries(ctx context.Context, limit int) ([]*types.JournalEntry, error)
	SaveSentiment(ctx context.Context, score *types.SentimentScore) error
	SentimentForSession(ctx context.Context, userID, sessionID string) ([]*types.SentimentScore, error)
	SaveAnalysis(ctx context.Context, a *types.PatternAnalysis) error

	// LatestAnalysis returns the user's newest analysis or ErrNotFound.
	LatestAnalysis(ctx context.Context, userID string) (*types.PatternAnalysis, error)
}

// LeaderElectParams contains parameters for leader election.
type LeaderElectParams struct {
	LeaderID string
	TTL      time.Duration
}

// LeaseStore backs leader election.
type LeaseStore interface {
	// LeaderAttemptElect takes the lease if it is free or expired.
	LeaderAttemptElect(ctx context.Context, params *LeaderElectParams) (bool, error)

	// LeaderAttemptReelect extends the lease if params.LeaderID holds it.
	LeaderAttemptReelect(ctx context.Context, params *LeaderElectParams) (bool, error)

	// LeaderResign releases the lease if leaderID holds it.
	LeaderResign(ctx context.Context, leaderID string) error
}

// Store is everything the service needs from a backend.
type Store interface {
	SessionStore
	JournalStore
	AnalysisStore
	LeaseStore
	Close() error
}

// Default pagination values.
const (
	DefaultLimit = 50
	MaxLimit     = 200
)

// ClampPage bounds limit and offset.
func ClampPage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
