package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/tracejournal/trace/types"
)

// uniqueViolation is the PostgreSQL SQLSTATE for duplicate keys.
const uniqueViolation = pq.ErrorCode("23505")

// The database/sql backend relies on the primary key instead of ON CONFLICT
// to detect a racing first commit.
const sqlInsertSessionQuery = `
	INSERT INTO trace_sessions (id, user_id, turns, token_estimate, version, created_at, updated_at)
	VALUES ($1, $2, $3, $4, 1, $5, $5)`

// SQLStore implements Store over database/sql with the lib/pq driver. It
// shares the schema with PostgresStore.
type SQLStore struct {
	db *sql.DB
}

var _ Store = (*SQLStore)(nil)

// NewSQLStore wraps an open database handle.
func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

// OpenSQL opens dsn with the postgres driver and verifies the connection.
func OpenSQL(ctx context.Context, dsn string) (*SQLStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return NewSQLStore(db), nil
}

// Migrate creates the schema if it does not exist.
func (s *SQLStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	return nil
}

// Close closes the database handle.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// Load retrieves a session by ID.
func (s *SQLStore) Load(ctx context.Context, sessionID string) (*types.Session, error) {
	sess, err := scanSession(s.db.QueryRowContext(ctx, selectSessionQuery, sessionID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	return sess, nil
}

// Commit writes the session snapshot and the journal entry in one transaction.
func (s *SQLStore) Commit(ctx context.Context, c *Commit) error {
	if err := c.Validate(); err != nil {
		return err
	}
	turnsJSON, err := jsonText(nonNil(c.Turns))
	if err != nil {
		return fmt.Errorf("failed to marshal turns: %w", err)
	}
	at := commitTime(c)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var res sql.Result
	if c.ExpectedVersion == 0 {
		res, err = tx.ExecContext(ctx, sqlInsertSessionQuery, c.SessionID, c.UserID, turnsJSON, c.TokenEstimate, at)
	} else {
		res, err = tx.ExecContext(ctx, updateSessionQuery, c.SessionID, turnsJSON, c.TokenEstimate, at, c.ExpectedVersion, c.UserID)
	}
	if isUniqueViolation(err) {
		return ErrVersionConflict
	}
	if err != nil {
		return fmt.Errorf("failed to write session: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	} else if n == 0 {
		return ErrVersionConflict
	}

	if e := c.Entry; e != nil {
		if _, err := tx.ExecContext(ctx, insertEntryQuery, e.ID, e.UserID, e.SessionID, e.UserMessage, e.AIResponse, e.CreatedAt); err != nil {
			return fmt.Errorf("failed to insert journal entry: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

// ListEntries returns a page of a user's entries, newest first.
func (s *SQLStore) ListEntries(ctx context.Context, userID string, limit, offset int) ([]*types.JournalEntry, error) {
	limit, offset = ClampPage(limit, offset)
	return s.queryEntries(ctx, listEntriesQuery, userID, limit, offset)
}

// ListSessionEntries returns one session's entries, oldest first.
func (s *SQLStore) ListSessionEntries(ctx context.Context, userID, sessionID string) ([]*types.JournalEntry, error) {
	return s.queryEntries(ctx, listSessionEntriesQuery, userID, sessionID)
}

// EntriesSince returns a user's entries at or after since.
func (s *SQLStore) EntriesSince(ctx context.Context, userID string, since time.Time) ([]*types.JournalEntry, error) {
	return s.queryEntries(ctx, entriesSinceQuery, userID, since)
}

// DeleteSession removes a user's entries in a session and, if the user owns
// it, the session row.
func (s *SQLStore) DeleteSession(ctx context.Context, userID, sessionID string) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.ExecContext(ctx, deleteSessionEntriesQuery, userID, sessionID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete journal entries: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read affected rows: %w", err)
	}
	if _, err := tx.ExecContext(ctx, deleteOwnedSessionQuery, sessionID, userID); err != nil {
		return 0, fmt.Errorf("failed to delete session: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return int(n), nil
}

// UnscoredEntries returns entries that have no sentiment score yet.
func (s *SQLStore) UnscoredEntries(ctx context.Context, limit int) ([]*types.JournalEntry, error) {
	limit, _ = ClampPage(limit, 0)
	return s.queryEntries(ctx, unscoredEntriesQuery, limit)
}

func (s *SQLStore) queryEntries(ctx context.Context, query string, args ...any) ([]*types.JournalEntry, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query entries: %w", err)
	}
	defer rows.Close()

	var entries []*types.JournalEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating entries: %w", err)
	}
	return entries, nil
}

// ListSessions summarizes a user's sessions from the journal log.
func (s *SQLStore) ListSessions(ctx context.Context, userID string) ([]*types.SessionSummary, error) {
	rows, err := s.db.QueryContext(ctx, listSessionsQuery, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*types.SessionSummary
	for rows.Next() {
		sum, err := scanSummary(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session summary: %w", err)
		}
		sessions = append(sessions, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sessions: %w", err)
	}
	return sessions, nil
}

// SaveSentiment inserts or replaces an entry's score.
func (s *SQLStore) SaveSentiment(ctx context.Context, score *types.SentimentScore) error {
	emotions, err := jsonText(nonNil(score.Emotions))
	if err != nil {
		return fmt.Errorf("failed to marshal emotions: %w", err)
	}
	_, err = s.db.ExecContext(ctx, upsertSentimentQuery,
		score.EntryID, string(score.Label), score.Score, emotions, score.ScoredAt)
	if err != nil {
		return fmt.Errorf("failed to save sentiment: %w", err)
	}
	return nil
}

// SentimentForSession returns the scores of a session's entries.
func (s *SQLStore) SentimentForSession(ctx context.Context, userID, sessionID string) ([]*types.SentimentScore, error) {
	rows, err := s.db.QueryContext(ctx, sentimentForSessionQuery, userID, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query sentiment: %w", err)
	}
	defer rows.Close()

	var scores []*types.SentimentScore
	for rows.Next() {
		sc, err := scanSentiment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sentiment: %w", err)
		}
		scores = append(scores, sc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sentiment: %w", err)
	}
	return scores, nil
}

// SaveAnalysis stores a pattern analysis.
func (s *SQLStore) SaveAnalysis(ctx context.Context, a *types.PatternAnalysis) error {
	themes, err := jsonText(nonNil(a.Themes))
	if err != nil {
		return fmt.Errorf("failed to marshal themes: %w", err)
	}
	insights, err := jsonText(nonNil(a.Insights))
	if err != nil {
		return fmt.Errorf("failed to marshal insights: %w", err)
	}
	_, err = s.db.ExecContext(ctx, insertAnalysisQuery,
		a.ID, a.UserID, a.WindowStart, a.WindowEnd, a.EntryCount, a.Summary, themes, insights, a.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save analysis: %w", err)
	}
	return nil
}

// LatestAnalysis returns the newest analysis for a user.
func (s *SQLStore) LatestAnalysis(ctx context.Context, userID string) (*types.PatternAnalysis, error) {
	a, err := scanAnalysis(s.db.QueryRowContext(ctx, latestAnalysisQuery, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest analysis: %w", err)
	}
	return a, nil
}

// LeaderAttemptElect attempts to become the leader.
func (s *SQLStore) LeaderAttemptElect(ctx context.Context, params *LeaderElectParams) (bool, error) {
	return s.leaderExec(ctx, leaderElectQuery, "election", params)
}

// LeaderAttemptReelect attempts to extend leadership.
func (s *SQLStore) LeaderAttemptReelect(ctx context.Context, params *LeaderElectParams) (bool, error) {
	return s.leaderExec(ctx, leaderReelectQuery, "reelection", params)
}

func (s *SQLStore) leaderExec(ctx context.Context, query, op string, params *LeaderElectParams) (bool, error) {
	res, err := s.db.ExecContext(ctx, query, leaderName, params.LeaderID, params.TTL.Seconds())
	if err != nil {
		return false, fmt.Errorf("failed to attempt leader %s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n > 0, nil
}

// LeaderResign resigns from leadership.
func (s *SQLStore) LeaderResign(ctx context.Context, leaderID string) error {
	if _, err := s.db.ExecContext(ctx, leaderResignQuery, leaderName, leaderID); err != nil {
		return fmt.Errorf("failed to resign leadership: %w", err)
	}
	return nil
}
