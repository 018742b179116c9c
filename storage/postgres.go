package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tracejournal/trace/types"
)

// txContextKey is the context key for storing pgx.Tx
type txContextKey struct{}

// WithTx returns a new context with the given transaction. PostgresStore
// methods called with this context run inside tx instead of opening their own.
func WithTx(ctx context.Context, tx pgx.Tx) context.Context {
	return context.WithValue(ctx, txContextKey{}, tx)
}

// TxFromContext retrieves the transaction from context, or nil if not present
func TxFromContext(ctx context.Context) pgx.Tx {
	if tx, ok := ctx.Value(txContextKey{}).(pgx.Tx); ok {
		return tx
	}
	return nil
}

// querier is a common interface for pgxpool.Pool and pgx.Tx
type querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore implements Store using PostgreSQL with pgx
type PostgresStore struct {
	pool *pgxpool.Pool
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a new PostgreSQL store
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// OpenPostgres connects a pool to dsn and verifies it.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return NewPostgresStore(pool), nil
}

// Migrate creates the schema if it does not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	return nil
}

// Close closes the pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// getQuerier returns the transaction from context if present, otherwise the pool
func (s *PostgresStore) getQuerier(ctx context.Context) querier {
	if tx := TxFromContext(ctx); tx != nil {
		return tx
	}
	return s.pool
}

// inTx runs fn in the context transaction, or in a new one committed when fn
// returns nil.
func (s *PostgresStore) inTx(ctx context.Context, fn func(q querier) error) error {
	if tx := TxFromContext(ctx); tx != nil {
		return fn(tx)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Load retrieves a session by ID
func (s *PostgresStore) Load(ctx context.Context, sessionID string) (*types.Session, error) {
	sess, err := scanSession(s.getQuerier(ctx).QueryRow(ctx, selectSessionQuery, sessionID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	return sess, nil
}

// Commit writes the session snapshot and the journal entry in one transaction.
func (s *PostgresStore) Commit(ctx context.Context, c *Commit) error {
	if err := c.Validate(); err != nil {
		return err
	}
	turnsJSON, err := jsonText(nonNil(c.Turns))
	if err != nil {
		return fmt.Errorf("failed to marshal turns: %w", err)
	}
	at := commitTime(c)

	return s.inTx(ctx, func(q querier) error {
		var tag pgconn.CommandTag
		var err error
		if c.ExpectedVersion == 0 {
			tag, err = q.Exec(ctx, insertSessionQuery, c.SessionID, c.UserID, turnsJSON, c.TokenEstimate, at)
		} else {
			tag, err = q.Exec(ctx, updateSessionQuery, c.SessionID, turnsJSON, c.TokenEstimate, at, c.ExpectedVersion, c.UserID)
		}
		if err != nil {
			return fmt.Errorf("failed to write session: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrVersionConflict
		}

		if e := c.Entry; e != nil {
			if _, err := q.Exec(ctx, insertEntryQuery, e.ID, e.UserID, e.SessionID, e.UserMessage, e.AIResponse, e.CreatedAt); err != nil {
				return fmt.Errorf("failed to insert journal entry: %w", err)
			}
		}
		return nil
	})
}

// ListEntries returns a page of a user's entries, newest first.
func (s *PostgresStore) ListEntries(ctx context.Context, userID string, limit, offset int) ([]*types.JournalEntry, error) {
	limit, offset = ClampPage(limit, offset)
	return s.queryEntries(ctx, listEntriesQuery, userID, limit, offset)
}

// ListSessionEntries returns one session's entries, oldest first.
func (s *PostgresStore) ListSessionEntries(ctx context.Context, userID, sessionID string) ([]*types.JournalEntry, error) {
	return s.queryEntries(ctx, listSessionEntriesQuery, userID, sessionID)
}

// EntriesSince returns a user's entries at or after since.
func (s *PostgresStore) EntriesSince(ctx context.Context, userID string, since time.Time) ([]*types.JournalEntry, error) {
	return s.queryEntries(ctx, entriesSinceQuery, userID, since)
}

// DeleteSession removes a user's entries in a session and, if the user owns
// it, the session row. Sentiment scores go with their entries by cascade.
func (s *PostgresStore) DeleteSession(ctx context.Context, userID, sessionID string) (int, error) {
	var n int64
	err := s.inTx(ctx, func(q querier) error {
		tag, err := q.Exec(ctx, deleteSessionEntriesQuery, userID, sessionID)
		if err != nil {
			return fmt.Errorf("failed to delete journal entries: %w", err)
		}
		n = tag.RowsAffected()
		if _, err := q.Exec(ctx, deleteOwnedSessionQuery, sessionID, userID); err != nil {
			return fmt.Errorf("failed to delete session: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// UnscoredEntries returns entries that have no sentiment score yet.
func (s *PostgresStore) UnscoredEntries(ctx context.Context, limit int) ([]*types.JournalEntry, error) {
	limit, _ = ClampPage(limit, 0)
	return s.queryEntries(ctx, unscoredEntriesQuery, limit)
}

func (s *PostgresStore) queryEntries(ctx context.Context, query string, args ...any) ([]*types.JournalEntry, error) {
	rows, err := s.getQuerier(ctx).Query(ctx, query, args...)
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
func (s *PostgresStore) ListSessions(ctx context.Context, userID string) ([]*types.SessionSummary, error) {
	rows, err := s.getQuerier(ctx).Query(ctx, listSessionsQuery, userID)
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
func (s *PostgresStore) SaveSentiment(ctx context.Context, score *types.SentimentScore) error {
	emotions, err := jsonText(nonNil(score.Emotions))
	if err != nil {
		return fmt.Errorf("failed to marshal emotions: %w", err)
	}
	_, err = s.getQuerier(ctx).Exec(ctx, upsertSentimentQuery,
		score.EntryID, string(score.Label), score.Score, emotions, score.ScoredAt)
	if err != nil {
		return fmt.Errorf("failed to save sentiment: %w", err)
	}
	return nil
}

// SentimentForSession returns the scores of a session's entries.
func (s *PostgresStore) SentimentForSession(ctx context.Context, userID, sessionID string) ([]*types.SentimentScore, error) {
	rows, err := s.getQuerier(ctx).Query(ctx, sentimentForSessionQuery, userID, sessionID)
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
func (s *PostgresStore) SaveAnalysis(ctx context.Context, a *types.PatternAnalysis) error {
	themes, err := jsonText(nonNil(a.Themes))
	if err != nil {
		return fmt.Errorf("failed to marshal themes: %w", err)
	}
	insights, err := jsonText(nonNil(a.Insights))
	if err != nil {
		return fmt.Errorf("failed to marshal insights: %w", err)
	}
	_, err = s.getQuerier(ctx).Exec(ctx, insertAnalysisQuery,
		a.ID, a.UserID, a.WindowStart, a.WindowEnd, a.EntryCount, a.Summary, themes, insights, a.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save analysis: %w", err)
	}
	return nil
}

// LatestAnalysis returns the newest analysis for a user.
func (s *PostgresStore) LatestAnalysis(ctx context.Context, userID string) (*types.PatternAnalysis, error) {
	a, err := scanAnalysis(s.getQuerier(ctx).QueryRow(ctx, latestAnalysisQuery, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest analysis: %w", err)
	}
	return a, nil
}

// LeaderAttemptElect attempts to become the leader.
func (s *PostgresStore) LeaderAttemptElect(ctx context.Context, params *LeaderElectParams) (bool, error) {
	tag, err := s.getQuerier(ctx).Exec(ctx, leaderElectQuery, leaderName, params.LeaderID, params.TTL.Seconds())
	if err != nil {
		return false, fmt.Errorf("failed to attempt leader election: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// LeaderAttemptReelect attempts to extend leadership.
func (s *PostgresStore) LeaderAttemptReelect(ctx context.Context, params *LeaderElectParams) (bool, error) {
	tag, err := s.getQuerier(ctx).Exec(ctx, leaderReelectQuery, leaderName, params.LeaderID, params.TTL.Seconds())
	if err != nil {
		return false, fmt.Errorf("failed to attempt leader reelection: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// LeaderResign resigns from leadership.
func (s *PostgresStore) LeaderResign(ctx context.Context, leaderID string) error {
	if _, err := s.getQuerier(ctx).Exec(ctx, leaderResignQuery, leaderName, leaderID); err != nil {
		return fmt.Errorf("failed to resign leadership: %w", err)
	}
	return nil
}

func commitTime(c *Commit) time.Time {
	if c.At.IsZero() {
		return time.Now()
	}
	return c.At
}
