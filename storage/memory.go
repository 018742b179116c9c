package storage

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/tracejournal/trace/types"
)

// MemoryStore is an in-process Store for tests and single-node CLI use.
// Everything it returns is a copy.
type MemoryStore struct {
	mu        sync.RWMutex
	sessions  map[string]*types.Session
	entries   []*types.JournalEntry
	sentiment map[string]*types.SentimentScore
	analyses  map[string][]*types.PatternAnalysis

	leaderID      string
	leaderExpires time.Time

	now func() time.Time
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions:  make(map[string]*types.Session),
		sentiment: make(map[string]*types.SentimentScore),
		analyses:  make(map[string][]*types.PatternAnalysis),
		now:       time.Now,
	}
}

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }

// Load returns a copy of the session.
func (s *MemoryStore) Load(ctx context.Context, sessionID string) (*types.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return sess.Clone(), nil
}

// Commit applies c if the stored version matches.
func (s *MemoryStore) Commit(ctx context.Context, c *Commit) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := c.Validate(); err != nil {
		return err
	}
	at := commitTime(c)

	s.mu.Lock()
	defer s.mu.Unlock()

	cur, exists := s.sessions[c.SessionID]
	var version int64
	if exists {
		version = cur.Version
	}
	if version != c.ExpectedVersion {
		return ErrVersionConflict
	}

	next := &types.Session{
		ID:            c.SessionID,
		UserID:        c.UserID,
		Turns:         slices.Clone(c.Turns),
		TokenEstimate: c.TokenEstimate,
		Version:       version + 1,
		CreatedAt:     at,
		UpdatedAt:     at,
	}
	if exists {
		next.UserID = ownerAfter(cur.UserID, c.UserID)
		next.CreatedAt = cur.CreatedAt
	}
	s.sessions[c.SessionID] = next

	if c.Entry != nil {
		e := *c.Entry
		s.entries = append(s.entries, &e)
	}
	return nil
}

// filter returns copies of entries matching keep, in insertion order.
func (s *MemoryStore) filter(keep func(*types.JournalEntry) bool) []*types.JournalEntry {
	var out []*types.JournalEntry
	for _, e := range s.entries {
		if keep(e) {
			c := *e
			out = append(out, &c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// ListEntries returns a page of a user's entries, newest first.
func (s *MemoryStore) ListEntries(_ context.Context, userID string, limit, offset int) ([]*types.JournalEntry, error) {
	limit, offset = ClampPage(limit, offset)
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.filter(func(e *types.JournalEntry) bool { return e.UserID == userID })
	slices.Reverse(all)
	if offset >= len(all) {
		return nil, nil
	}
	end := min(offset+limit, len(all))
	return all[offset:end], nil
}

// ListSessionEntries returns one session's entries, oldest first.
func (s *MemoryStore) ListSessionEntries(_ context.Context, userID, sessionID string) ([]*types.JournalEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.filter(func(e *types.JournalEntry) bool {
		return e.UserID == userID && e.SessionID == sessionID
	}), nil
}

// ListSessions summarizes a user's sessions, most recently active first.
func (s *MemoryStore) ListSessions(_ context.Context, userID string) ([]*types.SessionSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byID := make(map[string]*types.SessionSummary)
	var out []*types.SessionSummary
	for _, e := range s.filter(func(e *types.JournalEntry) bool { return e.UserID == userID }) {
		sum, ok := byID[e.SessionID]
		if !ok {
			sum = &types.SessionSummary{
				SessionID:    e.SessionID,
				FirstMessage: e.UserMessage,
				StartedAt:    e.CreatedAt,
			}
			byID[e.SessionID] = sum
			out = append(out, sum)
		}
		sum.EntryCount++
		sum.LastActivity = e.CreatedAt
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].LastActivity.After(out[j].LastActivity) })
	return out, nil
}

// EntriesSince returns a user's entries at or after since.
func (s *MemoryStore) EntriesSince(_ context.Context, userID string, since time.Time) ([]*types.JournalEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.filter(func(e *types.JournalEntry) bool {
		return e.UserID == userID && !e.CreatedAt.Before(since)
	}), nil
}

// DeleteSession removes a user's entries in a session with their scores,
// and the session snapshot when the user owns it.
func (s *MemoryStore) DeleteSession(ctx context.Context, userID, sessionID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	s.entries = slices.DeleteFunc(s.entries, func(e *types.JournalEntry) bool {
		if e.UserID != userID || e.SessionID != sessionID {
			return false
		}
		delete(s.sentiment, e.ID)
		n++
		return true
	})
	if sess, ok := s.sessions[sessionID]; ok && sess.UserID == userID {
		delete(s.sessions, sessionID)
	}
	return n, nil
}

// UnscoredEntries returns entries with no sentiment score, oldest first.
func (s *MemoryStore) UnscoredEntries(_ context.Context, limit int) ([]*types.JournalEntry, error) {
	limit, _ = ClampPage(limit, 0)
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := s.filter(func(e *types.JournalEntry) bool {
		_, scored := s.sentiment[e.ID]
		return !scored
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// SaveSentiment inserts or replaces an entry's score.
func (s *MemoryStore) SaveSentiment(_ context.Context, score *types.SentimentScore) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !slices.ContainsFunc(s.entries, func(e *types.JournalEntry) bool { return e.ID == score.EntryID }) {
		return ErrNotFound
	}
	c := *score
	c.Emotions = slices.Clone(score.Emotions)
	s.sentiment[score.EntryID] = &c
	return nil
}

// SentimentForSession returns the scores of a session's entries.
func (s *MemoryStore) SentimentForSession(_ context.Context, userID, sessionID string) ([]*types.SentimentScore, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*types.SentimentScore
	for _, e := range s.filter(func(e *types.JournalEntry) bool {
		return e.UserID == userID && e.SessionID == sessionID
	}) {
		if sc, ok := s.sentiment[e.ID]; ok {
			c := *sc
			c.Emotions = slices.Clone(sc.Emotions)
			out = append(out, &c)
		}
	}
	return out, nil
}

// SaveAnalysis stores a pattern analysis.
func (s *MemoryStore) SaveAnalysis(_ context.Context, a *types.PatternAnalysis) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *a
	c.Themes = slices.Clone(a.Themes)
	c.Insights = slices.Clone(a.Insights)
	s.analyses[a.UserID] = append(s.analyses[a.UserID], &c)
	return nil
}

// LatestAnalysis returns the newest analysis for a user.
func (s *MemoryStore) LatestAnalysis(_ context.Context, userID string) (*types.PatternAnalysis, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *types.PatternAnalysis
	for _, a := range s.analyses[userID] {
		if latest == nil || !a.CreatedAt.Before(latest.CreatedAt) {
			latest = a
		}
	}
	if latest == nil {
		return nil, ErrNotFound
	}
	c := *latest
	return &c, nil
}

// LeaderAttemptElect takes the lease when it is free or expired.
func (s *MemoryStore) LeaderAttemptElect(_ context.Context, params *LeaderElectParams) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if s.leaderID != "" && now.Before(s.leaderExpires) {
		return false, nil
	}
	s.leaderID = params.LeaderID
	s.leaderExpires = now.Add(params.TTL)
	return true, nil
}

// LeaderAttemptReelect extends the lease if params.LeaderID holds it.
func (s *MemoryStore) LeaderAttemptReelect(_ context.Context, params *LeaderElectParams) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if s.leaderID != params.LeaderID || now.After(s.leaderExpires) {
		return false, nil
	}
	s.leaderExpires = now.Add(params.TTL)
	return true, nil
}

// LeaderResign releases the lease if leaderID holds it.
func (s *MemoryStore) LeaderResign(_ context.Context, leaderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.leaderID == leaderID {
		s.leaderID = ""
		s.leaderExpires = time.Time{}
	}
	return nil
}
