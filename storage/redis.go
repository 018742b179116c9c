package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tracejournal/trace/types"
)

// DefaultRedisPrefix namespaces every key RedisStore writes.
const DefaultRedisPrefix = "trace:"

// RedisStore implements Store on Redis. Sessions are JSON snapshots guarded
// by WATCH; the journal log is a set of sorted-set indexes scored by
// creation time in microseconds.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore wraps client. An empty prefix uses DefaultRedisPrefix.
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisStore{client: client, prefix: prefix}
}

// OpenRedis parses a redis:// URL, connects and pings.
func OpenRedis(ctx context.Context, url, prefix string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return NewRedisStore(client, prefix), nil
}

// Close closes the client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Key layout, all under prefix:
//
//	session:{id}            session snapshot JSON
//	session:{id}:entries    zset of entry ids
//	entry:{id}              journal entry JSON
//	user:{id}:entries       zset of entry ids
//	user:{id}:sessions      zset of session ids by last activity
//	user:{id}:analysis      list of analyses, newest first
//	sentiment:{entry}       sentiment score JSON
//	unscored                zset of entry ids awaiting a score
//	leader:default          lease holder id, with TTL
func (s *RedisStore) key(parts ...string) string {
	k := s.prefix
	for i, p := range parts {
		if i > 0 {
			k += ":"
		}
		k += p
	}
	return k
}

func (s *RedisStore) sessionKey(id string) string {
	return s.key("session", id)
}

func (s *RedisStore) sessionEntriesKey(id string) string {
	return s.key("session", id, "entries")
}

func (s *RedisStore) entryKey(id string) string {
	return s.key("entry", id)
}

func (s *RedisStore) userEntriesKey(user string) string {
	return s.key("user", user, "entries")
}

func (s *RedisStore) userSessionsKey(user string) string {
	return s.key("user", user, "sessions")
}

func (s *RedisStore) userAnalysisKey(user string) string {
	return s.key("user", user, "analysis")
}

func (s *RedisStore) sentimentKey(entryID string) string {
	return s.key("sentiment", entryID)
}

func (s *RedisStore) unscoredKey() string {
	return s.key("unscored")
}

func (s *RedisStore) leaderKey() string {
	return s.key("leader", leaderName)
}

func score(t time.Time) float64 {
	return float64(t.UnixMicro())
}

// Load retrieves a session snapshot.
func (s *RedisStore) Load(ctx context.Context, sessionID string) (*types.Session, error) {
	data, err := s.client.Get(ctx, s.sessionKey(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	var sess types.Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return &sess, nil
}

// Commit writes the snapshot and the journal indexes in one MULTI/EXEC,
// aborted if the session key changed since it was read.
func (s *RedisStore) Commit(ctx context.Context, c *Commit) error {
	if err := c.Validate(); err != nil {
		return err
	}
	at := commitTime(c)
	key := s.sessionKey(c.SessionID)

	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		next := types.Session{
			ID:            c.SessionID,
			UserID:        c.UserID,
			Turns:         nonNil(c.Turns),
			TokenEstimate: c.TokenEstimate,
			Version:       1,
			CreatedAt:     at,
			UpdatedAt:     at,
		}

		data, err := tx.Get(ctx, key).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
			if c.ExpectedVersion != 0 {
				return ErrVersionConflict
			}
		case err != nil:
			return fmt.Errorf("failed to read session: %w", err)
		default:
			var cur types.Session
			if err := json.Unmarshal(data, &cur); err != nil {
				return fmt.Errorf("failed to unmarshal session: %w", err)
			}
			if cur.Version != c.ExpectedVersion {
				return ErrVersionConflict
			}
			next.Version = cur.Version + 1
			next.UserID = ownerAfter(cur.UserID, c.UserID)
			next.CreatedAt = cur.CreatedAt
		}

		snapshot, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("failed to marshal session: %w", err)
		}
		var entry []byte
		if c.Entry != nil {
			if entry, err = json.Marshal(c.Entry); err != nil {
				return fmt.Errorf("failed to marshal journal entry: %w", err)
			}
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, snapshot, 0)
			if e := c.Entry; e != nil {
				member := redis.Z{Score: score(e.CreatedAt), Member: e.ID}
				pipe.Set(ctx, s.entryKey(e.ID), entry, 0)
				pipe.ZAdd(ctx, s.userEntriesKey(e.UserID), member)
				pipe.ZAdd(ctx, s.sessionEntriesKey(e.SessionID), member)
				pipe.ZAdd(ctx, s.unscoredKey(), member)
				pipe.ZAdd(ctx, s.userSessionsKey(e.UserID), redis.Z{Score: score(e.CreatedAt), Member: e.SessionID})
			}
			return nil
		})
		return err
	}, key)

	if errors.Is(err, redis.TxFailedErr) {
		return ErrVersionConflict
	}
	if err != nil && !errors.Is(err, ErrVersionConflict) {
		return fmt.Errorf("failed to commit session: %w", err)
	}
	return err
}

// entries loads entry bodies by id, preserving order and skipping missing ones.
func (s *RedisStore) entries(ctx context.Context, ids []string) ([]*types.JournalEntry, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.entryKey(id)
	}
	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get entries: %w", err)
	}

	out := make([]*types.JournalEntry, 0, len(vals))
	for _, v := range vals {
		str, ok := v.(string)
		if !ok {
			continue
		}
		var e types.JournalEntry
		if err := json.Unmarshal([]byte(str), &e); err != nil {
			return nil, fmt.Errorf("failed to unmarshal entry: %w", err)
		}
		out = append(out, &e)
	}
	return out, nil
}

// ListEntries returns a page of a user's entries, newest first.
func (s *RedisStore) ListEntries(ctx context.Context, userID string, limit, offset int) ([]*types.JournalEntry, error) {
	limit, offset = ClampPage(limit, offset)
	ids, err := s.client.ZRevRange(ctx, s.userEntriesKey(userID), int64(offset), int64(offset+limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list entries: %w", err)
	}
	return s.entries(ctx, ids)
}

// ListSessionEntries returns one session's entries, oldest first.
func (s *RedisStore) ListSessionEntries(ctx context.Context, userID, sessionID string) ([]*types.JournalEntry, error) {
	ids, err := s.client.ZRange(ctx, s.sessionEntriesKey(sessionID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list session entries: %w", err)
	}
	all, err := s.entries(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, e := range all {
		if e.UserID == userID {
			out = append(out, e)
		}
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out, nil
}

// ListSessions summarizes a user's sessions, most recently active first.
func (s *RedisStore) ListSessions(ctx context.Context, userID string) ([]*types.SessionSummary, error) {
	sessions, err := s.client.ZRevRangeWithScores(ctx, s.userSessionsKey(userID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}

	out := make([]*types.SessionSummary, 0, len(sessions))
	for _, z := range sessions {
		id, _ := z.Member.(string)
		entries, err := s.ListSessionEntries(ctx, userID, id)
		if err != nil {
			return nil, err
		}
		if len(entries) == 0 {
			continue
		}
		out = append(out, &types.SessionSummary{
			SessionID:    id,
			EntryCount:   len(entries),
			FirstMessage: entries[0].UserMessage,
			StartedAt:    entries[0].CreatedAt,
			LastActivity: entries[len(entries)-1].CreatedAt,
		})
	}
	return out, nil
}

// EntriesSince returns a user's entries at or after since.
func (s *RedisStore) EntriesSince(ctx context.Context, userID string, since time.Time) ([]*types.JournalEntry, error) {
	ids, err := s.client.ZRangeByScore(ctx, s.userEntriesKey(userID), &redis.ZRangeBy{
		Min: strconv.FormatInt(since.UnixMicro(), 10),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to query entries: %w", err)
	}
	return s.entries(ctx, ids)
}

// DeleteSession removes a user's entries in a session from every index, with
// their scores, and the snapshot if the user owns it. It runs under WATCH on
// the snapshot so a concurrent Commit cannot slip an entry in between.
func (s *RedisStore) DeleteSession(ctx context.Context, userID, sessionID string) (int, error) {
	key := s.sessionKey(sessionID)
	var n int
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		entries, err := s.ListSessionEntries(ctx, userID, sessionID)
		if err != nil {
			return err
		}
		owned := false
		data, err := tx.Get(ctx, key).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return fmt.Errorf("failed to read session: %w", err)
		default:
			var cur types.Session
			if err := json.Unmarshal(data, &cur); err != nil {
				return fmt.Errorf("failed to unmarshal session: %w", err)
			}
			owned = cur.UserID == userID
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for _, e := range entries {
				pipe.Del(ctx, s.entryKey(e.ID), s.sentimentKey(e.ID))
				pipe.ZRem(ctx, s.sessionEntriesKey(sessionID), e.ID)
				pipe.ZRem(ctx, s.userEntriesKey(userID), e.ID)
				pipe.ZRem(ctx, s.unscoredKey(), e.ID)
			}
			pipe.ZRem(ctx, s.userSessionsKey(userID), sessionID)
			if owned {
				pipe.Del(ctx, key)
			}
			return nil
		})
		n = len(entries)
		return err
	}, key)
	if errors.Is(err, redis.TxFailedErr) {
		return 0, ErrVersionConflict
	}
	if err != nil {
		return 0, fmt.Errorf("failed to delete session: %w", err)
	}
	return n, nil
}

// UnscoredEntries returns entries with no sentiment score, oldest first.
func (s *RedisStore) UnscoredEntries(ctx context.Context, limit int) ([]*types.JournalEntry, error) {
	limit, _ = ClampPage(limit, 0)
	ids, err := s.client.ZRange(ctx, s.unscoredKey(), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list unscored entries: %w", err)
	}
	return s.entries(ctx, ids)
}

// SaveSentiment stores a score and removes the entry from the unscored set.
func (s *RedisStore) SaveSentiment(ctx context.Context, sc *types.SentimentScore) error {
	data, err := json.Marshal(sc)
	if err != nil {
		return fmt.Errorf("failed to marshal sentiment: %w", err)
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.sentimentKey(sc.EntryID), data, 0)
		pipe.ZRem(ctx, s.unscoredKey(), sc.EntryID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save sentiment: %w", err)
	}
	return nil
}

// SentimentForSession returns the scores of a session's entries.
func (s *RedisStore) SentimentForSession(ctx context.Context, userID, sessionID string) ([]*types.SentimentScore, error) {
	entries, err := s.ListSessionEntries(ctx, userID, sessionID)
	if err != nil || len(entries) == 0 {
		return nil, err
	}
	keys := make([]string, len(entries))
	for i, e := range entries {
		keys[i] = s.sentimentKey(e.ID)
	}
	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get sentiment: %w", err)
	}

	var out []*types.SentimentScore
	for _, v := range vals {
		str, ok := v.(string)
		if !ok {
			continue
		}
		var sc types.SentimentScore
		if err := json.Unmarshal([]byte(str), &sc); err != nil {
			return nil, fmt.Errorf("failed to unmarshal sentiment: %w", err)
		}
		out = append(out, &sc)
	}
	return out, nil
}

// SaveAnalysis pushes an analysis onto the user's history list.
func (s *RedisStore) SaveAnalysis(ctx context.Context, a *types.PatternAnalysis) error {
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("failed to marshal analysis: %w", err)
	}
	if err := s.client.LPush(ctx, s.userAnalysisKey(a.UserID), data).Err(); err != nil {
		return fmt.Errorf("failed to save analysis: %w", err)
	}
	return nil
}

// LatestAnalysis returns the newest analysis for a user.
func (s *RedisStore) LatestAnalysis(ctx context.Context, userID string) (*types.PatternAnalysis, error) {
	data, err := s.client.LIndex(ctx, s.userAnalysisKey(userID), 0).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest analysis: %w", err)
	}
	var a types.PatternAnalysis
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("failed to unmarshal analysis: %w", err)
	}
	return &a, nil
}

// LeaderAttemptElect takes the lease with SET NX PX.
func (s *RedisStore) LeaderAttemptElect(ctx context.Context, params *LeaderElectParams) (bool, error) {
	ok, err := s.client.SetNX(ctx, s.leaderKey(), params.LeaderID, params.TTL).Result()
	if err != nil {
		return false, fmt.Errorf("failed to attempt leader election: %w", err)
	}
	return ok, nil
}

// LeaderAttemptReelect extends the lease TTL if params.LeaderID holds it.
func (s *RedisStore) LeaderAttemptReelect(ctx context.Context, params *LeaderElectParams) (bool, error) {
	var held bool
	key := s.leaderKey()
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, key).Result()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return err
		}
		if cur != params.LeaderID {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.PExpire(ctx, key, params.TTL)
			return nil
		})
		held = err == nil
		return err
	}, key)
	if errors.Is(err, redis.TxFailedErr) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to attempt leader reelection: %w", err)
	}
	return held, nil
}

// LeaderResign deletes the lease if leaderID holds it.
func (s *RedisStore) LeaderResign(ctx context.Context, leaderID string) error {
	key := s.leaderKey()
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, key).Result()
		if errors.Is(err, redis.Nil) || (err == nil && cur != leaderID) {
			return nil
		}
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key)
			return nil
		})
		return err
	}, key)
	if err != nil && !errors.Is(err, redis.TxFailedErr) {
		return fmt.Errorf("failed to resign leadership: %w", err)
	}
	return nil
}
