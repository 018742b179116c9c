package storage

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/tracejournal/trace/types"
)

var base = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func turns(contents ...string) []types.Turn {
	out := make([]types.Turn, len(contents))
	for i, c := range contents {
		role := types.RoleUser
		if i%2 == 1 {
			role = types.RoleAssistant
		}
		out[i] = types.NewTurn(role, c, base.Add(time.Duration(i)*time.Minute))
	}
	return out
}

func entry(userID, sessionID, msg string, at time.Time) *types.JournalEntry {
	return &types.JournalEntry{
		ID:          uuid.NewString(),
		UserID:      userID,
		SessionID:   sessionID,
		UserMessage: msg,
		AIResponse:  "reply to " + msg,
		CreatedAt:   at,
	}
}

// commitEntries appends one entry per message to a fresh session.
func commitEntries(t *testing.T, s Store, userID, sessionID string, at time.Time, msgs ...string) []*types.JournalEntry {
	t.Helper()
	ctx := context.Background()

	var version int64
	if sess, err := s.Load(ctx, sessionID); err == nil {
		version = sess.Version
	}

	var out []*types.JournalEntry
	for i, m := range msgs {
		e := entry(userID, sessionID, m, at.Add(time.Duration(i)*time.Minute))
		err := s.Commit(ctx, &Commit{
			SessionID:       sessionID,
			UserID:          userID,
			ExpectedVersion: version,
			Turns:           turns(m, e.AIResponse),
			Entry:           e,
			At:              e.CreatedAt,
		})
		if err != nil {
			t.Fatalf("Commit(%q) failed: %v", m, err)
		}
		version++
		out = append(out, e)
	}
	return out
}

// runStoreSuite checks the behavior every backend must share. newStore must
// return an empty store.
func runStoreSuite(t *testing.T, newStore func(t *testing.T) Store) {
	ctx := context.Background()

	t.Run("LoadMissing", func(t *testing.T) {
		s := newStore(t)
		if _, err := s.Load(ctx, "nope"); !errors.Is(err, ErrNotFound) {
			t.Errorf("Load() error = %v, want ErrNotFound", err)
		}
	})

	t.Run("CommitAndLoad", func(t *testing.T) {
		s := newStore(t)
		want := turns("hello", "hi there")
		err := s.Commit(ctx, &Commit{SessionID: "s1", UserID: "u1", Turns: want, TokenEstimate: 12, At: base})
		if err != nil {
			t.Fatalf("Commit() failed: %v", err)
		}

		got, err := s.Load(ctx, "s1")
		if err != nil {
			t.Fatalf("Load() failed: %v", err)
		}
		if got.Version != 1 || got.UserID != "u1" || got.TokenEstimate != 12 {
			t.Errorf("Load() = %+v", got)
		}
		if len(got.Turns) != len(want) {
			t.Fatalf("turns = %d, want %d", len(got.Turns), len(want))
		}
		for i := range want {
			if got.Turns[i].ID != want[i].ID || got.Turns[i].Content != want[i].Content || got.Turns[i].Role != want[i].Role {
				t.Errorf("turn %d = %+v, want %+v", i, got.Turns[i], want[i])
			}
		}
	})

	t.Run("VersionConflict", func(t *testing.T) {
		s := newStore(t)
		if err := s.Commit(ctx, &Commit{SessionID: "s1", UserID: "u1", Turns: turns("a"), At: base}); err != nil {
			t.Fatalf("first Commit() failed: %v", err)
		}

		// A second first-commit and a stale update both lose.
		stale := []*Commit{
			{SessionID: "s1", UserID: "u1", ExpectedVersion: 0, Turns: turns("b"), Entry: entry("u1", "s1", "b", base)},
			{SessionID: "s1", UserID: "u1", ExpectedVersion: 7, Turns: turns("c"), Entry: entry("u1", "s1", "c", base)},
		}
		for _, c := range stale {
			if err := s.Commit(ctx, c); !errors.Is(err, ErrVersionConflict) {
				t.Errorf("Commit(v%d) error = %v, want ErrVersionConflict", c.ExpectedVersion, err)
			}
		}

		got, _ := s.Load(ctx, "s1")
		if got.Version != 1 || got.Turns[0].Content != "a" {
			t.Errorf("session changed by losing commit: %+v", got)
		}
		entries, _ := s.ListSessionEntries(ctx, "u1", "s1")
		if len(entries) != 0 {
			t.Errorf("losing commit appended %d entries", len(entries))
		}
	})

	t.Run("ConcurrentCommitsOneWinner", func(t *testing.T) {
		s := newStore(t)
		const writers = 8
		var wins atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				err := s.Commit(ctx, &Commit{SessionID: "race", UserID: "u1", Turns: turns("x"), At: base})
				if err == nil {
					wins.Add(1)
				} else if !errors.Is(err, ErrVersionConflict) {
					t.Errorf("Commit() error = %v", err)
				}
			}()
		}
		wg.Wait()
		if wins.Load() != 1 {
			t.Errorf("winners = %d, want 1", wins.Load())
		}
	})

	t.Run("ClaimUnownedSession", func(t *testing.T) {
		s := newStore(t)
		if err := s.Commit(ctx, &Commit{SessionID: "s1", Turns: turns("a"), At: base}); err != nil {
			t.Fatalf("anonymous Commit() failed: %v", err)
		}
		for i, user := range []string{"alice", "bob"} {
			err := s.Commit(ctx, &Commit{SessionID: "s1", UserID: user, ExpectedVersion: int64(i + 1), Turns: turns("a", "b"), At: base})
			if err != nil {
				t.Fatalf("Commit(%s) failed: %v", user, err)
			}
		}
		got, _ := s.Load(ctx, "s1")
		if got.UserID != "alice" || got.Version != 3 {
			t.Errorf("Load() = owner %q version %d, want alice and 3", got.UserID, got.Version)
		}
	})

	t.Run("DeleteSession", func(t *testing.T) {
		s := newStore(t)
		mine := commitEntries(t, s, "u1", "s1", base, "first", "second")
		commitEntries(t, s, "u2", "s1", base.Add(time.Hour), "intruder")
		commitEntries(t, s, "u1", "s2", base.Add(2*time.Hour), "keep me")
		err := s.SaveSentiment(ctx, &types.SentimentScore{EntryID: mine[0].ID, Label: types.SentimentPositive, Score: 0.5, ScoredAt: base})
		if err != nil {
			t.Fatalf("SaveSentiment() failed: %v", err)
		}

		n, err := s.DeleteSession(ctx, "u2", "s1")
		if err != nil || n != 1 {
			t.Fatalf("DeleteSession(u2) = %d, %v, want 1", n, err)
		}
		if got, _ := s.ListSessionEntries(ctx, "u1", "s1"); len(got) != 2 {
			t.Errorf("u1 entries after u2 delete = %v", messages(got))
		}
		if _, err := s.Load(ctx, "s1"); err != nil {
			t.Errorf("snapshot owned by u1 removed by u2: %v", err)
		}

		n, err = s.DeleteSession(ctx, "u1", "s1")
		if err != nil || n != 2 {
			t.Fatalf("DeleteSession(u1) = %d, %v, want 2", n, err)
		}
		if _, err := s.Load(ctx, "s1"); !errors.Is(err, ErrNotFound) {
			t.Errorf("Load() after delete error = %v, want ErrNotFound", err)
		}
		if scores, _ := s.SentimentForSession(ctx, "u1", "s1"); len(scores) != 0 {
			t.Errorf("scores survived delete: %+v", scores)
		}
		sessions, _ := s.ListSessions(ctx, "u1")
		if len(sessions) != 1 || sessions[0].SessionID != "s2" {
			t.Errorf("ListSessions() after delete = %+v", sessions)
		}
		unscored, _ := s.UnscoredEntries(ctx, 10)
		if got := messages(unscored); len(got) != 1 || got[0] != "keep me" {
			t.Errorf("UnscoredEntries() after delete = %v", got)
		}

		if n, err := s.DeleteSession(ctx, "u1", "s1"); err != nil || n != 0 {
			t.Errorf("second DeleteSession() = %d, %v, want 0", n, err)
		}
	})

	t.Run("InvalidCommit", func(t *testing.T) {
		s := newStore(t)
		err := s.Commit(ctx, &Commit{SessionID: "", Turns: turns("a")})
		if !errors.Is(err, ErrInvalidCommit) {
			t.Errorf("Commit() error = %v, want ErrInvalidCommit", err)
		}
	})

	t.Run("JournalQueries", func(t *testing.T) {
		s := newStore(t)
		commitEntries(t, s, "u1", "morning", base, "woke early", "coffee")
		commitEntries(t, s, "u1", "evening", base.Add(10*time.Hour), "long walk")
		commitEntries(t, s, "u2", "other", base, "not yours")

		page, err := s.ListEntries(ctx, "u1", 2, 0)
		if err != nil {
			t.Fatalf("ListEntries() failed: %v", err)
		}
		if len(page) != 2 || page[0].UserMessage != "long walk" || page[1].UserMessage != "coffee" {
			t.Errorf("ListEntries(2, 0) = %v", messages(page))
		}
		page, _ = s.ListEntries(ctx, "u1", 2, 2)
		if len(page) != 1 || page[0].UserMessage != "woke early" {
			t.Errorf("ListEntries(2, 2) = %v", messages(page))
		}

		sessions, err := s.ListSessions(ctx, "u1")
		if err != nil {
			t.Fatalf("ListSessions() failed: %v", err)
		}
		if len(sessions) != 2 {
			t.Fatalf("ListSessions() = %d sessions, want 2", len(sessions))
		}
		if sessions[0].SessionID != "evening" || sessions[1].SessionID != "morning" {
			t.Errorf("session order = %s, %s", sessions[0].SessionID, sessions[1].SessionID)
		}
		if sessions[1].EntryCount != 2 || sessions[1].FirstMessage != "woke early" {
			t.Errorf("morning summary = %+v", sessions[1])
		}

		since, _ := s.EntriesSince(ctx, "u1", base.Add(time.Minute))
		if got := messages(since); len(got) != 2 || got[0] != "coffee" || got[1] != "long walk" {
			t.Errorf("EntriesSince() = %v", got)
		}

		// Another user's session is invisible.
		if got, _ := s.ListSessionEntries(ctx, "u1", "other"); len(got) != 0 {
			t.Errorf("ListSessionEntries() leaked %d entries", len(got))
		}
	})

	t.Run("Sentiment", func(t *testing.T) {
		s := newStore(t)
		entries := commitEntries(t, s, "u1", "s1", base, "great day", "tired now")

		unscored, err := s.UnscoredEntries(ctx, 10)
		if err != nil {
			t.Fatalf("UnscoredEntries() failed: %v", err)
		}
		if len(unscored) != 2 {
			t.Fatalf("UnscoredEntries() = %d, want 2", len(unscored))
		}

		err = s.SaveSentiment(ctx, &types.SentimentScore{
			EntryID:  entries[0].ID,
			Label:    types.SentimentPositive,
			Score:    0.9,
			Emotions: []string{"joy"},
			ScoredAt: base,
		})
		if err != nil {
			t.Fatalf("SaveSentiment() failed: %v", err)
		}

		unscored, _ = s.UnscoredEntries(ctx, 10)
		if len(unscored) != 1 || unscored[0].ID != entries[1].ID {
			t.Errorf("UnscoredEntries() after save = %v", messages(unscored))
		}

		scores, err := s.SentimentForSession(ctx, "u1", "s1")
		if err != nil {
			t.Fatalf("SentimentForSession() failed: %v", err)
		}
		if len(scores) != 1 || scores[0].Label != types.SentimentPositive || scores[0].Emotions[0] != "joy" {
			t.Errorf("SentimentForSession() = %+v", scores)
		}
		if scores, _ := s.SentimentForSession(ctx, "u2", "s1"); len(scores) != 0 {
			t.Errorf("SentimentForSession() leaked to another user")
		}
	})

	t.Run("Analysis", func(t *testing.T) {
		s := newStore(t)
		if _, err := s.LatestAnalysis(ctx, "u1"); !errors.Is(err, ErrNotFound) {
			t.Errorf("LatestAnalysis() error = %v, want ErrNotFound", err)
		}
		for i, summary := range []string{"older", "newer"} {
			err := s.SaveAnalysis(ctx, &types.PatternAnalysis{
				ID:          uuid.NewString(),
				UserID:      "u1",
				WindowStart: base.AddDate(0, 0, -30),
				WindowEnd:   base,
				EntryCount:  3,
				Summary:     summary,
				Themes:      []string{"work"},
				CreatedAt:   base.Add(time.Duration(i) * time.Hour),
			})
			if err != nil {
				t.Fatalf("SaveAnalysis() failed: %v", err)
			}
		}
		got, err := s.LatestAnalysis(ctx, "u1")
		if err != nil {
			t.Fatalf("LatestAnalysis() failed: %v", err)
		}
		if got.Summary != "newer" || len(got.Themes) != 1 {
			t.Errorf("LatestAnalysis() = %+v", got)
		}
	})

	t.Run("Leader", func(t *testing.T) {
		s := newStore(t)
		a := &LeaderElectParams{LeaderID: "a", TTL: 30 * time.Second}
		b := &LeaderElectParams{LeaderID: "b", TTL: 30 * time.Second}

		if ok, err := s.LeaderAttemptElect(ctx, a); err != nil || !ok {
			t.Fatalf("elect a = %v, %v", ok, err)
		}
		if ok, _ := s.LeaderAttemptElect(ctx, b); ok {
			t.Error("b elected while a holds the lease")
		}
		if ok, _ := s.LeaderAttemptReelect(ctx, b); ok {
			t.Error("b reelected without holding the lease")
		}
		if ok, err := s.LeaderAttemptReelect(ctx, a); err != nil || !ok {
			t.Errorf("reelect a = %v, %v", ok, err)
		}
		if err := s.LeaderResign(ctx, "b"); err != nil {
			t.Fatalf("resign b failed: %v", err)
		}
		if ok, _ := s.LeaderAttemptElect(ctx, b); ok {
			t.Error("resign by non-holder released the lease")
		}
		if err := s.LeaderResign(ctx, "a"); err != nil {
			t.Fatalf("resign a failed: %v", err)
		}
		if ok, err := s.LeaderAttemptElect(ctx, b); err != nil || !ok {
			t.Errorf("elect b after resign = %v, %v", ok, err)
		}
	})
}

func messages(entries []*types.JournalEntry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.UserMessage
	}
	return out
}

func TestClampPage(t *testing.T) {
	tests := []struct {
		limit, offset         int
		wantLimit, wantOffset int
	}{
		{0, 0, DefaultLimit, 0},
		{-5, -1, DefaultLimit, 0},
		{10, 20, 10, 20},
		{MaxLimit + 1, 0, MaxLimit, 0},
	}
	for _, tt := range tests {
		l, o := ClampPage(tt.limit, tt.offset)
		if l != tt.wantLimit || o != tt.wantOffset {
			t.Errorf("ClampPage(%d, %d) = (%d, %d), want (%d, %d)", tt.limit, tt.offset, l, o, tt.wantLimit, tt.wantOffset)
		}
	}
}
