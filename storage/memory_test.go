package storage

import (
	"context"
	"testing"
	"time"

	"github.com/tracejournal/trace/types"
)

func TestMemoryStore(t *testing.T) {
	runStoreSuite(t, func(t *testing.T) Store { return NewMemoryStore() })
}

func TestMemoryStore_LoadReturnsCopy(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	if err := s.Commit(ctx, &Commit{SessionID: "s1", Turns: turns("a", "b"), At: base}); err != nil {
		t.Fatalf("Commit() failed: %v", err)
	}

	got, _ := s.Load(ctx, "s1")
	got.Turns[0].Content = "mutated"
	got.Turns = append(got.Turns, types.NewTurn(types.RoleUser, "extra", base))

	again, _ := s.Load(ctx, "s1")
	if len(again.Turns) != 2 || again.Turns[0].Content != "a" {
		t.Errorf("stored session was mutated through Load: %+v", again.Turns)
	}
}

func TestMemoryStore_LeaseExpires(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	now := base
	s.now = func() time.Time { return now }

	if ok, _ := s.LeaderAttemptElect(ctx, &LeaderElectParams{LeaderID: "a", TTL: time.Second}); !ok {
		t.Fatal("a not elected")
	}
	now = now.Add(2 * time.Second)

	if ok, _ := s.LeaderAttemptReelect(ctx, &LeaderElectParams{LeaderID: "a", TTL: time.Second}); ok {
		t.Error("a reelected after expiry")
	}
	if ok, _ := s.LeaderAttemptElect(ctx, &LeaderElectParams{LeaderID: "b", TTL: time.Second}); !ok {
		t.Error("b not elected after expiry")
	}
}

func TestMemoryStore_SaveSentimentUnknownEntry(t *testing.T) {
	s := NewMemoryStore()
	err := s.SaveSentiment(context.Background(), &types.SentimentScore{EntryID: "missing", Label: types.SentimentNeutral})
	if err != ErrNotFound {
		t.Errorf("SaveSentiment() error = %v, want ErrNotFound", err)
	}
}
