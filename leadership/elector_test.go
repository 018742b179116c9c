package leadership

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tracejournal/trace/storage"
)

// countingStore wraps the memory lease and counts calls.
type countingStore struct {
	*storage.MemoryStore
	electCalled   atomic.Int32
	reelectCalled atomic.Int32
	resignCalled  atomic.Int32
	reelectErr    atomic.Value // error
}

func newCountingStore() *countingStore {
	return &countingStore{MemoryStore: storage.NewMemoryStore()}
}

func (s *countingStore) LeaderAttemptElect(ctx context.Context, p *storage.LeaderElectParams) (bool, error) {
	s.electCalled.Add(1)
	return s.MemoryStore.LeaderAttemptElect(ctx, p)
}

func (s *countingStore) LeaderAttemptReelect(ctx context.Context, p *storage.LeaderElectParams) (bool, error) {
	s.reelectCalled.Add(1)
	if err, ok := s.reelectErr.Load().(error); ok && err != nil {
		return false, err
	}
	return s.MemoryStore.LeaderAttemptReelect(ctx, p)
}

func (s *countingStore) LeaderResign(ctx context.Context, id string) error {
	s.resignCalled.Add(1)
	return s.MemoryStore.LeaderResign(ctx, id)
}

func fastConfig() *Config {
	return &Config{
		LeaderTTL:       200 * time.Millisecond,
		ElectionPeriod:  20 * time.Millisecond,
		ReelectionDelay: 20 * time.Millisecond,
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestElector_StartStop(t *testing.T) {
	store := newCountingStore()
	elector := NewElector(store, "instance-1", fastConfig(), Callbacks{})
	ctx := context.Background()

	if err := elector.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := elector.Start(ctx); !errors.Is(err, ErrAlreadyStarted) {
		t.Fatalf("Start() error = %v, want %v", err, ErrAlreadyStarted)
	}
	if !elector.IsRunning() {
		t.Error("IsRunning() = false after Start")
	}

	waitFor(t, func() bool { return store.electCalled.Load() > 0 })

	if err := elector.Stop(ctx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if err := elector.Stop(ctx); !errors.Is(err, ErrNotStarted) {
		t.Errorf("Stop() error = %v, want %v", err, ErrNotStarted)
	}

	// A stopped elector can be started again.
	if err := elector.Start(ctx); err != nil {
		t.Fatalf("restart error = %v", err)
	}
	if err := elector.Stop(ctx); err != nil {
		t.Fatalf("Stop() after restart error = %v", err)
	}
}

func TestElector_BecomesLeaderAndResignsOnStop(t *testing.T) {
	store := newCountingStore()
	var became, lost atomic.Int32
	elector := NewElector(store, "instance-1", fastConfig(), Callbacks{
		OnBecameLeader:   func(context.Context) { became.Add(1) },
		OnLostLeadership: func(context.Context) { lost.Add(1) },
	})
	ctx := context.Background()

	if err := elector.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitFor(t, elector.IsLeader)
	waitFor(t, func() bool { return store.reelectCalled.Load() >= 2 })

	if became.Load() != 1 {
		t.Errorf("OnBecameLeader called %d times, want 1", became.Load())
	}

	if err := elector.Stop(ctx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if store.resignCalled.Load() != 1 {
		t.Errorf("LeaderResign called %d times, want 1", store.resignCalled.Load())
	}
	if lost.Load() != 1 {
		t.Errorf("OnLostLeadership called %d times, want 1", lost.Load())
	}

	// The lease is free again.
	ok, err := store.LeaderAttemptElect(ctx, &storage.LeaderElectParams{LeaderID: "other", TTL: time.Second})
	if err != nil || !ok {
		t.Errorf("elect after stop = %v, %v; want true", ok, err)
	}
}

func TestElector_OnlyOneLeader(t *testing.T) {
	store := newCountingStore()
	a := NewElector(store, "a", fastConfig(), Callbacks{})
	b := NewElector(store, "b", fastConfig(), Callbacks{})
	ctx := context.Background()

	if err := a.Start(ctx); err != nil {
		t.Fatal(err)
	}
	waitFor(t, a.IsLeader)
	if err := b.Start(ctx); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return store.electCalled.Load() >= 3 })

	if b.IsLeader() {
		t.Error("both instances report leadership")
	}

	// b takes over once a stops.
	if err := a.Stop(ctx); err != nil {
		t.Fatal(err)
	}
	waitFor(t, b.IsLeader)
	if err := b.Stop(ctx); err != nil {
		t.Fatal(err)
	}
}

func TestElector_Resign(t *testing.T) {
	store := newCountingStore()
	var lost atomic.Int32
	elector := NewElector(store, "instance-1", &Config{
		LeaderTTL:       time.Second,
		ElectionPeriod:  time.Hour,
		ReelectionDelay: 500 * time.Millisecond,
	}, Callbacks{
		OnLostLeadership: func(context.Context) { lost.Add(1) },
	})
	ctx := context.Background()

	if err := elector.Resign(ctx); err != nil {
		t.Fatalf("Resign() before leadership error = %v", err)
	}
	if store.resignCalled.Load() != 0 {
		t.Error("Resign() as follower reached the store")
	}

	if err := elector.Start(ctx); err != nil {
		t.Fatal(err)
	}
	waitFor(t, elector.IsLeader)

	if err := elector.Resign(ctx); err != nil {
		t.Fatalf("Resign() error = %v", err)
	}
	if elector.IsLeader() {
		t.Error("still leader after Resign")
	}
	if lost.Load() != 1 {
		t.Errorf("OnLostLeadership called %d times, want 1", lost.Load())
	}

	if err := elector.Stop(ctx); err != nil {
		t.Fatal(err)
	}
	if lost.Load() != 1 {
		t.Errorf("Stop after Resign fired OnLostLeadership again")
	}
}

func TestElector_FailedRenewalLosesLeadership(t *testing.T) {
	store := newCountingStore()
	var lost, errs atomic.Int32
	cfg := fastConfig()
	cfg.ElectionPeriod = time.Hour
	cfg.OnError = func(error) { errs.Add(1) }
	elector := NewElector(store, "instance-1", cfg, Callbacks{
		OnLostLeadership: func(context.Context) { lost.Add(1) },
	})
	ctx := context.Background()

	if err := elector.Start(ctx); err != nil {
		t.Fatal(err)
	}
	waitFor(t, elector.IsLeader)

	store.reelectErr.Store(errors.New("connection reset"))
	waitFor(t, func() bool { return !elector.IsLeader() })

	if lost.Load() != 1 {
		t.Errorf("OnLostLeadership called %d times, want 1", lost.Load())
	}
	if errs.Load() == 0 {
		t.Error("OnError was not called")
	}
	if err := elector.Stop(ctx); err != nil {
		t.Fatal(err)
	}
}

func TestConfigDefaults(t *testing.T) {
	config := DefaultConfig()
	if config.LeaderTTL != DefaultLeaderTTL {
		t.Errorf("LeaderTTL = %v, want %v", config.LeaderTTL, DefaultLeaderTTL)
	}
	if config.ElectionPeriod != DefaultElectionPeriod {
		t.Errorf("ElectionPeriod = %v, want %v", config.ElectionPeriod, DefaultElectionPeriod)
	}
	if config.ReelectionDelay != DefaultReelectionDelay {
		t.Errorf("ReelectionDelay = %v, want %v", config.ReelectionDelay, DefaultReelectionDelay)
	}

	// A renewal slower than the lease is pulled under it.
	e := NewElector(newCountingStore(), "x", &Config{LeaderTTL: time.Second, ReelectionDelay: 2 * time.Second}, Callbacks{})
	if e.config.ReelectionDelay != 500*time.Millisecond {
		t.Errorf("ReelectionDelay = %v, want 500ms", e.config.ReelectionDelay)
	}
}
