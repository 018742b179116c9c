// Package leadership elects one trace instance to run background work.
//
// The leader owns the sentiment sweeper. Election is a TTL lease held in the
// configured store; the leader renews it before it expires or another
// instance takes over.
package leadership

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tracejournal/trace/storage"
)

// Default configuration values
const (
	DefaultLeaderTTL       = 30 * time.Second
	DefaultElectionPeriod  = 10 * time.Second
	DefaultReelectionDelay = 5 * time.Second
)

// Config holds configuration for leader election.
type Config struct {
	// LeaderTTL is how long a lease is valid.
	// Default: 30 seconds
	LeaderTTL time.Duration

	// ElectionPeriod is how often a follower tries to take the lease.
	// Default: 10 seconds
	ElectionPeriod time.Duration

	// ReelectionDelay is how often the leader renews. Must be less than LeaderTTL.
	// Default: 5 seconds
	ReelectionDelay time.Duration

	// OnError is called when a lease operation fails.
	OnError func(err error)
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		LeaderTTL:       DefaultLeaderTTL,
		ElectionPeriod:  DefaultElectionPeriod,
		ReelectionDelay: DefaultReelectionDelay,
	}
}

func (c *Config) applyDefaults() {
	if c.LeaderTTL <= 0 {
		c.LeaderTTL = DefaultLeaderTTL
	}
	if c.ElectionPeriod <= 0 {
		c.ElectionPeriod = DefaultElectionPeriod
	}
	if c.ReelectionDelay <= 0 || c.ReelectionDelay >= c.LeaderTTL {
		c.ReelectionDelay = c.LeaderTTL / 2
	}
}

// Callbacks are called when leadership changes.
type Callbacks struct {
	// OnBecameLeader receives the context passed to Start.
	OnBecameLeader func(ctx context.Context)

	// OnLostLeadership fires on a failed renewal, Resign, or Stop while leader.
	OnLostLeadership func(ctx context.Context)
}

// Elector runs the election loop for one instance.
type Elector struct {
	store      storage.LeaseStore
	instanceID string
	config     *Config
	callbacks  Callbacks

	mu       sync.RWMutex
	isLeader bool

	started atomic.Bool
	done    chan struct{}
	cancel  context.CancelFunc
}

// NewElector creates a new elector for instanceID.
func NewElector(store storage.LeaseStore, instanceID string, config *Config, callbacks Callbacks) *Elector {
	if config == nil {
		config = DefaultConfig()
	}
	cfg := *config
	cfg.applyDefaults()

	return &Elector{
		store:      store,
		instanceID: instanceID,
		config:     &cfg,
		callbacks:  callbacks,
	}
}

// InstanceID returns the id this elector campaigns under.
func (e *Elector) InstanceID() string {
	return e.instanceID
}

// Start runs the election loop in a goroutine.
func (e *Elector) Start(ctx context.Context) error {
	if !e.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	ctx, e.cancel = context.WithCancel(ctx)
	e.done = make(chan struct{})
	go e.run(ctx, e.done)

	return nil
}

// Stop ends the loop and resigns if this instance is the leader.
func (e *Elector) Stop(ctx context.Context) error {
	if !e.started.Load() {
		return ErrNotStarted
	}

	e.cancel()
	<-e.done

	if e.setLeader(false) {
		resignCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := e.store.LeaderResign(resignCtx, e.instanceID); err != nil {
			e.reportError(err)
		}
		if e.callbacks.OnLostLeadership != nil {
			e.callbacks.OnLostLeadership(ctx)
		}
	}

	e.started.Store(false)
	return nil
}

// IsLeader reports whether this instance currently holds the lease.
func (e *Elector) IsLeader() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.isLeader
}

// IsRunning reports whether the loop is running.
func (e *Elector) IsRunning() bool {
	return e.started.Load()
}

// Resign gives up the lease. The loop keeps running and may win it again.
func (e *Elector) Resign(ctx context.Context) error {
	if !e.setLeader(false) {
		return nil
	}

	if err := e.store.LeaderResign(ctx, e.instanceID); err != nil {
		return err
	}

	if e.callbacks.OnLostLeadership != nil {
		e.callbacks.OnLostLeadership(ctx)
	}
	return nil
}

// setLeader stores v and returns the previous value.
func (e *Elector) setLeader(v bool) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	was := e.isLeader
	e.isLeader = v
	return was
}

func (e *Elector) reportError(err error) {
	if e.config.OnError != nil {
		e.config.OnError(err)
	}
}

func (e *Elector) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	e.elect(ctx)

	for {
		delay := e.config.ElectionPeriod
		if e.IsLeader() {
			delay = e.config.ReelectionDelay
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			if e.IsLeader() {
				e.reelect(ctx)
			} else {
				e.elect(ctx)
			}
		}
	}
}

func (e *Elector) params() *storage.LeaderElectParams {
	return &storage.LeaderElectParams{
		LeaderID: e.instanceID,
		TTL:      e.config.LeaderTTL,
	}
}

func (e *Elector) elect(ctx context.Context) {
	elected, err := e.store.LeaderAttemptElect(ctx, e.params())
	if err != nil {
		if ctx.Err() == nil {
			e.reportError(err)
		}
		return
	}

	if elected && !e.setLeader(true) && e.callbacks.OnBecameLeader != nil {
		e.callbacks.OnBecameLeader(ctx)
	}
}

func (e *Elector) reelect(ctx context.Context) {
	ok, err := e.store.LeaderAttemptReelect(ctx, e.params())
	if err != nil && ctx.Err() != nil {
		// Stop handles resignation.
		return
	}
	if err != nil {
		e.reportError(err)
	}
	if err != nil || !ok {
		e.setLeader(false)
		if e.callbacks.OnLostLeadership != nil {
			e.callbacks.OnLostLeadership(ctx)
		}
	}
}
