// Package maintenance provides background services that run on the leader.
//
// The Sweeper scores journal entries that have no sentiment yet.
package maintenance

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tracejournal/trace/types"
)

// Default sweeper configuration values
const (
	DefaultSweepInterval    = 1 * time.Minute
	DefaultSweepBatchSize   = 20
	DefaultSweepConcurrency = 4
)

// Store is the storage the sweeper reads and writes.
type Store interface {
	UnscoredEntries(ctx context.Context, limit int) ([]*types.JournalEntry, error)
	SaveSentiment(ctx context.Context, score *types.SentimentScore) error
}

// Classifier scores one entry. *analysis.Classifier satisfies it.
type Classifier interface {
	Classify(ctx context.Context, entry *types.JournalEntry) (*types.SentimentScore, error)
}

// SweeperConfig holds configuration for the sweeper.
type SweeperConfig struct {
	// Interval is how often to sweep.
	// Default: 1 minute
	Interval time.Duration

	// BatchSize is the most entries scored per sweep.
	// Default: 20
	BatchSize int

	// Concurrency bounds parallel classifier calls.
	// Default: 4
	Concurrency int

	// OnScored is called with the number of entries scored in a sweep.
	OnScored func(count int)

	// OnError is called for every failure during a sweep.
	OnError func(err error)
}

// DefaultSweeperConfig returns the default sweeper configuration.
func DefaultSweeperConfig() *SweeperConfig {
	return &SweeperConfig{
		Interval:    DefaultSweepInterval,
		BatchSize:   DefaultSweepBatchSize,
		Concurrency: DefaultSweepConcurrency,
	}
}

func (c *SweeperConfig) applyDefaults() {
	if c.Interval <= 0 {
		c.Interval = DefaultSweepInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultSweepBatchSize
	}
	if c.Concurrency <= 0 {
		c.Concurrency = DefaultSweepConcurrency
	}
}

// SweepResult holds the results of one sweep.
type SweepResult struct {
	// Found is the number of unscored entries fetched.
	Found int

	// Scored is the number of entries scored and saved.
	Scored int

	// Errors contains any errors that occurred during the sweep.
	Errors []error
}

// Sweeper periodically classifies unscored journal entries.
type Sweeper struct {
	store      Store
	classifier Classifier
	config     *SweeperConfig

	started atomic.Bool
	done    chan struct{}
	cancel  context.CancelFunc
}

// NewSweeper creates a new sweeper.
func NewSweeper(store Store, classifier Classifier, config *SweeperConfig) *Sweeper {
	if config == nil {
		config = DefaultSweeperConfig()
	}
	cfg := *config
	cfg.applyDefaults()

	return &Sweeper{
		store:      store,
		classifier: classifier,
		config:     &cfg,
	}
}

// Start begins the sweep loop in a goroutine. It should only be called
// while this instance is the leader.
func (s *Sweeper) Start(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go s.run(ctx, s.done)

	return nil
}

// Stop stops the sweep loop and waits for the current sweep to finish.
func (s *Sweeper) Stop(ctx context.Context) error {
	if !s.started.Load() {
		return ErrNotStarted
	}

	s.cancel()
	select {
	case <-s.done:
	case <-ctx.Done():
		return ctx.Err()
	}

	s.started.Store(false)
	return nil
}

// run is the main sweep loop.
func (s *Sweeper) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	// Sweep immediately on start
	s.sweep(ctx)

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	result := s.RunOnce(ctx)

	if s.config.OnScored != nil && result.Scored > 0 {
		s.config.OnScored(result.Scored)
	}

	if s.config.OnError != nil {
		for _, err := range result.Errors {
			s.config.OnError(err)
		}
	}
}

// RunOnce performs one sweep and returns the result. A failure on one
// entry does not stop the others; that entry is retried next sweep.
func (s *Sweeper) RunOnce(ctx context.Context) *SweepResult {
	result := &SweepResult{}

	entries, err := s.store.UnscoredEntries(ctx, s.config.BatchSize)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Errorf("failed to list unscored entries: %w", err))
		return result
	}
	result.Found = len(entries)

	var (
		mu     sync.Mutex
		scored int
		errs   []error
	)
	var g errgroup.Group
	g.SetLimit(s.config.Concurrency)

	for _, entry := range entries {
		g.Go(func() error {
			err := s.score(ctx, entry)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
			} else {
				scored++
			}
			return nil
		})
	}
	_ = g.Wait()

	result.Scored = scored
	result.Errors = append(result.Errors, errs...)
	return result
}

func (s *Sweeper) score(ctx context.Context, entry *types.JournalEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	sc, err := s.classifier.Classify(ctx, entry)
	if err != nil {
		return err
	}
	if err := s.store.SaveSentiment(ctx, sc); err != nil {
		return fmt.Errorf("failed to save sentiment for entry %s: %w", entry.ID, err)
	}
	return nil
}
