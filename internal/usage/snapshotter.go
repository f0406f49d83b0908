package usage

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultSnapshotInterval is used when no interval is configured.
const DefaultSnapshotInterval = 30 * time.Second

// Snapshotter periodically saves the accountant's summaries to a Store and
// restores them on startup.
type Snapshotter struct {
	acct     *Accountant
	store    Store
	interval time.Duration

	done    chan struct{}
	wg      sync.WaitGroup
	started atomic.Bool
	closed  atomic.Bool
}

// NewSnapshotter creates a snapshotter. Call Restore, then Start.
func NewSnapshotter(acct *Accountant, store Store, interval time.Duration) *Snapshotter {
	if interval <= 0 {
		interval = DefaultSnapshotInterval
	}
	return &Snapshotter{
		acct:     acct,
		store:    store,
		interval: interval,
		done:     make(chan struct{}),
	}
}

// Restore loads persisted summaries into the accountant.
func (s *Snapshotter) Restore(ctx context.Context) error {
	summaries, err := s.store.Load(ctx)
	if err != nil {
		return err
	}
	s.acct.Restore(summaries)
	slog.Info("usage summaries restored", "providers", len(summaries))
	return nil
}

// Start begins the background flush loop.
func (s *Snapshotter) Start() {
	if s.started.Swap(true) {
		return
	}
	s.wg.Add(1)
	go s.flushLoop()
}

// Flush saves the current summaries.
func (s *Snapshotter) Flush(ctx context.Context) error {
	return s.store.Save(ctx, s.acct.Summaries())
}

func (s *Snapshotter) flushLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.flushWithTimeout()
		case <-s.done:
			return
		}
	}
}

func (s *Snapshotter) flushWithTimeout() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := s.Flush(ctx); err != nil {
		slog.Error("failed to save usage summaries", "error", err)
	}
}

// Close stops the loop, writes a final snapshot and closes the store.
// Close is idempotent.
func (s *Snapshotter) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	close(s.done)
	s.wg.Wait()

	s.flushWithTimeout()
	return s.store.Close()
}
