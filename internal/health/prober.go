// Package health probes configured providers and keeps their availability and
// latency state current.
package health

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"llmrouter/internal/providers"
)

// Defaults used when Config leaves a field unset.
const (
	DefaultTimeout        = 5 * time.Second
	DefaultMaxConcurrency = 4
)

// Source is the provider set being probed.
type Source interface {
	Snapshot() []*providers.Entry
	Get(key string) (*providers.Entry, bool)
}

// Config controls probe scheduling.
type Config struct {
	// Interval between background cycles. Zero disables periodic probing.
	Interval time.Duration
	// Timeout bounds each individual probe.
	Timeout time.Duration
	// MaxConcurrency bounds the number of probes in flight.
	MaxConcurrency int
}

// Result is the outcome of probing one provider.
type Result struct {
	Key       string
	Available bool
	Latency   time.Duration
	Err       error
}

// Observer is notified after every probe. err is nil on success.
type Observer func(key string, latency time.Duration, err error)

// Prober runs probe cycles over a Source.
type Prober struct {
	source Source
	cfg    Config
	now    func() time.Time

	obsMu    sync.RWMutex
	observer Observer

	kickOnce sync.Once
	initOnce sync.Once
	initDone chan struct{}

	lifeMu sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a prober. Nothing runs until Start, WaitForInitialization or ProbeAll.
func New(source Source, cfg Config) *Prober {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = DefaultMaxConcurrency
	}
	return &Prober{
		source:   source,
		cfg:      cfg,
		now:      time.Now,
		initDone: make(chan struct{}),
	}
}

// SetClock replaces the time source. Probe latency is measured with it too.
func (p *Prober) SetClock(now func() time.Time) {
	p.now = now
}

// SetObserver installs a callback invoked after each probe.
func (p *Prober) SetObserver(fn Observer) {
	p.obsMu.Lock()
	p.observer = fn
	p.obsMu.Unlock()
}

// ProbeAll probes every enabled provider concurrently and records the outcomes.
// Failures are recorded against the provider, never returned. Results are sorted by key.
func (p *Prober) ProbeAll(ctx context.Context) []Result {
	defer p.markInitialized()

	var targets []*providers.Entry
	for _, e := range p.source.Snapshot() {
		if e.Config.Enabled {
			targets = append(targets, e)
		}
	}

	results := make([]Result, len(targets))
	var g errgroup.Group
	g.SetLimit(p.cfg.MaxConcurrency)
	for i, e := range targets {
		g.Go(func() error {
			results[i] = p.probeOne(ctx, e)
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(results, func(i, j int) bool { return results[i].Key < results[j].Key })

	available := 0
	for _, r := range results {
		if r.Available {
			available++
		}
	}
	slog.Debug("probe cycle finished", "probed", len(results), "available", available)
	return results
}

func (p *Prober) probeOne(ctx context.Context, e *providers.Entry) Result {
	key := e.Config.Key
	probeCtx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	wasAvailable := e.Health.Snapshot().Available
	start := p.now()
	err := e.Provider.Probe(probeCtx)
	end := p.now()
	latency := end.Sub(start)

	if err != nil {
		e.Health.RecordFailure(err, end)
		if wasAvailable {
			slog.Warn("provider became unavailable", "provider", key, "error", err)
		} else {
			slog.Debug("provider probe failed", "provider", key, "error", err)
		}
	} else {
		e.Health.RecordSuccess(latency, end)
		if !wasAvailable {
			slog.Info("provider available", "provider", key, "latency_ms", latency.Milliseconds())
		}
	}
	p.notify(key, latency, err)
	return Result{Key: key, Available: err == nil, Latency: latency, Err: err}
}

func (p *Prober) notify(key string, latency time.Duration, err error) {
	p.obsMu.RLock()
	fn := p.observer
	p.obsMu.RUnlock()
	if fn != nil {
		fn(key, latency, err)
	}
}

// MarkFailure records a failure observed outside a probe, typically by the executor.
// The provider stays unavailable until its next successful probe.
func (p *Prober) MarkFailure(key string, err error) {
	e, ok := p.source.Get(key)
	if !ok {
		return
	}
	e.Health.RecordFailure(err, p.now())
	slog.Warn("provider marked unavailable after request failure", "provider", key, "error", err)
}

func (p *Prober) markInitialized() {
	p.initOnce.Do(func() { close(p.initDone) })
}

// Initialized reports whether at least one probe cycle has completed.
func (p *Prober) Initialized() bool {
	select {
	case <-p.initDone:
		return true
	default:
		return false
	}
}

// kickoff starts the initial cycle at most once per prober.
func (p *Prober) kickoff() {
	p.kickOnce.Do(func() {
		go p.ProbeAll(context.Background())
	})
}

// WaitForInitialization blocks until the first probe cycle has completed, starting
// it if needed. Concurrent callers share that cycle. A cycle where every probe
// fails still counts as completed.
func (p *Prober) WaitForInitialization(ctx context.Context) error {
	p.kickoff()
	select {
	case <-p.initDone:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Start runs the initial cycle and then re-probes every Interval until Stop.
// Calling Start on a running prober is a no-op.
func (p *Prober) Start() {
	p.lifeMu.Lock()
	defer p.lifeMu.Unlock()
	if p.cancel != nil {
		return
	}

	p.kickoff()
	if p.cfg.Interval <= 0 {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.wg.Add(1)
	go p.loop(ctx)
	slog.Info("health prober started", "interval", p.cfg.Interval.String(), "timeout", p.cfg.Timeout.String())
}

func (p *Prober) loop(ctx context.Context) {
	defer p.wg.Done()
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.ProbeAll(ctx)
		}
	}
}

// Stop halts periodic probing and waits for an in-progress cycle to finish.
func (p *Prober) Stop() {
	p.lifeMu.Lock()
	cancel := p.cancel
	p.cancel = nil
	p.lifeMu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	p.wg.Wait()
	slog.Info("health prober stopped")
}

// TriggerNow runs a cycle synchronously.
func (p *Prober) TriggerNow(ctx context.Context) []Result {
	return p.ProbeAll(ctx)
}
