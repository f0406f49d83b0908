package router

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"llmrouter/internal/cache"
	"llmrouter/internal/core"
	"llmrouter/internal/health"
	"llmrouter/internal/providers"
	"llmrouter/internal/settings"
	"llmrouter/internal/usage"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type stubResponse struct {
	completion core.Completion
}

func (stubResponse) Family() core.Family { return core.FamilyOpenAI }

func (r stubResponse) Normalize() core.Completion { return r.completion }

// stubProvider answers Generate with a fixed completion after consuming queued errors.
type stubProvider struct {
	mu        sync.Mutex
	genErrs   []error
	probeErr  error
	usage     core.Usage
	delay     time.Duration
	lastModel string

	calls  atomic.Int32
	probes atomic.Int32
}

func (s *stubProvider) Generate(ctx context.Context, req *core.ProviderRequest) (core.WireResponse, error) {
	s.calls.Add(1)
	s.mu.Lock()
	s.lastModel = req.Model
	delay := s.delay
	var err error
	if len(s.genErrs) > 0 {
		err = s.genErrs[0]
		s.genErrs = s.genErrs[1:]
	}
	u := s.usage
	s.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return stubResponse{completion: core.Completion{
		Model:   req.Model,
		Content: "echo: " + req.Prompt,
		Usage:   u,
	}}, nil
}

func (s *stubProvider) Probe(context.Context) error {
	s.probes.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.probeErr
}

func (s *stubProvider) failNext(errs ...error) {
	s.mu.Lock()
	s.genErrs = append(s.genErrs, errs...)
	s.mu.Unlock()
}

func (s *stubProvider) model() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastModel
}

type harness struct {
	router   *Router
	registry *providers.Registry
	cache    *cache.LocalCache
	usage    *usage.Accountant
	settings *settings.MemoryStore
	clock    *fakeClock

	mu    sync.Mutex
	stubs map[string]*stubProvider
}

func (h *harness) stub(key string) *stubProvider {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.stubs[key]
	if !ok {
		s = &stubProvider{usage: core.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15}}
		h.stubs[key] = s
	}
	return s
}

func providerConfig(key string, priority int, pricing core.Pricing) core.ProviderConfig {
	return core.ProviderConfig{
		Key:      key,
		Name:     key,
		Type:     "stub",
		BaseURL:  "http://" + key + ".test/v1",
		Model:    key + "-model",
		Enabled:  true,
		Priority: priority,
		Pricing:  pricing,
	}
}

var free = core.Pricing{Type: core.PricingFree}

func newHarness(t *testing.T, cfgs ...core.ProviderConfig) *harness {
	t.Helper()
	h := &harness{
		clock: &fakeClock{now: time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)},
		stubs: make(map[string]*stubProvider),
	}

	factory := providers.NewProviderFactory()
	factory.Add(providers.Registration{
		Type:   "stub",
		Family: core.FamilyOpenAI,
		New: func(cfg core.ProviderConfig, _ providers.ProviderOptions) core.Provider {
			return h.stub(cfg.Key)
		},
	})
	h.registry = providers.NewRegistry(factory)
	require.Empty(t, h.registry.Load(cfgs))

	h.cache = cache.NewLocalCache(time.Minute)
	h.cache.SetClock(h.clock.Now)
	h.usage = usage.NewAccountant()
	h.usage.SetClock(h.clock.Now)
	h.settings = settings.NewMemoryStore()

	prober := health.New(h.registry, health.Config{Timeout: time.Second, MaxConcurrency: 2})
	prober.SetClock(h.clock.Now)

	r, err := New(Deps{
		Registry: h.registry,
		Prober:   prober,
		Cache:    h.cache,
		Usage:    h.usage,
		Settings: h.settings,
	}, Config{
		LatencyWeight:      0.5,
		CostWeight:         0.5,
		FreshnessThreshold: 5 * time.Minute,
		ExecuteTimeout:     time.Second,
	})
	require.NoError(t, err)
	r.selector.SetClock(h.clock.Now)
	r.executor.now = h.clock.Now
	r.now = h.clock.Now
	h.router = r
	return h
}

// markUp records a successful probe with the given latency.
func (h *harness) markUp(t *testing.T, key string, latency time.Duration) {
	t.Helper()
	e, ok := h.registry.Get(key)
	require.True(t, ok, "unknown provider %s", key)
	e.Health.RecordSuccess(latency, h.clock.Now())
}

func (h *harness) markDown(t *testing.T, key string) {
	t.Helper()
	e, ok := h.registry.Get(key)
	require.True(t, ok, "unknown provider %s", key)
	e.Health.RecordFailure(context.DeadlineExceeded, h.clock.Now())
}

func request(prompt string) *core.GenerationRequest {
	return &core.GenerationRequest{Prompt: prompt, MaxTokens: 64}
}
