// Package router selects a provider for each generation request, serves
// repeated requests from cache and executes the rest against the chosen provider.
package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"llmrouter/config"
	"llmrouter/internal/cache"
	"llmrouter/internal/core"
	"llmrouter/internal/health"
	"llmrouter/internal/providers"
	"llmrouter/internal/settings"
	"llmrouter/internal/usage"
)

// Config holds the tunables of a Router.
type Config struct {
	LatencyWeight      float64
	CostWeight         float64
	FreshnessThreshold time.Duration
	ExecuteTimeout     time.Duration
	CacheTTL           time.Duration
	ProbeInterval      time.Duration
	ProbeTimeout       time.Duration
	ProbeConcurrency   int
}

// ConfigFrom maps the router section of the application config.
func ConfigFrom(rc config.RouterConfig) Config {
	return Config{
		LatencyWeight:      rc.LatencyWeight,
		CostWeight:         rc.CostWeight,
		FreshnessThreshold: rc.FreshnessThreshold,
		ExecuteTimeout:     rc.ExecuteTimeout,
		CacheTTL:           rc.CacheTTL,
		ProbeInterval:      rc.ProbeInterval,
		ProbeTimeout:       rc.ProbeTimeout,
		ProbeConcurrency:   rc.ProbeConcurrency,
	}
}

// ConfigSource produces the current provider configs for a refresh.
type ConfigSource func(ctx context.Context) ([]core.ProviderConfig, error)

// Deps are the collaborators of a Router. Only Registry is required.
type Deps struct {
	Registry *providers.Registry
	Prober   *health.Prober
	Cache    cache.Cache
	Usage    *usage.Accountant
	Settings settings.Store
	Recorder Recorder
	Source   ConfigSource
}

// ProviderStats is the admin view of one provider.
type ProviderStats struct {
	Name         string       `json:"name"`
	Type         string       `json:"type"`
	Endpoint     string       `json:"endpoint"`
	Model        string       `json:"model"`
	Enabled      bool         `json:"enabled"`
	Priority     int          `json:"priority"`
	IsAvailable  bool         `json:"is_available"`
	AvgLatencyMs float64      `json:"avg_latency_ms"`
	LastProbeAt  time.Time    `json:"last_probe_at,omitzero"`
	LastError    string       `json:"last_error,omitempty"`
	Pricing      core.Pricing `json:"pricing"`
}

// RefreshReport describes what a refresh changed.
type RefreshReport struct {
	Added   []string `json:"added"`
	Removed []string `json:"removed"`
	Changed []string `json:"changed"`
	Updated []string `json:"updated"`
	Skipped []string `json:"skipped"`
	// Invalidated is the number of cache entries dropped.
	Invalidated int `json:"invalidated"`
}

// Router is the entry point for generation requests and provider administration.
type Router struct {
	registry *providers.Registry
	prober   *health.Prober
	cache    cache.Cache
	usage    *usage.Accountant
	settings settings.Store
	recorder Recorder
	source   ConfigSource

	selector *Selector
	executor *Executor
	validate *validator.Validate
	now      func() time.Time
}

// New wires a Router. Missing optional collaborators get in-memory defaults.
func New(deps Deps, cfg Config) (*Router, error) {
	if deps.Registry == nil {
		return nil, fmt.Errorf("registry is required")
	}
	if deps.Prober == nil {
		deps.Prober = health.New(deps.Registry, health.Config{
			Interval:       cfg.ProbeInterval,
			Timeout:        cfg.ProbeTimeout,
			MaxConcurrency: cfg.ProbeConcurrency,
		})
	}
	if deps.Cache == nil {
		deps.Cache = cache.NewLocalCache(cfg.CacheTTL)
	}
	if deps.Usage == nil {
		deps.Usage = usage.NewAccountant()
	}
	if deps.Recorder == nil {
		deps.Recorder = nopRecorder{}
	}
	deps.Usage.Ensure(deps.Registry.Keys()...)

	r := &Router{
		registry: deps.Registry,
		prober:   deps.Prober,
		cache:    deps.Cache,
		usage:    deps.Usage,
		settings: deps.Settings,
		recorder: deps.Recorder,
		source:   deps.Source,
		selector: NewSelector(cfg.LatencyWeight, cfg.CostWeight, cfg.FreshnessThreshold),
		executor: NewExecutor(cfg.ExecuteTimeout, deps.Usage, deps.Prober, deps.Recorder),
		validate: validator.New(validator.WithRequiredStructEnabled()),
		now:      time.Now,
	}
	return r, nil
}

// LoadPersistedWeights replaces the configured weights with saved ones, if any.
func (r *Router) LoadPersistedWeights(ctx context.Context) error {
	if r.settings == nil {
		return nil
	}
	latency, cost := r.selector.Weights()
	latency, cost, err := settings.Weights(ctx, r.settings, latency, cost)
	if err != nil {
		return err
	}
	r.selector.SetWeights(latency, cost)
	return nil
}

// Start begins background probing.
func (r *Router) Start() {
	r.prober.Start()
}

// Stop halts background probing.
func (r *Router) Stop() {
	r.prober.Stop()
}

// TriggerProbe runs one probe cycle synchronously.
func (r *Router) TriggerProbe(ctx context.Context) []health.Result {
	return r.prober.TriggerNow(ctx)
}

// WaitForInitialization blocks until the first probe cycle has completed.
func (r *Router) WaitForInitialization(ctx context.Context) error {
	return r.prober.WaitForInitialization(ctx)
}

// Initialized reports whether the first probe cycle has completed.
func (r *Router) Initialized() bool {
	return r.prober.Initialized()
}

// ProviderStats returns the admin view of every configured provider.
func (r *Router) ProviderStats() map[string]ProviderStats {
	entries := r.registry.Snapshot()
	out := make(map[string]ProviderStats, len(entries))
	for _, e := range entries {
		state := e.Health.Snapshot()
		out[e.Config.Key] = ProviderStats{
			Name:         e.Config.DisplayName(),
			Type:         e.Config.Type,
			Endpoint:     e.Config.BaseURL,
			Model:        e.Config.Model,
			Enabled:      e.Config.Enabled,
			Priority:     e.Config.Priority,
			IsAvailable:  state.Available,
			AvgLatencyMs: state.AvgLatencyMs,
			LastProbeAt:  state.LastProbeAt,
			LastError:    state.LastError,
			Pricing:      e.Config.Pricing,
		}
	}
	return out
}

// Weights returns the current scoring weights.
func (r *Router) Weights() (latency, cost float64) {
	return r.selector.Weights()
}

// SetWeights validates, persists and applies new scoring weights.
func (r *Router) SetWeights(ctx context.Context, latency, cost float64) error {
	if latency < 0 || latency > 1 || cost < 0 || cost > 1 {
		return core.NewInvalidRequestError("weights must be in [0,1]", nil)
	}
	if r.settings != nil {
		if err := settings.SaveWeights(ctx, r.settings, latency, cost); err != nil {
			return fmt.Errorf("failed to persist weights: %w", err)
		}
	}
	r.selector.SetWeights(latency, cost)
	slog.Info("router weights updated", "latency_weight", latency, "cost_weight", cost)
	return nil
}

// Refresh reads provider configs from the configured source and applies them.
func (r *Router) Refresh(ctx context.Context) (RefreshReport, error) {
	if r.source == nil {
		return RefreshReport{}, fmt.Errorf("no provider config source configured")
	}
	cfgs, err := r.source(ctx)
	if err != nil {
		return RefreshReport{}, fmt.Errorf("failed to read provider configs: %w", err)
	}
	return r.RefreshProviders(ctx, cfgs)
}

// RefreshProviders swaps in cfgs and runs a probe cycle. Cached responses are
// dropped for providers that changed endpoint or model, were removed, are
// disabled, or fail the probe.
// Requests already in flight finish against the provider they started with.
func (r *Router) RefreshProviders(ctx context.Context, cfgs []core.ProviderConfig) (RefreshReport, error) {
	cfgs = r.applyModelOverrides(ctx, cfgs)

	result := r.registry.Reload(cfgs)
	report := RefreshReport{
		Added:   result.Added,
		Removed: result.Removed,
		Changed: result.Changed,
		Updated: result.Updated,
	}
	for _, err := range result.Skipped {
		report.Skipped = append(report.Skipped, err.Error())
	}

	var errs []error
	dropped := make(map[string]bool)
	invalidate := func(key string) {
		if dropped[key] {
			return
		}
		dropped[key] = true
		n, err := r.cache.InvalidateProvider(ctx, key)
		if err != nil {
			errs = append(errs, fmt.Errorf("invalidate cache for %s: %w", key, err))
			return
		}
		report.Invalidated += n
	}
	for _, key := range result.Invalidated() {
		invalidate(key)
	}
	r.usage.Ensure(r.registry.Keys()...)

	// The cache never keeps answers of providers that are disabled or failed
	// the refresh probe.
	for _, res := range r.prober.TriggerNow(ctx) {
		if !res.Available {
			invalidate(res.Key)
		}
	}
	for _, e := range r.registry.Snapshot() {
		if !e.Config.Enabled {
			invalidate(e.Config.Key)
		}
	}

	slog.Info("providers refreshed",
		"added", len(report.Added),
		"removed", len(report.Removed),
		"changed", len(report.Changed),
		"invalidated", report.Invalidated,
	)
	return report, errors.Join(errs...)
}

func (r *Router) applyModelOverrides(ctx context.Context, cfgs []core.ProviderConfig) []core.ProviderConfig {
	if r.settings == nil {
		return cfgs
	}
	overrides, err := settings.ModelOverrides(ctx, r.settings)
	if err != nil {
		slog.Warn("failed to read model overrides, using configured models", "error", err)
		return cfgs
	}
	if len(overrides) == 0 {
		return cfgs
	}
	out := make([]core.ProviderConfig, len(cfgs))
	for i, c := range cfgs {
		if m, ok := overrides[c.Key]; ok && m != "" {
			c.Model = m
		}
		out[i] = c
	}
	return out
}

// UpdateProviderModel switches the model of one provider and persists the choice.
// It returns false without an error when key is unknown.
func (r *Router) UpdateProviderModel(ctx context.Context, key, model string) (bool, error) {
	entry, ok := r.registry.Get(key)
	if !ok {
		return false, nil
	}
	model = strings.TrimSpace(model)
	if model == "" {
		return false, core.NewProviderConfigError(key, "model must not be empty", nil)
	}
	if entry.Config.Model == model {
		return true, nil
	}

	if r.settings != nil {
		if err := settings.SetModelOverride(ctx, r.settings, key, model); err != nil {
			return false, fmt.Errorf("failed to persist model override: %w", err)
		}
	}
	updated, err := r.registry.UpdateModel(key, model)
	if err != nil || !updated {
		return updated, err
	}

	if _, err := r.cache.InvalidateProvider(ctx, key); err != nil {
		slog.Warn("failed to invalidate cache after model change", "provider", key, "error", err)
	}
	return true, nil
}

// ClearCache drops every cached response.
func (r *Router) ClearCache(ctx context.Context) error {
	if err := r.cache.Clear(ctx); err != nil {
		return err
	}
	slog.Info("response cache cleared")
	return nil
}

// UsageSummaries returns usage totals for every known provider.
func (r *Router) UsageSummaries() []usage.Summary {
	return r.usage.Summaries()
}

// ResetUsage zeroes the counters of one provider. Unknown keys return false.
func (r *Router) ResetUsage(key string) bool {
	return r.usage.Reset(key)
}

// TestProvider calls the named provider directly, bypassing selection and cache.
// Usage is still recorded.
func (r *Router) TestProvider(ctx context.Context, key string, req *core.GenerationRequest) (*core.GenerationResult, error) {
	entry, ok := r.registry.Get(key)
	if !ok {
		return nil, core.NewUnknownProviderError(key)
	}
	if err := r.check(req); err != nil {
		return nil, err
	}
	start := r.now()
	result, err := r.executor.Execute(ctx, entry, req)
	if err != nil {
		r.recorder.RouteCompleted(key, OutcomeError, r.now().Sub(start))
		return nil, err
	}
	r.recorder.RouteCompleted(key, OutcomeSuccess, r.now().Sub(start))
	return result, nil
}

// Route picks the best provider for req and returns its result, from cache when
// an identical request was answered recently. When the chosen provider fails the
// next candidate is tried; only running out of candidates fails the request.
func (r *Router) Route(ctx context.Context, req *core.GenerationRequest) (*core.GenerationResult, error) {
	if err := r.check(req); err != nil {
		return nil, err
	}
	start := r.now()

	entries := r.registry.Snapshot()
	if req.Provider != "" {
		if _, ok := r.registry.Get(req.Provider); !ok {
			return nil, core.NewUnknownProviderError(req.Provider)
		}
	}
	candidates := r.selector.Rank(entries, req)
	if len(candidates) == 0 {
		r.recorder.RouteCompleted("", OutcomeNoProvider, r.now().Sub(start))
		return nil, noneEligible(len(entries), req)
	}

	var lastErr error
	for _, c := range candidates {
		key := c.Key()
		cacheKey := cache.NewKey(key, req)

		if hit := r.lookup(ctx, cacheKey, req.RequestID); hit != nil {
			hit.Cached = true
			hit.LatencyMs = r.now().Sub(start).Milliseconds()
			r.recorder.RouteCompleted(key, OutcomeCached, r.now().Sub(start))
			return hit, nil
		}

		result, err := r.executor.Execute(ctx, c.Entry, req)
		if err != nil {
			r.recorder.RouteCompleted(key, OutcomeError, r.now().Sub(start))
			if !failover(ctx, err) {
				return nil, err
			}
			lastErr = err
			continue
		}

		if err := r.cache.Set(ctx, cacheKey, result); err != nil {
			slog.Warn("failed to cache response", "provider", key, "request_id", req.RequestID, "error", err)
		}
		r.recorder.RouteCompleted(key, OutcomeSuccess, r.now().Sub(start))
		return result, nil
	}

	noProvider := core.NewNoProviderAvailableError(fmt.Sprintf("all %d candidates failed", len(candidates)))
	noProvider.Err = lastErr
	return nil, noProvider
}

func (r *Router) lookup(ctx context.Context, key cache.Key, requestID string) *core.GenerationResult {
	hit, err := r.cache.Get(ctx, key)
	if err != nil {
		slog.Warn("cache lookup failed", "provider", key.Provider, "request_id", requestID, "error", err)
		hit = nil
	}
	r.recorder.CacheLookup(key.Provider, hit != nil)
	return hit
}

func (r *Router) check(req *core.GenerationRequest) error {
	if req == nil {
		return core.NewInvalidRequestError("request is required", nil)
	}
	if strings.TrimSpace(req.Prompt) == "" {
		return core.NewInvalidRequestError("prompt must not be empty", nil)
	}
	if err := r.validate.Struct(req); err != nil {
		return core.NewInvalidRequestError("invalid request: "+err.Error(), err)
	}
	return nil
}

// failover reports whether a failed call should move on to the next candidate.
// Invalid requests would fail everywhere, and canceled callers are gone.
func failover(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	re, ok := core.AsRouterError(err)
	if !ok {
		return true
	}
	return re.Type == core.ErrorTypeProviderTransport || re.Type == core.ErrorTypeProviderConfig
}
