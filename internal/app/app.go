// Package app provides the main application struct for centralized dependency management
// and lifecycle control of the router server.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"llmrouter/config"
	"llmrouter/internal/cache"
	"llmrouter/internal/core"
	"llmrouter/internal/health"
	"llmrouter/internal/observability"
	"llmrouter/internal/providers"
	"llmrouter/internal/router"
	"llmrouter/internal/server"
	"llmrouter/internal/settings"
	"llmrouter/internal/storage"
	"llmrouter/internal/usage"
)

// refreshTimeout bounds a provider refresh triggered by a config file change.
const refreshTimeout = 30 * time.Second

// App represents the main application with all its dependencies.
// It provides centralized lifecycle management for all components.
type App struct {
	config     *config.Config
	configPath string
	factory    *providers.ProviderFactory

	providers   *providers.InitResult
	metrics     *observability.Metrics
	storage     storage.Storage
	settings    settings.Store
	snapshotter *usage.Snapshotter
	cache       cache.Cache
	router      *router.Router
	watcher     *config.Watcher
	server      *server.Server

	shutdownMu sync.Mutex
	shutdown   bool
}

// Config holds the configuration options for creating an App.
type Config struct {
	// AppConfig holds the loaded application configuration produced by config.Load.
	AppConfig *config.LoadResult

	// Factory provides the ProviderFactory used to construct provider instances.
	Factory *providers.ProviderFactory

	// WatchConfig reloads providers when the config file changes.
	WatchConfig bool
}

// New creates a new App with all dependencies initialized.
// The caller must call Shutdown to release resources.
func New(ctx context.Context, cfg Config) (*App, error) {
	if cfg.AppConfig == nil {
		return nil, fmt.Errorf("app config is required")
	}
	if cfg.AppConfig.Config == nil {
		return nil, fmt.Errorf("app config contains nil Config")
	}
	if cfg.Factory == nil {
		return nil, fmt.Errorf("factory is required")
	}

	appCfg := cfg.AppConfig.Config
	app := &App{
		config:     appCfg,
		configPath: cfg.AppConfig.Path,
		factory:    cfg.Factory,
	}

	// Hooks must be set before providers are created.
	if appCfg.Metrics.Enabled {
		app.metrics = observability.NewMetrics()
		cfg.Factory.SetHooks(app.metrics.Hooks())
	}

	if err := app.initStorage(ctx); err != nil {
		return nil, app.abort(err)
	}

	var overrides providers.ModelOverrides
	if app.settings != nil {
		saved, err := settings.ModelOverrides(ctx, app.settings)
		if err != nil {
			slog.Warn("failed to read persisted model overrides", "error", err)
		}
		overrides = saved
	}

	providerResult, err := providers.Init(appCfg, cfg.Factory, overrides)
	if err != nil {
		return nil, app.abort(fmt.Errorf("failed to initialize providers: %w", err))
	}
	app.providers = providerResult
	for _, skipped := range providerResult.Skipped {
		slog.Warn("provider skipped", "error", skipped)
	}

	accountant := usage.NewAccountant()
	if app.storage != nil && appCfg.Usage.Persist {
		store, err := usage.NewStore(ctx, app.storage)
		if err != nil {
			return nil, app.abort(fmt.Errorf("failed to initialize usage store: %w", err))
		}
		app.snapshotter = usage.NewSnapshotter(accountant, store, appCfg.Usage.SnapshotInterval)
		if err := app.snapshotter.Restore(ctx); err != nil {
			slog.Warn("failed to restore usage summaries", "error", err)
		}
	}

	respCache, err := newCache(appCfg)
	if err != nil {
		return nil, app.abort(fmt.Errorf("failed to initialize response cache: %w", err))
	}
	app.cache = respCache

	routerCfg := router.ConfigFrom(appCfg.Router)
	prober := health.New(providerResult.Registry, health.Config{
		Interval:       routerCfg.ProbeInterval,
		Timeout:        routerCfg.ProbeTimeout,
		MaxConcurrency: routerCfg.ProbeConcurrency,
	})

	deps := router.Deps{
		Registry: providerResult.Registry,
		Prober:   prober,
		Cache:    respCache,
		Usage:    accountant,
		Settings: app.settings,
		Source:   app.providerSource,
	}
	if app.metrics != nil {
		prober.SetObserver(app.metrics.ObserveProbe)
		deps.Recorder = app.metrics
	}

	rt, err := router.New(deps, routerCfg)
	if err != nil {
		return nil, app.abort(fmt.Errorf("failed to create router: %w", err))
	}
	if err := rt.LoadPersistedWeights(ctx); err != nil {
		slog.Warn("failed to load persisted weights", "error", err)
	}
	app.router = rt

	if cfg.WatchConfig && app.configPath != "" {
		app.watcher = config.NewWatcher(app.configPath)
		app.watcher.OnReload(app.onConfigReload)
	}

	bodySizeLimit, err := config.ParseBodySizeLimit(appCfg.Server.BodySizeLimit)
	if err != nil {
		return nil, app.abort(err)
	}
	serverCfg := &server.Config{
		MasterKey:       appCfg.Server.MasterKey,
		MetricsEnabled:  appCfg.Metrics.Enabled,
		MetricsEndpoint: appCfg.Metrics.Endpoint,
		BodySizeLimit:   bodySizeLimit,
	}
	if app.metrics != nil {
		serverCfg.MetricsHandler = app.metrics.Handler()
	}
	app.server = server.New(rt, serverCfg)

	app.logStartupInfo()
	return app, nil
}

// initStorage opens the shared database when usage persistence or settings need it.
func (a *App) initStorage(ctx context.Context) error {
	cfg := a.config
	if !cfg.Usage.Persist && !cfg.Settings.Enabled {
		return nil
	}

	store, err := storage.New(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	a.storage = store

	if cfg.Settings.Enabled {
		s, err := settings.NewStore(ctx, store)
		if err != nil {
			return fmt.Errorf("failed to initialize settings store: %w", err)
		}
		a.settings = s
	}
	return nil
}

func newCache(cfg *config.Config) (cache.Cache, error) {
	switch cfg.Cache.Type {
	case "", "local":
		return cache.NewLocalCache(cfg.Router.CacheTTL), nil
	case "redis":
		return cache.NewRedisCache(cache.RedisConfig{
			URL:    cfg.Cache.Redis.URL,
			Prefix: cfg.Cache.Redis.Prefix,
			TTL:    cfg.Router.CacheTTL,
		})
	default:
		return nil, fmt.Errorf("unknown cache type: %s (valid: local, redis)", cfg.Cache.Type)
	}
}

// providerSource re-reads the config file for an admin-triggered refresh.
func (a *App) providerSource(_ context.Context) ([]core.ProviderConfig, error) {
	result, err := config.Load(a.configPath)
	if err != nil {
		return nil, err
	}
	return a.factory.Resolve(result.Config.Providers, nil), nil
}

func (a *App) onConfigReload(cfg *config.Config) {
	ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
	defer cancel()
	if _, err := a.router.RefreshProviders(ctx, a.factory.Resolve(cfg.Providers, nil)); err != nil {
		slog.Error("provider refresh after config change failed", "error", err)
	}
}

// Router returns the provider router.
func (a *App) Router() *router.Router {
	return a.router
}

// Handler returns the HTTP handler of the app.
func (a *App) Handler() http.Handler {
	return a.server
}

// Start starts background probing, usage snapshots and the HTTP server on addr.
// This is a blocking call that returns when the server stops.
func (a *App) Start(addr string) error {
	if a.server == nil {
		return fmt.Errorf("server is not initialized")
	}

	a.router.Start()
	if a.snapshotter != nil {
		a.snapshotter.Start()
	}
	if a.watcher != nil {
		if err := a.watcher.Start(); err != nil {
			slog.Warn("config watcher not started", "error", err)
			a.watcher = nil
		}
	}

	slog.Info("starting server", "address", addr)
	if err := a.server.Start(addr); err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			slog.Info("server stopped gracefully")
			return nil
		}
		return fmt.Errorf("server failed to start: %w", err)
	}
	return nil
}

// Shutdown gracefully tears down app components in dependency order.
// Order:
// 1. HTTP server shutdown, honoring the passed context timeout/cancellation.
// 2. Config watcher close.
// 3. Router stop (background probing).
// 4. Usage snapshotter close (final flush).
// 5. Settings store, response cache and storage close.
//
// Shutdown is idempotent and safe for repeated calls; after the first call, subsequent calls are no-ops.
// It attempts every close step, aggregates failures, and returns a joined error if any step fails.
func (a *App) Shutdown(ctx context.Context) error {
	a.shutdownMu.Lock()
	if a.shutdown {
		a.shutdownMu.Unlock()
		return nil
	}
	a.shutdown = true
	a.shutdownMu.Unlock()

	slog.Info("shutting down application...")

	if err := a.closeAll(ctx); err != nil {
		return fmt.Errorf("shutdown errors: %w", err)
	}

	slog.Info("application shutdown complete")
	return nil
}

func (a *App) closeAll(ctx context.Context) error {
	var errs []error
	step := func(name string, fn func() error) {
		if err := fn(); err != nil {
			slog.Error(name+" error", "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}

	if a.server != nil {
		step("server shutdown", func() error { return a.server.Shutdown(ctx) })
	}
	if a.watcher != nil {
		step("config watcher close", a.watcher.Close)
	}
	if a.router != nil {
		a.router.Stop()
	}
	if a.snapshotter != nil {
		step("usage snapshotter close", a.snapshotter.Close)
	}
	if a.settings != nil {
		step("settings store close", a.settings.Close)
	}
	if a.cache != nil {
		step("cache close", a.cache.Close)
	}
	if a.storage != nil {
		step("storage close", a.storage.Close)
	}
	return errors.Join(errs...)
}

// abort releases whatever New managed to build before failing with err.
func (a *App) abort(err error) error {
	if closeErr := a.closeAll(context.Background()); closeErr != nil {
		return fmt.Errorf("%w (also: close error: %v)", err, closeErr)
	}
	return err
}

// logStartupInfo logs the application configuration on startup.
func (a *App) logStartupInfo() {
	cfg := a.config

	// Security warnings
	if cfg.Server.MasterKey == "" {
		slog.Warn("SECURITY WARNING: LLMROUTER_MASTER_KEY not set - server running in UNSAFE MODE",
			"security_risk", "unauthenticated access allowed",
			"recommendation", "set LLMROUTER_MASTER_KEY environment variable to secure the admin API")
	} else {
		slog.Info("authentication enabled", "mode", "master_key")
	}

	if cfg.Metrics.Enabled {
		slog.Info("prometheus metrics enabled", "endpoint", cfg.Metrics.Endpoint)
	} else {
		slog.Info("prometheus metrics disabled")
	}

	if a.storage != nil {
		slog.Info("storage configured", "type", a.storage.Type())
	}
	slog.Info("response cache configured", "type", cfg.Cache.Type, "ttl", cfg.Router.CacheTTL)
	slog.Info("router configured",
		"providers", a.providers.Registry.Len(),
		"latency_weight", cfg.Router.LatencyWeight,
		"cost_weight", cfg.Router.CostWeight,
		"probe_interval", cfg.Router.ProbeInterval,
		"freshness_threshold", cfg.Router.FreshnessThreshold,
	)
	if a.snapshotter != nil {
		slog.Info("usage persistence enabled", "snapshot_interval", cfg.Usage.SnapshotInterval)
	} else {
		slog.Info("usage persistence disabled")
	}
}
