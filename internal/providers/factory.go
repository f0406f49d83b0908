// Package providers holds provider construction, configuration resolution and the
// provider registry used by the router.
package providers

import (
	"fmt"
	"net/http"
	"sort"
	"sync"

	"llmrouter/internal/core"
	"llmrouter/internal/llmclient"
)

// ProviderOptions carries shared infrastructure handed to every provider constructor.
type ProviderOptions struct {
	Hooks          llmclient.Hooks
	HTTPClient     *http.Client
	CircuitBreaker *llmclient.CircuitBreakerConfig
}

// Registration describes one provider type and how to build it.
type Registration struct {
	Type   string
	Family core.Family

	// Defaults applied when the config leaves the field empty.
	DefaultBaseURL string
	DefaultModel   string

	// RequiresAPIKey providers are dropped at resolution when no key is configured.
	RequiresAPIKey bool

	New func(cfg core.ProviderConfig, opts ProviderOptions) core.Provider
}

// ProviderFactory builds providers from registrations.
type ProviderFactory struct {
	mu            sync.RWMutex
	registrations map[string]Registration
	opts          ProviderOptions
}

// NewProviderFactory creates a factory with no registrations.
func NewProviderFactory() *ProviderFactory {
	return &ProviderFactory{
		registrations: make(map[string]Registration),
		opts: ProviderOptions{
			CircuitBreaker: llmclient.DefaultCircuitBreakerConfig(),
		},
	}
}

// Add registers a provider type. A later registration of the same type wins.
func (f *ProviderFactory) Add(reg Registration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.registrations[reg.Type] = reg
}

// SetHooks sets the hooks handed to providers created after this call.
func (f *ProviderFactory) SetHooks(hooks llmclient.Hooks) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opts.Hooks = hooks
}

// GetHooks returns the currently configured hooks.
func (f *ProviderFactory) GetHooks() llmclient.Hooks {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.opts.Hooks
}

// SetHTTPClient overrides the HTTP client used by created providers (tests, proxies).
func (f *ProviderFactory) SetHTTPClient(c *http.Client) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opts.HTTPClient = c
}

// Lookup returns the registration for a provider type.
func (f *ProviderFactory) Lookup(providerType string) (Registration, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	reg, ok := f.registrations[providerType]
	return reg, ok
}

// Create instantiates a provider based on configuration
func (f *ProviderFactory) Create(cfg core.ProviderConfig) (core.Provider, error) {
	f.mu.RLock()
	reg, ok := f.registrations[cfg.Type]
	opts := f.opts
	f.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown provider type: %s", cfg.Type)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = reg.DefaultBaseURL
	}
	return reg.New(cfg, opts), nil
}

// ListRegistered returns the registered provider types, sorted.
func (f *ProviderFactory) ListRegistered() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	types := make([]string, 0, len(f.registrations))
	for t := range f.registrations {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
