package providers

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"llmrouter/internal/core"
)

// Entry is one configured provider: its config, client and live health.
// Entries are immutable once published; the Health pointer is shared across
// entries of the same key so probe state survives config swaps.
type Entry struct {
	Config   core.ProviderConfig
	Provider core.Provider
	Health   *core.ProviderHealth
}

// ReloadResult lists keys by what happened to them during a reload.
type ReloadResult struct {
	Added   []string
	Removed []string
	// Changed providers had their endpoint, model or type changed.
	Changed []string
	// Updated providers changed only credentials, flags, priority or pricing.
	Updated []string
	// Skipped holds one ProviderConfigError per rejected config.
	Skipped []error
}

// Invalidated returns the keys whose cached responses are no longer valid.
func (r ReloadResult) Invalidated() []string {
	out := make([]string, 0, len(r.Changed)+len(r.Removed))
	out = append(out, r.Changed...)
	out = append(out, r.Removed...)
	sort.Strings(out)
	return out
}

// Registry manages the set of configured providers.
// Readers get the current immutable map; writers build a new map and swap it in,
// so in-flight requests keep using the entry they started with.
type Registry struct {
	factory  *ProviderFactory
	validate *validator.Validate

	writeMu sync.Mutex // serializes Load/Reload/UpdateModel

	mu      sync.RWMutex
	entries map[string]*Entry
}

// NewRegistry creates an empty registry that builds providers with factory.
func NewRegistry(factory *ProviderFactory) *Registry {
	return &Registry{
		factory:  factory,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		entries:  make(map[string]*Entry),
	}
}

// Load replaces the registry contents with cfgs. Configs that fail validation or
// name an unknown type are skipped with a warning; the rest are loaded.
func (r *Registry) Load(cfgs []core.ProviderConfig) []error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	next, skipped := r.build(cfgs, nil)
	r.publish(next)

	slog.Info("provider registry loaded", "providers", len(next), "skipped", len(skipped))
	return skipped
}

// Reload re-reads cfgs and reports what changed relative to the current set.
// Unchanged providers keep their entry; changed ones get a new client but keep
// their health record, which is reset when the endpoint or model moved.
func (r *Registry) Reload(cfgs []core.ProviderConfig) ReloadResult {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	prev := r.current()
	next, skipped := r.build(cfgs, prev)

	result := ReloadResult{Skipped: skipped}
	for key, e := range next {
		old, ok := prev[key]
		switch {
		case !ok:
			result.Added = append(result.Added, key)
		case old == e:
		case old.Config.ConnectionChanged(e.Config):
			e.Health.Reset()
			result.Changed = append(result.Changed, key)
		default:
			result.Updated = append(result.Updated, key)
		}
	}
	for key := range prev {
		if _, ok := next[key]; !ok {
			result.Removed = append(result.Removed, key)
		}
	}
	sort.Strings(result.Added)
	sort.Strings(result.Removed)
	sort.Strings(result.Changed)
	sort.Strings(result.Updated)

	r.publish(next)

	slog.Info("provider registry reloaded",
		"added", result.Added,
		"removed", result.Removed,
		"changed", result.Changed,
		"updated", result.Updated,
		"skipped", len(skipped),
	)
	return result
}

// UpdateModel switches the model of one provider. It returns false without an
// error when the key is unknown, and a ProviderConfigError when model is empty.
func (r *Registry) UpdateModel(key, model string) (bool, error) {
	model = strings.TrimSpace(model)

	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	prev := r.current()
	old, ok := prev[key]
	if !ok {
		return false, nil
	}
	if model == "" {
		return false, core.NewProviderConfigError(key, "model must not be empty", nil)
	}
	if old.Config.Model == model {
		return true, nil
	}

	cfg := old.Config
	cfg.Model = model
	next := make(map[string]*Entry, len(prev))
	for k, e := range prev {
		next[k] = e
	}
	next[key] = &Entry{Config: cfg, Provider: old.Provider, Health: old.Health}
	r.publish(next)

	slog.Info("provider model updated", "provider", key, "from", old.Config.Model, "to", model)
	return true, nil
}

// Get returns the current entry for key.
func (r *Registry) Get(key string) (*Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[key]
	return e, ok
}

// Snapshot returns the current entries sorted by key.
func (r *Registry) Snapshot() []*Entry {
	entries := r.current()
	out := make([]*Entry, 0, len(entries))
	for _, e := range entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Config.Key < out[j].Config.Key })
	return out
}

// Keys returns the configured provider keys, sorted.
func (r *Registry) Keys() []string {
	entries := r.current()
	keys := make([]string, 0, len(entries))
	for k := range entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Len returns the number of loaded providers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

func (r *Registry) current() map[string]*Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.entries
}

func (r *Registry) publish(next map[string]*Entry) {
	r.mu.Lock()
	r.entries = next
	r.mu.Unlock()
}

// build validates cfgs and creates entries, reusing entries from prev when the
// config is identical and health records when the key already exists.
func (r *Registry) build(cfgs []core.ProviderConfig, prev map[string]*Entry) (map[string]*Entry, []error) {
	next := make(map[string]*Entry, len(cfgs))
	var skipped []error

	for _, cfg := range cfgs {
		if err := r.check(cfg); err != nil {
			slog.Warn("skipping provider with invalid configuration", "provider", cfg.Key, "type", cfg.Type, "error", err)
			skipped = append(skipped, err)
			continue
		}
		if _, dup := next[cfg.Key]; dup {
			err := core.NewProviderConfigError(cfg.Key, "duplicate provider key", nil)
			slog.Warn("skipping duplicate provider", "provider", cfg.Key)
			skipped = append(skipped, err)
			continue
		}

		old, existed := prev[cfg.Key]
		if existed && old.Config == cfg {
			next[cfg.Key] = old
			continue
		}

		p, err := r.factory.Create(cfg)
		if err != nil {
			cerr := core.NewProviderConfigError(cfg.Key, err.Error(), err)
			slog.Warn("skipping provider", "provider", cfg.Key, "type", cfg.Type, "error", err)
			skipped = append(skipped, cerr)
			continue
		}

		health := core.NewProviderHealth()
		if existed {
			health = old.Health
		}
		next[cfg.Key] = &Entry{Config: cfg, Provider: p, Health: health}
	}
	return next, skipped
}

func (r *Registry) check(cfg core.ProviderConfig) error {
	if err := r.validate.Struct(cfg); err != nil {
		return core.NewProviderConfigError(cfg.Key, describeValidation(err), err)
	}
	if _, ok := r.factory.Lookup(cfg.Type); !ok {
		return core.NewProviderConfigError(cfg.Key, fmt.Sprintf("unknown provider type %q", cfg.Type), nil)
	}
	return nil
}

func describeValidation(err error) string {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
	}
	return "invalid config: " + strings.Join(parts, ", ")
}
