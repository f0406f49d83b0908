package providers

import (
	"fmt"
	"log/slog"

	"llmrouter/config"
	"llmrouter/internal/core"
)

// InitResult holds the initialized provider registry and what was loaded into it.
type InitResult struct {
	Registry *Registry
	Factory  *ProviderFactory
	// Configs are the resolved configs handed to the registry, including skipped ones.
	Configs []core.ProviderConfig
	Skipped []error
}

// Init resolves provider configuration and loads the registry.
// A configuration with no usable provider is not an error: the router reports
// no_provider_available until a refresh brings one in.
func Init(cfg *config.Config, factory *ProviderFactory, overrides ModelOverrides) (*InitResult, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if factory == nil {
		return nil, fmt.Errorf("factory is required")
	}

	configs := factory.Resolve(cfg.Providers, overrides)
	registry := NewRegistry(factory)
	skipped := registry.Load(configs)

	for _, e := range registry.Snapshot() {
		slog.Info("provider initialized",
			"provider", e.Config.Key,
			"type", e.Config.Type,
			"model", e.Config.Model,
			"enabled", e.Config.Enabled,
			"priority", e.Config.Priority,
			"pricing", string(e.Config.Pricing.Type),
		)
	}
	if registry.Len() == 0 {
		slog.Warn("no providers configured; generation requests will fail until a provider is added",
			"registered_types", factory.ListRegistered())
	}

	return &InitResult{
		Registry: registry,
		Factory:  factory,
		Configs:  configs,
		Skipped:  skipped,
	}, nil
}
