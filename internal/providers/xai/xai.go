// Package xai provides xAI (Grok) API integration.
package xai

import (
	"llmrouter/internal/core"
	"llmrouter/internal/providers"
	"llmrouter/internal/providers/openai"
)

const (
	defaultBaseURL = "https://api.x.ai/v1"
	defaultModel   = "grok-3-mini"
)

// Registration provides factory registration for the xAI provider.
var Registration = providers.Registration{
	Type:           "xai",
	Family:         core.FamilyOpenAI,
	DefaultBaseURL: defaultBaseURL,
	DefaultModel:   defaultModel,
	RequiresAPIKey: true,
	New:            New,
}

// New creates a new xAI provider.
func New(cfg core.ProviderConfig, opts providers.ProviderOptions) core.Provider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	return openai.NewCompatible(cfg, opts, openai.CompatibleOptions{})
}
