// Package gemini provides Google Gemini integration through its OpenAI-compatible endpoint.
package gemini

import (
	"llmrouter/internal/core"
	"llmrouter/internal/providers"
	"llmrouter/internal/providers/openai"
)

const (
	defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta/openai"
	defaultModel   = "gemini-2.0-flash"
)

// Registration provides factory registration for the Gemini provider.
var Registration = providers.Registration{
	Type:           "gemini",
	Family:         core.FamilyOpenAI,
	DefaultBaseURL: defaultBaseURL,
	DefaultModel:   defaultModel,
	RequiresAPIKey: true,
	New:            New,
}

// New creates a new Gemini provider.
func New(cfg core.ProviderConfig, opts providers.ProviderOptions) core.Provider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	return openai.NewCompatible(cfg, opts, openai.CompatibleOptions{})
}
