// Package groq provides Groq API integration.
package groq

import (
	"llmrouter/internal/core"
	"llmrouter/internal/providers"
	"llmrouter/internal/providers/openai"
)

const (
	defaultBaseURL = "https://api.groq.com/openai/v1"
	defaultModel   = "llama-3.1-8b-instant"
)

// Registration provides factory registration for the Groq provider.
var Registration = providers.Registration{
	Type:           "groq",
	Family:         core.FamilyOpenAI,
	DefaultBaseURL: defaultBaseURL,
	DefaultModel:   defaultModel,
	RequiresAPIKey: true,
	New:            New,
}

// New creates a new Groq provider. Groq speaks the OpenAI format but may
// report usage under x_groq.
func New(cfg core.ProviderConfig, opts providers.ProviderOptions) core.Provider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	return openai.NewCompatible(cfg, opts, openai.CompatibleOptions{
		UsageFallbackPaths: []string{"x_groq.usage"},
	})
}
