package core

import "context"

// Family tags the wire format a provider speaks.
type Family string

const (
	FamilyOpenAI    Family = "openai"
	FamilyAnthropic Family = "anthropic"
	FamilyOllama    Family = "ollama"
)

// ProviderRequest is what the executor sends to a provider for one generation.
type ProviderRequest struct {
	Model       string
	Prompt      string
	MaxTokens   int
	Temperature *float64
	RequestID   string
}

// Completion is the canonical shape every wire response normalizes to.
type Completion struct {
	Model   string
	Content string
	Usage   Usage
}

// WireResponse is a provider family's decoded response body.
type WireResponse interface {
	Family() Family
	// Normalize maps the wire payload to a Completion. Missing fields become zero values.
	Normalize() Completion
}

// Provider defines the interface for LLM providers
type Provider interface {
	// Generate executes one completion with the provider's native API.
	Generate(ctx context.Context, req *ProviderRequest) (WireResponse, error)

	// Probe issues the cheapest request that proves the provider accepts traffic.
	Probe(ctx context.Context) error
}
