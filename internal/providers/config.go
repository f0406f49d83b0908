package providers

import (
	"log/slog"
	"os"
	"sort"
	"strings"

	"llmrouter/config"
	"llmrouter/internal/core"
)

// DefaultPriority is used when a provider config leaves priority unset.
const DefaultPriority = 5

// knownProviderEnvs maps well-known provider names to their environment variables.
// This list is the authoritative source for provider auto-discovery from env vars.
var knownProviderEnvs = []struct {
	name         string
	providerType string
	apiKeyEnv    string
	baseURLEnv   string
	modelEnv     string
}{
	{"ollama", "ollama", "OLLAMA_API_KEY", "OLLAMA_BASE_URL", "OLLAMA_MODEL"},
	{"groq", "groq", "GROQ_API_KEY", "GROQ_BASE_URL", "GROQ_MODEL"},
	{"openai", "openai", "OPENAI_API_KEY", "OPENAI_BASE_URL", "OPENAI_MODEL"},
	{"anthropic", "anthropic", "ANTHROPIC_API_KEY", "ANTHROPIC_BASE_URL", "ANTHROPIC_MODEL"},
	{"xai", "xai", "XAI_API_KEY", "XAI_BASE_URL", "XAI_MODEL"},
	{"gemini", "gemini", "GEMINI_API_KEY", "GEMINI_BASE_URL", "GEMINI_MODEL"},
}

// ModelOverrides maps provider key to a persisted model selection.
type ModelOverrides map[string]string

// Resolve turns raw YAML provider entries into provider configs: env vars are overlaid,
// entries without usable credentials are dropped, registration defaults are filled in
// and persisted model overrides are applied. The result is sorted by key.
// Validation is left to the registry so one bad entry does not reject the set.
func (f *ProviderFactory) Resolve(raw map[string]config.RawProviderConfig, overrides ModelOverrides) []core.ProviderConfig {
	merged := applyProviderEnvVars(raw)
	filtered := f.filterEmptyProviders(merged)

	keys := make([]string, 0, len(filtered))
	for k := range filtered {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]core.ProviderConfig, 0, len(keys))
	for _, key := range keys {
		cfg := f.buildProviderConfig(key, filtered[key])
		if m, ok := overrides[key]; ok && strings.TrimSpace(m) != "" {
			cfg.Model = m
		}
		out = append(out, cfg)
	}
	return out
}

// applyProviderEnvVars overlays well-known provider env vars onto the raw YAML map.
// Env var values always win over YAML values for the same provider name.
func applyProviderEnvVars(raw map[string]config.RawProviderConfig) map[string]config.RawProviderConfig {
	result := make(map[string]config.RawProviderConfig, len(raw))
	for k, v := range raw {
		result[k] = v
	}

	for _, kp := range knownProviderEnvs {
		apiKey := os.Getenv(kp.apiKeyEnv)
		baseURL := os.Getenv(kp.baseURLEnv)
		model := os.Getenv(kp.modelEnv)

		if apiKey == "" && baseURL == "" {
			continue
		}

		existing, exists := result[kp.name]
		if !exists {
			existing = config.RawProviderConfig{Type: kp.providerType}
		}
		if apiKey != "" {
			existing.APIKey = apiKey
		}
		if baseURL != "" {
			existing.BaseURL = baseURL
		}
		if model != "" {
			existing.Model = model
		}
		result[kp.name] = existing
	}

	return result
}

// filterEmptyProviders removes providers without valid credentials.
// Types that do not require an API key (ollama) are kept as long as they are registered.
func (f *ProviderFactory) filterEmptyProviders(raw map[string]config.RawProviderConfig) map[string]config.RawProviderConfig {
	result := make(map[string]config.RawProviderConfig, len(raw))
	for name, p := range raw {
		reg, ok := f.Lookup(p.Type)
		if ok && !reg.RequiresAPIKey {
			result[name] = p
			continue
		}
		if p.APIKey != "" && !strings.Contains(p.APIKey, "${") {
			result[name] = p
			continue
		}
		if !ok {
			// Keep it so the registry reports the unknown type.
			result[name] = p
			continue
		}
		slog.Debug("skipping provider without api key", "provider", name, "type", p.Type)
	}
	return result
}

// buildProviderConfig fills registration defaults into a single raw entry.
func (f *ProviderFactory) buildProviderConfig(key string, raw config.RawProviderConfig) core.ProviderConfig {
	cfg := core.ProviderConfig{
		Key:      key,
		Name:     raw.Name,
		Type:     raw.Type,
		BaseURL:  raw.BaseURL,
		APIKey:   raw.APIKey,
		Model:    raw.Model,
		Enabled:  true,
		Priority: raw.Priority,
		Pricing:  core.Pricing{Type: core.PricingFree},
	}
	if cfg.Name == "" {
		cfg.Name = key
	}
	if raw.Enabled != nil {
		cfg.Enabled = *raw.Enabled
	}
	if cfg.Priority == 0 {
		cfg.Priority = DefaultPriority
	}
	if raw.Pricing != nil {
		cfg.Pricing = core.Pricing{
			Type:            core.PricingType(raw.Pricing.Type),
			CostPer1K:       raw.Pricing.CostPer1K,
			InputCostPer1K:  raw.Pricing.InputCostPer1K,
			OutputCostPer1K: raw.Pricing.OutputCostPer1K,
		}
	}
	if reg, ok := f.Lookup(raw.Type); ok {
		if cfg.BaseURL == "" {
			cfg.BaseURL = reg.DefaultBaseURL
		}
		if cfg.Model == "" {
			cfg.Model = reg.DefaultModel
		}
	}
	return cfg
}
