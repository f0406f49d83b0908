package core

import "time"

// DefaultMaxTokens is applied when a GenerationRequest does not set MaxTokens.
const DefaultMaxTokens = 1024

// GenerationRequest is a single prompt submitted to the router.
// It is treated as immutable once submitted.
type GenerationRequest struct {
	Prompt      string  `json:"prompt" validate:"required"`
	UserID      string  `json:"user_id,omitempty"`
	RequestID   string  `json:"request_id,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty" validate:"gte=0"`
	// Temperature is nil when the provider default applies. Zero is sent as is.
	Temperature *float64 `json:"temperature,omitempty" validate:"omitempty,gte=0,lte=2"`
	// Provider pins the request to one provider key (diagnostics and tests).
	Provider string `json:"provider,omitempty"`
}

// Float64 returns a pointer to v, for optional request fields.
func Float64(v float64) *float64 {
	return &v
}

// EffectiveMaxTokens returns MaxTokens or DefaultMaxTokens when unset.
func (r *GenerationRequest) EffectiveMaxTokens() int {
	if r.MaxTokens > 0 {
		return r.MaxTokens
	}
	return DefaultMaxTokens
}

// Usage represents token usage information
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// GenerationResult is the normalized outcome of a routed request.
type GenerationResult struct {
	Provider  string    `json:"provider"`
	Model     string    `json:"model"`
	Content   string    `json:"content"`
	Usage     Usage     `json:"usage"`
	LatencyMs int64     `json:"latency_ms"`
	Cost      *float64  `json:"cost,omitempty"`
	Cached    bool      `json:"cached"`
	CreatedAt time.Time `json:"created_at"`
}

// Clone returns a copy that does not share the Cost pointer.
func (r *GenerationResult) Clone() *GenerationResult {
	if r == nil {
		return nil
	}
	out := *r
	if r.Cost != nil {
		c := *r.Cost
		out.Cost = &c
	}
	return &out
}

// PricingType selects how a provider's usage is priced.
type PricingType string

const (
	PricingFree        PricingType = "free"
	PricingFlat        PricingType = "flat"
	PricingInputOutput PricingType = "input_output"
)

// Pricing is the cost descriptor of a provider. Rates are USD per 1000 tokens.
type Pricing struct {
	Type            PricingType `yaml:"type" json:"type" validate:"oneof=free flat input_output"`
	CostPer1K       float64     `yaml:"cost_per_1k" json:"cost_per_1k,omitempty" validate:"gte=0"`
	InputCostPer1K  float64     `yaml:"input_cost_per_1k" json:"input_cost_per_1k,omitempty" validate:"gte=0"`
	OutputCostPer1K float64     `yaml:"output_cost_per_1k" json:"output_cost_per_1k,omitempty" validate:"gte=0"`
}

// ExpectedCostPer1K is the per-1K rate used to compare providers before a call.
// input_output pricing uses the mean of both rates.
func (p Pricing) ExpectedCostPer1K() float64 {
	switch p.Type {
	case PricingFlat:
		return p.CostPer1K
	case PricingInputOutput:
		return (p.InputCostPer1K + p.OutputCostPer1K) / 2
	default:
		return 0
	}
}

// ProviderConfig is the resolved configuration of one provider.
type ProviderConfig struct {
	Key      string  `json:"key" validate:"required"`
	Name     string  `json:"name"`
	Type     string  `json:"type" validate:"required"`
	BaseURL  string  `json:"base_url,omitempty" validate:"omitempty,url"`
	APIKey   string  `json:"-"`
	Model    string  `json:"model" validate:"required"`
	Enabled  bool    `json:"enabled"`
	Priority int     `json:"priority" validate:"min=1,max=10"`
	Pricing  Pricing `json:"pricing"`
}

// DisplayName returns Name, falling back to Key.
func (c ProviderConfig) DisplayName() string {
	if c.Name != "" {
		return c.Name
	}
	return c.Key
}

// ConnectionChanged reports whether the endpoint, model or family differs between two configs.
// Cached responses of a provider are only valid while both stay the same.
func (c ProviderConfig) ConnectionChanged(other ProviderConfig) bool {
	return c.BaseURL != other.BaseURL || c.Model != other.Model || c.Type != other.Type
}

// ProviderState is the probe-derived view of a provider. It is not persisted.
type ProviderState struct {
	Available    bool      `json:"available"`
	Probed       bool      `json:"probed"`
	AvgLatencyMs float64   `json:"avg_latency_ms"`
	LastProbeAt  time.Time `json:"last_probe_at"`
	LastError    string    `json:"last_error,omitempty"`
}

// Fresh reports whether the state was probed within threshold of now.
// A zero threshold disables the check.
func (s ProviderState) Fresh(now time.Time, threshold time.Duration) bool {
	if !s.Probed {
		return false
	}
	if threshold <= 0 {
		return true
	}
	return now.Sub(s.LastProbeAt) <= threshold
}
