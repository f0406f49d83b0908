// Package anthropic provides Anthropic Messages API integration.
package anthropic

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"llmrouter/internal/core"
	"llmrouter/internal/llmclient"
	"llmrouter/internal/providers"
)

const (
	defaultBaseURL      = "https://api.anthropic.com/v1"
	defaultModel        = "claude-3-5-haiku-20241022"
	anthropicAPIVersion = "2023-06-01"
)

// Registration provides factory registration for the Anthropic provider.
var Registration = providers.Registration{
	Type:           "anthropic",
	Family:         core.FamilyAnthropic,
	DefaultBaseURL: defaultBaseURL,
	DefaultModel:   defaultModel,
	RequiresAPIKey: true,
	New:            New,
}

// Provider implements the core.Provider interface for Anthropic
type Provider struct {
	name   string
	apiKey string
	client *llmclient.Client
}

// New creates a new Anthropic provider
func New(cfg core.ProviderConfig, opts providers.ProviderOptions) core.Provider {
	p := &Provider{name: cfg.Key, apiKey: cfg.APIKey}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	clientCfg := llmclient.Config{
		ProviderName:   cfg.Key,
		BaseURL:        baseURL,
		Hooks:          opts.Hooks,
		CircuitBreaker: opts.CircuitBreaker,
	}
	if opts.HTTPClient != nil {
		p.client = llmclient.NewWithHTTPClient(opts.HTTPClient, clientCfg, p.setHeaders)
	} else {
		p.client = llmclient.New(clientCfg, p.setHeaders)
	}
	return p
}

// setHeaders sets the required headers for Anthropic API requests
func (p *Provider) setHeaders(req *http.Request) {
	req.Header.Set("x-api-key", p.apiKey)
	req.Header.Set("anthropic-version", anthropicAPIVersion)

	if requestID := core.GetRequestID(req.Context()); requestID != "" {
		req.Header.Set("X-Request-ID", requestID)
	}
}

// MessageRequest represents the Anthropic API request format
type MessageRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature *float64  `json:"temperature,omitempty"`
	Metadata    *Metadata `json:"metadata,omitempty"`
}

// Message represents a message in Anthropic format
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Metadata carries the end-user identifier Anthropic accepts for abuse tracking.
type Metadata struct {
	UserID string `json:"user_id,omitempty"`
}

// ContentBlock is one block of a Messages API response.
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Usage represents token usage in Anthropic response
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// MessageResponse represents the Anthropic API response format
type MessageResponse struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	Role       string         `json:"role"`
	Content    []ContentBlock `json:"content"`
	Model      string         `json:"model"`
	StopReason string         `json:"stop_reason"`
	Usage      Usage          `json:"usage"`
}

// Family implements core.WireResponse.
func (r *MessageResponse) Family() core.Family { return core.FamilyAnthropic }

// Normalize joins the text blocks in order. Non-text blocks are skipped.
func (r *MessageResponse) Normalize() core.Completion {
	var sb strings.Builder
	for _, block := range r.Content {
		if block.Type == "text" || block.Type == "" {
			sb.WriteString(block.Text)
		}
	}
	return core.Completion{
		Model:   r.Model,
		Content: sb.String(),
		Usage: core.Usage{
			PromptTokens:     r.Usage.InputTokens,
			CompletionTokens: r.Usage.OutputTokens,
			TotalTokens:      r.Usage.InputTokens + r.Usage.OutputTokens,
		},
	}
}

// Generate sends the prompt to /messages.
func (p *Provider) Generate(ctx context.Context, req *core.ProviderRequest) (core.WireResponse, error) {
	body := MessageRequest{
		Model:     req.Model,
		Messages:  []Message{{Role: "user", Content: req.Prompt}},
		MaxTokens: req.MaxTokens,
	}
	// max_tokens is mandatory for this API.
	if body.MaxTokens <= 0 {
		body.MaxTokens = core.DefaultMaxTokens
	}
	if req.Temperature != nil {
		t := *req.Temperature
		body.Temperature = &t
	}
	if userID := core.GetUserID(ctx); userID != "" {
		body.Metadata = &Metadata{UserID: userID}
	}

	raw, err := p.client.DoRaw(ctx, llmclient.Request{
		Method:   http.MethodPost,
		Endpoint: "/messages",
		Body:     body,
	})
	if err != nil {
		return nil, err
	}

	var resp MessageResponse
	if err := json.Unmarshal(raw.Body, &resp); err != nil {
		return nil, core.NewProviderTransportError(p.name, "failed to unmarshal response: "+err.Error(), err)
	}
	if resp.Model == "" {
		resp.Model = req.Model
	}
	return &resp, nil
}

// Probe lists models with a page size of one.
func (p *Provider) Probe(ctx context.Context) error {
	var resp struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	return p.client.Do(ctx, llmclient.Request{
		Method:   http.MethodGet,
		Endpoint: "/models?limit=1",
	}, &resp)
}
