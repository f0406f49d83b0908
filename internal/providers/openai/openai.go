// Package openai provides the OpenAI chat completions integration, shared by every
// provider that exposes an OpenAI-compatible API.
package openai

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/tidwall/gjson"

	"llmrouter/internal/core"
	"llmrouter/internal/llmclient"
	"llmrouter/internal/providers"
)

const (
	defaultBaseURL = "https://api.openai.com/v1"
	defaultModel   = "gpt-4o-mini"
)

// Registration provides factory registration for the OpenAI provider.
var Registration = providers.Registration{
	Type:           "openai",
	Family:         core.FamilyOpenAI,
	DefaultBaseURL: defaultBaseURL,
	DefaultModel:   defaultModel,
	RequiresAPIKey: true,
	New:            New,
}

// CompatibleOptions tunes a provider speaking the OpenAI wire format.
type CompatibleOptions struct {
	// UsageFallbackPaths are gjson paths tried when the response has no "usage" object.
	UsageFallbackPaths []string
}

// Provider implements core.Provider for OpenAI-compatible APIs
type Provider struct {
	name   string
	apiKey string
	client *llmclient.Client
	opts   CompatibleOptions
}

// New creates a new OpenAI provider.
func New(cfg core.ProviderConfig, opts providers.ProviderOptions) core.Provider {
	return NewCompatible(cfg, opts, CompatibleOptions{})
}

// NewCompatible creates a provider for any OpenAI-compatible endpoint.
func NewCompatible(cfg core.ProviderConfig, opts providers.ProviderOptions, compat CompatibleOptions) *Provider {
	p := &Provider{name: cfg.Key, apiKey: cfg.APIKey, opts: compat}
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

// NewWithHTTPClient creates a new OpenAI provider with a custom HTTP client.
// If httpClient is nil, http.DefaultClient is used.
func NewWithHTTPClient(apiKey, baseURL string, httpClient *http.Client, hooks llmclient.Hooks) *Provider {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return NewCompatible(
		core.ProviderConfig{Key: "openai", APIKey: apiKey, BaseURL: baseURL},
		providers.ProviderOptions{Hooks: hooks, HTTPClient: httpClient},
		CompatibleOptions{},
	)
}

// setHeaders sets the required headers for OpenAI-compatible API requests
func (p *Provider) setHeaders(req *http.Request) {
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	// Forward request ID if present in context
	if requestID := core.GetRequestID(req.Context()); requestID != "" {
		req.Header.Set("X-Request-ID", requestID)
	}
}

// ChatRequest is the chat completions request body.
type ChatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature *float64  `json:"temperature,omitempty"`
	User        string    `json:"user,omitempty"`
}

// Message is a chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Choice is one completion alternative.
type Choice struct {
	Index        int     `json:"index"`
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason"`
}

// Usage is the OpenAI token usage object.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ChatResponse is the chat completions response body.
type ChatResponse struct {
	ID      string   `json:"id"`
	Object  string   `json:"object"`
	Created int64    `json:"created"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
	Usage   *Usage   `json:"usage,omitempty"`
}

// Family implements core.WireResponse.
func (r *ChatResponse) Family() core.Family { return core.FamilyOpenAI }

// Normalize implements core.WireResponse.
func (r *ChatResponse) Normalize() core.Completion {
	c := core.Completion{Model: r.Model}
	if len(r.Choices) > 0 {
		c.Content = r.Choices[0].Message.Content
	}
	if r.Usage != nil {
		c.Usage = core.Usage{
			PromptTokens:     r.Usage.PromptTokens,
			CompletionTokens: r.Usage.CompletionTokens,
			TotalTokens:      r.Usage.TotalTokens,
		}
		if c.Usage.TotalTokens == 0 {
			c.Usage.TotalTokens = c.Usage.PromptTokens + c.Usage.CompletionTokens
		}
	}
	return c
}

// Generate sends the prompt as a single user message to /chat/completions.
func (p *Provider) Generate(ctx context.Context, req *core.ProviderRequest) (core.WireResponse, error) {
	body := ChatRequest{
		Model:     req.Model,
		Messages:  []Message{{Role: "user", Content: req.Prompt}},
		MaxTokens: req.MaxTokens,
		User:      core.GetUserID(ctx),
	}
	if req.Temperature != nil {
		t := *req.Temperature
		body.Temperature = &t
	}

	raw, err := p.client.DoRaw(ctx, llmclient.Request{
		Method:   http.MethodPost,
		Endpoint: "/chat/completions",
		Body:     body,
	})
	if err != nil {
		return nil, err
	}

	var resp ChatResponse
	if err := json.Unmarshal(raw.Body, &resp); err != nil {
		return nil, core.NewProviderTransportError(p.name, "failed to unmarshal response: "+err.Error(), err)
	}
	if resp.Usage == nil {
		resp.Usage = p.fallbackUsage(raw.Body)
	}
	if resp.Model == "" {
		resp.Model = req.Model
	}
	return &resp, nil
}

// fallbackUsage looks for usage objects some compatible servers nest elsewhere.
func (p *Provider) fallbackUsage(body []byte) *Usage {
	for _, path := range p.opts.UsageFallbackPaths {
		u := gjson.GetBytes(body, path)
		if !u.IsObject() {
			continue
		}
		return &Usage{
			PromptTokens:     int(u.Get("prompt_tokens").Int()),
			CompletionTokens: int(u.Get("completion_tokens").Int()),
			TotalTokens:      int(u.Get("total_tokens").Int()),
		}
	}
	return nil
}

// Probe lists models, which authenticates without spending tokens.
func (p *Provider) Probe(ctx context.Context) error {
	var resp struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	return p.client.Do(ctx, llmclient.Request{
		Method:   http.MethodGet,
		Endpoint: "/models",
	}, &resp)
}

// BaseURL returns the endpoint this provider talks to.
func (p *Provider) BaseURL() string {
	return p.client.BaseURL()
}
