// Package ollama provides integration with a local Ollama server through its native API.
package ollama

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
	defaultRootURL = "http://localhost:11434"
	defaultModel   = "llama3.2"
)

// Registration provides factory registration for the Ollama provider.
var Registration = providers.Registration{
	Type:           "ollama",
	Family:         core.FamilyOllama,
	DefaultBaseURL: defaultRootURL,
	DefaultModel:   defaultModel,
	New:            New,
}

// Provider implements the core.Provider interface for Ollama
type Provider struct {
	name   string
	apiKey string // Accepted but ignored by Ollama
	client *llmclient.Client
}

// New creates a new Ollama provider.
func New(cfg core.ProviderConfig, opts providers.ProviderOptions) core.Provider {
	p := &Provider{name: cfg.Key, apiKey: cfg.APIKey}
	clientCfg := llmclient.Config{
		ProviderName:   cfg.Key,
		BaseURL:        nativeRoot(cfg.BaseURL),
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

// nativeRoot strips the OpenAI-compatible /v1 suffix operators often configure.
func nativeRoot(baseURL string) string {
	if baseURL == "" {
		return defaultRootURL
	}
	baseURL = strings.TrimRight(baseURL, "/")
	return strings.TrimSuffix(baseURL, "/v1")
}

func (p *Provider) setHeaders(req *http.Request) {
	// Reverse proxies in front of Ollama may check a bearer token.
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}
	if requestID := core.GetRequestID(req.Context()); requestID != "" {
		req.Header.Set("X-Request-ID", requestID)
	}
}

// GenerateRequest is the body of POST /api/generate.
type GenerateRequest struct {
	Model   string  `json:"model"`
	Prompt  string  `json:"prompt"`
	Stream  bool    `json:"stream"`
	Options Options `json:"options,omitempty"`
}

// Options are Ollama model parameters.
type Options struct {
	NumPredict  int      `json:"num_predict,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
}

// GenerateResponse is the non-streaming /api/generate response.
type GenerateResponse struct {
	Model           string `json:"model"`
	CreatedAt       string `json:"created_at"`
	Response        string `json:"response"`
	Done            bool   `json:"done"`
	DoneReason      string `json:"done_reason,omitempty"`
	PromptEvalCount int    `json:"prompt_eval_count"`
	EvalCount       int    `json:"eval_count"`
	TotalDuration   int64  `json:"total_duration"`
}

// Family implements core.WireResponse.
func (r *GenerateResponse) Family() core.Family { return core.FamilyOllama }

// Normalize implements core.WireResponse.
func (r *GenerateResponse) Normalize() core.Completion {
	return core.Completion{
		Model:   r.Model,
		Content: r.Response,
		Usage: core.Usage{
			PromptTokens:     r.PromptEvalCount,
			CompletionTokens: r.EvalCount,
			TotalTokens:      r.PromptEvalCount + r.EvalCount,
		},
	}
}

// Generate runs a single non-streaming generation.
func (p *Provider) Generate(ctx context.Context, req *core.ProviderRequest) (core.WireResponse, error) {
	body := GenerateRequest{
		Model:   req.Model,
		Prompt:  req.Prompt,
		Options: Options{NumPredict: req.MaxTokens},
	}
	if req.Temperature != nil {
		t := *req.Temperature
		body.Options.Temperature = &t
	}

	raw, err := p.client.DoRaw(ctx, llmclient.Request{
		Method:   http.MethodPost,
		Endpoint: "/api/generate",
		Body:     body,
	})
	if err != nil {
		return nil, err
	}

	var resp GenerateResponse
	if err := json.Unmarshal(raw.Body, &resp); err != nil {
		return nil, core.NewProviderTransportError(p.name, "failed to unmarshal response: "+err.Error(), err)
	}
	if resp.Model == "" {
		resp.Model = req.Model
	}
	return &resp, nil
}

// Probe lists the locally pulled models.
func (p *Provider) Probe(ctx context.Context) error {
	var resp struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	return p.client.Do(ctx, llmclient.Request{
		Method:   http.MethodGet,
		Endpoint: "/api/tags",
	}, &resp)
}
