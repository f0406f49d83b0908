package openai

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"llmrouter/internal/core"
	"llmrouter/internal/llmclient"
	"llmrouter/internal/providers"
)

func TestNew(t *testing.T) {
	p := New(core.ProviderConfig{Key: "oa", APIKey: "sk-test"}, providers.ProviderOptions{})
	provider, ok := p.(*Provider)
	require.True(t, ok)
	assert.Equal(t, "sk-test", provider.apiKey)
	assert.Equal(t, defaultBaseURL, provider.BaseURL())
}

func TestGenerate(t *testing.T) {
	tests := []struct {
		name          string
		statusCode    int
		responseBody  string
		expectedError bool
		errorType     core.ErrorType
		checkResponse func(*testing.T, core.Completion)
	}{
		{
			name:       "successful request",
			statusCode: http.StatusOK,
			responseBody: `{
				"id": "chatcmpl-123",
				"object": "chat.completion",
				"created": 1677652288,
				"model": "gpt-4o-mini",
				"choices": [{
					"index": 0,
					"message": {"role": "assistant", "content": "Hello! How can I help you today?"},
					"finish_reason": "stop"
				}],
				"usage": {"prompt_tokens": 9, "completion_tokens": 12, "total_tokens": 21}
			}`,
			checkResponse: func(t *testing.T, c core.Completion) {
				assert.Equal(t, "gpt-4o-mini", c.Model)
				assert.Equal(t, "Hello! How can I help you today?", c.Content)
				assert.Equal(t, core.Usage{PromptTokens: 9, CompletionTokens: 12, TotalTokens: 21}, c.Usage)
			},
		},
		{
			name:         "missing usage normalizes to zero",
			statusCode:   http.StatusOK,
			responseBody: `{"model":"gpt-4o-mini","choices":[{"message":{"role":"assistant","content":"hi"}}]}`,
			checkResponse: func(t *testing.T, c core.Completion) {
				assert.Equal(t, "hi", c.Content)
				assert.Equal(t, core.Usage{}, c.Usage)
			},
		},
		{
			name:         "total derived when absent",
			statusCode:   http.StatusOK,
			responseBody: `{"model":"m","choices":[],"usage":{"prompt_tokens":3,"completion_tokens":4}}`,
			checkResponse: func(t *testing.T, c core.Completion) {
				assert.Equal(t, "", c.Content)
				assert.Equal(t, 7, c.Usage.TotalTokens)
			},
		},
		{
			name:          "unauthorized",
			statusCode:    http.StatusUnauthorized,
			responseBody:  `{"error":{"message":"Invalid API key","type":"invalid_request_error"}}`,
			expectedError: true,
			errorType:     core.ErrorTypeProviderConfig,
		},
		{
			name:          "server error",
			statusCode:    http.StatusInternalServerError,
			responseBody:  `{"error":{"message":"Internal server error"}}`,
			expectedError: true,
			errorType:     core.ErrorTypeProviderTransport,
		},
		{
			name:          "malformed body",
			statusCode:    http.StatusOK,
			responseBody:  `{"choices":`,
			expectedError: true,
			errorType:     core.ErrorTypeProviderTransport,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/chat/completions", r.URL.Path)
				assert.Equal(t, http.MethodPost, r.Method)
				assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
				assert.Equal(t, "Bearer test-api-key", r.Header.Get("Authorization"))

				w.WriteHeader(tt.statusCode)
				_, _ = w.Write([]byte(tt.responseBody))
			}))
			defer server.Close()

			provider := NewWithHTTPClient("test-api-key", server.URL, server.Client(), nilHooks())
			resp, err := provider.Generate(context.Background(), &core.ProviderRequest{
				Model:     "gpt-4o-mini",
				Prompt:    "Hello",
				MaxTokens: 16,
			})

			if tt.expectedError {
				require.Error(t, err)
				var rerr *core.RouterError
				require.True(t, errors.As(err, &rerr))
				assert.Equal(t, tt.errorType, rerr.Type)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, core.FamilyOpenAI, resp.Family())
			tt.checkResponse(t, resp.Normalize())
		})
	}
}

func TestGenerate_RequestBody(t *testing.T) {
	var got ChatRequest
	var requestID string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)
		requestID = r.Header.Get("X-Request-ID")
		_, _ = w.Write([]byte(`{"model":"m","choices":[{"message":{"content":"ok"}}]}`))
	}))
	defer server.Close()

	provider := NewWithHTTPClient("k", server.URL, server.Client(), nilHooks())
	ctx := core.WithRequestID(context.Background(), "req-42")
	ctx = core.WithUserID(ctx, "user-7")

	_, err := provider.Generate(ctx, &core.ProviderRequest{Model: "m", Prompt: "write a haiku", MaxTokens: 50})
	require.NoError(t, err)

	assert.Equal(t, "m", got.Model)
	assert.Equal(t, []Message{{Role: "user", Content: "write a haiku"}}, got.Messages)
	assert.Equal(t, 50, got.MaxTokens)
	assert.Nil(t, got.Temperature)
	assert.Equal(t, "user-7", got.User)
	assert.Equal(t, "req-42", requestID)

	_, err = provider.Generate(context.Background(), &core.ProviderRequest{Model: "m", Prompt: "x", Temperature: core.Float64(0.7)})
	require.NoError(t, err)
	require.NotNil(t, got.Temperature)
	assert.InDelta(t, 0.7, *got.Temperature, 1e-9)
}

func TestGenerate_ZeroTemperatureIsSent(t *testing.T) {
	var raw map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &raw)
		_, _ = w.Write([]byte(`{"model":"m","choices":[{"message":{"content":"ok"}}]}`))
	}))
	defer server.Close()

	provider := NewWithHTTPClient("k", server.URL, server.Client(), nilHooks())
	_, err := provider.Generate(context.Background(), &core.ProviderRequest{Model: "m", Prompt: "x", Temperature: core.Float64(0)})
	require.NoError(t, err)

	temp, ok := raw["temperature"]
	require.True(t, ok, "temperature 0 must reach the upstream")
	assert.Equal(t, float64(0), temp)
}

func TestGenerate_UsageFallback(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"model":"llama","choices":[{"message":{"content":"ok"}}],
			"x_groq":{"usage":{"prompt_tokens":5,"completion_tokens":6,"total_tokens":11}}}`))
	}))
	defer server.Close()

	p := NewCompatible(
		core.ProviderConfig{Key: "groq", BaseURL: server.URL},
		providers.ProviderOptions{HTTPClient: server.Client()},
		CompatibleOptions{UsageFallbackPaths: []string{"x_groq.usage"}},
	)
	resp, err := p.Generate(context.Background(), &core.ProviderRequest{Model: "llama", Prompt: "hi"})
	require.NoError(t, err)
	assert.Equal(t, core.Usage{PromptTokens: 5, CompletionTokens: 6, TotalTokens: 11}, resp.Normalize().Usage)
}

func TestProbe(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
		wantErr    bool
	}{
		{"reachable", http.StatusOK, false},
		{"bad key", http.StatusUnauthorized, true},
		{"down", http.StatusServiceUnavailable, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/models", r.URL.Path)
				assert.Equal(t, http.MethodGet, r.Method)
				w.WriteHeader(tt.statusCode)
				_, _ = w.Write([]byte(`{"object":"list","data":[{"id":"gpt-4o-mini"}]}`))
			}))
			defer server.Close()

			provider := NewWithHTTPClient("k", server.URL, server.Client(), nilHooks())
			err := provider.Probe(context.Background())
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestRegistration(t *testing.T) {
	assert.Equal(t, "openai", Registration.Type)
	assert.Equal(t, core.FamilyOpenAI, Registration.Family)
	assert.True(t, Registration.RequiresAPIKey)
	assert.NotNil(t, Registration.New)
}

func nilHooks() llmclient.Hooks { return llmclient.Hooks{} }
