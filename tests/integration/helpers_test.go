//go:build integration

package integration

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"llmrouter/internal/core"
)

// API endpoints
const (
	generatePath = "/v1/generate"
	adminPrefix  = "/admin/api/v1"
)

// sendJSON sends an authenticated JSON request and returns the response.
func sendJSON(t *testing.T, method, url string, payload interface{}, headers map[string]string) *http.Response {
	t.Helper()

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		require.NoError(t, err, "failed to marshal request payload")
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, url, body)
	require.NoError(t, err, "failed to create request")

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+testMasterKey)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err, "failed to send request")
	return resp
}

// generate routes one prompt and decodes the result.
func generate(t *testing.T, serverURL, prompt string) *core.GenerationResult {
	t.Helper()

	resp := sendJSON(t, http.MethodPost, serverURL+generatePath, core.GenerationRequest{Prompt: prompt, MaxTokens: 32}, nil)
	defer closeBody(resp)
	require.Equal(t, http.StatusOK, resp.StatusCode, readBody(resp))

	var result core.GenerationResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	return &result
}

// closeBody is a helper to close response body in defer statements.
func closeBody(resp *http.Response) {
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
}

func readBody(resp *http.Response) string {
	if resp.StatusCode == http.StatusOK {
		return ""
	}
	b, _ := io.ReadAll(resp.Body)
	return string(b)
}
