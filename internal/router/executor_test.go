package router

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"llmrouter/internal/core"
	"llmrouter/internal/providers"
	"llmrouter/internal/usage"
)

type failureLog struct {
	mu   sync.Mutex
	keys []string
}

func (f *failureLog) MarkFailure(key string, _ error) {
	f.mu.Lock()
	f.keys = append(f.keys, key)
	f.mu.Unlock()
}

func testEntry(key string, p core.Provider, pricing core.Pricing) *providers.Entry {
	return &providers.Entry{
		Config:   providerConfig(key, 1, pricing),
		Provider: p,
		Health:   core.NewProviderHealth(),
	}
}

func TestExecutor_TimeoutRetriesOnce(t *testing.T) {
	stub := &stubProvider{delay: time.Second}
	failures := &failureLog{}
	x := NewExecutor(20*time.Millisecond, usage.NewAccountant(), failures, nil)

	_, err := x.Execute(context.Background(), testEntry("slow", stub, free), request("x"))
	require.Error(t, err)

	re, ok := core.AsRouterError(err)
	require.True(t, ok)
	assert.Equal(t, core.ErrorTypeProviderTransport, re.Type)
	assert.Equal(t, http.StatusGatewayTimeout, re.HTTPStatusCode())
	assert.Equal(t, "slow", re.Provider)
	assert.Equal(t, int32(2), stub.calls.Load())
	assert.Equal(t, []string{"slow"}, failures.keys)
}

func TestExecutor_CanceledCallerIsNotRetried(t *testing.T) {
	stub := &stubProvider{delay: time.Second}
	failures := &failureLog{}
	x := NewExecutor(time.Minute, nil, failures, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := x.Execute(ctx, testEntry("a", stub, free), request("x"))
	require.Error(t, err)
	assert.Equal(t, int32(1), stub.calls.Load())
	assert.Empty(t, failures.keys, "caller cancellation says nothing about the provider")
}

func TestExecutor_PlainErrorsAreTransport(t *testing.T) {
	stub := &stubProvider{}
	stub.failNext(errors.New("dial tcp: connection refused"), errors.New("dial tcp: connection refused"))
	x := NewExecutor(time.Second, nil, nil, nil)

	_, err := x.Execute(context.Background(), testEntry("a", stub, free), request("x"))
	re, ok := core.AsRouterError(err)
	require.True(t, ok)
	assert.Equal(t, core.ErrorTypeProviderTransport, re.Type)
	assert.Equal(t, "a", re.Provider)
}

func TestExecutor_ConfigErrorMarksFailureWithoutRetry(t *testing.T) {
	stub := &stubProvider{}
	stub.failNext(core.ParseProviderError("a", http.StatusUnauthorized, []byte(`{"error":{"message":"bad key"}}`), nil))
	failures := &failureLog{}
	x := NewExecutor(time.Second, nil, failures, nil)

	_, err := x.Execute(context.Background(), testEntry("a", stub, free), request("x"))
	re, ok := core.AsRouterError(err)
	require.True(t, ok)
	assert.Equal(t, core.ErrorTypeProviderConfig, re.Type)
	assert.Equal(t, int32(1), stub.calls.Load())
	assert.Equal(t, []string{"a"}, failures.keys)
}

func TestExecutor_NormalizesMissingFields(t *testing.T) {
	stub := &stubProvider{usage: core.Usage{}}
	acct := usage.NewAccountant()
	x := NewExecutor(time.Second, acct, nil, nil)

	res, err := x.Execute(context.Background(), testEntry("a", stub, core.Pricing{Type: core.PricingFlat, CostPer1K: 1}), &core.GenerationRequest{Prompt: "x"})
	require.NoError(t, err)
	assert.Equal(t, core.Usage{}, res.Usage)
	require.NotNil(t, res.Cost)
	assert.Zero(t, *res.Cost)

	s, ok := acct.Summary("a")
	require.True(t, ok)
	assert.Equal(t, int64(1), s.Requests)
}

func TestExecutor_SendsRequestParameters(t *testing.T) {
	var got *core.ProviderRequest
	var gotUser string
	p := providerFunc(func(ctx context.Context, req *core.ProviderRequest) (core.WireResponse, error) {
		got = req
		gotUser = core.GetUserID(ctx)
		return stubResponse{}, nil
	})
	x := NewExecutor(time.Second, nil, nil, nil)

	_, err := x.Execute(context.Background(), testEntry("a", p, free), &core.GenerationRequest{
		Prompt:      "hello",
		UserID:      "u-1",
		RequestID:   "req-1",
		Temperature: core.Float64(0.3),
	})
	require.NoError(t, err)
	assert.Equal(t, &core.ProviderRequest{
		Model:       "a-model",
		Prompt:      "hello",
		MaxTokens:   core.DefaultMaxTokens,
		Temperature: core.Float64(0.3),
		RequestID:   "req-1",
	}, got)
	assert.Equal(t, "u-1", gotUser)
}

type providerFunc func(ctx context.Context, req *core.ProviderRequest) (core.WireResponse, error)

func (f providerFunc) Generate(ctx context.Context, req *core.ProviderRequest) (core.WireResponse, error) {
	return f(ctx, req)
}

func (providerFunc) Probe(context.Context) error { return nil }
