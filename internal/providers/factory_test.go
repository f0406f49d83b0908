package providers

import (
	"context"
	"net/http"
	"testing"

	"llmrouter/internal/core"
	"llmrouter/internal/llmclient"
)

// factoryMockProvider is a simple mock for testing factory
type factoryMockProvider struct {
	cfg  core.ProviderConfig
	opts ProviderOptions
}

func (m *factoryMockProvider) Generate(_ context.Context, _ *core.ProviderRequest) (core.WireResponse, error) {
	return nil, nil
}

func (m *factoryMockProvider) Probe(_ context.Context) error {
	return nil
}

func mockRegistration(providerType string, requiresKey bool) Registration {
	return Registration{
		Type:           providerType,
		Family:         core.FamilyOpenAI,
		DefaultBaseURL: "https://" + providerType + ".example.com/v1",
		DefaultModel:   providerType + "-default",
		RequiresAPIKey: requiresKey,
		New: func(cfg core.ProviderConfig, opts ProviderOptions) core.Provider {
			return &factoryMockProvider{cfg: cfg, opts: opts}
		},
	}
}

func TestProviderFactory_Add(t *testing.T) {
	factory := NewProviderFactory()
	factory.Add(mockRegistration("test-provider", true))

	if _, ok := factory.Lookup("test-provider"); !ok {
		t.Fatal("expected registration to be found")
	}
	if _, ok := factory.Lookup("other"); ok {
		t.Error("did not expect unregistered type to be found")
	}
}

func TestProviderFactory_Create_UnknownType(t *testing.T) {
	factory := NewProviderFactory()

	_, err := factory.Create(core.ProviderConfig{Key: "x", Type: "unknown-provider", APIKey: "test-key"})
	if err == nil {
		t.Fatal("expected error for unknown provider type")
	}
	if err.Error() != "unknown provider type: unknown-provider" {
		t.Errorf("unexpected error message: %v", err)
	}
}

func TestProviderFactory_Create_Success(t *testing.T) {
	factory := NewProviderFactory()
	factory.Add(mockRegistration("test-provider", true))

	p, err := factory.Create(core.ProviderConfig{Key: "x", Type: "test-provider", APIKey: "test-key"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	mock, ok := p.(*factoryMockProvider)
	if !ok {
		t.Fatalf("unexpected provider type %T", p)
	}
	if mock.cfg.BaseURL != "https://test-provider.example.com/v1" {
		t.Errorf("expected default base URL, got %q", mock.cfg.BaseURL)
	}
	if mock.opts.CircuitBreaker == nil {
		t.Error("expected default circuit breaker config")
	}
}

func TestProviderFactory_Create_WithBaseURL(t *testing.T) {
	factory := NewProviderFactory()
	factory.Add(mockRegistration("test-provider", true))

	p, err := factory.Create(core.ProviderConfig{Key: "x", Type: "test-provider", BaseURL: "http://proxy:9000/v1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := p.(*factoryMockProvider).cfg.BaseURL; got != "http://proxy:9000/v1" {
		t.Errorf("BaseURL = %q, want configured value", got)
	}
}

func TestProviderFactory_HooksAndHTTPClient(t *testing.T) {
	factory := NewProviderFactory()
	factory.Add(mockRegistration("test-provider", true))

	called := false
	factory.SetHooks(llmclient.Hooks{
		OnRequestEnd: func(context.Context, llmclient.ResponseInfo) { called = true },
	})
	client := &http.Client{}
	factory.SetHTTPClient(client)

	if factory.GetHooks().OnRequestEnd == nil {
		t.Fatal("expected hooks to be stored")
	}

	p, err := factory.Create(core.ProviderConfig{Key: "x", Type: "test-provider"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	mock := p.(*factoryMockProvider)
	if mock.opts.HTTPClient != client {
		t.Error("expected HTTP client to be passed to provider")
	}
	mock.opts.Hooks.OnRequestEnd(context.Background(), llmclient.ResponseInfo{})
	if !called {
		t.Error("expected hook passed to provider to be the configured one")
	}
}

func TestProviderFactory_ListRegistered(t *testing.T) {
	factory := NewProviderFactory()
	if got := factory.ListRegistered(); len(got) != 0 {
		t.Errorf("expected empty list, got %v", got)
	}

	factory.Add(mockRegistration("zeta", true))
	factory.Add(mockRegistration("alpha", true))
	factory.Add(mockRegistration("mid", false))

	got := factory.ListRegistered()
	want := []string{"alpha", "mid", "zeta"}
	if len(got) != len(want) {
		t.Fatalf("ListRegistered() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("ListRegistered()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}
