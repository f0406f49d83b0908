//go:build integration

package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/mongo"

	"llmrouter/config"
	"llmrouter/internal/app"
	"llmrouter/internal/providers"
	"llmrouter/internal/providers/openai"
)

const (
	testProvider  = "mock"
	testModel     = "gpt-mock"
	testMasterKey = "integration-key"
)

// TestServerConfig configures how the test server is set up.
type TestServerConfig struct {
	// DBType is either "postgresql" or "mongodb"
	DBType string

	// UsagePersist enables usage summary snapshots
	UsagePersist bool

	// SettingsEnabled enables the persisted settings store
	SettingsEnabled bool
}

// TestServerFixture holds test server resources.
type TestServerFixture struct {
	// ServerURL is the base URL of the test server
	ServerURL string

	// App is the running application
	App *app.App

	// MockLLM is the mock LLM server
	MockLLM *MockLLMServer

	// PgPool is the PostgreSQL connection pool (for DB assertions)
	PgPool *pgxpool.Pool

	// MongoDb is the MongoDB database (for DB assertions)
	MongoDb *mongo.Database

	// DBType is the configured database type
	DBType string

	cfg      TestServerConfig
	shutdown atomic.Bool
}

// SetupTestServer creates and starts a test server with the specified configuration.
// The server and mock LLM are shut down when the test ends.
func SetupTestServer(t *testing.T, cfg TestServerConfig) *TestServerFixture {
	t.Helper()

	mockLLM := NewMockLLMServer()
	t.Cleanup(mockLLM.Close)

	fixture := &TestServerFixture{
		MockLLM: mockLLM,
		DBType:  cfg.DBType,
		cfg:     cfg,
	}
	switch cfg.DBType {
	case "postgresql":
		fixture.PgPool = GetPostgreSQLPool()
	case "mongodb":
		fixture.MongoDb = GetMongoDatabase()
	}

	fixture.start(t)
	t.Cleanup(func() { fixture.Shutdown(t) })
	return fixture
}

func (f *TestServerFixture) start(t *testing.T) {
	t.Helper()

	port, err := findAvailablePort()
	require.NoError(t, err, "failed to find available port")

	factory := providers.NewProviderFactory()
	factory.Add(openai.Registration)

	application, err := app.New(GetTestContext(), app.Config{
		AppConfig: buildAppConfig(t, f.cfg, f.MockLLM.URL(), port),
		Factory:   factory,
	})
	require.NoError(t, err, "failed to create app")

	addr := fmt.Sprintf("127.0.0.1:%d", port)
	go func() {
		_ = application.Start(addr)
	}()

	f.App = application
	f.ServerURL = "http://" + addr
	f.shutdown.Store(false)

	require.NoError(t, waitForServer(f.ServerURL+"/ready"), "server failed to become ready")
}

// Restart shuts the app down and starts a fresh one against the same database.
func (f *TestServerFixture) Restart(t *testing.T) {
	t.Helper()
	f.FlushAndClose(t)
	f.start(t)
}

// FlushAndClose shuts the app down, which writes the final usage snapshot.
// Call this before making any DB assertions on usage.
func (f *TestServerFixture) FlushAndClose(t *testing.T) {
	t.Helper()
	if !f.shutdown.CompareAndSwap(false, true) {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	require.NoError(t, f.App.Shutdown(ctx), "failed to shutdown app")
}

// Shutdown gracefully shuts down the test server, ignoring errors.
func (f *TestServerFixture) Shutdown(t *testing.T) {
	t.Helper()
	if !f.shutdown.CompareAndSwap(false, true) {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	_ = f.App.Shutdown(ctx)
}

// buildAppConfig creates an application config for testing.
func buildAppConfig(t *testing.T, cfg TestServerConfig, mockLLMURL string, port int) *config.LoadResult {
	t.Helper()

	enabled := true
	appCfg := &config.Config{
		Server: config.ServerConfig{
			Port:      fmt.Sprintf("%d", port),
			MasterKey: testMasterKey,
		},
		Router: config.RouterConfig{
			LatencyWeight:      0.5,
			CostWeight:         0.5,
			CacheTTL:           time.Minute,
			ProbeInterval:      time.Hour,
			ProbeTimeout:       5 * time.Second,
			ProbeConcurrency:   2,
			FreshnessThreshold: 2 * time.Hour,
			ExecuteTimeout:     10 * time.Second,
		},
		Cache: config.CacheConfig{
			Type: "local",
		},
		Usage: config.UsageConfig{
			Persist:          cfg.UsagePersist,
			SnapshotInterval: time.Hour,
		},
		Settings: config.SettingsConfig{
			Enabled: cfg.SettingsEnabled,
		},
		Providers: map[string]config.RawProviderConfig{
			testProvider: {
				Type:     "openai",
				APIKey:   "sk-test-key",
				BaseURL:  mockLLMURL,
				Model:    testModel,
				Enabled:  &enabled,
				Priority: 1,
				Pricing: &config.RawPricingConfig{
					Type:            "input_output",
					InputCostPer1K:  0.002,
					OutputCostPer1K: 0.004,
				},
			},
		},
	}

	switch cfg.DBType {
	case "postgresql":
		appCfg.Storage = config.StorageConfig{
			Type: "postgresql",
			PostgreSQL: config.PostgreSQLConfig{
				URL:      GetPostgreSQLURL(),
				MaxConns: 5,
			},
		}
	case "mongodb":
		appCfg.Storage = config.StorageConfig{
			Type: "mongodb",
			MongoDB: config.MongoDBConfig{
				URL:      GetMongoURL(),
				Database: "llmrouter_test",
			},
		}
	default:
		t.Fatalf("unsupported DB type: %s", cfg.DBType)
	}

	return &config.LoadResult{Config: appCfg}
}

// waitForServer polls url until it answers 200.
func waitForServer(url string) error {
	client := &http.Client{Timeout: 2 * time.Second}
	for i := 0; i < 100; i++ {
		resp, err := client.Get(url)
		if err == nil {
			_ = resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
		time.Sleep(100 * time.Millisecond)
	}
	return fmt.Errorf("server did not become ready within timeout")
}

// findAvailablePort finds an available TCP port on loopback.
func findAvailablePort() (int, error) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer func() { _ = listener.Close() }()
	return listener.Addr().(*net.TCPAddr).Port, nil
}

// MockLLMServer is an OpenAI-compatible upstream for testing.
type MockLLMServer struct {
	server      *httptest.Server
	completions atomic.Int32
	lastModel   atomic.Value
}

// NewMockLLMServer creates a new mock LLM server.
func NewMockLLMServer() *MockLLMServer {
	m := &MockLLMServer{}
	m.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/models":
			_, _ = w.Write([]byte(`{"object":"list","data":[{"id":"` + testModel + `"}]}`))
		case "/chat/completions":
			m.completions.Add(1)
			var req struct {
				Model string `json:"model"`
			}
			_ = json.NewDecoder(r.Body).Decode(&req)
			m.lastModel.Store(req.Model)
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"id":      "chatcmpl-test123",
				"object":  "chat.completion",
				"created": 1700000000,
				"model":   req.Model,
				"choices": []map[string]interface{}{{
					"index":         0,
					"message":       map[string]string{"role": "assistant", "content": "Hello from mock"},
					"finish_reason": "stop",
				}},
				"usage": map[string]int{"prompt_tokens": 10, "completion_tokens": 8, "total_tokens": 18},
			})
		default:
			http.NotFound(w, r)
		}
	}))
	return m
}

// URL returns the server URL.
func (m *MockLLMServer) URL() string {
	return m.server.URL
}

// Completions returns how many completions were served.
func (m *MockLLMServer) Completions() int {
	return int(m.completions.Load())
}

// LastModel returns the model of the last completion request.
func (m *MockLLMServer) LastModel() string {
	s, _ := m.lastModel.Load().(string)
	return s
}

// Close shuts down the server.
func (m *MockLLMServer) Close() {
	m.server.Close()
}
