// Package config provides configuration management for the application.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultConfigPath is read when no explicit path is given and the file exists.
const DefaultConfigPath = "config/config.yaml"

// DefaultBodySizeLimit is the request body limit in bytes when none is configured.
const DefaultBodySizeLimit int64 = 1024 * 1024

// Config holds the application configuration
type Config struct {
	Server    ServerConfig                 `yaml:"server"`
	Router    RouterConfig                 `yaml:"router"`
	Cache     CacheConfig                  `yaml:"cache"`
	Storage   StorageConfig                `yaml:"storage"`
	Usage     UsageConfig                  `yaml:"usage"`
	Settings  SettingsConfig               `yaml:"settings"`
	Metrics   MetricsConfig                `yaml:"metrics"`
	Logging   LogConfig                    `yaml:"logging"`
	Providers map[string]RawProviderConfig `yaml:"providers"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port          string `yaml:"port"`
	MasterKey     string `yaml:"master_key"`
	BodySizeLimit string `yaml:"body_size_limit"`
}

// RouterConfig holds selection, probing and caching parameters of the provider router.
type RouterConfig struct {
	// LatencyWeight and CostWeight are each in [0,1]; they need not sum to 1.
	LatencyWeight float64 `yaml:"latency_weight"`
	CostWeight    float64 `yaml:"cost_weight"`

	CacheTTL           time.Duration `yaml:"cache_ttl"`
	ProbeInterval      time.Duration `yaml:"probe_interval"`
	ProbeTimeout       time.Duration `yaml:"probe_timeout"`
	ProbeConcurrency   int           `yaml:"probe_concurrency"`
	FreshnessThreshold time.Duration `yaml:"freshness_threshold"`
	ExecuteTimeout     time.Duration `yaml:"execute_timeout"`
}

// CacheConfig holds response cache configuration
type CacheConfig struct {
	// Type is "local" or "redis"
	Type  string      `yaml:"type"`
	Redis RedisConfig `yaml:"redis"`
}

// RedisConfig holds Redis-specific cache configuration
type RedisConfig struct {
	URL    string `yaml:"url"`
	Prefix string `yaml:"prefix"`
}

// StorageConfig holds the shared database configuration
type StorageConfig struct {
	// Type is "sqlite", "postgresql" or "mongodb"
	Type       string           `yaml:"type"`
	SQLite     SQLiteConfig     `yaml:"sqlite"`
	PostgreSQL PostgreSQLConfig `yaml:"postgresql"`
	MongoDB    MongoDBConfig    `yaml:"mongodb"`
}

// SQLiteConfig holds SQLite-specific configuration
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// PostgreSQLConfig holds PostgreSQL-specific configuration
type PostgreSQLConfig struct {
	URL      string `yaml:"url"`
	MaxConns int    `yaml:"max_conns"`
}

// MongoDBConfig holds MongoDB-specific configuration
type MongoDBConfig struct {
	URL      string `yaml:"url"`
	Database string `yaml:"database"`
}

// UsageConfig controls persistence of usage summaries.
type UsageConfig struct {
	Persist          bool          `yaml:"persist"`
	SnapshotInterval time.Duration `yaml:"snapshot_interval"`
}

// SettingsConfig controls the persisted settings store (model overrides, weights).
type SettingsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// MetricsConfig holds Prometheus exposition settings
type MetricsConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
}

// LogConfig holds process logging settings
type LogConfig struct {
	// Format is "json", "pretty" or "auto" (pretty on a terminal)
	Format string `yaml:"format"`
	Level  string `yaml:"level"`
}

// RawPricingConfig is the YAML form of a pricing descriptor.
type RawPricingConfig struct {
	Type            string  `yaml:"type"`
	CostPer1K       float64 `yaml:"cost_per_1k"`
	InputCostPer1K  float64 `yaml:"input_cost_per_1k"`
	OutputCostPer1K float64 `yaml:"output_cost_per_1k"`
}

// RawProviderConfig is a provider entry as written in YAML, before env overlays and defaults.
type RawProviderConfig struct {
	Type     string            `yaml:"type"`
	Name     string            `yaml:"name"`
	APIKey   string            `yaml:"api_key"`
	BaseURL  string            `yaml:"base_url"`
	Model    string            `yaml:"model"`
	Enabled  *bool             `yaml:"enabled"`
	Priority int               `yaml:"priority"`
	Pricing  *RawPricingConfig `yaml:"pricing"`
}

// LoadResult holds the loaded configuration and where it came from.
type LoadResult struct {
	Config *Config
	// Path is the YAML file that was read, empty when running from defaults and env only.
	Path string
}

// buildDefaultConfig returns the configuration used before any file or env is applied.
func buildDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:          "8080",
			BodySizeLimit: "1M",
		},
		Router: RouterConfig{
			LatencyWeight:      0.5,
			CostWeight:         0.5,
			CacheTTL:           5 * time.Minute,
			ProbeInterval:      time.Minute,
			ProbeTimeout:       5 * time.Second,
			ProbeConcurrency:   4,
			FreshnessThreshold: 5 * time.Minute,
			ExecuteTimeout:     60 * time.Second,
		},
		Cache: CacheConfig{
			Type:  "local",
			Redis: RedisConfig{Prefix: "llmrouter:resp"},
		},
		Storage: StorageConfig{
			Type:       "sqlite",
			SQLite:     SQLiteConfig{Path: "data/llmrouter.db"},
			PostgreSQL: PostgreSQLConfig{MaxConns: 10},
			MongoDB:    MongoDBConfig{Database: "llmrouter"},
		},
		Usage: UsageConfig{
			SnapshotInterval: 30 * time.Second,
		},
		Metrics: MetricsConfig{
			Endpoint: "/metrics",
		},
		Logging: LogConfig{
			Format: "auto",
			Level:  "info",
		},
		Providers: make(map[string]RawProviderConfig),
	}
}

// Load reads configuration from .env, the YAML file at path and the environment.
// An empty path falls back to LLMROUTER_CONFIG and then DefaultConfigPath; a missing
// default file is not an error.
func Load(path string) (*LoadResult, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("failed to read .env file", "error", err)
	}

	cfg := buildDefaultConfig()

	explicit := path != ""
	if !explicit {
		if p := os.Getenv("LLMROUTER_CONFIG"); p != "" {
			path, explicit = p, true
		} else {
			path = DefaultConfigPath
		}
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal([]byte(expandString(string(data))), cfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
		path = ""
	default:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if cfg.Providers == nil {
		cfg.Providers = make(map[string]RawProviderConfig)
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &LoadResult{Config: cfg, Path: path}, nil
}

// Validate checks value ranges that YAML decoding cannot express.
func (c *Config) Validate() error {
	var errs []error
	if c.Router.LatencyWeight < 0 || c.Router.LatencyWeight > 1 {
		errs = append(errs, fmt.Errorf("router.latency_weight must be in [0,1], got %v", c.Router.LatencyWeight))
	}
	if c.Router.CostWeight < 0 || c.Router.CostWeight > 1 {
		errs = append(errs, fmt.Errorf("router.cost_weight must be in [0,1], got %v", c.Router.CostWeight))
	}
	if c.Router.ProbeConcurrency < 1 {
		errs = append(errs, fmt.Errorf("router.probe_concurrency must be at least 1"))
	}
	if c.Router.ProbeTimeout <= 0 {
		errs = append(errs, fmt.Errorf("router.probe_timeout must be positive"))
	}
	switch c.Cache.Type {
	case "local", "redis":
	default:
		errs = append(errs, fmt.Errorf("unknown cache.type %q (valid: local, redis)", c.Cache.Type))
	}
	if err := ValidateBodySizeLimit(c.Server.BodySizeLimit); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// envPattern matches ${VAR} and ${VAR:-default}.
var envPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-([^}]*))?\}`)

// expandString substitutes environment variables. Unresolved placeholders without a
// default are left as is so callers can detect them.
func expandString(s string) string {
	if !strings.Contains(s, "${") {
		return s
	}
	return envPattern.ReplaceAllStringFunc(s, func(match string) string {
		m := envPattern.FindStringSubmatch(match)
		if v := os.Getenv(m[1]); v != "" {
			return v
		}
		if strings.Contains(match, ":-") {
			return m[2]
		}
		return match
	})
}

// applyEnvOverrides lets well-known environment variables win over the YAML file.
func applyEnvOverrides(cfg *Config) error {
	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	var errs []error
	setBool := func(key string, dst *bool) {
		if v := os.Getenv(key); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("invalid %s: %w", key, err))
				return
			}
			*dst = b
		}
	}
	setInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("invalid %s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	setFloat := func(key string, dst *float64) {
		if v := os.Getenv(key); v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("invalid %s: %w", key, err))
				return
			}
			*dst = f
		}
	}
	setDuration := func(key string, dst *time.Duration) {
		if v := os.Getenv(key); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("invalid %s: %w", key, err))
				return
			}
			*dst = d
		}
	}

	setString("PORT", &cfg.Server.Port)
	setString("LLMROUTER_MASTER_KEY", &cfg.Server.MasterKey)
	setString("BODY_SIZE_LIMIT", &cfg.Server.BodySizeLimit)

	setFloat("ROUTER_LATENCY_WEIGHT", &cfg.Router.LatencyWeight)
	setFloat("ROUTER_COST_WEIGHT", &cfg.Router.CostWeight)
	setDuration("ROUTER_CACHE_TTL", &cfg.Router.CacheTTL)
	setDuration("ROUTER_PROBE_INTERVAL", &cfg.Router.ProbeInterval)
	setDuration("ROUTER_PROBE_TIMEOUT", &cfg.Router.ProbeTimeout)
	setInt("ROUTER_PROBE_CONCURRENCY", &cfg.Router.ProbeConcurrency)
	setDuration("ROUTER_FRESHNESS_THRESHOLD", &cfg.Router.FreshnessThreshold)
	setDuration("ROUTER_EXECUTE_TIMEOUT", &cfg.Router.ExecuteTimeout)

	setString("CACHE_TYPE", &cfg.Cache.Type)
	setString("REDIS_URL", &cfg.Cache.Redis.URL)
	setString("REDIS_PREFIX", &cfg.Cache.Redis.Prefix)

	setString("STORAGE_TYPE", &cfg.Storage.Type)
	setString("SQLITE_PATH", &cfg.Storage.SQLite.Path)
	setString("POSTGRES_URL", &cfg.Storage.PostgreSQL.URL)
	setInt("POSTGRES_MAX_CONNS", &cfg.Storage.PostgreSQL.MaxConns)
	setString("MONGODB_URL", &cfg.Storage.MongoDB.URL)
	setString("MONGODB_DATABASE", &cfg.Storage.MongoDB.Database)

	setBool("USAGE_PERSIST", &cfg.Usage.Persist)
	setDuration("USAGE_SNAPSHOT_INTERVAL", &cfg.Usage.SnapshotInterval)
	setBool("SETTINGS_ENABLED", &cfg.Settings.Enabled)

	setBool("METRICS_ENABLED", &cfg.Metrics.Enabled)
	setString("METRICS_ENDPOINT", &cfg.Metrics.Endpoint)

	setString("LOG_FORMAT", &cfg.Logging.Format)
	setString("LOG_LEVEL", &cfg.Logging.Level)

	return errors.Join(errs...)
}

// ValidateBodySizeLimit validates a body size limit string.
// Accepts plain bytes or a K/M suffix with an optional trailing B, between 1KB and 100MB.
func ValidateBodySizeLimit(s string) error {
	_, err := ParseBodySizeLimit(s)
	return err
}

var bodySizePattern = regexp.MustCompile(`^(\d+)([KkMm])?[Bb]?$`)

// ParseBodySizeLimit converts a body size limit string to bytes. Empty means 0 (unset).
func ParseBodySizeLimit(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	m := bodySizePattern.FindStringSubmatch(s)
	if m == nil || (m[2] == "" && strings.ContainsAny(s, "bB")) {
		return 0, fmt.Errorf("invalid body size limit %q", s)
	}
	n, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid body size limit %q: %w", s, err)
	}
	switch strings.ToUpper(m[2]) {
	case "K":
		n *= 1024
	case "M":
		n *= 1024 * 1024
	}
	const minSize, maxSize = 1024, 100 * 1024 * 1024
	if n < minSize || n > maxSize {
		return 0, fmt.Errorf("body size limit %q out of range (1K..100M)", s)
	}
	return n, nil
}
