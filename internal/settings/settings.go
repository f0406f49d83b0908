// Package settings persists runtime-editable router settings, such as
// per-provider model overrides and scoring weights, as key/value pairs.
package settings

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"llmrouter/internal/storage"
)

// Well-known keys.
const (
	KeyLatencyWeight = "router.latency_weight"
	KeyCostWeight    = "router.cost_weight"

	modelOverridePrefix = "provider.model."
)

// Store is a string key/value store. Implementations must be safe for concurrent use.
type Store interface {
	// Get returns the value for key and whether it exists.
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	// List returns every pair whose key starts with prefix.
	List(ctx context.Context, prefix string) (map[string]string, error)
	Close() error
}

// NewStore creates the Store matching the storage backend. A nil storage
// yields an in-memory store.
func NewStore(ctx context.Context, store storage.Storage) (Store, error) {
	if store == nil {
		return NewMemoryStore(), nil
	}
	switch store.Type() {
	case storage.TypeSQLite:
		return NewSQLiteStore(ctx, store.SQLiteDB())
	case storage.TypePostgreSQL:
		return NewPostgreSQLStore(ctx, store.PostgreSQLPool())
	case storage.TypeMongoDB:
		return NewMongoDBStore(ctx, store.MongoDatabase())
	default:
		return nil, fmt.Errorf("unknown storage type: %s", store.Type())
	}
}

// ModelOverrides returns the persisted model per provider key.
func ModelOverrides(ctx context.Context, s Store) (map[string]string, error) {
	raw, err := s.List(ctx, modelOverridePrefix)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		out[strings.TrimPrefix(k, modelOverridePrefix)] = v
	}
	return out, nil
}

// SetModelOverride persists the model selected for a provider.
func SetModelOverride(ctx context.Context, s Store, provider, model string) error {
	return s.Set(ctx, modelOverridePrefix+provider, model)
}

// DeleteModelOverride forgets the model override of a provider.
func DeleteModelOverride(ctx context.Context, s Store, provider string) error {
	return s.Delete(ctx, modelOverridePrefix+provider)
}

// Weights returns the persisted scoring weights, falling back to the given
// defaults for weights that were never saved.
func Weights(ctx context.Context, s Store, latencyDefault, costDefault float64) (latency, cost float64, err error) {
	latency, err = floatSetting(ctx, s, KeyLatencyWeight, latencyDefault)
	if err != nil {
		return 0, 0, err
	}
	cost, err = floatSetting(ctx, s, KeyCostWeight, costDefault)
	if err != nil {
		return 0, 0, err
	}
	return latency, cost, nil
}

// SaveWeights persists both scoring weights.
func SaveWeights(ctx context.Context, s Store, latency, cost float64) error {
	if err := s.Set(ctx, KeyLatencyWeight, strconv.FormatFloat(latency, 'g', -1, 64)); err != nil {
		return err
	}
	return s.Set(ctx, KeyCostWeight, strconv.FormatFloat(cost, 'g', -1, 64))
}

func floatSetting(ctx context.Context, s Store, key string, def float64) (float64, error) {
	v, ok, err := s.Get(ctx, key)
	if err != nil || !ok {
		return def, err
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid setting %s=%q: %w", key, v, err)
	}
	return f, nil
}
