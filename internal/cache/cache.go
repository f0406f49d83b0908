// Package cache memoizes generation results per provider and normalized request.
// Supports a local in-memory backend and Redis for multi-instance deployments.
package cache

import (
	"context"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"

	"llmrouter/internal/core"
)

// Key identifies a cached result. Provider is kept in clear so entries can be
// invalidated per provider.
type Key struct {
	Provider string
	Hash     uint64
}

// String renders the key as provider:hex-hash.
func (k Key) String() string {
	return k.Provider + ":" + strconv.FormatUint(k.Hash, 16)
}

// NewKey derives the cache key of req when served by provider. User and request
// IDs are not part of the key.
func NewKey(provider string, req *core.GenerationRequest) Key {
	d := xxhash.New()
	_, _ = d.WriteString(provider)
	_, _ = d.Write([]byte{0})
	_, _ = d.WriteString(NormalizePrompt(req.Prompt))
	_, _ = d.Write([]byte{0})
	_, _ = d.WriteString(strconv.Itoa(req.EffectiveMaxTokens()))
	_, _ = d.Write([]byte{0})
	_, _ = d.WriteString(temperatureKey(req.Temperature))
	return Key{Provider: provider, Hash: d.Sum64()}
}

// NormalizePrompt trims the prompt and collapses runs of whitespace to one space.
func NormalizePrompt(prompt string) string {
	return strings.Join(strings.Fields(prompt), " ")
}

// temperatureKey renders the temperature in hundredths. Unset and zero differ
// because an unset temperature leaves the provider default in place.
func temperatureKey(t *float64) string {
	if t == nil {
		return "-"
	}
	return strconv.FormatInt(int64(math.Round(*t*100)), 10)
}

// Entry is a stored result.
type Entry struct {
	Provider   string                 `json:"provider"`
	Result     *core.GenerationResult `json:"result"`
	InsertedAt time.Time              `json:"inserted_at"`
}

// Cache defines the interface for response cache storage.
// Implementations must be safe for concurrent use.
type Cache interface {
	// Get returns the result stored under key if it is younger than the TTL.
	// Returns nil, nil on a miss.
	Get(ctx context.Context, key Key) (*core.GenerationResult, error)

	// Set stores result under key, replacing any previous entry.
	Set(ctx context.Context, key Key, result *core.GenerationResult) error

	// InvalidateProvider drops every entry of one provider and returns how many were removed.
	InvalidateProvider(ctx context.Context, provider string) (int, error)

	// Clear drops every entry.
	Clear(ctx context.Context) error

	// Close releases any resources held by the cache.
	Close() error
}
