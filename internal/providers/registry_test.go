package providers

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"llmrouter/internal/core"
)

func validConfig(key, typ string) core.ProviderConfig {
	return core.ProviderConfig{
		Key:      key,
		Name:     key,
		Type:     typ,
		BaseURL:  "http://" + key + ".local/v1",
		APIKey:   "k",
		Model:    "m1",
		Enabled:  true,
		Priority: 5,
		Pricing:  core.Pricing{Type: core.PricingFree},
	}
}

func newTestRegistry() *Registry {
	return NewRegistry(testFactory())
}

func TestRegistry_Load(t *testing.T) {
	r := newTestRegistry()
	skipped := r.Load([]core.ProviderConfig{
		validConfig("b", "openai"),
		validConfig("a", "ollama"),
	})

	assert.Empty(t, skipped)
	assert.Equal(t, 2, r.Len())
	assert.Equal(t, []string{"a", "b"}, r.Keys())

	e, ok := r.Get("a")
	require.True(t, ok)
	assert.Equal(t, "ollama", e.Config.Type)
	assert.NotNil(t, e.Provider)
	assert.NotNil(t, e.Health)
}

func TestRegistry_LoadSkipsInvalid(t *testing.T) {
	unknownPricing := validConfig("tiered", "openai")
	unknownPricing.Pricing.Type = "tiered"

	badPriority := validConfig("prio", "openai")
	badPriority.Priority = 11

	noModel := validConfig("nomodel", "openai")
	noModel.Model = ""

	negative := validConfig("neg", "openai")
	negative.Pricing = core.Pricing{Type: core.PricingFlat, CostPer1K: -1}

	tests := []struct {
		name string
		cfg  core.ProviderConfig
	}{
		{"unknown pricing type", unknownPricing},
		{"priority out of range", badPriority},
		{"missing model", noModel},
		{"negative cost", negative},
		{"unknown provider type", validConfig("mystery", "mystery")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestRegistry()
			skipped := r.Load([]core.ProviderConfig{validConfig("ok", "openai"), tt.cfg})

			require.Len(t, skipped, 1)
			assert.True(t, errors.Is(skipped[0], core.ErrProviderConfig))
			assert.Equal(t, []string{"ok"}, r.Keys())
		})
	}
}

func TestRegistry_LoadDuplicateKey(t *testing.T) {
	r := newTestRegistry()
	first := validConfig("dup", "openai")
	second := validConfig("dup", "groq")

	skipped := r.Load([]core.ProviderConfig{first, second})
	require.Len(t, skipped, 1)

	e, _ := r.Get("dup")
	assert.Equal(t, "openai", e.Config.Type, "first definition wins")
}

func TestRegistry_Reload(t *testing.T) {
	r := newTestRegistry()
	r.Load([]core.ProviderConfig{
		validConfig("same", "openai"),
		validConfig("moved", "openai"),
		validConfig("repriced", "openai"),
		validConfig("gone", "openai"),
	})

	same, _ := r.Get("same")
	moved, _ := r.Get("moved")
	repriced, _ := r.Get("repriced")
	moved.Health.RecordSuccess(100*time.Millisecond, time.Now())
	repriced.Health.RecordSuccess(100*time.Millisecond, time.Now())

	movedCfg := validConfig("moved", "openai")
	movedCfg.BaseURL = "http://elsewhere/v1"
	repricedCfg := validConfig("repriced", "openai")
	repricedCfg.Pricing = core.Pricing{Type: core.PricingFlat, CostPer1K: 0.2}

	result := r.Reload([]core.ProviderConfig{
		validConfig("same", "openai"),
		movedCfg,
		repricedCfg,
		validConfig("new", "ollama"),
	})

	assert.Equal(t, []string{"new"}, result.Added)
	assert.Equal(t, []string{"gone"}, result.Removed)
	assert.Equal(t, []string{"moved"}, result.Changed)
	assert.Equal(t, []string{"repriced"}, result.Updated)
	assert.Empty(t, result.Skipped)
	assert.Equal(t, []string{"gone", "moved"}, result.Invalidated())

	sameAfter, _ := r.Get("same")
	assert.Same(t, same, sameAfter, "unchanged entry is reused")

	movedAfter, _ := r.Get("moved")
	assert.Same(t, moved.Health, movedAfter.Health)
	assert.False(t, movedAfter.Health.Snapshot().Probed, "health reset after endpoint change")

	repricedAfter, _ := r.Get("repriced")
	assert.NotSame(t, repriced, repricedAfter)
	assert.True(t, repricedAfter.Health.Snapshot().Available, "health kept when only pricing changed")

	_, ok := r.Get("gone")
	assert.False(t, ok)
}

func TestRegistry_UpdateModel(t *testing.T) {
	r := newTestRegistry()
	r.Load([]core.ProviderConfig{validConfig("a", "openai")})
	before, _ := r.Get("a")

	ok, err := r.UpdateModel("missing", "m2")
	assert.False(t, ok)
	assert.NoError(t, err)

	ok, err = r.UpdateModel("a", "   ")
	assert.False(t, ok)
	assert.True(t, errors.Is(err, core.ErrProviderConfig))

	ok, err = r.UpdateModel("a", "m2")
	require.NoError(t, err)
	assert.True(t, ok)

	after, _ := r.Get("a")
	assert.Equal(t, "m2", after.Config.Model)
	assert.Same(t, before.Provider, after.Provider)
	assert.Same(t, before.Health, after.Health)
	assert.Equal(t, "m1", before.Config.Model, "published entries are not mutated")
}

func TestRegistry_ConcurrentReadsDuringReload(t *testing.T) {
	r := newTestRegistry()
	r.Load([]core.ProviderConfig{validConfig("a", "openai"), validConfig("b", "openai")})

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				for _, e := range r.Snapshot() {
					_ = e.Config.Model
				}
			}
		}()
	}
	for i := 0; i < 50; i++ {
		cfg := validConfig("a", "openai")
		if i%2 == 0 {
			cfg.Model = "m2"
		}
		r.Reload([]core.ProviderConfig{cfg, validConfig("b", "openai")})
	}
	close(stop)
	wg.Wait()
	assert.Equal(t, 2, r.Len())
}
