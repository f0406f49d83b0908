package router

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"llmrouter/internal/core"
	"llmrouter/internal/providers"
)

// Candidate is an eligible provider together with its score. Lower scores win.
type Candidate struct {
	Entry *providers.Entry
	State core.ProviderState
	Score float64
}

// Key returns the provider key of the candidate.
func (c Candidate) Key() string {
	return c.Entry.Config.Key
}

// Selector ranks providers by a weighted, min-max normalized blend of
// average latency and expected cost per 1K tokens.
type Selector struct {
	mu            sync.RWMutex
	latencyWeight float64
	costWeight    float64

	freshness time.Duration
	now       func() time.Time
}

// NewSelector creates a selector. Weights are clamped to [0,1].
func NewSelector(latencyWeight, costWeight float64, freshness time.Duration) *Selector {
	s := &Selector{freshness: freshness, now: time.Now}
	s.SetWeights(latencyWeight, costWeight)
	return s
}

// SetClock replaces the time source used for freshness checks.
func (s *Selector) SetClock(now func() time.Time) {
	s.now = now
}

// SetWeights updates the scoring weights.
func (s *Selector) SetWeights(latencyWeight, costWeight float64) {
	s.mu.Lock()
	s.latencyWeight = clamp01(latencyWeight)
	s.costWeight = clamp01(costWeight)
	s.mu.Unlock()
}

// Weights returns the current latency and cost weights.
func (s *Selector) Weights() (latency, cost float64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latencyWeight, s.costWeight
}

// Eligible reports whether an entry may serve traffic right now.
func (s *Selector) Eligible(e *providers.Entry, state core.ProviderState) bool {
	return e.Config.Enabled && state.Available && state.Fresh(s.now(), s.freshness)
}

// Rank returns the eligible entries for req, best first.
// When req pins a provider only that provider is considered.
func (s *Selector) Rank(entries []*providers.Entry, req *core.GenerationRequest) []Candidate {
	candidates := make([]Candidate, 0, len(entries))
	for _, e := range entries {
		if req != nil && req.Provider != "" && e.Config.Key != req.Provider {
			continue
		}
		state := e.Health.Snapshot()
		if !s.Eligible(e, state) {
			continue
		}
		candidates = append(candidates, Candidate{Entry: e, State: state})
	}
	if len(candidates) == 0 {
		return nil
	}

	latencyWeight, costWeight := s.Weights()
	latency := make([]float64, len(candidates))
	cost := make([]float64, len(candidates))
	for i, c := range candidates {
		latency[i] = c.State.AvgLatencyMs
		cost[i] = c.Entry.Config.Pricing.ExpectedCostPer1K()
	}
	normLatency := minMax(latency)
	normCost := minMax(cost)
	for i := range candidates {
		candidates[i].Score = latencyWeight*normLatency[i] + costWeight*normCost[i]
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.Score != b.Score {
			return a.Score < b.Score
		}
		if a.Entry.Config.Priority != b.Entry.Config.Priority {
			return a.Entry.Config.Priority < b.Entry.Config.Priority
		}
		return a.Key() < b.Key()
	})
	return candidates
}

// Select returns the best eligible entry, or a NoProviderAvailable error.
func (s *Selector) Select(entries []*providers.Entry, req *core.GenerationRequest) (*providers.Entry, error) {
	ranked := s.Rank(entries, req)
	if len(ranked) == 0 {
		return nil, noneEligible(len(entries), req)
	}
	return ranked[0].Entry, nil
}

func noneEligible(total int, req *core.GenerationRequest) error {
	if req != nil && req.Provider != "" {
		return core.NewNoProviderAvailableError(fmt.Sprintf("provider %q is disabled or unavailable", req.Provider))
	}
	return core.NewNoProviderAvailableError(fmt.Sprintf("none of %d configured providers is enabled and available", total))
}

// minMax maps values onto [0,1]. A set with no spread maps to all zeros.
func minMax(values []float64) []float64 {
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, v := range values {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	out := make([]float64, len(values))
	spread := hi - lo
	if spread <= 0 {
		return out
	}
	for i, v := range values {
		out[i] = (v - lo) / spread
	}
	return out
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
