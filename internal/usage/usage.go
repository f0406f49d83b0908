// Package usage accumulates token usage and cost per provider and persists
// snapshots of the running totals.
package usage

import (
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"llmrouter/internal/core"
)

// Summary is the running total of one provider.
type Summary struct {
	Provider         string    `json:"provider"`
	TotalTokens      int64     `json:"total_tokens"`
	PromptTokens     int64     `json:"prompt_tokens"`
	CompletionTokens int64     `json:"completion_tokens"`
	Cost             float64   `json:"cost"`
	Requests         int64     `json:"requests"`
	LastResetAt      time.Time `json:"last_reset_at,omitzero"`
}

type counters struct {
	totalTokens      atomic.Int64
	promptTokens     atomic.Int64
	completionTokens atomic.Int64
	requests         atomic.Int64
	costBits         atomic.Uint64
	lastResetAt      atomic.Int64 // unix nanos, 0 when never reset
}

func (c *counters) addCost(cost float64) {
	for {
		old := c.costBits.Load()
		next := math.Float64bits(math.Float64frombits(old) + cost)
		if c.costBits.CompareAndSwap(old, next) {
			return
		}
	}
}

func (c *counters) summary(provider string) Summary {
	s := Summary{
		Provider:         provider,
		TotalTokens:      c.totalTokens.Load(),
		PromptTokens:     c.promptTokens.Load(),
		CompletionTokens: c.completionTokens.Load(),
		Cost:             math.Float64frombits(c.costBits.Load()),
		Requests:         c.requests.Load(),
	}
	if ns := c.lastResetAt.Load(); ns != 0 {
		s.LastResetAt = time.Unix(0, ns).UTC()
	}
	return s
}

// Accountant holds per-provider counters. Record is lock-free once a provider
// has been seen.
type Accountant struct {
	mu    sync.RWMutex
	byKey map[string]*counters
	now   func() time.Time
}

// NewAccountant creates an empty accountant.
func NewAccountant() *Accountant {
	return &Accountant{
		byKey: make(map[string]*counters),
		now:   time.Now,
	}
}

// SetClock replaces the time source used to stamp resets.
func (a *Accountant) SetClock(now func() time.Time) {
	a.now = now
}

func (a *Accountant) get(provider string) (*counters, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	c, ok := a.byKey[provider]
	return c, ok
}

func (a *Accountant) getOrCreate(provider string) *counters {
	if c, ok := a.get(provider); ok {
		return c
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if c, ok := a.byKey[provider]; ok {
		return c
	}
	c := &counters{}
	a.byKey[provider] = c
	return c
}

// Ensure creates zero summaries for providers not seen yet.
func (a *Accountant) Ensure(providers ...string) {
	for _, p := range providers {
		a.getOrCreate(p)
	}
}

// Record adds one successful call to the provider's totals.
func (a *Accountant) Record(provider string, u core.Usage, cost float64) {
	c := a.getOrCreate(provider)
	c.totalTokens.Add(int64(u.TotalTokens))
	c.promptTokens.Add(int64(u.PromptTokens))
	c.completionTokens.Add(int64(u.CompletionTokens))
	c.requests.Add(1)
	if cost != 0 {
		c.addCost(cost)
	}
}

// Summaries returns a snapshot of every known provider, sorted by key.
func (a *Accountant) Summaries() []Summary {
	a.mu.RLock()
	out := make([]Summary, 0, len(a.byKey))
	for k, c := range a.byKey {
		out = append(out, c.summary(k))
	}
	a.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Provider < out[j].Provider })
	return out
}

// Summary returns the snapshot of one provider.
func (a *Accountant) Summary(provider string) (Summary, bool) {
	c, ok := a.get(provider)
	if !ok {
		return Summary{}, false
	}
	return c.summary(provider), true
}

// Reset zeroes the provider's counters and stamps the reset time.
// It returns false and changes nothing when the provider is unknown.
func (a *Accountant) Reset(provider string) bool {
	c, ok := a.get(provider)
	if !ok {
		return false
	}
	c.totalTokens.Store(0)
	c.promptTokens.Store(0)
	c.completionTokens.Store(0)
	c.requests.Store(0)
	c.costBits.Store(0)
	c.lastResetAt.Store(a.now().UnixNano())
	return true
}

// Restore loads persisted totals, replacing the counters of the listed providers.
func (a *Accountant) Restore(summaries []Summary) {
	for _, s := range summaries {
		c := a.getOrCreate(s.Provider)
		c.totalTokens.Store(s.TotalTokens)
		c.promptTokens.Store(s.PromptTokens)
		c.completionTokens.Store(s.CompletionTokens)
		c.requests.Store(s.Requests)
		c.costBits.Store(math.Float64bits(s.Cost))
		if s.LastResetAt.IsZero() {
			c.lastResetAt.Store(0)
		} else {
			c.lastResetAt.Store(s.LastResetAt.UnixNano())
		}
	}
}
