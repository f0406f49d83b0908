package core

import (
	"sync"
	"time"
)

// LatencyAlpha is the smoothing factor of the latency moving average.
const LatencyAlpha = 0.3

// ProviderHealth holds the mutable ProviderState of one provider.
// One instance exists per configured provider and survives refreshes that do not remove it.
type ProviderHealth struct {
	mu      sync.RWMutex
	state   ProviderState
	samples int
}

// NewProviderHealth returns an unprobed, unavailable state.
func NewProviderHealth() *ProviderHealth {
	return &ProviderHealth{}
}

// Snapshot returns a copy of the current state.
func (h *ProviderHealth) Snapshot() ProviderState {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.state
}

// RecordSuccess marks the provider available and folds latency into the moving average.
func (h *ProviderHealth) RecordSuccess(latency time.Duration, at time.Time) {
	sample := float64(latency.Microseconds()) / 1000
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.samples == 0 {
		h.state.AvgLatencyMs = sample
	} else {
		h.state.AvgLatencyMs = LatencyAlpha*sample + (1-LatencyAlpha)*h.state.AvgLatencyMs
	}
	h.samples++
	h.state.Available = true
	h.state.Probed = true
	h.state.LastProbeAt = at
	h.state.LastError = ""
}

// RecordFailure marks the provider unavailable. Latency is left untouched.
func (h *ProviderHealth) RecordFailure(err error, at time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.state.Available = false
	h.state.Probed = true
	h.state.LastProbeAt = at
	if err != nil {
		h.state.LastError = err.Error()
	}
}

// Reset forgets all probe results.
func (h *ProviderHealth) Reset() {
	h.mu.Lock()
	h.state = ProviderState{}
	h.samples = 0
	h.mu.Unlock()
}
