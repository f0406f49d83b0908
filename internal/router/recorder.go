package router

import (
	"time"

	"llmrouter/internal/core"
)

// Route outcomes reported to a Recorder.
const (
	OutcomeSuccess    = "success"
	OutcomeCached     = "cached"
	OutcomeError      = "error"
	OutcomeNoProvider = "no_provider"
)

// Recorder receives routing telemetry. Implementations must be safe for concurrent use.
type Recorder interface {
	RouteCompleted(provider, outcome string, duration time.Duration)
	CacheLookup(provider string, hit bool)
	UsageRecorded(provider string, usage core.Usage, cost float64)
}

type nopRecorder struct{}

func (nopRecorder) RouteCompleted(string, string, time.Duration) {}
func (nopRecorder) CacheLookup(string, bool) {}
func (nopRecorder) UsageRecorded(string, core.Usage, float64) {}
