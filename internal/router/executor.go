package router

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"llmrouter/internal/core"
	"llmrouter/internal/providers"
	"llmrouter/internal/usage"
)

// DefaultExecuteTimeout bounds one provider call when no timeout is configured.
const DefaultExecuteTimeout = 60 * time.Second

// FailureReporter receives provider failures observed outside of probing.
type FailureReporter interface {
	MarkFailure(key string, err error)
}

// Executor performs generation calls against a single provider.
type Executor struct {
	timeout  time.Duration
	failures FailureReporter
	usage    *usage.Accountant
	recorder Recorder
	now      func() time.Time
}

// NewExecutor creates an executor. failures and recorder may be nil.
func NewExecutor(timeout time.Duration, acct *usage.Accountant, failures FailureReporter, recorder Recorder) *Executor {
	if timeout <= 0 {
		timeout = DefaultExecuteTimeout
	}
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &Executor{
		timeout:  timeout,
		failures: failures,
		usage:    acct,
		recorder: recorder,
		now:      time.Now,
	}
}

// Execute calls the provider of entry once, retrying immediately once on a
// transport failure. Successful calls are priced and recorded.
func (x *Executor) Execute(ctx context.Context, entry *providers.Entry, req *core.GenerationRequest) (*core.GenerationResult, error) {
	cfg := entry.Config
	preq := &core.ProviderRequest{
		Model:       cfg.Model,
		Prompt:      req.Prompt,
		MaxTokens:   req.EffectiveMaxTokens(),
		Temperature: req.Temperature,
		RequestID:   req.RequestID,
	}
	if req.UserID != "" {
		ctx = core.WithUserID(ctx, req.UserID)
	}
	if req.RequestID != "" {
		ctx = core.WithRequestID(ctx, req.RequestID)
	}

	start := x.now()
	resp, err := x.attempt(ctx, entry, preq)
	if err != nil && retryable(ctx, err) {
		slog.Warn("provider call failed, retrying once",
			"provider", cfg.Key, "request_id", req.RequestID, "error", err)
		resp, err = x.attempt(ctx, entry, preq)
	}
	if err != nil {
		err = x.fail(ctx, cfg.Key, err)
		return nil, err
	}
	latency := x.now().Sub(start)

	completion := resp.Normalize()
	u := completion.Usage
	if u.TotalTokens == 0 {
		u.TotalTokens = u.PromptTokens + u.CompletionTokens
	}
	model := completion.Model
	if model == "" {
		model = cfg.Model
	}

	cost := usage.CalculateCost(cfg.Key, u, cfg.Pricing)
	if x.usage != nil {
		x.usage.Record(cfg.Key, u, cost)
	}
	x.recorder.UsageRecorded(cfg.Key, u, cost)

	slog.Debug("provider call completed",
		"provider", cfg.Key,
		"request_id", req.RequestID,
		"latency_ms", latency.Milliseconds(),
		"total_tokens", u.TotalTokens,
		"cost", cost,
	)

	return &core.GenerationResult{
		Provider:  cfg.Key,
		Model:     model,
		Content:   completion.Content,
		Usage:     u,
		LatencyMs: latency.Milliseconds(),
		Cost:      &cost,
		CreatedAt: x.now(),
	}, nil
}

func (x *Executor) attempt(ctx context.Context, entry *providers.Entry, preq *core.ProviderRequest) (core.WireResponse, error) {
	callCtx, cancel := context.WithTimeout(ctx, x.timeout)
	defer cancel()

	resp, err := entry.Provider.Generate(callCtx, preq)
	if err != nil {
		if callCtx.Err() != nil && ctx.Err() == nil {
			return nil, &core.RouterError{
				Type:       core.ErrorTypeProviderTransport,
				Message:    "provider call timed out after " + x.timeout.String(),
				StatusCode: http.StatusGatewayTimeout,
				Provider:   entry.Config.Key,
				Err:        err,
			}
		}
		return nil, err
	}
	if resp == nil {
		return nil, core.NewProviderTransportError(entry.Config.Key, "provider returned an empty response", nil)
	}
	return resp, nil
}

// fail converts err to a RouterError and reports provider-side failures.
func (x *Executor) fail(ctx context.Context, key string, err error) error {
	re, ok := core.AsRouterError(err)
	if !ok {
		re = core.NewProviderTransportError(key, err.Error(), err)
	}
	if re.Provider == "" {
		re.Provider = key
	}
	if ctx.Err() != nil {
		return re
	}
	switch re.Type {
	case core.ErrorTypeProviderTransport, core.ErrorTypeProviderConfig:
		if x.failures != nil {
			x.failures.MarkFailure(key, re)
		}
	}
	slog.Error("provider call failed", "provider", key, "error", re)
	return re
}

// retryable reports whether err warrants the single immediate retry.
// Caller cancellation never does.
func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		return false
	}
	re, ok := core.AsRouterError(err)
	if !ok {
		return true
	}
	return re.Type == core.ErrorTypeProviderTransport
}
