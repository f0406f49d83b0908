// Package server provides HTTP handlers and server setup for the provider router.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"llmrouter/internal/core"
	"llmrouter/internal/health"
	"llmrouter/internal/router"
	"llmrouter/internal/usage"
)

// testPrompt is sent by the provider test endpoint when the body has no prompt.
const testPrompt = "Reply with OK."

// Router is the part of router.Router the HTTP surface needs.
type Router interface {
	Route(ctx context.Context, req *core.GenerationRequest) (*core.GenerationResult, error)
	Initialized() bool
	ProviderStats() map[string]router.ProviderStats
	Refresh(ctx context.Context) (router.RefreshReport, error)
	UpdateProviderModel(ctx context.Context, key, model string) (bool, error)
	TestProvider(ctx context.Context, key string, req *core.GenerationRequest) (*core.GenerationResult, error)
	TriggerProbe(ctx context.Context) []health.Result
	ClearCache(ctx context.Context) error
	UsageSummaries() []usage.Summary
	ResetUsage(key string) bool
	Weights() (latency, cost float64)
	SetWeights(ctx context.Context, latency, cost float64) error
}

// Handler holds the HTTP handlers
type Handler struct {
	router   Router
	validate *validator.Validate
}

// NewHandler creates a new handler backed by router
func NewHandler(router Router) *Handler {
	return &Handler{
		router:   router,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

type modelUpdateRequest struct {
	Model string `json:"model" validate:"required"`
}

type weightsPayload struct {
	LatencyWeight *float64 `json:"latency_weight" validate:"required,gte=0,lte=1"`
	CostWeight    *float64 `json:"cost_weight" validate:"required,gte=0,lte=1"`
}

type probeResult struct {
	Provider  string `json:"provider"`
	Available bool   `json:"available"`
	LatencyMs int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}

// Generate handles POST /v1/generate
func (h *Handler) Generate(c echo.Context) error {
	var req core.GenerationRequest
	if err := c.Bind(&req); err != nil {
		return handleError(c, core.NewInvalidRequestError("invalid request body: "+err.Error(), err))
	}

	ctx := c.Request().Context()
	if req.RequestID == "" {
		req.RequestID = core.GetRequestID(ctx)
	} else {
		ctx = core.WithRequestID(ctx, req.RequestID)
	}
	ctx = core.WithUserID(ctx, req.UserID)

	result, err := h.router.Route(ctx, &req)
	if err != nil {
		return handleError(c, err)
	}
	return c.JSON(http.StatusOK, result)
}

// Health handles GET /health
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// Ready handles GET /ready. It reports 503 until the first probe cycle has finished.
func (h *Handler) Ready(c echo.Context) error {
	if !h.router.Initialized() {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "initializing"})
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ready"})
}

// ListProviders handles GET /admin/api/v1/providers
func (h *Handler) ListProviders(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"providers": h.router.ProviderStats(),
	})
}

// RefreshProviders handles POST /admin/api/v1/providers/refresh
func (h *Handler) RefreshProviders(c echo.Context) error {
	report, err := h.router.Refresh(c.Request().Context())
	if err != nil {
		slog.Error("provider refresh failed", "error", err)
		return handleError(c, err)
	}
	return c.JSON(http.StatusOK, report)
}

// UpdateProviderModel handles PUT /admin/api/v1/providers/:key/model
func (h *Handler) UpdateProviderModel(c echo.Context) error {
	key := c.Param("key")
	var body modelUpdateRequest
	if err := c.Bind(&body); err != nil {
		return handleError(c, core.NewInvalidRequestError("invalid request body: "+err.Error(), err))
	}
	if err := h.validate.Struct(body); err != nil {
		return handleError(c, core.NewInvalidRequestError("model is required", err))
	}

	ok, err := h.router.UpdateProviderModel(c.Request().Context(), key, body.Model)
	if err != nil {
		return handleError(c, err)
	}
	if !ok {
		return handleError(c, core.NewUnknownProviderError(key))
	}
	return c.JSON(http.StatusOK, map[string]string{"provider": key, "model": body.Model})
}

// TestProvider handles POST /admin/api/v1/providers/:key/test
func (h *Handler) TestProvider(c echo.Context) error {
	var req core.GenerationRequest
	if c.Request().ContentLength != 0 {
		if err := c.Bind(&req); err != nil {
			return handleError(c, core.NewInvalidRequestError("invalid request body: "+err.Error(), err))
		}
	}
	if req.Prompt == "" {
		req.Prompt = testPrompt
	}
	ctx := c.Request().Context()
	req.RequestID = core.GetRequestID(ctx)

	result, err := h.router.TestProvider(ctx, c.Param("key"), &req)
	if err != nil {
		return handleError(c, err)
	}
	return c.JSON(http.StatusOK, result)
}

// Probe handles POST /admin/api/v1/probe
func (h *Handler) Probe(c echo.Context) error {
	results := h.router.TriggerProbe(c.Request().Context())
	out := make([]probeResult, 0, len(results))
	for _, r := range results {
		pr := probeResult{
			Provider:  r.Key,
			Available: r.Available,
			LatencyMs: r.Latency.Milliseconds(),
		}
		if r.Err != nil {
			pr.Error = r.Err.Error()
		}
		out = append(out, pr)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"results": out})
}

// ClearCache handles DELETE /admin/api/v1/cache
func (h *Handler) ClearCache(c echo.Context) error {
	if err := h.router.ClearCache(c.Request().Context()); err != nil {
		slog.Error("cache clear failed", "error", err)
		return handleError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// Usage handles GET /admin/api/v1/usage
func (h *Handler) Usage(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"usage": h.router.UsageSummaries(),
	})
}

// ResetUsage handles POST /admin/api/v1/usage/:key/reset
func (h *Handler) ResetUsage(c echo.Context) error {
	key := c.Param("key")
	if !h.router.ResetUsage(key) {
		return handleError(c, core.NewUnknownProviderError(key))
	}
	return c.NoContent(http.StatusNoContent)
}

// GetWeights handles GET /admin/api/v1/weights
func (h *Handler) GetWeights(c echo.Context) error {
	latency, cost := h.router.Weights()
	return c.JSON(http.StatusOK, weightsPayload{LatencyWeight: &latency, CostWeight: &cost})
}

// SetWeights handles PUT /admin/api/v1/weights
func (h *Handler) SetWeights(c echo.Context) error {
	var body weightsPayload
	if err := c.Bind(&body); err != nil {
		return handleError(c, core.NewInvalidRequestError("invalid request body: "+err.Error(), err))
	}
	if err := h.validate.Struct(body); err != nil {
		return handleError(c, core.NewInvalidRequestError("latency_weight and cost_weight must be set within [0,1]", err))
	}
	if err := h.router.SetWeights(c.Request().Context(), *body.LatencyWeight, *body.CostWeight); err != nil {
		return handleError(c, err)
	}
	return c.JSON(http.StatusOK, body)
}

// handleError converts router errors to their JSON envelope and status code.
func handleError(c echo.Context, err error) error {
	var routerErr *core.RouterError
	if errors.As(err, &routerErr) {
		return c.JSON(routerErr.HTTPStatusCode(), routerErr.ToJSON())
	}

	// Fallback for unexpected errors
	return c.JSON(http.StatusInternalServerError, map[string]interface{}{
		"error": map[string]interface{}{
			"type":    "internal_error",
			"message": "an unexpected error occurred",
		},
	})
}
