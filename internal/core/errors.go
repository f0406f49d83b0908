// Package core provides core types and interfaces for the provider router.
package core

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"
)

// ErrorType represents the type of error that occurred
type ErrorType string

const (
	// ErrorTypeNoProviderAvailable indicates no provider passed the eligibility filter (503)
	ErrorTypeNoProviderAvailable ErrorType = "no_provider_available"
	// ErrorTypeProviderTransport indicates a network, timeout or upstream failure of one provider (502)
	ErrorTypeProviderTransport ErrorType = "provider_transport_error"
	// ErrorTypeProviderConfig indicates a malformed or incomplete provider configuration (400)
	ErrorTypeProviderConfig ErrorType = "provider_config_error"
	// ErrorTypeUnknownProvider indicates a provider key not present in the registry (404)
	ErrorTypeUnknownProvider ErrorType = "unknown_provider"
	// ErrorTypeInvalidRequest indicates a client error (400)
	ErrorTypeInvalidRequest ErrorType = "invalid_request_error"
)

// Sentinels for errors.Is. Matching is by Type only.
var (
	ErrNoProviderAvailable = &RouterError{Type: ErrorTypeNoProviderAvailable}
	ErrUnknownProvider     = &RouterError{Type: ErrorTypeUnknownProvider}
	ErrProviderTransport   = &RouterError{Type: ErrorTypeProviderTransport}
	ErrProviderConfig      = &RouterError{Type: ErrorTypeProviderConfig}
)

// RouterError is the base error type for all router errors
type RouterError struct {
	Type       ErrorType `json:"type"`
	Message    string    `json:"message"`
	StatusCode int       `json:"status_code"`
	Provider   string    `json:"provider,omitempty"`
	// Original error for debugging (not exposed to clients)
	Err error `json:"-"`
}

// Error implements the error interface
func (e *RouterError) Error() string {
	if e.Provider != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Provider, e.Type, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap implements the error unwrapping interface
func (e *RouterError) Unwrap() error {
	return e.Err
}

// Is reports whether target is a RouterError of the same type.
func (e *RouterError) Is(target error) bool {
	t, ok := target.(*RouterError)
	if !ok {
		return false
	}
	return e.Type == t.Type
}

// Retryable reports whether the caller may retry after the next probe cycle.
func (e *RouterError) Retryable() bool {
	return e.Type == ErrorTypeNoProviderAvailable || e.Type == ErrorTypeProviderTransport
}

// HTTPStatusCode returns the appropriate HTTP status code for this error
func (e *RouterError) HTTPStatusCode() int {
	if e.StatusCode != 0 {
		return e.StatusCode
	}
	switch e.Type {
	case ErrorTypeNoProviderAvailable:
		return http.StatusServiceUnavailable
	case ErrorTypeProviderTransport:
		return http.StatusBadGateway
	case ErrorTypeProviderConfig, ErrorTypeInvalidRequest:
		return http.StatusBadRequest
	case ErrorTypeUnknownProvider:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// ToJSON converts the error to a JSON-compatible map
func (e *RouterError) ToJSON() map[string]interface{} {
	body := map[string]interface{}{
		"type":    e.Type,
		"message": e.Message,
	}
	if e.Provider != "" {
		body["provider"] = e.Provider
	}
	if e.Retryable() {
		body["retryable"] = true
	}
	return map[string]interface{}{"error": body}
}

// NewNoProviderAvailableError creates the error returned when selection finds no candidate.
func NewNoProviderAvailableError(detail string) *RouterError {
	msg := "no language model provider is currently available, please retry shortly"
	if detail != "" {
		msg += " (" + detail + ")"
	}
	return &RouterError{
		Type:       ErrorTypeNoProviderAvailable,
		Message:    msg,
		StatusCode: http.StatusServiceUnavailable,
	}
}

// NewProviderTransportError creates a new transport error for one provider (502)
func NewProviderTransportError(provider string, message string, err error) *RouterError {
	return &RouterError{
		Type:       ErrorTypeProviderTransport,
		Message:    message,
		StatusCode: http.StatusBadGateway,
		Provider:   provider,
		Err:        err,
	}
}

// NewProviderConfigError creates a new configuration error (400)
func NewProviderConfigError(provider string, message string, err error) *RouterError {
	return &RouterError{
		Type:       ErrorTypeProviderConfig,
		Message:    message,
		StatusCode: http.StatusBadRequest,
		Provider:   provider,
		Err:        err,
	}
}

// NewUnknownProviderError creates a new unknown provider error (404)
func NewUnknownProviderError(provider string) *RouterError {
	return &RouterError{
		Type:       ErrorTypeUnknownProvider,
		Message:    fmt.Sprintf("provider %q is not configured", provider),
		StatusCode: http.StatusNotFound,
		Provider:   provider,
	}
}

// NewInvalidRequestError creates a new invalid request error (400)
func NewInvalidRequestError(message string, err error) *RouterError {
	return &RouterError{
		Type:       ErrorTypeInvalidRequest,
		Message:    message,
		StatusCode: http.StatusBadRequest,
		Err:        err,
	}
}

// AsRouterError returns the RouterError in err's chain, if any.
func AsRouterError(err error) (*RouterError, bool) {
	var re *RouterError
	if errors.As(err, &re) {
		return re, true
	}
	return nil, false
}

// ParseProviderError parses an error response from a provider and returns an appropriate RouterError.
// Upstream 4xx responses other than 408 and 429 are not retryable and keep their status.
func ParseProviderError(provider string, statusCode int, body []byte, originalErr error) *RouterError {
	message := extractErrorMessage(body)
	if message == "" {
		message = http.StatusText(statusCode)
	}

	switch {
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return NewProviderConfigError(provider, "authentication failed: "+message, originalErr)
	case statusCode == http.StatusRequestTimeout || statusCode == http.StatusTooManyRequests:
		return NewProviderTransportError(provider, message, originalErr)
	case statusCode >= 400 && statusCode < 500:
		return &RouterError{
			Type:       ErrorTypeInvalidRequest,
			Message:    message,
			StatusCode: statusCode,
			Provider:   provider,
			Err:        originalErr,
		}
	default:
		return NewProviderTransportError(provider, message, originalErr)
	}
}

// extractErrorMessage understands the error envelopes of OpenAI, Anthropic and Ollama.
func extractErrorMessage(body []byte) string {
	if !gjson.ValidBytes(body) {
		return strings.TrimSpace(string(body))
	}
	for _, path := range []string{"error.message", "error", "message"} {
		r := gjson.GetBytes(body, path)
		if r.Type == gjson.String && r.Str != "" {
			return r.Str
		}
	}
	return strings.TrimSpace(string(body))
}
