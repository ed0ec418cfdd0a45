// Package apierr provides structured API error types and HTTP status mapping
// compatible with the OpenAI error format.
package apierr

import (
	"encoding/json"
	"strings"

	"github.com/valyala/fasthttp"
)

// ErrorType constants.
const (
	TypeProviderError     = "provider_error"
	TypeRateLimitError    = "rate_limit_error"
	TypeInvalidRequest    = "invalid_request_error"
	TypeAuthenticationErr = "authentication_error"
	TypeServerError       = "server_error"
	TypeNotFoundError     = "not_found_error"
)

// Code constants.
const (
	CodeRateLimitExceeded = "rate_limit_exceeded"
	CodeInvalidAPIKey     = "invalid_api_key"
	CodeInternalError     = "internal_error"
	CodeProviderError     = "provider_error"
	CodeRequestTimeout    = "request_timeout"
	CodeNotImplemented    = "not_implemented"
	CodeInvalidRequest    = "invalid_request"
	CodeModelNotFound     = "model_not_found"
	CodePayloadTooLarge   = "payload_too_large"
)

// APIError is the structured error returned to clients. Model is omitted
// unless set, so only ModelNotFound responses carry it.
type (
	APIError struct {
		Message   string   `json:"message"`
		Type      string   `json:"type"`
		Code      string   `json:"code"`
		Model     string   `json:"model,omitempty"`
		Providers []string `json:"providers,omitempty"`
	}
	envelope struct {
		Error APIError `json:"error"`
	}
)

// Write writes the error as JSON to the fasthttp response with the given HTTP status.
func Write(ctx *fasthttp.RequestCtx, status int, message, errType, code string) {
	ctx.SetStatusCode(status)
	ctx.SetContentType("application/json")
	body, _ := json.Marshal(envelope{Error: APIError{
		Message: message,
		Type:    errType,
		Code:    code,
	}})
	ctx.SetBody(body)
}

// WriteProviderError maps a provider HTTP status to the appropriate gateway status.
//
//	Provider 429  → 429 + Retry-After: 60
//	Provider 5xx  → 502
//	Default       → 502
//
// Timeouts are not mapped here; WriteTimeout writes the 504.
func WriteProviderError(ctx *fasthttp.RequestCtx, providerStatus int, msg string) {
	switch {
	case providerStatus == fasthttp.StatusTooManyRequests:
		ctx.Response.Header.Set("Retry-After", "60")
		Write(ctx, fasthttp.StatusTooManyRequests, msg, TypeRateLimitError, CodeRateLimitExceeded)
	case providerStatus >= 500 && providerStatus < 600:
		Write(ctx, fasthttp.StatusBadGateway, msg, TypeProviderError, CodeProviderError)
	default:
		Write(ctx, fasthttp.StatusBadGateway, msg, TypeProviderError, CodeProviderError)
	}
}

// WriteTimeout writes a 504 timeout error.
func WriteTimeout(ctx *fasthttp.RequestCtx) {
	Write(ctx, fasthttp.StatusGatewayTimeout, "provider request timed out", TypeProviderError, CodeRequestTimeout)
}

// WriteRateLimit writes a 429 rate limit error. attemptedProviders, when
// non-empty, lists every provider the dispatcher tried, in the order
// tried, and is named in both the message and a dedicated body field.
func WriteRateLimit(ctx *fasthttp.RequestCtx, attemptedProviders ...string) {
	ctx.Response.Header.Set("Retry-After", "60")
	msg := "rate limit exceeded"
	if len(attemptedProviders) > 0 {
		msg = "rate limit exceeded after trying providers: " + strings.Join(attemptedProviders, ", ")
	}
	ctx.SetStatusCode(fasthttp.StatusTooManyRequests)
	ctx.SetContentType("application/json")
	body, _ := json.Marshal(envelope{Error: APIError{
		Message:   msg,
		Type:      TypeRateLimitError,
		Code:      CodeRateLimitExceeded,
		Providers: attemptedProviders,
	}})
	ctx.SetBody(body)
}

// WriteModelNotFound writes a 404 with the unresolved model name included
// in the error body, for clients that resolved no candidate provider at all.
func WriteModelNotFound(ctx *fasthttp.RequestCtx, model string) {
	ctx.SetStatusCode(fasthttp.StatusNotFound)
	ctx.SetContentType("application/json")
	body, _ := json.Marshal(envelope{Error: APIError{
		Message: "model not found: " + model,
		Type:    TypeNotFoundError,
		Code:    CodeModelNotFound,
		Model:   model,
	}})
	ctx.SetBody(body)
}

// WriteUnauthorized writes a 401 for a missing or invalid bearer key.
func WriteUnauthorized(ctx *fasthttp.RequestCtx) {
	Write(ctx, fasthttp.StatusUnauthorized, "invalid API key", TypeAuthenticationErr, CodeInvalidAPIKey)
}

// WriteUpstreamAuthFailed writes a 502 for a UAA/token exchange failure,
// distinct from a provider-reported error status.
func WriteUpstreamAuthFailed(ctx *fasthttp.RequestCtx) {
	Write(ctx, fasthttp.StatusBadGateway, "failed to authenticate with upstream provider", TypeProviderError, CodeProviderError)
}

// WriteBadRequest writes a 400 for a malformed request body.
func WriteBadRequest(ctx *fasthttp.RequestCtx, message string) {
	Write(ctx, fasthttp.StatusBadRequest, message, TypeInvalidRequest, CodeInvalidRequest)
}

// WritePayloadTooLarge writes a 413 when the request body exceeds the
// configured limit.
func WritePayloadTooLarge(ctx *fasthttp.RequestCtx) {
	Write(ctx, fasthttp.StatusRequestEntityTooLarge, "request body too large", TypeInvalidRequest, CodePayloadTooLarge)
}
