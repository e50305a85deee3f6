package genai

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/openai/openai-go"
	gemini "google.golang.org/genai"
)

// ErrorCategory is the user-facing class of a failed model request.
type ErrorCategory string

const (
	CategoryOffline            ErrorCategory = "offline"
	CategoryInvalidCredentials ErrorCategory = "invalid_credentials"
	CategoryRateLimited        ErrorCategory = "rate_limited"
	CategoryServerError        ErrorCategory = "server_error"
	CategorySafetyRejection    ErrorCategory = "safety_rejection"
	CategoryNetworkError       ErrorCategory = "network_error"
	CategoryInitFailure        ErrorCategory = "init_failure"
	CategoryUnknown            ErrorCategory = "unknown"
)

// MessageKey returns the localization key of the message shown for the category.
func (c ErrorCategory) MessageKey() string {
	switch c {
	case CategoryOffline:
		return "error_offline"
	case CategoryInvalidCredentials:
		return "error_auth"
	case CategoryRateLimited:
		return "error_rate_limit"
	case CategoryServerError:
		return "error_server"
	case CategorySafetyRejection:
		return "error_safety"
	case CategoryNetworkError:
		return "error_network"
	case CategoryInitFailure:
		return "error_init"
	default:
		return "error_default"
	}
}

// Classify maps a request failure to a category. offline reports the client's
// connectivity as seen at submit time and takes precedence over err.
func Classify(err error, offline bool) ErrorCategory {
	if offline {
		return CategoryOffline
	}
	if err == nil {
		return CategoryUnknown
	}
	if errors.Is(err, ErrContentBlocked) {
		return CategorySafetyRejection
	}
	if errors.Is(err, ErrClientUnavailable) {
		return CategoryInitFailure
	}

	var oaErr *openai.Error
	if errors.As(err, &oaErr) {
		if c, ok := apiErrorCategory(oaErr.StatusCode, oaErr.Code, oaErr.Type, oaErr.Message); ok {
			return c
		}
	}
	var gErr gemini.APIError
	if errors.As(err, &gErr) {
		if c, ok := apiErrorCategory(gErr.Code, gErr.Status, "", gErr.Message); ok {
			return c
		}
	}
	var gErrPtr *gemini.APIError
	if errors.As(err, &gErrPtr) && gErrPtr != nil {
		if c, ok := apiErrorCategory(gErrPtr.Code, gErrPtr.Status, "", gErrPtr.Message); ok {
			return c
		}
	}

	var netErr net.Error
	var urlErr *url.Error
	if errors.As(err, &netErr) || errors.As(err, &urlErr) ||
		errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, context.DeadlineExceeded) {
		return CategoryNetworkError
	}

	msg := strings.ToLower(err.Error())
	switch {
	case containsAny(msg, "api key", "api_key", "unauthorized", "permission denied", "401", "403"):
		return CategoryInvalidCredentials
	case containsAny(msg, "rate limit", "quota", "resource exhausted", "resource_exhausted", "429"):
		return CategoryRateLimited
	case containsAny(msg, "safety", "blocked", "content filter", "content_policy", "content policy"):
		return CategorySafetyRejection
	case containsAny(msg, "internal server", "unavailable", "500", "502", "503", "504"):
		return CategoryServerError
	case containsAny(msg, "network", "connection", "timeout", "dial tcp", "no such host"):
		return CategoryNetworkError
	}
	return CategoryUnknown
}

// apiErrorCategory classifies a typed SDK error. The provider's error code and message
// are read before the HTTP status because both providers answer a bad key or a policy
// rejection with 400. A false result leaves the error to message inspection.
func apiErrorCategory(status int, code, kind, message string) (ErrorCategory, bool) {
	detail := strings.ToLower(code + " " + kind + " " + message)
	switch {
	case containsAny(detail, "invalid_api_key", "api key not valid", "api_key_invalid", "unauthenticated", "permission_denied"):
		return CategoryInvalidCredentials, true
	case containsAny(detail, "content_policy", "content policy", "safety", "blocked"):
		return CategorySafetyRejection, true
	case containsAny(detail, "rate_limit", "resource_exhausted", "insufficient_quota"):
		return CategoryRateLimited, true
	}
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return CategoryInvalidCredentials, true
	case status == http.StatusTooManyRequests:
		return CategoryRateLimited, true
	case status >= http.StatusInternalServerError:
		return CategoryServerError, true
	}
	return "", false
}

func containsAny(s string, needles ...string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}
