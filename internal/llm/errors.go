package llm

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// ErrorType classifies provider errors for retry and UI handling
type ErrorType string

const (
	ErrorTypeRateLimit          ErrorType = "rate_limit"          // 429 - too many requests
	ErrorTypeInsufficientCredit ErrorType = "insufficient_credit" // 402 - no balance
	ErrorTypeProviderDown       ErrorType = "provider_down"       // 502/503 - upstream issue
	ErrorTypeAuth               ErrorType = "auth"                // 401 - bad API key
	ErrorTypeModeration         ErrorType = "moderation"          // 403 - content flagged
	ErrorTypeUnknown            ErrorType = "unknown"             // Fallback
)

// ProviderError is a structured error returned by LLM clients
type ProviderError struct {
	Type       ErrorType      // Classification
	Provider   string         // e.g. "openrouter"
	Code       string         // Raw error code ("429", "503")
	Message    string         // Human-readable message
	RetryAfter *time.Duration // How long to wait (if known)
	Retryable  bool           // Should we auto-retry?
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

// IsProviderError checks if err is a ProviderError and returns it
func IsProviderError(err error) (*ProviderError, bool) {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// ClassifyHTTPError maps an HTTP failure status to a ProviderError,
// honouring a Retry-After header when present.
func ClassifyHTTPError(provider string, status int, body string, header http.Header) *ProviderError {
	pe := &ProviderError{
		Provider: provider,
		Code:     strconv.Itoa(status),
		Message:  fmt.Sprintf("api error %d: %s", status, body),
		Type:     ErrorTypeUnknown,
	}
	switch status {
	case http.StatusTooManyRequests:
		pe.Type = ErrorTypeRateLimit
		pe.Retryable = true
	case http.StatusPaymentRequired:
		pe.Type = ErrorTypeInsufficientCredit
	case http.StatusUnauthorized:
		pe.Type = ErrorTypeAuth
	case http.StatusForbidden:
		pe.Type = ErrorTypeModeration
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		pe.Type = ErrorTypeProviderDown
		pe.Retryable = true
	default:
		if status >= 500 {
			pe.Type = ErrorTypeProviderDown
			pe.Retryable = true
		}
	}
	if header != nil {
		if raw := header.Get("Retry-After"); raw != "" {
			if secs, err := strconv.Atoi(raw); err == nil && secs > 0 {
				d := time.Duration(secs) * time.Second
				pe.RetryAfter = &d
			}
		}
	}
	return pe
}
