package providers

import (
	"fmt"
	"time"
)

// APIErrorCode classifies embedding provider failures.
type APIErrorCode string

const (
	// ErrAPIError is a transient server-side failure.
	ErrAPIError APIErrorCode = "api_error"
	// ErrRateLimitExceeded signals the provider asked us to slow down.
	ErrRateLimitExceeded APIErrorCode = "rate_limit_exceeded"
	// ErrInvalidInput covers empty or over-long texts and bad parameters.
	ErrInvalidInput APIErrorCode = "invalid_input"
	// ErrUnauthorized means the credentials were rejected.
	ErrUnauthorized APIErrorCode = "unauthorized"
	// ErrTimeout is a request that did not complete in time.
	ErrTimeout APIErrorCode = "timeout"
	// ErrQuotaExceeded means the account is out of quota.
	ErrQuotaExceeded APIErrorCode = "quota_exceeded"
)

// APIError is a typed failure from an embedding provider.
type APIError struct {
	Code    APIErrorCode
	Status  int
	Message string
	// RetryAfter is the provider's pacing hint on rate-limit responses,
	// zero when the provider gave none.
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("embedder: %s (status %d): %s", e.Code, e.Status, e.Message)
	}
	return fmt.Sprintf("embedder: %s: %s", e.Code, e.Message)
}

// Retriable reports whether the failure may succeed on retry.
func (e *APIError) Retriable() bool {
	switch e.Code {
	case ErrAPIError, ErrRateLimitExceeded, ErrTimeout:
		return true
	}
	return false
}
