package client

import (
	"context"
	"errors"
	"net/http"

	"github.com/kjstillabower/zipcode-weather/internal/circuitbreaker"
	"github.com/kjstillabower/zipcode-weather/internal/transport"
)

// ErrorCategory is a stable label for error classification in logs and metrics.
type ErrorCategory string

const (
	ErrorCategoryInvalidInput ErrorCategory = "invalid_input"
	ErrorCategoryTimeout      ErrorCategory = "timeout"
	ErrorCategoryNetwork      ErrorCategory = "network"
	ErrorCategoryRateLimited  ErrorCategory = "rate_limited"
	ErrorCategoryClientError  ErrorCategory = "client_error"
	ErrorCategoryUpstream5xx  ErrorCategory = "upstream_5xx"
	ErrorCategoryCircuitOpen  ErrorCategory = "circuit_open"
	ErrorCategoryMalformed    ErrorCategory = "malformed"
	ErrorCategoryUnknown      ErrorCategory = "unknown"
)

// CategorizeError maps a Lookup error to an ErrorCategory.
func CategorizeError(err error) ErrorCategory {
	if err == nil {
		return ""
	}

	var se *StatusError
	switch {
	case errors.Is(err, ErrInvalidInput):
		return ErrorCategoryInvalidInput
	case errors.Is(err, ErrMalformedResponse):
		return ErrorCategoryMalformed
	case errors.Is(err, circuitbreaker.ErrOpen):
		return ErrorCategoryCircuitOpen
	case errors.As(err, &se):
		switch {
		case se.Status == http.StatusTooManyRequests:
			return ErrorCategoryRateLimited
		case se.Status >= 500:
			return ErrorCategoryUpstream5xx
		case se.Status >= 400:
			return ErrorCategoryClientError
		}
		return ErrorCategoryUnknown
	case errors.Is(err, context.DeadlineExceeded):
		return ErrorCategoryTimeout
	case errors.Is(err, transport.ErrNetwork):
		return ErrorCategoryNetwork
	}
	return ErrorCategoryUnknown
}
