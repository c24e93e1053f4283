package aop

import (
	"errors"
	"fmt"
)

var (
	// ErrRateLimited indicates the lookup service refused the request rate.
	ErrRateLimited = errors.New("previous-id service rate limit exceeded")

	// ErrNetworkError indicates the lookup service could not be reached.
	ErrNetworkError = errors.New("network error communicating with previous-id service")

	// ErrInvalidResponse indicates an unexpected response body.
	ErrInvalidResponse = errors.New("invalid response from previous-id service")
)

// APIError is a non-success HTTP status from the lookup service.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("previous-id service error (status %d): %s", e.StatusCode, e.Message)
}

// IsRateLimited reports whether err came from a throttled request.
func IsRateLimited(err error) bool {
	if errors.Is(err, ErrRateLimited) {
		return true
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429
	}
	return false
}
