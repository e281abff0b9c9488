package provider

import (
	"errors"
	"fmt"
)

// ErrStreamTruncated is reported when a stream ends without a terminal event.
var ErrStreamTruncated = errors.New("stream ended before completion")

// ErrNoProvider is returned by the Router when nothing is registered.
var ErrNoProvider = errors.New("no provider available")

// APIError is a non-200 response from a completion endpoint.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error %d: %s", e.StatusCode, e.Body)
}

// Retryable reports whether another provider may succeed where this one
// failed (rate limits and server-side errors).
func (e *APIError) Retryable() bool {
	return e.StatusCode == 429 || e.StatusCode >= 500
}
