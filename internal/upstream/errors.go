package upstream

import (
	"errors"
	"fmt"
)

// ErrUpstreamUnavailable is returned once a request has exhausted its retry
// budget against a retryable failure (429, 5xx, or a network error).
var ErrUpstreamUnavailable = errors.New("upstream: unavailable after retries")

// ErrUpstreamRejected is returned for a fatal (non-retryable) 4xx response.
var ErrUpstreamRejected = errors.New("upstream: request rejected")

// httpError carries the response status and body for a failed call so
// callers and logs can see what the exchange actually said.
type httpError struct {
	status int
	body   string
}

func (e *httpError) Error() string {
	return fmt.Sprintf("upstream: status %d: %s", e.status, e.body)
}

func retryable(status int) bool {
	if status == 429 {
		return true
	}
	return status >= 500 && status < 600
}
