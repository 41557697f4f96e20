package transfer

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrAborted is the cause reported by a transfer stopped through Handle.Abort.
var ErrAborted = errors.New("transfer aborted")

// NetworkError represents a transfer that failed before a complete response
// body was received: DNS and connection failures, resets, timeouts and aborts.
type NetworkError struct {
	Operation string // The operation that failed (e.g., "request", "read_body")
	URL       string // Redacted request URL
	Err       error  // Underlying error, if any
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error during %s of %s: %v", e.Operation, e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// HTTPError represents a response that arrived with a non-2xx status.
type HTTPError struct {
	StatusCode int
	Status     string
	URL        string // Redacted request URL
	Header     http.Header
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("http error fetching %s: %s", e.URL, e.Status)
}

// Temporary reports whether retrying the same request later may succeed.
func (e *HTTPError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= http.StatusInternalServerError
}
