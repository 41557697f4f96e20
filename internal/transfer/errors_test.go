package transfer

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

// TestNetworkError_Error verifies error message formatting
func TestNetworkError_Error(t *testing.T) {
	err := &NetworkError{
		Operation: "request",
		URL:       "https://cdn.example/file.zip",
		Err:       errors.New("connection refused"),
	}

	expected := "network error during request of https://cdn.example/file.zip: connection refused"
	if err.Error() != expected {
		t.Errorf("Error() = %q, want %q", err.Error(), expected)
	}
}

// TestHTTPError_Error verifies error message formatting
func TestHTTPError_Error(t *testing.T) {
	err := &HTTPError{
		StatusCode: http.StatusNotFound,
		Status:     "404 Not Found",
		URL:        "https://cdn.example/file.zip",
	}

	expected := "http error fetching https://cdn.example/file.zip: 404 Not Found"
	if err.Error() != expected {
		t.Errorf("Error() = %q, want %q", err.Error(), expected)
	}
}

// TestHTTPError_Temporary verifies which statuses are worth retrying
func TestHTTPError_Temporary(t *testing.T) {
	tests := []struct {
		status int
		want   bool
	}{
		{http.StatusNotFound, false},
		{http.StatusForbidden, false},
		{http.StatusTooManyRequests, true},
		{http.StatusBadGateway, true},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			err := &HTTPError{StatusCode: tt.status}
			if got := err.Temporary(); got != tt.want {
				t.Errorf("Temporary() = %v, want %v", got, tt.want)
			}
		})
	}
}

// TestNetworkError_Unwrap verifies error chain traversal
func TestNetworkError_Unwrap(t *testing.T) {
	err := &NetworkError{
		Operation: "read_body",
		Err:       ErrAborted,
	}

	if errors.Unwrap(err) != ErrAborted {
		t.Errorf("Unwrap() = %v, want %v", errors.Unwrap(err), ErrAborted)
	}

	wrapped := fmt.Errorf("context: %w", err)
	if !errors.Is(wrapped, ErrAborted) {
		t.Error("errors.Is() should find ErrAborted in wrapped chain")
	}
}

// TestHTTPError_As verifies programmatic error type detection
func TestHTTPError_As(t *testing.T) {
	wrapped := fmt.Errorf("context: %w", &HTTPError{StatusCode: http.StatusGone, Status: "410 Gone"})

	var target *HTTPError
	if !errors.As(wrapped, &target) {
		t.Fatal("errors.As() should extract HTTPError from wrapped chain")
	}

	if target.StatusCode != http.StatusGone {
		t.Errorf("StatusCode = %d, want %d", target.StatusCode, http.StatusGone)
	}
}
