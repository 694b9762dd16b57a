package download

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrNotFound matches transfers that failed with HTTP 404.
	ErrNotFound = errors.New("remote file not found")

	ErrHashMismatch = errors.New("sha256 mismatch")
)

// TransferError describes a failed transfer. Partial data stays on disk.
type TransferError struct {
	URL        string
	Path       string
	StatusCode int
	Err        error
}

func (e *TransferError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("download %s failed: HTTP %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("download %s failed: %v", e.URL, e.Err)
}

func (e *TransferError) Unwrap() error {
	return e.Err
}

func (e *TransferError) Is(target error) bool {
	return target == ErrNotFound && e.StatusCode == http.StatusNotFound
}

// retryable reports whether an HTTP status is worth another attempt.
func retryable(status int) bool {
	switch {
	case status == http.StatusRequestTimeout,
		status == http.StatusTooManyRequests,
		status == http.StatusRequestedRangeNotSatisfiable:
		return true
	case status >= 500:
		return true
	}
	return false
}
