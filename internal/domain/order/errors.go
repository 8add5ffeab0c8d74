package order

import (
	"fmt"

	"github.com/go-faster/errors"
)

// ErrNotFound is returned by a Ledger when no confirmation exists for a key.
var ErrNotFound = errors.New("submission not found")

// NetworkErrorKind distinguishes why the backend could not be reached.
type NetworkErrorKind string

const (
	// NetworkUnreachable means the connection to the backend failed.
	NetworkUnreachable NetworkErrorKind = "unreachable"
	// NetworkServerStatus means the backend answered with an error status.
	NetworkServerStatus NetworkErrorKind = "server_status"
	// NetworkTimeout means the call did not complete in time.
	NetworkTimeout NetworkErrorKind = "timeout"
)

// NetworkError is a retryable transport failure.
type NetworkError struct {
	Kind   NetworkErrorKind
	Status int
	Body   string
	Err    error
}

func (e *NetworkError) Error() string {
	switch e.Kind {
	case NetworkUnreachable:
		return "cannot connect to server"
	case NetworkServerStatus:
		return fmt.Sprintf("server error: %d - %s", e.Status, e.Body)
	case NetworkTimeout:
		return "order submission timed out"
	default:
		return fmt.Sprintf("network error: %v", e.Err)
	}
}

func (e *NetworkError) Unwrap() error { return e.Err }

// RejectedError is returned when the backend refuses an order.
type RejectedError struct {
	Message string
}

func (e *RejectedError) Error() string {
	if e.Message == "" {
		return "order rejected"
	}
	return fmt.Sprintf("order rejected: %s", e.Message)
}
