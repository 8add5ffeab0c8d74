package checkout

import (
	"fmt"
	"strings"

	"github.com/go-faster/errors"
)

var (
	// ErrEmptyCart is returned when checkout is entered or submitted with an
	// empty cart.
	ErrEmptyCart = errors.New("cart is empty")
	// ErrUnauthenticated is returned when the session guard reports no user.
	ErrUnauthenticated = errors.New("authentication required")
	// ErrSubmissionInFlight is returned for any request made while a payment
	// confirmation or order submission is in flight. The request is ignored.
	ErrSubmissionInFlight = errors.New("submission already in progress")
	// ErrStale is returned to a caller whose external call completed after
	// the checkout had moved on. Its result was discarded.
	ErrStale = errors.New("checkout attempt superseded")
)

// ValidationError lists the form fields that failed validation.
type ValidationError struct {
	Fields []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("missing or invalid fields: %s", strings.Join(e.Fields, ", "))
}

// TransitionError is returned when an operation is not allowed in the
// current state.
type TransitionError struct {
	State State
	Op    string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot %s while checkout is %s", e.Op, e.State)
}
