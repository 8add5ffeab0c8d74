// Package payment negotiates card authorization with an external processor
// through a create-intent / confirm-intent protocol.
package payment

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// StatusSucceeded is the only processor status that counts as authorized.
const StatusSucceeded = "succeeded"

// Intent is a processor-side handle for an authorized-but-unsettled amount.
type Intent struct {
	ID           string
	ClientSecret string
	Amount       decimal.Decimal
	Currency     string
}

// Details carries the payment method to confirm an intent with. It holds a
// processor-issued token, never raw card numbers, and renders redacted.
type Details struct {
	PaymentMethod string
}

// String implements fmt.Stringer without exposing the payment method.
func (Details) String() string { return "[redacted]" }

// Result is the processor's answer to a confirmation.
type Result struct {
	Status        string
	Reference     string
	DeclineReason string
}

// Authorization is the outcome of a successful confirmation.
type Authorization struct {
	Reference    string
	AuthorizedAt time.Time
}

// IntentCreator asks the backend to open a payment intent.
type IntentCreator interface {
	CreateIntent(ctx context.Context, amount decimal.Decimal, currency string) (*Intent, error)
}

// Processor confirms an intent against the payment processor.
type Processor interface {
	ConfirmIntent(ctx context.Context, intent Intent, details Details) (*Result, error)
}

// IntentCreationError reports that no intent could be created.
type IntentCreationError struct {
	Err error
}

func (e *IntentCreationError) Error() string {
	return fmt.Sprintf("failed to create payment intent: %v", e.Err)
}

func (e *IntentCreationError) Unwrap() error { return e.Err }

// DeclinedError reports that the processor refused the payment.
type DeclinedError struct {
	Reason string
}

func (e *DeclinedError) Error() string {
	return fmt.Sprintf("payment declined: %s", e.Reason)
}

// ProcessorError reports a processor-side or transport failure during
// confirmation.
type ProcessorError struct {
	Err error
}

func (e *ProcessorError) Error() string {
	return fmt.Sprintf("payment processor error: %v", e.Err)
}

func (e *ProcessorError) Unwrap() error { return e.Err }
