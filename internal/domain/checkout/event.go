package checkout

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/kart-checkout/internal/domain/order"
)

// EventType names a checkout milestone.
type EventType string

const (
	EventEntered           EventType = "checkout.entered"
	EventPaymentAuthorized EventType = "checkout.payment_authorized"
	EventPaymentFailed     EventType = "checkout.payment_failed"
	EventOrderConfirmed    EventType = "checkout.order_confirmed"
	EventSubmissionFailed  EventType = "checkout.submission_failed"
	EventAborted           EventType = "checkout.aborted"
)

// Event describes a checkout milestone. It carries no customer contact data
// and no payment details.
type Event struct {
	Type          EventType
	Session       string
	Attempt       string
	State         State
	DraftID       string
	Total         decimal.Decimal
	PaymentMethod order.PaymentMethod
	OrderNumber   string
	Reason        string
	At            time.Time
}

// Observer receives checkout events after the machine lock is released.
// Observe must not call back into the machine synchronously.
type Observer interface {
	Observe(ctx context.Context, e Event)
}

// Observers fans an event out to several observers in order.
type Observers []Observer

// Observe implements Observer.
func (o Observers) Observe(ctx context.Context, e Event) {
	for _, obs := range o {
		if obs != nil {
			obs.Observe(ctx, e)
		}
	}
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, e Event)

// Observe implements Observer.
func (f ObserverFunc) Observe(ctx context.Context, e Event) { f(ctx, e) }
