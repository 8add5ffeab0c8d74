package order

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// PaymentMethod selects how the customer pays for an order.
type PaymentMethod string

const (
	// PaymentCard requires an authorized payment intent before submission.
	PaymentCard PaymentMethod = "card"
	// PaymentCash is collected on delivery.
	PaymentCash PaymentMethod = "cash"
	// PaymentWallet is settled by a digital wallet outside the card flow.
	PaymentWallet PaymentMethod = "wallet"
)

// Valid reports whether m is a supported payment method.
func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentCard, PaymentCash, PaymentWallet:
		return true
	default:
		return false
	}
}

// StatusPending is the status every new order is submitted with.
const StatusPending = "Pending"

// PaymentStatusPaid marks a draft whose card payment was authorized.
const PaymentStatusPaid = "paid"

// Customer holds the contact fields of the checkout form.
type Customer struct {
	FirstName string
	LastName  string
	Email     string
	Phone     string
}

// Name returns the full customer name as sent to the backend.
func (c Customer) Name() string {
	return c.FirstName + " " + c.LastName
}

// Address holds the shipping address of the checkout form.
type Address struct {
	Street  string
	City    string
	State   string
	ZipCode string
	Country string
}

// String joins the address the way the order backend stores it.
func (a Address) String() string {
	return strings.Join([]string{a.Street, a.City, a.State, a.ZipCode, a.Country}, ", ")
}

// Line is one item of an order draft.
type Line struct {
	ItemID   string
	Name     string
	Quantity int
	Price    decimal.Decimal
}

// Payment is the opaque authorization attached to a card draft. It never
// contains card data.
type Payment struct {
	IntentID     string
	AuthorizedAt time.Time
}

// Draft is an immutable snapshot of checkout inputs and totals. Use the With*
// methods to derive a modified copy.
type Draft struct {
	// ID doubles as the idempotency key of the submission.
	ID            string
	Customer      Customer
	Address       Address
	Lines         []Line
	Subtotal      decimal.Decimal
	DeliveryFee   decimal.Decimal
	Tax           decimal.Decimal
	Total         decimal.Decimal
	PaymentMethod PaymentMethod
	Status        string
	Payment       *Payment
	CreatedAt     time.Time
}

// Clone returns a deep copy of d.
func (d Draft) Clone() Draft {
	out := d
	out.Lines = make([]Line, len(d.Lines))
	copy(out.Lines, d.Lines)
	if d.Payment != nil {
		p := *d.Payment
		out.Payment = &p
	}
	return out
}

// WithPayment returns a copy of d carrying the given authorization.
func (d Draft) WithPayment(p Payment) Draft {
	out := d.Clone()
	out.Payment = &p
	return out
}

// WithoutPayment returns a copy of d with the authorization removed.
func (d Draft) WithoutPayment() Draft {
	out := d.Clone()
	out.Payment = nil
	return out
}

// Confirmation is produced once per successful submission.
type Confirmation struct {
	DraftID                 string
	OrderNumber             string
	Total                   decimal.Decimal
	EstimatedDeliveryWindow string
}

// Receipt is the backend's answer to a submission.
type Receipt struct {
	OrderNumber string
}

// Submitter sends a draft to the order backend. Implementations return
// *NetworkError for transport problems and *RejectedError when the backend
// refuses the order.
type Submitter interface {
	SubmitOrder(ctx context.Context, d Draft) (*Receipt, error)
}

// HistoryEntry is one past order of a customer.
type HistoryEntry struct {
	ID        string
	Lines     []Line
	Total     decimal.Decimal
	Status    string
	CreatedAt time.Time
}

// Label is the short order reference shown to customers: the last six
// characters of the ID, upper-cased.
func (h HistoryEntry) Label() string {
	id := h.ID
	if len(id) > 6 {
		id = id[len(id)-6:]
	}
	return strings.ToUpper(id)
}

// History reads past orders of a customer.
type History interface {
	OrdersByEmail(ctx context.Context, email string) ([]HistoryEntry, error)
}

// Ledger records confirmed submissions by idempotency key so a draft is
// never turned into two backend orders.
type Ledger interface {
	Lookup(ctx context.Context, key string) (*Confirmation, error)
	Record(ctx context.Context, c Confirmation) error
	RecentKeys(ctx context.Context, since time.Time) ([]string, error)
}
