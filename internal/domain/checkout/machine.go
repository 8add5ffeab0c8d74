// Package checkout implements the checkout state machine that turns a cart
// into a submitted order.
//
// Every transition issues a new attempt token. External calls (intent
// creation, payment confirmation, order submission) run without holding the
// machine lock and apply their result only if the attempt token is unchanged
// when they complete; otherwise the result is discarded.
package checkout

import (
	"context"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/lucsky/cuid"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-checkout/internal/domain/auth"
	"github.com/xenking/kart-checkout/internal/domain/cart"
	"github.com/xenking/kart-checkout/internal/domain/order"
	"github.com/xenking/kart-checkout/internal/domain/payment"
	"github.com/xenking/kart-checkout/internal/domain/pricing"
)

// Cart is the part of the cart store the machine reads and clears.
type Cart interface {
	Snapshot() cart.Snapshot
	Clear()
}

// Pricer derives totals from a subtotal.
type Pricer interface {
	Breakdown(subtotal decimal.Decimal) pricing.Breakdown
}

// Payments negotiates card authorization.
type Payments interface {
	CreateIntent(ctx context.Context, draftID string, amount decimal.Decimal, currency string) (*payment.Intent, error)
	Confirm(ctx context.Context, intent payment.Intent, details payment.Details) (*payment.Authorization, error)
	Release(draftID string)
}

// Orders submits drafts to the order backend.
type Orders interface {
	Submit(ctx context.Context, d order.Draft) (*order.Confirmation, error)
}

// Deps holds the collaborators of a Machine. Observer may be nil.
type Deps struct {
	Guard    auth.Guard
	Cart     Cart
	Pricer   Pricer
	Payments Payments
	Orders   Orders
	Observer Observer
}

// Config holds non-dependency configuration for a Machine.
type Config struct {
	// Currency is used for payment intents.
	Currency string
	// ClearGrace delays clearing the cart after confirmation.
	ClearGrace time.Duration
	// AuthorizationTTL bounds how long a card authorization may be reused
	// when retrying a failed submission.
	AuthorizationTTL time.Duration
}

// View is a consistent copy of the machine state.
type View struct {
	State        State
	Attempt      string
	Form         Form
	Draft        *order.Draft
	Intent       *payment.Intent
	Confirmation *order.Confirmation
	// Err is the last payment or submission failure surfaced to the user.
	Err error
	// CanRetry is set when a failed submission left a draft to retry with.
	CanRetry bool
}

// Machine is the checkout flow of one storefront session.
type Machine struct {
	session string
	deps    Deps
	cfg     Config

	now        func() time.Time
	afterFunc  func(time.Duration, func())
	newDraftID func() string
	newAttempt func() string

	mu           sync.Mutex
	state        State
	attempt      string
	form         Form
	draft        *order.Draft
	intent       *payment.Intent
	confirmation *order.Confirmation
	lastErr      error
	inFlight     bool
	cancel       context.CancelFunc
	clearPending bool
	pending      []Event
}

// NewMachine creates an idle Machine for the given session.
func NewMachine(session string, deps Deps, cfg Config) *Machine {
	if cfg.Currency == "" {
		cfg.Currency = "usd"
	}
	return &Machine{
		session: session,
		deps:    deps,
		cfg:     cfg,
		now:     time.Now,
		afterFunc: func(d time.Duration, f func()) {
			time.AfterFunc(d, f)
		},
		newDraftID: uuid.NewString,
		newAttempt: cuid.New,
		state:      Idle,
	}
}

// View returns the current state.
func (m *Machine) View() View {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.viewLocked()
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Enter starts a checkout. It requires an authenticated session and a
// non-empty cart; on failure no transition happens.
func (m *Machine) Enter(ctx context.Context) (View, error) {
	m.mu.Lock()
	defer m.unlockAndFlush(ctx)

	switch m.state {
	case FormEntry:
		return m.viewLocked(), nil
	case AwaitingPayment, Submitting:
		return m.viewLocked(), &TransitionError{State: m.state, Op: "enter checkout"}
	}
	// The confirmed order's items must not carry into the next checkout.
	m.clearCartLocked()

	id, ok := m.deps.Guard.Authenticated(ctx)
	if !ok {
		return m.viewLocked(), ErrUnauthenticated
	}
	snap := m.deps.Cart.Snapshot()
	if !snap.Subtotal.IsPositive() {
		return m.viewLocked(), ErrEmptyCart
	}

	if m.form.Email == "" {
		m.form.Email = id.Email
	}
	m.draft = nil
	m.intent = nil
	m.confirmation = nil
	m.lastErr = nil
	m.transitionLocked(FormEntry)
	m.emitLocked(EventEntered, nil)
	return m.viewLocked(), nil
}

// SubmitForm validates the form and snapshots the cart into a new draft.
// Card payments move to AwaitingPayment and open a payment intent; other
// methods go straight to submission. A validation failure keeps the machine
// in FormEntry.
func (m *Machine) SubmitForm(ctx context.Context, f Form) (View, error) {
	m.mu.Lock()
	defer m.unlockAndFlush(ctx)

	if m.state == Submitting || m.inFlight {
		return m.viewLocked(), ErrSubmissionInFlight
	}
	if m.state != FormEntry {
		return m.viewLocked(), &TransitionError{State: m.state, Op: "submit form"}
	}

	m.form = f.normalize()
	if err := m.form.Validate(); err != nil {
		return m.viewLocked(), err
	}
	snap := m.deps.Cart.Snapshot()
	if !snap.Subtotal.IsPositive() {
		return m.viewLocked(), ErrEmptyCart
	}

	m.discardDraftLocked()
	d := m.buildDraft(snap)
	m.draft = &d
	m.lastErr = nil

	if d.PaymentMethod == order.PaymentCard {
		m.transitionLocked(AwaitingPayment)
		return m.openIntentLocked(ctx, d)
	}
	m.transitionLocked(Submitting)
	return m.submitLocked(ctx, d)
}

// ConfirmPayment confirms the open intent with the given payment details.
// On authorization the draft is submitted; any failure returns to FormEntry
// and discards the draft.
func (m *Machine) ConfirmPayment(ctx context.Context, details payment.Details) (View, error) {
	m.mu.Lock()
	defer m.unlockAndFlush(ctx)

	if m.state == Submitting || m.inFlight {
		return m.viewLocked(), ErrSubmissionInFlight
	}
	if m.state != AwaitingPayment || m.intent == nil || m.draft == nil {
		return m.viewLocked(), &TransitionError{State: m.state, Op: "confirm payment"}
	}

	d := m.draft.Clone()
	intent := *m.intent
	attempt := m.attempt
	callCtx := m.beginCallLocked(ctx)

	m.mu.Unlock()
	authz, err := m.deps.Payments.Confirm(callCtx, intent, details)
	m.mu.Lock()

	if attempt != m.attempt {
		return m.viewLocked(), ErrStale
	}
	m.endCallLocked()

	if err != nil {
		m.failToFormLocked(err, false)
		m.emitLocked(EventPaymentFailed, &d)
		return m.viewLocked(), err
	}

	paid := d.WithPayment(order.Payment{
		IntentID:     authz.Reference,
		AuthorizedAt: authz.AuthorizedAt,
	})
	paid.Status = order.StatusPending
	m.draft = &paid
	m.intent = nil
	m.emitLocked(EventPaymentAuthorized, &paid)
	m.transitionLocked(Submitting)
	return m.submitLocked(ctx, paid)
}

// Retry resubmits the draft kept from a failed submission, unchanged. A card
// authorization older than AuthorizationTTL is not reused: the machine moves
// to AwaitingPayment with a fresh intent for the same total instead.
func (m *Machine) Retry(ctx context.Context) (View, error) {
	m.mu.Lock()
	defer m.unlockAndFlush(ctx)

	if m.state == Submitting || m.inFlight {
		return m.viewLocked(), ErrSubmissionInFlight
	}
	if m.state != FormEntry || m.draft == nil {
		return m.viewLocked(), &TransitionError{State: m.state, Op: "retry submission"}
	}

	d := m.draft.Clone()
	m.lastErr = nil

	if d.PaymentMethod == order.PaymentCard && !m.authorizationFresh(d) {
		d = d.WithoutPayment()
		m.draft = &d
		m.deps.Payments.Release(d.ID)
		m.transitionLocked(AwaitingPayment)
		return m.openIntentLocked(ctx, d)
	}

	m.transitionLocked(Submitting)
	return m.submitLocked(ctx, d)
}

// Back leaves the payment step, discarding the draft and intent. The form
// stays populated.
func (m *Machine) Back(ctx context.Context) (View, error) {
	m.mu.Lock()
	defer m.unlockAndFlush(ctx)

	if m.state != AwaitingPayment {
		return m.viewLocked(), &TransitionError{State: m.state, Op: "go back"}
	}
	m.endCallLocked()
	m.discardDraftLocked()
	m.transitionLocked(FormEntry)
	return m.viewLocked(), nil
}

// Abort cancels the checkout from any active state. In-flight calls are
// cancelled and their results ignored.
func (m *Machine) Abort(ctx context.Context) (View, error) {
	m.mu.Lock()
	defer m.unlockAndFlush(ctx)

	if !m.state.active() {
		return m.viewLocked(), &TransitionError{State: m.state, Op: "abort checkout"}
	}
	d := m.draft
	m.endCallLocked()
	m.discardDraftLocked()
	m.lastErr = nil
	m.transitionLocked(Aborted)
	m.emitLocked(EventAborted, d)
	return m.viewLocked(), nil
}

// openIntentLocked creates the payment intent for d. Called with m.mu held
// and the machine in AwaitingPayment.
func (m *Machine) openIntentLocked(ctx context.Context, d order.Draft) (View, error) {
	attempt := m.attempt
	callCtx := m.beginCallLocked(ctx)

	m.mu.Unlock()
	intent, err := m.deps.Payments.CreateIntent(callCtx, d.ID, d.Total, m.cfg.Currency)
	m.mu.Lock()

	if attempt != m.attempt {
		if err == nil && (m.draft == nil || m.draft.ID != d.ID) {
			m.deps.Payments.Release(d.ID)
		}
		return m.viewLocked(), ErrStale
	}
	m.endCallLocked()

	if err != nil {
		m.failToFormLocked(err, false)
		m.emitLocked(EventPaymentFailed, &d)
		return m.viewLocked(), err
	}
	m.intent = intent
	return m.viewLocked(), nil
}

// submitLocked sends d to the order backend. Called with m.mu held and the
// machine in Submitting.
func (m *Machine) submitLocked(ctx context.Context, d order.Draft) (View, error) {
	attempt := m.attempt
	callCtx := m.beginCallLocked(ctx)

	m.mu.Unlock()
	conf, err := m.deps.Orders.Submit(callCtx, d)
	m.mu.Lock()

	if attempt != m.attempt {
		return m.viewLocked(), ErrStale
	}
	m.endCallLocked()

	if err != nil {
		m.draft = &d
		m.failToFormLocked(err, true)
		m.emitLocked(EventSubmissionFailed, &d)
		return m.viewLocked(), err
	}

	m.deps.Payments.Release(d.ID)
	m.confirmation = conf
	m.draft = nil
	m.intent = nil
	m.transitionLocked(Confirmed)
	m.emitLocked(EventOrderConfirmed, &d)
	m.scheduleClearLocked()
	return m.viewLocked(), nil
}

// scheduleClearLocked clears the cart after the grace delay. Enter clears it
// early if the delay has not elapsed yet.
func (m *Machine) scheduleClearLocked() {
	m.clearPending = true
	m.afterFunc(m.cfg.ClearGrace, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.clearCartLocked()
	})
}

func (m *Machine) clearCartLocked() {
	if !m.clearPending {
		return
	}
	m.clearPending = false
	m.deps.Cart.Clear()
}

func (m *Machine) buildDraft(snap cart.Snapshot) order.Draft {
	b := m.deps.Pricer.Breakdown(snap.Subtotal)
	lines := make([]order.Line, len(snap.Lines))
	for i, l := range snap.Lines {
		lines[i] = order.Line{
			ItemID:   l.Item.ID,
			Name:     l.Item.Name,
			Quantity: l.Quantity,
			Price:    l.Item.Price,
		}
	}
	return order.Draft{
		ID:            m.newDraftID(),
		Customer:      m.form.customer(),
		Address:       m.form.address(),
		Lines:         lines,
		Subtotal:      b.Subtotal,
		DeliveryFee:   b.DeliveryFee,
		Tax:           b.Tax,
		Total:         b.Total,
		PaymentMethod: m.form.PaymentMethod,
		Status:        order.StatusPending,
		CreatedAt:     m.now(),
	}
}

func (m *Machine) authorizationFresh(d order.Draft) bool {
	if d.Payment == nil {
		return false
	}
	if m.cfg.AuthorizationTTL <= 0 {
		return true
	}
	return m.now().Sub(d.Payment.AuthorizedAt) <= m.cfg.AuthorizationTTL
}

// failToFormLocked returns to FormEntry after a payment or submission
// failure. keepDraft retains the draft for Retry.
func (m *Machine) failToFormLocked(err error, keepDraft bool) {
	if !keepDraft {
		m.discardDraftLocked()
	}
	m.intent = nil
	m.lastErr = err
	m.transitionLocked(FormEntry)
}

func (m *Machine) discardDraftLocked() {
	if m.draft != nil {
		m.deps.Payments.Release(m.draft.ID)
	}
	m.draft = nil
	m.intent = nil
}

// beginCallLocked derives the context of an external call. It keeps the
// caller's values but not its cancellation: only Back and Abort stop a call.
func (m *Machine) beginCallLocked(ctx context.Context) context.Context {
	callCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	m.cancel = cancel
	m.inFlight = true
	return callCtx
}

func (m *Machine) endCallLocked() {
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	m.inFlight = false
}

func (m *Machine) transitionLocked(to State) {
	m.state = to
	m.attempt = m.newAttempt()
}

func (m *Machine) viewLocked() View {
	v := View{
		State:    m.state,
		Attempt:  m.attempt,
		Form:     m.form,
		Err:      m.lastErr,
		CanRetry: m.state == FormEntry && m.draft != nil,
	}
	if m.draft != nil {
		d := m.draft.Clone()
		v.Draft = &d
	}
	if m.intent != nil {
		in := *m.intent
		v.Intent = &in
	}
	if m.confirmation != nil {
		c := *m.confirmation
		v.Confirmation = &c
	}
	return v
}

func (m *Machine) emitLocked(typ EventType, d *order.Draft) {
	if m.deps.Observer == nil {
		return
	}
	e := Event{
		Type:    typ,
		Session: m.session,
		Attempt: m.attempt,
		State:   m.state,
		At:      m.now(),
	}
	if d != nil {
		e.DraftID = d.ID
		e.Total = d.Total
		e.PaymentMethod = d.PaymentMethod
	}
	if m.confirmation != nil && typ == EventOrderConfirmed {
		e.OrderNumber = m.confirmation.OrderNumber
	}
	if m.lastErr != nil && (typ == EventPaymentFailed || typ == EventSubmissionFailed) {
		e.Reason = m.lastErr.Error()
	}
	m.pending = append(m.pending, e)
}

// unlockAndFlush releases m.mu and then hands queued events to the observer.
func (m *Machine) unlockAndFlush(ctx context.Context) {
	events := m.pending
	m.pending = nil
	m.mu.Unlock()

	for _, e := range events {
		m.deps.Observer.Observe(ctx, e)
	}
}

// IsFailure reports whether err is a payment or submission failure that
// returned the machine to FormEntry, as opposed to a rejected request.
func IsFailure(err error) bool {
	var (
		icErr   *payment.IntentCreationError
		decErr  *payment.DeclinedError
		procErr *payment.ProcessorError
		netErr  *order.NetworkError
		rejErr  *order.RejectedError
	)
	return errors.As(err, &icErr) ||
		errors.As(err, &decErr) ||
		errors.As(err, &procErr) ||
		errors.As(err, &netErr) ||
		errors.As(err, &rejErr)
}
