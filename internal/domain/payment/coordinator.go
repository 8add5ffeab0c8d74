package payment

import (
	"context"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// CoordinatorConfig holds non-dependency configuration for the Coordinator.
type CoordinatorConfig struct {
	// Timeout bounds each processor or backend call. Zero disables the bound.
	Timeout time.Duration
}

// Coordinator creates and confirms payment intents. It keeps at most one
// intent per draft and creates a new one only when the amount changes.
type Coordinator struct {
	creator   IntentCreator
	processor Processor
	cfg       CoordinatorConfig
	now       func() time.Time

	mu      sync.Mutex
	intents map[string]Intent // draft ID -> intent
}

// NewCoordinator creates a Coordinator over the given backend and processor.
func NewCoordinator(creator IntentCreator, processor Processor, cfg CoordinatorConfig) *Coordinator {
	return &Coordinator{
		creator:   creator,
		processor: processor,
		cfg:       cfg,
		now:       time.Now,
		intents:   make(map[string]Intent),
	}
}

// CreateIntent returns the intent for draftID, creating one when none exists
// or when the existing one was opened for a different amount.
func (c *Coordinator) CreateIntent(ctx context.Context, draftID string, amount decimal.Decimal, currency string) (*Intent, error) {
	c.mu.Lock()
	if in, ok := c.intents[draftID]; ok && in.Amount.Equal(amount) && in.Currency == currency {
		c.mu.Unlock()
		return &in, nil
	}
	c.mu.Unlock()

	callCtx, cancel := c.bound(ctx)
	defer cancel()

	in, err := c.creator.CreateIntent(callCtx, amount, currency)
	if err != nil {
		return nil, &IntentCreationError{Err: err}
	}
	if in == nil || in.ClientSecret == "" {
		return nil, &IntentCreationError{Err: errors.New("empty client secret")}
	}

	c.mu.Lock()
	c.intents[draftID] = *in
	c.mu.Unlock()
	return in, nil
}

// Confirm submits payment details against intent. Only a processor status of
// "succeeded" yields an Authorization.
func (c *Coordinator) Confirm(ctx context.Context, intent Intent, details Details) (*Authorization, error) {
	if details.PaymentMethod == "" {
		return nil, &DeclinedError{Reason: "payment method required"}
	}

	callCtx, cancel := c.bound(ctx)
	defer cancel()

	res, err := c.processor.ConfirmIntent(callCtx, intent, details)
	if err != nil {
		var declined *DeclinedError
		if errors.As(err, &declined) {
			return nil, err
		}
		return nil, &ProcessorError{Err: err}
	}
	if res.Status != StatusSucceeded {
		reason := res.DeclineReason
		if reason == "" {
			reason = "payment failed"
		}
		return nil, &DeclinedError{Reason: reason}
	}

	ref := res.Reference
	if ref == "" {
		ref = intent.ID
	}
	return &Authorization{Reference: ref, AuthorizedAt: c.now()}, nil
}

// Release forgets the intent held for draftID.
func (c *Coordinator) Release(draftID string) {
	c.mu.Lock()
	delete(c.intents, draftID)
	c.mu.Unlock()
}

func (c *Coordinator) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.cfg.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.cfg.Timeout)
}
