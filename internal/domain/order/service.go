package order

import (
	"context"
	"sync"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	bloomCapacity = 1_000_000
	bloomFPR      = 0.001
)

// ServiceConfig holds non-dependency configuration for the Service.
type ServiceConfig struct {
	// Timeout bounds a single backend submission. Zero disables the bound.
	Timeout time.Duration
	// DeliveryWindow is copied into every confirmation.
	DeliveryWindow string
}

// Service submits drafts to the order backend at most once per draft ID.
//
// Concurrent submissions of the same draft share one backend call. Confirmed
// drafts are written to the Ledger; a bloom filter over ledger keys lets the
// common path (a brand-new draft) skip the ledger lookup.
type Service struct {
	submitter Submitter
	ledger    Ledger
	cfg       ServiceConfig

	group singleflight.Group

	mu   sync.Mutex
	seen *bloom.BloomFilter
}

// NewService creates an order submission Service. ledger may be nil.
func NewService(submitter Submitter, ledger Ledger, cfg ServiceConfig) *Service {
	return &Service{
		submitter: submitter,
		ledger:    ledger,
		cfg:       cfg,
		seen:      bloom.NewWithEstimates(bloomCapacity, bloomFPR),
	}
}

// WarmUp loads ledger keys recorded after since into the bloom filter.
func (s *Service) WarmUp(ctx context.Context, since time.Time) error {
	if s.ledger == nil {
		return nil
	}
	keys, err := s.ledger.RecentKeys(ctx, since)
	if err != nil {
		return errors.Wrap(err, "load recent submissions")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		s.seen.AddString(k)
	}
	return nil
}

// Submit sends d to the backend and returns its confirmation. A draft that
// was already confirmed returns the recorded confirmation without a new
// backend call.
func (s *Service) Submit(ctx context.Context, d Draft) (*Confirmation, error) {
	v, err, _ := s.group.Do(d.ID, func() (any, error) {
		return s.submit(ctx, d)
	})
	if err != nil {
		return nil, err
	}
	c := *v.(*Confirmation)
	return &c, nil
}

func (s *Service) submit(ctx context.Context, d Draft) (*Confirmation, error) {
	lg := zctx.From(ctx).With(zap.String("draft", d.ID))

	if c, ok := s.recorded(ctx, d.ID); ok {
		lg.Info("Draft already confirmed, reusing order", zap.String("order", c.OrderNumber))
		return c, nil
	}

	callCtx := ctx
	if s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}

	receipt, err := s.submitter.SubmitOrder(callCtx, d)
	if err != nil {
		return nil, classify(ctx, callCtx, err)
	}

	c := &Confirmation{
		DraftID:                 d.ID,
		OrderNumber:             receipt.OrderNumber,
		Total:                   d.Total,
		EstimatedDeliveryWindow: s.cfg.DeliveryWindow,
	}
	s.remember(ctx, *c)
	return c, nil
}

func (s *Service) recorded(ctx context.Context, key string) (*Confirmation, bool) {
	if s.ledger == nil {
		return nil, false
	}
	s.mu.Lock()
	maybe := s.seen.TestString(key)
	s.mu.Unlock()
	if !maybe {
		return nil, false
	}

	c, err := s.ledger.Lookup(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			zctx.From(ctx).Warn("Submission ledger lookup failed", zap.Error(err))
		}
		return nil, false
	}
	return c, true
}

func (s *Service) remember(ctx context.Context, c Confirmation) {
	if s.ledger == nil {
		return
	}
	s.mu.Lock()
	s.seen.AddString(c.DraftID)
	s.mu.Unlock()

	if err := s.ledger.Record(ctx, c); err != nil {
		zctx.From(ctx).Error("Record confirmed submission",
			zap.String("draft", c.DraftID),
			zap.String("order", c.OrderNumber),
			zap.Error(err),
		)
	}
}

// classify converts a submitter error into the submission taxonomy. Errors
// already typed by the submitter pass through unchanged.
func classify(parent, call context.Context, err error) error {
	var (
		netErr *NetworkError
		rejErr *RejectedError
	)
	if errors.As(err, &rejErr) {
		return err
	}
	if parent.Err() != nil {
		// Cancelled by the caller, not a transport failure.
		return errors.Wrap(parent.Err(), "order submission cancelled")
	}
	if errors.Is(call.Err(), context.DeadlineExceeded) {
		return &NetworkError{Kind: NetworkTimeout, Err: err}
	}
	if errors.As(err, &netErr) {
		return err
	}
	return &NetworkError{Kind: NetworkUnreachable, Err: err}
}
