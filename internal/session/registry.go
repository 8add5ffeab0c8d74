// Package session keeps one cart and one checkout machine per signed-in
// storefront user, persisting cart quantities across restarts.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/kart-checkout/internal/domain/cart"
	"github.com/xenking/kart-checkout/internal/domain/checkout"
	"github.com/xenking/kart-checkout/internal/domain/menu"
)

// ErrNotFound is returned by CartRepository.Load when nothing is stored.
var ErrNotFound = errors.New("cart not found")

// CartRepository persists cart quantities under a session key.
type CartRepository interface {
	Load(ctx context.Context, key string) (map[string]int, error)
	Save(ctx context.Context, key string, quantities map[string]int) error
	Delete(ctx context.Context, key string) error
}

// Catalogs provides the catalog new sessions are built over.
type Catalogs interface {
	Catalog() *menu.Catalog
}

// MachineFactory builds the checkout machine of a new session.
type MachineFactory func(key string, c checkout.Cart) *checkout.Machine

// Config holds non-dependency configuration for the Registry.
type Config struct {
	// IdleTTL evicts sessions untouched for this long. Zero disables eviction.
	IdleTTL time.Duration
	// SaveTimeout bounds persistence calls made outside a request.
	SaveTimeout time.Duration
}

// Session is the live state of one user.
type Session struct {
	Key      string
	Cart     *cart.Store
	Checkout *checkout.Machine

	registry *Registry
	lastSeen time.Time
}

// Registry owns the live sessions.
type Registry struct {
	carts      CartRepository
	catalogs   Catalogs
	newMachine MachineFactory
	cfg        Config
	lg         *zap.Logger
	now        func() time.Time

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewRegistry creates an empty Registry.
func NewRegistry(carts CartRepository, catalogs Catalogs, newMachine MachineFactory, cfg Config, lg *zap.Logger) *Registry {
	if cfg.SaveTimeout <= 0 {
		cfg.SaveTimeout = 5 * time.Second
	}
	return &Registry{
		carts:      carts,
		catalogs:   catalogs,
		newMachine: newMachine,
		cfg:        cfg,
		lg:         lg,
		now:        time.Now,
		sessions:   make(map[string]*Session),
	}
}

// Get returns the session for key, creating it on first use. A new session's
// cart is rehydrated from persistence; entries for items no longer on the
// menu are dropped.
func (r *Registry) Get(ctx context.Context, key string) (*Session, error) {
	if key == "" {
		return nil, errors.New("empty session key")
	}

	r.mu.Lock()
	if s, ok := r.sessions[key]; ok {
		s.lastSeen = r.now()
		r.mu.Unlock()
		return s, nil
	}
	r.mu.Unlock()

	store := cart.NewStore(r.catalogs.Catalog())
	persisted, err := r.carts.Load(ctx, key)
	switch {
	case errors.Is(err, ErrNotFound):
	case err != nil:
		return nil, errors.Wrap(err, "load cart")
	default:
		if dropped := store.Rehydrate(persisted); len(dropped) > 0 {
			zctx.From(ctx).Info("Dropped stale cart entries",
				zap.String("session", key),
				zap.Strings("items", dropped),
			)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	// Lost a race with a concurrent Get.
	if s, ok := r.sessions[key]; ok {
		s.lastSeen = r.now()
		return s, nil
	}
	s := &Session{
		Key:      key,
		Cart:     store,
		registry: r,
		lastSeen: r.now(),
	}
	s.Checkout = r.newMachine(key, s)
	r.sessions[key] = s
	return s, nil
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Evict drops sessions idle for longer than IdleTTL. Sessions with an active
// checkout are kept. It returns the number of evicted sessions.
func (r *Registry) Evict() int {
	if r.cfg.IdleTTL <= 0 {
		return 0
	}
	cutoff := r.now().Add(-r.cfg.IdleTTL)

	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for key, s := range r.sessions {
		if s.lastSeen.After(cutoff) {
			continue
		}
		switch s.Checkout.State() {
		case checkout.FormEntry, checkout.AwaitingPayment, checkout.Submitting:
			continue
		}
		delete(r.sessions, key)
		n++
	}
	return n
}

// Run evicts idle sessions every interval until ctx is done.
func (r *Registry) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 || r.cfg.IdleTTL <= 0 {
		<-ctx.Done()
		return nil
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n := r.Evict(); n > 0 {
				zctx.From(ctx).Debug("Evicted idle sessions", zap.Int("count", n))
			}
		}
	}
}

// AddItem adds one unit of itemID and persists the cart.
func (s *Session) AddItem(ctx context.Context, itemID string) (cart.Snapshot, error) {
	if err := s.Cart.AddOrIncrement(itemID); err != nil {
		return s.Cart.Snapshot(), err
	}
	s.persist(ctx)
	return s.Cart.Snapshot(), nil
}

// RemoveItem removes one unit of itemID and persists the cart.
func (s *Session) RemoveItem(ctx context.Context, itemID string) (cart.Snapshot, error) {
	if err := s.Cart.RemoveOrDecrement(itemID); err != nil {
		return s.Cart.Snapshot(), err
	}
	s.persist(ctx)
	return s.Cart.Snapshot(), nil
}

// Snapshot implements checkout.Cart.
func (s *Session) Snapshot() cart.Snapshot {
	return s.Cart.Snapshot()
}

// Clear implements checkout.Cart. It runs from the confirmation timer or a
// new checkout, so persistence uses a detached context.
func (s *Session) Clear() {
	s.Cart.Clear()

	r := s.registry
	ctx, cancel := context.WithTimeout(zctx.Base(context.Background(), r.lg), r.cfg.SaveTimeout)
	defer cancel()
	if err := r.carts.Delete(ctx, s.Key); err != nil {
		r.lg.Warn("Delete cart failed", zap.String("session", s.Key), zap.Error(err))
	}
}

// persist saves the cart. A failure is logged and the in-memory cart stays
// authoritative.
func (s *Session) persist(ctx context.Context) {
	if err := s.registry.carts.Save(ctx, s.Key, s.Cart.Quantities()); err != nil {
		zctx.From(ctx).Warn("Save cart failed", zap.String("session", s.Key), zap.Error(err))
	}
}
