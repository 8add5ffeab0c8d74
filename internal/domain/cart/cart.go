// Package cart implements the session cart: per-item quantities over a
// read-only menu catalog.
package cart

import (
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/xenking/kart-checkout/internal/domain/menu"
)

// UnknownItemError indicates an operation referenced an item that is not in
// the catalog (increment) or not in the cart (decrement).
type UnknownItemError struct {
	ItemID string
}

func (e *UnknownItemError) Error() string {
	return fmt.Sprintf("unknown item %s", e.ItemID)
}

// Line is a derived cart row. It is computed on demand and never stored.
type Line struct {
	Item      menu.Item
	Quantity  int
	LineTotal decimal.Decimal
}

// Snapshot is a consistent copy of the cart taken under a single lock.
type Snapshot struct {
	Lines    []Line
	Subtotal decimal.Decimal
}

// Store owns the quantities of a single session cart. The zero-quantity
// entries are never retained.
type Store struct {
	mu      sync.RWMutex
	catalog *menu.Catalog
	qty     map[string]int
}

// NewStore creates an empty cart over the given catalog.
func NewStore(catalog *menu.Catalog) *Store {
	return &Store{
		catalog: catalog,
		qty:     make(map[string]int),
	}
}

// AddOrIncrement adds one unit of the item, creating the entry if absent.
func (s *Store) AddOrIncrement(itemID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.catalog.Has(itemID) {
		return &UnknownItemError{ItemID: itemID}
	}
	s.qty[itemID]++
	return nil
}

// RemoveOrDecrement removes one unit of the item and drops the entry when it
// reaches zero.
func (s *Store) RemoveOrDecrement(itemID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.qty[itemID]
	if !ok {
		return &UnknownItemError{ItemID: itemID}
	}
	if n <= 1 {
		delete(s.qty, itemID)
		return nil
	}
	s.qty[itemID] = n - 1
	return nil
}

// Subtotal returns the sum of line totals, zero for an empty cart.
func (s *Store) Subtotal() decimal.Decimal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.subtotalLocked()
}

func (s *Store) subtotalLocked() decimal.Decimal {
	total := decimal.Zero
	for id, n := range s.qty {
		it, ok := s.catalog.Get(id)
		if !ok {
			continue
		}
		total = total.Add(it.Price.Mul(decimal.NewFromInt(int64(n))))
	}
	return total
}

// ItemCount returns the sum of all quantities.
func (s *Store) ItemCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, n := range s.qty {
		count += n
	}
	return count
}

// Quantity returns the quantity held for itemID.
func (s *Store) Quantity(itemID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.qty[itemID]
}

// Lines returns the cart rows in catalog order.
func (s *Store) Lines() []Line {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.linesLocked()
}

func (s *Store) linesLocked() []Line {
	lines := make([]Line, 0, len(s.qty))
	for _, it := range s.catalog.Items() {
		n, ok := s.qty[it.ID]
		if !ok {
			continue
		}
		lines = append(lines, Line{
			Item:      it,
			Quantity:  n,
			LineTotal: it.Price.Mul(decimal.NewFromInt(int64(n))),
		})
	}
	return lines
}

// Snapshot copies lines and subtotal atomically. Later mutations of the
// store are not visible through the returned value.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{
		Lines:    s.linesLocked(),
		Subtotal: s.subtotalLocked(),
	}
}

// Quantities returns a copy of the raw quantity map, suitable for persistence.
func (s *Store) Quantities() map[string]int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]int, len(s.qty))
	for id, n := range s.qty {
		out[id] = n
	}
	return out
}

// Clear empties the cart. Only a confirmed order clears the cart.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.qty = make(map[string]int)
}

// Rehydrate replaces the cart contents with persisted quantities. Entries
// whose item is no longer in the catalog, or whose quantity is not positive,
// are dropped and their IDs returned.
func (s *Store) Rehydrate(persisted map[string]int) (dropped []string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.qty = make(map[string]int, len(persisted))
	for id, n := range persisted {
		if n <= 0 || !s.catalog.Has(id) {
			dropped = append(dropped, id)
			continue
		}
		s.qty[id] = n
	}
	return dropped
}
