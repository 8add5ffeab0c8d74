// Package menu holds the read-only food catalog a storefront session orders from.
package menu

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a menu item is not part of the catalog.
var ErrNotFound = errors.New("menu item not found")

// Item is a single dish offered by the storefront. Items are immutable once loaded.
type Item struct {
	ID    string
	Name  string
	Price decimal.Decimal
	Image string
}

// Source fetches the current menu from the storefront backend.
type Source interface {
	FetchMenu(ctx context.Context) ([]Item, error)
}

// Catalog is an ordered, read-only set of menu items indexed by ID.
type Catalog struct {
	items []Item
	byID  map[string]int
}

// NewCatalog builds a Catalog preserving the source order. Items with an empty
// ID or a negative price are skipped; for duplicate IDs the first one wins.
func NewCatalog(items []Item) *Catalog {
	c := &Catalog{
		items: make([]Item, 0, len(items)),
		byID:  make(map[string]int, len(items)),
	}
	for _, it := range items {
		if it.ID == "" || it.Price.IsNegative() {
			continue
		}
		if _, dup := c.byID[it.ID]; dup {
			continue
		}
		c.byID[it.ID] = len(c.items)
		c.items = append(c.items, it)
	}
	return c
}

// Get returns the item with the given ID.
func (c *Catalog) Get(id string) (Item, bool) {
	if c == nil {
		return Item{}, false
	}
	i, ok := c.byID[id]
	if !ok {
		return Item{}, false
	}
	return c.items[i], true
}

// Has reports whether id is part of the catalog.
func (c *Catalog) Has(id string) bool {
	_, ok := c.Get(id)
	return ok
}

// Items returns a copy of the catalog in source order.
func (c *Catalog) Items() []Item {
	if c == nil {
		return nil
	}
	out := make([]Item, len(c.items))
	copy(out, c.items)
	return out
}

// Len returns the number of items in the catalog.
func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.items)
}
