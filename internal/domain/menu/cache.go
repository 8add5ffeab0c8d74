package menu

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
)

// Cache holds the most recently fetched catalog. Readers never block on a
// refresh; a failed refresh keeps the previous catalog.
type Cache struct {
	src     Source
	current atomic.Pointer[Catalog]
	loaded  atomic.Int64 // unix nanos of the last successful refresh
}

// NewCache creates an empty Cache over src. Call Refresh before serving.
func NewCache(src Source) *Cache {
	c := &Cache{src: src}
	c.current.Store(NewCatalog(nil))
	return c
}

// Catalog returns the current catalog. It is never nil.
func (c *Cache) Catalog() *Catalog {
	return c.current.Load()
}

// LoadedAt returns the time of the last successful refresh, or zero.
func (c *Cache) LoadedAt() time.Time {
	n := c.loaded.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

// Refresh fetches the menu and swaps it in. An empty menu is rejected.
func (c *Cache) Refresh(ctx context.Context) error {
	items, err := c.src.FetchMenu(ctx)
	if err != nil {
		return errors.Wrap(err, "fetch menu")
	}
	catalog := NewCatalog(items)
	if catalog.Len() == 0 {
		return errors.New("menu is empty")
	}
	c.current.Store(catalog)
	c.loaded.Store(time.Now().UnixNano())
	return nil
}

// Run refreshes the catalog every interval until ctx is done. Refresh
// failures are logged and retried on the next tick.
func (c *Cache) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
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
			if err := c.Refresh(ctx); err != nil {
				zctx.From(ctx).Warn("Menu refresh failed", zap.Error(err))
				continue
			}
			zctx.From(ctx).Debug("Menu refreshed", zap.Int("items", c.Catalog().Len()))
		}
	}
}
