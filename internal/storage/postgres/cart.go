package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/kart-checkout/internal/session"
)

const (
	getCartSQL = `SELECT quantities FROM carts WHERE session_key = $1`

	upsertCartSQL = `INSERT INTO carts (session_key, quantities, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (session_key) DO UPDATE
		SET quantities = EXCLUDED.quantities, updated_at = EXCLUDED.updated_at`

	deleteCartSQL = `DELETE FROM carts WHERE session_key = $1`
)

var _ session.CartRepository = (*CartRepository)(nil)

// CartRepository persists cart quantities as JSONB.
type CartRepository struct {
	pool *pgxpool.Pool
}

// NewCartRepository returns a CartRepository that uses the given pool.
func NewCartRepository(pool *pgxpool.Pool) *CartRepository {
	return &CartRepository{pool: pool}
}

// Load returns the persisted quantities for key, or session.ErrNotFound.
func (r *CartRepository) Load(ctx context.Context, key string) (map[string]int, error) {
	var q map[string]int
	err := r.pool.QueryRow(ctx, getCartSQL, key).Scan(&q)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, session.ErrNotFound
		}
		return nil, fmt.Errorf("loading cart %q: %w", key, err)
	}
	if q == nil {
		q = map[string]int{}
	}
	return q, nil
}

// Save replaces the quantities stored for key.
func (r *CartRepository) Save(ctx context.Context, key string, quantities map[string]int) error {
	if quantities == nil {
		quantities = map[string]int{}
	}
	if _, err := r.pool.Exec(ctx, upsertCartSQL, key, quantities); err != nil {
		return fmt.Errorf("saving cart %q: %w", key, err)
	}
	return nil
}

// Delete removes the cart stored for key. Deleting a missing cart is not an
// error.
func (r *CartRepository) Delete(ctx context.Context, key string) error {
	if _, err := r.pool.Exec(ctx, deleteCartSQL, key); err != nil {
		return fmt.Errorf("deleting cart %q: %w", key, err)
	}
	return nil
}
