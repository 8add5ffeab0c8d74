package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/kart-checkout/internal/domain/order"
)

const (
	getSubmissionSQL = `SELECT idempotency_key, order_number, total, delivery_window
		FROM order_submissions WHERE idempotency_key = $1`

	recordSubmissionSQL = `INSERT INTO order_submissions (idempotency_key, order_number, total, delivery_window)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (idempotency_key) DO NOTHING`

	recentSubmissionKeysSQL = `SELECT idempotency_key FROM order_submissions WHERE created_at >= $1`
)

var _ order.Ledger = (*SubmissionLedger)(nil)

// SubmissionLedger records confirmed submissions by idempotency key.
type SubmissionLedger struct {
	pool *pgxpool.Pool
}

// NewSubmissionLedger returns a SubmissionLedger that uses the given pool.
func NewSubmissionLedger(pool *pgxpool.Pool) *SubmissionLedger {
	return &SubmissionLedger{pool: pool}
}

// Lookup returns the confirmation recorded for key, or order.ErrNotFound.
func (l *SubmissionLedger) Lookup(ctx context.Context, key string) (*order.Confirmation, error) {
	rows, err := l.pool.Query(ctx, getSubmissionSQL, key)
	if err != nil {
		return nil, fmt.Errorf("looking up submission %q: %w", key, err)
	}
	c, err := pgx.CollectExactlyOneRow(rows, scanConfirmation)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("looking up submission %q: %w", key, err)
	}
	return &c, nil
}

// Record stores c. Recording the same key twice keeps the first row.
func (l *SubmissionLedger) Record(ctx context.Context, c order.Confirmation) error {
	_, err := l.pool.Exec(ctx, recordSubmissionSQL,
		c.DraftID, c.OrderNumber, c.Total, c.EstimatedDeliveryWindow,
	)
	if err != nil {
		return fmt.Errorf("recording submission %q: %w", c.DraftID, err)
	}
	return nil
}

// RecentKeys returns the keys recorded at or after since.
func (l *SubmissionLedger) RecentKeys(ctx context.Context, since time.Time) ([]string, error) {
	rows, err := l.pool.Query(ctx, recentSubmissionKeysSQL, since)
	if err != nil {
		return nil, fmt.Errorf("listing recent submissions: %w", err)
	}
	keys, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("listing recent submissions: %w", err)
	}
	return keys, nil
}

func scanConfirmation(row pgx.CollectableRow) (order.Confirmation, error) {
	var c order.Confirmation
	err := row.Scan(&c.DraftID, &c.OrderNumber, &c.Total, &c.EstimatedDeliveryWindow)
	return c, err
}
