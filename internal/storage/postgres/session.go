package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/kart-checkout/internal/domain/auth"
)

const (
	getSessionByHashSQL = `SELECT id, token_hash, user_id, name, email, expires_at
		FROM sessions WHERE token_hash = $1 AND active = TRUE`

	createSessionSQL = `INSERT INTO sessions (id, token_hash, user_id, name, email, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (token_hash) DO UPDATE
		SET user_id = EXCLUDED.user_id, name = EXCLUDED.name, email = EXCLUDED.email,
			expires_at = EXCLUDED.expires_at, active = TRUE`

	revokeSessionSQL = `UPDATE sessions SET active = FALSE WHERE token_hash = $1`
)

var _ auth.Repository = (*SessionRepository)(nil)

// SessionRepository provides storefront session lookups backed by PostgreSQL.
type SessionRepository struct {
	pool *pgxpool.Pool
}

// NewSessionRepository returns a SessionRepository that uses the given pool.
func NewSessionRepository(pool *pgxpool.Pool) *SessionRepository {
	return &SessionRepository{pool: pool}
}

// FindByHash looks up an active session by the HMAC-SHA256 of its token.
// Returns auth.ErrSessionNotFound when no active session matches.
func (r *SessionRepository) FindByHash(ctx context.Context, hash string) (*auth.Session, error) {
	var (
		s       auth.Session
		expires *time.Time
	)
	err := r.pool.QueryRow(ctx, getSessionByHashSQL, hash).Scan(
		&s.ID, &s.TokenHash, &s.Identity.UserID, &s.Identity.Name, &s.Identity.Email, &expires,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, auth.ErrSessionNotFound
		}
		return nil, fmt.Errorf("finding session by hash: %w", err)
	}
	if expires != nil {
		s.ExpiresAt = *expires
	}
	return &s, nil
}

// Create stores s, reactivating it when the token hash already exists.
func (r *SessionRepository) Create(ctx context.Context, s auth.Session) error {
	var expires *time.Time
	if !s.ExpiresAt.IsZero() {
		expires = &s.ExpiresAt
	}
	_, err := r.pool.Exec(ctx, createSessionSQL,
		s.ID, s.TokenHash, s.Identity.UserID, s.Identity.Name, s.Identity.Email, expires,
	)
	if err != nil {
		return fmt.Errorf("creating session %q: %w", s.ID, err)
	}
	return nil
}

// Revoke deactivates the session with the given token hash.
func (r *SessionRepository) Revoke(ctx context.Context, hash string) error {
	if _, err := r.pool.Exec(ctx, revokeSessionSQL, hash); err != nil {
		return fmt.Errorf("revoking session: %w", err)
	}
	return nil
}
