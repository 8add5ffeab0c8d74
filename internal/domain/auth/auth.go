// Package auth models the storefront session signal consumed by checkout.
// Token issuance lives outside this service; only lookup happens here.
package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/go-faster/errors"
)

// ErrSessionNotFound is returned when no active session matches a token hash.
var ErrSessionNotFound = errors.New("session not found")

// Identity is the authenticated storefront user.
type Identity struct {
	UserID string
	Name   string
	Email  string
}

// Session is a stored storefront session, keyed by the HMAC of its token.
type Session struct {
	ID        string
	TokenHash string
	Identity  Identity
	ExpiresAt time.Time
}

// Expired reports whether s is past its expiry. A zero ExpiresAt never expires.
func (s *Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && now.After(s.ExpiresAt)
}

// Repository looks up sessions by token hash.
type Repository interface {
	FindByHash(ctx context.Context, hash string) (*Session, error)
}

// Guard exposes the read-only "is authenticated" signal.
type Guard interface {
	Authenticated(ctx context.Context) (Identity, bool)
}

// HashToken returns the hex HMAC-SHA256 of token under pepper.
func HashToken(pepper []byte, token string) string {
	mac := hmac.New(sha256.New, pepper)
	mac.Write([]byte(token))
	return hex.EncodeToString(mac.Sum(nil))
}

type identityKey struct{}

// WithIdentity returns a context carrying id.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFromContext returns the identity stored by WithIdentity.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok && id.UserID != ""
}

// ContextGuard reports the identity attached to the request context.
type ContextGuard struct{}

// Authenticated implements Guard.
func (ContextGuard) Authenticated(ctx context.Context) (Identity, bool) {
	return IdentityFromContext(ctx)
}
