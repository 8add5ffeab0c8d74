package handler

import (
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/kart-checkout/internal/domain/auth"
	"github.com/xenking/kart-checkout/internal/domain/checkout"
)

// Security authenticates API requests by storefront session token. Tokens
// are looked up by their HMAC-SHA256 under a server-side pepper and never
// stored or logged in the clear.
type Security struct {
	sessions auth.Repository
	pepper   []byte
	now      func() time.Time
}

// NewSecurity creates a Security over the session repository.
func NewSecurity(sessions auth.Repository, pepper []byte) *Security {
	return &Security{
		sessions: sessions,
		pepper:   pepper,
		now:      time.Now,
	}
}

// Authenticate rejects requests without a valid, unexpired bearer token and
// attaches the session identity to the request context otherwise.
func (s *Security) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		token, ok := bearerToken(r)
		if !ok {
			writeError(ctx, w, checkout.ErrUnauthenticated)
			return
		}
		id, err := s.identify(r, token)
		if err != nil {
			zctx.From(ctx).Debug("Session rejected", zap.Error(err))
			writeError(ctx, w, checkout.ErrUnauthenticated)
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.WithIdentity(ctx, id)))
	})
}

func (s *Security) identify(r *http.Request, token string) (auth.Identity, error) {
	hash := auth.HashToken(s.pepper, token)
	sess, err := s.sessions.FindByHash(r.Context(), hash)
	if err != nil {
		return auth.Identity{}, errors.Wrap(err, "find session")
	}

	// The repository matched on the hex string; compare the raw MAC too.
	want, err := hex.DecodeString(hash)
	if err != nil {
		return auth.Identity{}, errors.Wrap(err, "decode hash")
	}
	stored, err := hex.DecodeString(sess.TokenHash)
	if err != nil {
		return auth.Identity{}, errors.Wrap(err, "decode stored hash")
	}
	if subtle.ConstantTimeCompare(want, stored) != 1 {
		return auth.Identity{}, errors.New("token hash mismatch")
	}
	if sess.Expired(s.now()) {
		return auth.Identity{}, errors.New("session expired")
	}
	if sess.Identity.UserID == "" {
		return auth.Identity{}, errors.New("session has no user")
	}
	return sess.Identity, nil
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
