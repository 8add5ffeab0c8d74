// Package handler serves the storefront checkout API.
package handler

import (
	"context"
	"net/http"

	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/kart-checkout/internal/domain/auth"
	"github.com/xenking/kart-checkout/internal/domain/checkout"
	"github.com/xenking/kart-checkout/internal/domain/menu"
	"github.com/xenking/kart-checkout/internal/domain/order"
	"github.com/xenking/kart-checkout/internal/session"
)

// Sessions resolves the live session of an authenticated user.
type Sessions interface {
	Get(ctx context.Context, key string) (*session.Session, error)
}

// Menu exposes the current catalog.
type Menu interface {
	Catalog() *menu.Catalog
}

// Handler serves the /api routes, delegating to the session registry and the
// checkout machines it owns.
type Handler struct {
	sessions Sessions
	menu     Menu
	pricer   checkout.Pricer
	history  order.History
}

// NewHandler constructs a Handler with the required domain dependencies.
func NewHandler(sessions Sessions, m Menu, pricer checkout.Pricer, history order.History) *Handler {
	return &Handler{
		sessions: sessions,
		menu:     m,
		pricer:   pricer,
		history:  history,
	}
}

// Register adds the API routes to mux. Every route except the menu goes
// through authenticate.
func (h *Handler) Register(mux *http.ServeMux, authenticate func(http.Handler) http.Handler) {
	private := func(pattern string, fn http.HandlerFunc) {
		mux.Handle(pattern, authenticate(fn))
	}

	mux.HandleFunc("GET /api/menu", h.GetMenu)

	private("GET /api/cart", h.GetCart)
	private("POST /api/cart/items/{id}", h.AddItem)
	private("DELETE /api/cart/items/{id}", h.RemoveItem)

	private("GET /api/checkout", h.GetCheckout)
	private("POST /api/checkout", h.EnterCheckout)
	private("DELETE /api/checkout", h.AbortCheckout)
	private("PUT /api/checkout/form", h.SubmitForm)
	private("POST /api/checkout/payment", h.ConfirmPayment)
	private("POST /api/checkout/back", h.Back)
	private("POST /api/checkout/retry", h.Retry)

	private("GET /api/orders", h.ListOrders)
}

// session returns the session of the authenticated caller, writing an error
// response when there is none.
func (h *Handler) session(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	ctx := r.Context()
	id, ok := auth.IdentityFromContext(ctx)
	if !ok {
		writeError(ctx, w, checkout.ErrUnauthenticated)
		return nil, false
	}
	s, err := h.sessions.Get(ctx, id.UserID)
	if err != nil {
		writeError(ctx, w, err)
		return nil, false
	}
	return s, true
}

func writeJSON(ctx context.Context, w http.ResponseWriter, status int, encode func(e *jx.Encoder)) {
	var e jx.Encoder
	encode(&e)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(e.Bytes()); err != nil {
		zctx.From(ctx).Debug("Write response failed", zap.Error(err))
	}
}
