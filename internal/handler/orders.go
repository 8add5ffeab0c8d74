package handler

import (
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/kart-checkout/internal/domain/auth"
	"github.com/xenking/kart-checkout/internal/domain/checkout"
	"github.com/xenking/kart-checkout/internal/domain/pricing"
)

// ListOrders returns the order history of the caller's email.
func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := auth.IdentityFromContext(ctx)
	if !ok {
		writeError(ctx, w, checkout.ErrUnauthenticated)
		return
	}
	if id.Email == "" {
		writeError(ctx, w, badRequest("session has no email"))
		return
	}
	entries, err := h.history.OrdersByEmail(ctx, id.Email)
	if err != nil {
		writeError(ctx, w, errors.Wrap(err, "order history"))
		return
	}
	writeJSON(ctx, w, http.StatusOK, func(e *jx.Encoder) {
		e.ArrStart()
		for _, o := range entries {
			e.ObjStart()
			e.FieldStart("id")
			e.Str(o.ID)
			e.FieldStart("label")
			e.Str(o.Label())
			e.FieldStart("status")
			e.Str(o.Status)
			e.FieldStart("total")
			e.Str(pricing.Display(o.Total))
			if !o.CreatedAt.IsZero() {
				e.FieldStart("createdAt")
				e.Str(o.CreatedAt.UTC().Format(time.RFC3339))
			}
			e.FieldStart("items")
			e.ArrStart()
			for _, l := range o.Lines {
				e.ObjStart()
				e.FieldStart("name")
				e.Str(l.Name)
				e.FieldStart("quantity")
				e.Int(l.Quantity)
				e.FieldStart("price")
				e.Str(pricing.Display(l.Price))
				e.ObjEnd()
			}
			e.ArrEnd()
			e.ObjEnd()
		}
		e.ArrEnd()
	})
}
