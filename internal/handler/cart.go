package handler

import (
	"net/http"

	"github.com/go-faster/jx"

	"github.com/xenking/kart-checkout/internal/domain/cart"
	"github.com/xenking/kart-checkout/internal/domain/menu"
	"github.com/xenking/kart-checkout/internal/domain/pricing"
)

// GetMenu returns the catalog in menu order.
func (h *Handler) GetMenu(w http.ResponseWriter, r *http.Request) {
	items := h.menu.Catalog().Items()
	writeJSON(r.Context(), w, http.StatusOK, func(e *jx.Encoder) {
		e.ArrStart()
		for _, it := range items {
			encodeMenuItem(e, it)
		}
		e.ArrEnd()
	})
}

// GetCart returns the cart lines and totals of the caller.
func (h *Handler) GetCart(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	h.writeCart(w, r, s.Snapshot())
}

// AddItem adds one unit of the item in the path.
func (h *Handler) AddItem(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	snap, err := s.AddItem(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	h.writeCart(w, r, snap)
}

// RemoveItem removes one unit of the item in the path.
func (h *Handler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	snap, err := s.RemoveItem(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	h.writeCart(w, r, snap)
}

func (h *Handler) writeCart(w http.ResponseWriter, r *http.Request, snap cart.Snapshot) {
	b := h.pricer.Breakdown(snap.Subtotal)
	var count int
	for _, l := range snap.Lines {
		count += l.Quantity
	}
	writeJSON(r.Context(), w, http.StatusOK, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("lines")
		e.ArrStart()
		for _, l := range snap.Lines {
			e.ObjStart()
			e.FieldStart("item")
			encodeMenuItem(e, l.Item)
			e.FieldStart("quantity")
			e.Int(l.Quantity)
			e.FieldStart("lineTotal")
			e.Str(pricing.Display(l.LineTotal))
			e.ObjEnd()
		}
		e.ArrEnd()
		e.FieldStart("itemCount")
		e.Int(count)
		encodeBreakdown(e, b)
		e.ObjEnd()
	})
}

func encodeMenuItem(e *jx.Encoder, it menu.Item) {
	e.ObjStart()
	e.FieldStart("id")
	e.Str(it.ID)
	e.FieldStart("name")
	e.Str(it.Name)
	e.FieldStart("price")
	e.Str(pricing.Display(it.Price))
	if it.Image != "" {
		e.FieldStart("image")
		e.Str(it.Image)
	}
	e.ObjEnd()
}

// encodeBreakdown writes the money fields into the current object.
func encodeBreakdown(e *jx.Encoder, b pricing.Breakdown) {
	e.FieldStart("subtotal")
	e.Str(pricing.Display(b.Subtotal))
	e.FieldStart("deliveryFee")
	e.Str(pricing.Display(b.DeliveryFee))
	e.FieldStart("tax")
	e.Str(pricing.Display(b.Tax))
	e.FieldStart("total")
	e.Str(pricing.Display(b.Total))
}
