package handler

import (
	"context"
	"io"
	"net/http"

	"github.com/go-faster/jx"

	"github.com/xenking/kart-checkout/internal/domain/checkout"
	"github.com/xenking/kart-checkout/internal/domain/order"
	"github.com/xenking/kart-checkout/internal/domain/payment"
	"github.com/xenking/kart-checkout/internal/domain/pricing"
)

const maxBody = 64 << 10

// GetCheckout returns the checkout state of the caller.
func (h *Handler) GetCheckout(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	writeView(r.Context(), w, s.Checkout.View())
}

// EnterCheckout starts a checkout.
func (h *Handler) EnterCheckout(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(ctx context.Context, m *checkout.Machine) (checkout.View, error) {
		return m.Enter(ctx)
	})
}

// SubmitForm validates the checkout form and moves on to payment or
// submission.
func (h *Handler) SubmitForm(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	f, err := decodeForm(body)
	if err != nil {
		writeError(r.Context(), w, badRequest("invalid form: "+err.Error()))
		return
	}
	h.transition(w, r, func(ctx context.Context, m *checkout.Machine) (checkout.View, error) {
		return m.SubmitForm(ctx, f)
	})
}

// ConfirmPayment confirms the open intent with a processor payment method
// token.
func (h *Handler) ConfirmPayment(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	details, err := decodePaymentDetails(body)
	if err != nil {
		writeError(r.Context(), w, badRequest("invalid payment: "+err.Error()))
		return
	}
	h.transition(w, r, func(ctx context.Context, m *checkout.Machine) (checkout.View, error) {
		return m.ConfirmPayment(ctx, details)
	})
}

// Back leaves the payment step.
func (h *Handler) Back(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(ctx context.Context, m *checkout.Machine) (checkout.View, error) {
		return m.Back(ctx)
	})
}

// Retry resubmits a draft whose submission failed.
func (h *Handler) Retry(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(ctx context.Context, m *checkout.Machine) (checkout.View, error) {
		return m.Retry(ctx)
	})
}

// AbortCheckout cancels the checkout.
func (h *Handler) AbortCheckout(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(ctx context.Context, m *checkout.Machine) (checkout.View, error) {
		return m.Abort(ctx)
	})
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request, op func(context.Context, *checkout.Machine) (checkout.View, error)) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	v, err := op(r.Context(), s.Checkout)
	if err != nil {
		writeCheckoutError(r.Context(), w, v, err)
		return
	}
	writeView(r.Context(), w, v)
}

func readBody(r *http.Request) ([]byte, error) {
	b, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	if err != nil {
		return nil, badRequest("read body: " + err.Error())
	}
	return b, nil
}

func decodeForm(b []byte) (checkout.Form, error) {
	var f checkout.Form
	err := jx.DecodeBytes(b).Obj(func(d *jx.Decoder, key string) error {
		var dst *string
		switch key {
		case "firstName":
			dst = &f.FirstName
		case "lastName":
			dst = &f.LastName
		case "email":
			dst = &f.Email
		case "phone":
			dst = &f.Phone
		case "street":
			dst = &f.Street
		case "city":
			dst = &f.City
		case "state":
			dst = &f.State
		case "zipCode":
			dst = &f.ZipCode
		case "country":
			dst = &f.Country
		case "paymentMethod":
			v, err := d.Str()
			f.PaymentMethod = order.PaymentMethod(v)
			return err
		default:
			return d.Skip()
		}
		if d.Next() == jx.Null {
			return d.Null()
		}
		v, err := d.Str()
		*dst = v
		return err
	})
	return f, err
}

func decodePaymentDetails(b []byte) (payment.Details, error) {
	var details payment.Details
	err := jx.DecodeBytes(b).Obj(func(d *jx.Decoder, key string) error {
		if key != "paymentMethod" {
			return d.Skip()
		}
		v, err := d.Str()
		details.PaymentMethod = v
		return err
	})
	if err == nil && details.PaymentMethod == "" {
		err = badRequest("paymentMethod is required")
	}
	return details, err
}

func writeView(ctx context.Context, w http.ResponseWriter, v checkout.View) {
	writeJSON(ctx, w, http.StatusOK, func(e *jx.Encoder) {
		encodeView(e, v)
	})
}

// encodeView writes the checkout state. The intent client secret is never
// included.
func encodeView(e *jx.Encoder, v checkout.View) {
	e.ObjStart()
	e.FieldStart("state")
	e.Str(v.State.String())
	if v.Attempt != "" {
		e.FieldStart("attempt")
		e.Str(v.Attempt)
	}
	if v.State != checkout.Idle {
		e.FieldStart("form")
		encodeForm(e, v.Form)
	}
	if v.Draft != nil {
		e.FieldStart("draft")
		encodeDraft(e, *v.Draft)
	}
	if v.Intent != nil {
		e.FieldStart("intent")
		e.ObjStart()
		e.FieldStart("id")
		e.Str(v.Intent.ID)
		e.FieldStart("amount")
		e.Str(pricing.Display(v.Intent.Amount))
		e.FieldStart("currency")
		e.Str(v.Intent.Currency)
		e.ObjEnd()
	}
	if c := v.Confirmation; c != nil {
		e.FieldStart("confirmation")
		e.ObjStart()
		e.FieldStart("orderNumber")
		e.Str(c.OrderNumber)
		e.FieldStart("total")
		e.Str(pricing.Display(c.Total))
		e.FieldStart("estimatedDeliveryWindow")
		e.Str(c.EstimatedDeliveryWindow)
		e.ObjEnd()
	}
	if v.Err != nil {
		e.FieldStart("error")
		e.Str(v.Err.Error())
	}
	e.FieldStart("canRetry")
	e.Bool(v.CanRetry)
	e.ObjEnd()
}

func encodeForm(e *jx.Encoder, f checkout.Form) {
	e.ObjStart()
	for _, kv := range [...]struct{ k, v string }{
		{"firstName", f.FirstName},
		{"lastName", f.LastName},
		{"email", f.Email},
		{"phone", f.Phone},
		{"street", f.Street},
		{"city", f.City},
		{"state", f.State},
		{"zipCode", f.ZipCode},
		{"country", f.Country},
		{"paymentMethod", string(f.PaymentMethod)},
	} {
		e.FieldStart(kv.k)
		e.Str(kv.v)
	}
	e.ObjEnd()
}

func encodeDraft(e *jx.Encoder, d order.Draft) {
	e.ObjStart()
	e.FieldStart("id")
	e.Str(d.ID)
	e.FieldStart("lines")
	e.ArrStart()
	for _, l := range d.Lines {
		e.ObjStart()
		e.FieldStart("itemId")
		e.Str(l.ItemID)
		e.FieldStart("name")
		e.Str(l.Name)
		e.FieldStart("quantity")
		e.Int(l.Quantity)
		e.FieldStart("price")
		e.Str(pricing.Display(l.Price))
		e.ObjEnd()
	}
	e.ArrEnd()
	encodeBreakdown(e, pricing.Breakdown{
		Subtotal:    d.Subtotal,
		DeliveryFee: d.DeliveryFee,
		Tax:         d.Tax,
		Total:       d.Total,
	})
	e.FieldStart("paymentMethod")
	e.Str(string(d.PaymentMethod))
	e.FieldStart("status")
	e.Str(d.Status)
	e.FieldStart("paid")
	e.Bool(d.Payment != nil)
	e.ObjEnd()
}
