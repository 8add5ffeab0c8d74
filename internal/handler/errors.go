package handler

import (
	"context"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/kart-checkout/internal/domain/cart"
	"github.com/xenking/kart-checkout/internal/domain/checkout"
	"github.com/xenking/kart-checkout/internal/domain/order"
	"github.com/xenking/kart-checkout/internal/domain/payment"
)

// statusOf maps domain errors to HTTP status codes.
func statusOf(err error) int {
	var (
		validationErr *checkout.ValidationError
		transitionErr *checkout.TransitionError
		unknownErr    *cart.UnknownItemError
		declinedErr   *payment.DeclinedError
		intentErr     *payment.IntentCreationError
		processorErr  *payment.ProcessorError
		networkErr    *order.NetworkError
		rejectedErr   *order.RejectedError
		requestErr    *requestError
	)
	switch {
	case errors.As(err, &validationErr), errors.As(err, &requestErr):
		return http.StatusBadRequest
	case errors.Is(err, checkout.ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.As(err, &unknownErr):
		return http.StatusNotFound
	case errors.As(err, &transitionErr),
		errors.Is(err, checkout.ErrSubmissionInFlight),
		errors.Is(err, checkout.ErrStale),
		errors.Is(err, checkout.ErrEmptyCart):
		return http.StatusConflict
	case errors.As(err, &declinedErr):
		return http.StatusPaymentRequired
	case errors.As(err, &intentErr),
		errors.As(err, &processorErr),
		errors.As(err, &networkErr),
		errors.As(err, &rejectedErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// requestError is a malformed request body or parameter.
type requestError struct {
	msg string
}

func (e *requestError) Error() string { return e.msg }

func badRequest(msg string) error {
	return &requestError{msg: msg}
}

// writeError writes {code, message[, fields]}. Internal errors are logged and
// answered with a generic message.
func writeError(ctx context.Context, w http.ResponseWriter, err error) {
	status := statusOf(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		zctx.From(ctx).Error("Request failed", zap.Error(err))
		msg = http.StatusText(status)
	}
	writeJSON(ctx, w, status, func(e *jx.Encoder) {
		e.ObjStart()
		encodeErrorFields(e, status, msg, err)
		e.ObjEnd()
	})
}

// writeCheckoutError answers a failed checkout operation with the error and
// the machine state it left behind.
func writeCheckoutError(ctx context.Context, w http.ResponseWriter, v checkout.View, err error) {
	status := statusOf(err)
	writeJSON(ctx, w, status, func(e *jx.Encoder) {
		e.ObjStart()
		encodeErrorFields(e, status, err.Error(), err)
		e.FieldStart("checkout")
		encodeView(e, v)
		e.ObjEnd()
	})
}

func encodeErrorFields(e *jx.Encoder, status int, msg string, err error) {
	e.FieldStart("code")
	e.Int(status)
	e.FieldStart("message")
	e.Str(msg)
	var validationErr *checkout.ValidationError
	if errors.As(err, &validationErr) {
		e.FieldStart("fields")
		e.ArrStart()
		for _, f := range validationErr.Fields {
			e.Str(f)
		}
		e.ArrEnd()
	}
}
