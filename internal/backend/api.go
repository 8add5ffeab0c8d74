package backend

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-checkout/internal/domain/menu"
	"github.com/xenking/kart-checkout/internal/domain/order"
	"github.com/xenking/kart-checkout/internal/domain/payment"
)

const (
	menuPath          = "/api/food/list"
	submitOrderPath   = "/api/orders/add"
	createIntentPath  = "/api/payments/create-payment-intent"
	ordersByEmailPath = "/api/orders/user"
)

var (
	_ menu.Source           = (*Client)(nil)
	_ order.Submitter       = (*Client)(nil)
	_ order.History         = (*Client)(nil)
	_ payment.IntentCreator = (*Client)(nil)
)

// FetchMenu returns the menu in backend order. The backend answers either
// a bare array or a {success, data} envelope.
func (c *Client) FetchMenu(ctx context.Context) ([]menu.Item, error) {
	b, err := c.do(ctx, http.MethodGet, menuPath, nil, nil, nil)
	if err != nil {
		return nil, errors.Wrap(err, "fetch menu")
	}

	var items []menu.Item
	readItems := func(d *jx.Decoder) error {
		return d.Arr(func(d *jx.Decoder) error {
			it, err := decodeMenuItem(d)
			if err != nil {
				return err
			}
			items = append(items, it)
			return nil
		})
	}

	d := jx.DecodeBytes(b)
	if d.Next() == jx.Array {
		err = readItems(d)
	} else {
		var ok bool
		ok, _, err = decodeResult(b, func(d *jx.Decoder, key string) error {
			if key == "data" {
				return readItems(d)
			}
			return d.Skip()
		})
		if err == nil && !ok {
			err = errors.New("backend reported failure")
		}
	}
	if err != nil {
		return nil, errors.Wrap(err, "decode menu")
	}
	return items, nil
}

// SubmitOrder posts the draft. The draft ID is sent as Idempotency-Key so a
// retried submission of the same draft cannot create a second order.
func (c *Client) SubmitOrder(ctx context.Context, d order.Draft) (*order.Receipt, error) {
	var e jx.Encoder
	encodeOrder(&e, d)

	h := http.Header{}
	h.Set("Idempotency-Key", d.ID)
	b, err := c.do(ctx, http.MethodPost, submitOrderPath, nil, e.Bytes(), h)
	if err != nil {
		return nil, toNetworkError(err)
	}

	var number string
	ok, msg, err := decodeResult(b, func(d *jx.Decoder, key string) error {
		if key == "orderNumber" {
			v, err := decodeOptionalStr(d)
			number = v
			return err
		}
		return d.Skip()
	})
	if err != nil {
		return nil, &order.RejectedError{Message: "malformed response"}
	}
	if !ok {
		return nil, &order.RejectedError{Message: msg}
	}
	if number == "" {
		return nil, &order.RejectedError{Message: "missing order number"}
	}
	return &order.Receipt{OrderNumber: number}, nil
}

func toNetworkError(err error) error {
	var te *transportError
	if !errors.As(err, &te) {
		return &order.NetworkError{Kind: order.NetworkUnreachable, Err: err}
	}
	switch {
	case te.status != 0:
		return &order.NetworkError{Kind: order.NetworkServerStatus, Status: te.status, Body: te.body}
	case te.timeout:
		return &order.NetworkError{Kind: order.NetworkTimeout, Err: te.err}
	default:
		return &order.NetworkError{Kind: order.NetworkUnreachable, Err: te.err}
	}
}

// CreateIntent opens a payment intent for amount.
func (c *Client) CreateIntent(ctx context.Context, amount decimal.Decimal, currency string) (*payment.Intent, error) {
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("amount")
	encodeDecimal(&e, amount)
	e.FieldStart("currency")
	e.Str(currency)
	e.ObjEnd()

	b, err := c.do(ctx, http.MethodPost, createIntentPath, nil, e.Bytes(), nil)
	if err != nil {
		return nil, errors.Wrap(err, "create payment intent")
	}

	var in payment.Intent
	ok, msg, err := decodeResult(b, func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "clientSecret":
			in.ClientSecret, err = decodeOptionalStr(d)
		case "paymentIntentId", "id":
			in.ID, err = decodeOptionalStr(d)
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		return nil, errors.Wrap(err, "decode payment intent")
	}
	if !ok {
		if msg == "" {
			msg = "backend reported failure"
		}
		return nil, errors.New(msg)
	}
	if in.ID == "" {
		in.ID = intentIDFromSecret(in.ClientSecret)
	}
	in.Amount = amount
	in.Currency = currency
	return &in, nil
}

// intentIDFromSecret derives the intent ID from a "<id>_secret_<rand>"
// client secret.
func intentIDFromSecret(secret string) string {
	id, _, ok := strings.Cut(secret, "_secret_")
	if !ok {
		return ""
	}
	return id
}

// OrdersByEmail returns the past orders of the customer with email.
func (c *Client) OrdersByEmail(ctx context.Context, email string) ([]order.HistoryEntry, error) {
	q := url.Values{}
	q.Set("email", email)
	b, err := c.do(ctx, http.MethodGet, ordersByEmailPath, q, nil, nil)
	if err != nil {
		return nil, errors.Wrap(toNetworkError(err), "fetch orders")
	}

	entries := []order.HistoryEntry{}
	_, _, err = decodeResult(b, func(d *jx.Decoder, key string) error {
		if key != "data" {
			return d.Skip()
		}
		if d.Next() == jx.Null {
			return d.Null()
		}
		return d.Arr(func(d *jx.Decoder) error {
			h, err := decodeHistoryEntry(d)
			if err != nil {
				return err
			}
			entries = append(entries, h)
			return nil
		})
	})
	if err != nil {
		return nil, errors.Wrap(err, "decode orders")
	}
	return entries, nil
}
