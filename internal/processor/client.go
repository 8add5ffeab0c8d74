// Package processor confirms payment intents against the card processor.
//
// Payment details are forwarded as received and never logged or stored.
package processor

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/xenking/kart-checkout/internal/domain/payment"
)

var _ payment.Processor = (*Client)(nil)

// Config holds processor client settings.
type Config struct {
	BaseURL string
	// APIKey is sent as a bearer token. Never logged.
	APIKey     string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Client confirms intents over the processor's HTTP API.
type Client struct {
	base    string
	apiKey  string
	timeout time.Duration
	http    *http.Client
}

// New creates a Client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("processor base URL is required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, errors.Wrap(err, "parse processor URL")
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	}
	return &Client{
		base:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		timeout: cfg.Timeout,
		http:    hc,
	}, nil
}

// ConfirmIntent submits the payment method against intent. A card decline is
// returned as a result with a non-succeeded status, or as *payment.DeclinedError
// when the processor answers 402.
func (c *Client) ConfirmIntent(ctx context.Context, intent payment.Intent, details payment.Details) (*payment.Result, error) {
	if intent.ID == "" {
		return nil, errors.New("intent has no id")
	}
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("payment_method")
	e.Str(details.PaymentMethod)
	e.FieldStart("client_secret")
	e.Str(intent.ClientSecret)
	e.ObjEnd()

	u := c.base + "/v1/payment_intents/" + url.PathEscape(intent.ID) + "/confirm"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(e.Bytes()))
	if err != nil {
		return nil, errors.Wrap(err, "create request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", "confirm-"+intent.ID)
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "confirm intent")
	}
	defer func() { _ = resp.Body.Close() }()

	b, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return nil, errors.Wrap(err, "read body")
	}

	switch {
	case resp.StatusCode == http.StatusPaymentRequired:
		reason := decodeErrorMessage(b)
		if reason == "" {
			reason = "card declined"
		}
		return nil, &payment.DeclinedError{Reason: reason}
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, errors.Errorf("processor status %d: %s", resp.StatusCode, decodeErrorMessage(b))
	}

	res, err := decodeResult(b)
	if err != nil {
		return nil, errors.Wrap(err, "decode confirmation")
	}
	return res, nil
}

func decodeResult(b []byte) (*payment.Result, error) {
	var res payment.Result
	err := jx.DecodeBytes(b).Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "id":
			v, err := d.Str()
			res.Reference = v
			return err
		case "status":
			v, err := d.Str()
			res.Status = v
			return err
		case "last_payment_error":
			if d.Next() == jx.Null {
				return d.Null()
			}
			return d.Obj(func(d *jx.Decoder, key string) error {
				if key != "message" {
					return d.Skip()
				}
				v, err := d.Str()
				res.DeclineReason = v
				return err
			})
		default:
			return d.Skip()
		}
	})
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// decodeErrorMessage extracts error.message from a processor error body.
func decodeErrorMessage(b []byte) string {
	var msg string
	_ = jx.DecodeBytes(b).Obj(func(d *jx.Decoder, key string) error {
		if key != "error" || d.Next() != jx.Object {
			return d.Skip()
		}
		return d.Obj(func(d *jx.Decoder, key string) error {
			if key != "message" || d.Next() != jx.String {
				return d.Skip()
			}
			v, err := d.Str()
			msg = v
			return err
		})
	})
	return msg
}
