// Package backend is the HTTP client for the storefront backend: menu,
// order submission, payment-intent creation and order history.
package backend

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
)

// maxErrorBody limits how much of a failed response body is kept.
const maxErrorBody = 4 << 10

// Config holds backend client settings.
type Config struct {
	BaseURL string
	// Timeout applies to every request when the caller's context has no
	// earlier deadline.
	Timeout time.Duration
	// HTTPClient overrides the default instrumented client.
	HTTPClient *http.Client
}

// Client talks to the storefront backend.
type Client struct {
	base    *url.URL
	http    *http.Client
	timeout time.Duration
}

// New creates a Client for cfg.BaseURL.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("backend base URL is required")
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, errors.Wrap(err, "parse backend URL")
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}
	return &Client{base: base, http: hc, timeout: cfg.Timeout}, nil
}

func (c *Client) endpoint(path string, query url.Values) string {
	u := *c.base
	u.Path = c.base.Path + path
	if query != nil {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

// do sends a request and returns the response body of a 2xx reply. Transport
// failures and non-2xx replies are returned as *transportError.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body []byte, header http.Header) ([]byte, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path, query), r)
	if err != nil {
		return nil, errors.Wrap(err, "create request")
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &transportError{err: err, timeout: errors.Is(err, context.DeadlineExceeded) || isTimeout(err)}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &transportError{status: resp.StatusCode, body: strings.TrimSpace(string(b))}
	}
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &transportError{err: errors.Wrap(err, "read body")}
	}
	return b, nil
}

// transportError is a failed exchange: either no response (err set) or a
// non-2xx status.
type transportError struct {
	err     error
	timeout bool
	status  int
	body    string
}

func (e *transportError) Error() string {
	if e.err != nil {
		return e.err.Error()
	}
	return "status " + http.StatusText(e.status) + ": " + e.body
}

func (e *transportError) Unwrap() error { return e.err }

func isTimeout(err error) bool {
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}

// decodeResult decodes the common {success, message} envelope, calling field
// for every other key.
func decodeResult(b []byte, field func(d *jx.Decoder, key string) error) (success bool, message string, err error) {
	err = jx.DecodeBytes(b).Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "success":
			v, err := d.Bool()
			success = v
			return err
		case "message":
			if d.Next() == jx.Null {
				return d.Null()
			}
			v, err := d.Str()
			message = v
			return err
		default:
			if field == nil {
				return d.Skip()
			}
			return field(d, key)
		}
	})
	return success, message, err
}

func decodeOptionalStr(d *jx.Decoder) (string, error) {
	switch d.Next() {
	case jx.Null:
		return "", d.Null()
	case jx.String:
		return d.Str()
	case jx.Number:
		n, err := d.Num()
		return string(n), err
	default:
		return "", d.Skip()
	}
}
