package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/jaswdr/faker"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xenking/kart-checkout/internal/domain/auth"
	"github.com/xenking/kart-checkout/internal/domain/cart"
	"github.com/xenking/kart-checkout/internal/domain/checkout"
	"github.com/xenking/kart-checkout/internal/domain/menu"
	"github.com/xenking/kart-checkout/internal/domain/order"
	"github.com/xenking/kart-checkout/internal/domain/payment"
	"github.com/xenking/kart-checkout/internal/domain/pricing"
	"github.com/xenking/kart-checkout/internal/session"
)

// --- Mock implementations ---

var testPepper = []byte("test-pepper")

type memSessions struct {
	byHash map[string]*auth.Session
}

func (m *memSessions) FindByHash(_ context.Context, hash string) (*auth.Session, error) {
	s, ok := m.byHash[hash]
	if !ok {
		return nil, auth.ErrSessionNotFound
	}
	return s, nil
}

func (m *memSessions) add(token string, id auth.Identity, expires time.Time) {
	hash := auth.HashToken(testPepper, token)
	m.byHash[hash] = &auth.Session{ID: token, TokenHash: hash, Identity: id, ExpiresAt: expires}
}

type memCarts struct {
	mu   sync.Mutex
	data map[string]map[string]int
}

func (m *memCarts) Load(_ context.Context, key string) (map[string]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.data[key]
	if !ok {
		return nil, session.ErrNotFound
	}
	return q, nil
}

func (m *memCarts) Save(_ context.Context, key string, q map[string]int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = q
	return nil
}

func (m *memCarts) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

type staticMenu struct{ c *menu.Catalog }

func (s staticMenu) Catalog() *menu.Catalog { return s.c }

// declineMethod is the payment method token the fake processor refuses.
const declineMethod = "pm_card_declined"

type fakePayments struct{}

func (fakePayments) CreateIntent(_ context.Context, draftID string, amount decimal.Decimal, currency string) (*payment.Intent, error) {
	return &payment.Intent{
		ID:           "pi_" + draftID,
		ClientSecret: "pi_" + draftID + "_secret_x",
		Amount:       amount,
		Currency:     currency,
	}, nil
}

func (fakePayments) Confirm(_ context.Context, intent payment.Intent, details payment.Details) (*payment.Authorization, error) {
	if details.PaymentMethod == declineMethod {
		return nil, &payment.DeclinedError{Reason: "insufficient funds"}
	}
	return &payment.Authorization{Reference: intent.ID, AuthorizedAt: time.Now()}, nil
}

func (fakePayments) Release(string) {}

type fakeOrders struct {
	err error
}

func (f *fakeOrders) Submit(_ context.Context, d order.Draft) (*order.Confirmation, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &order.Confirmation{
		DraftID:                 d.ID,
		OrderNumber:             "ABC123",
		Total:                   d.Total,
		EstimatedDeliveryWindow: "25-35 minutes",
	}, nil
}

type fakeHistory struct {
	entries []order.HistoryEntry
	email   string
}

func (f *fakeHistory) OrdersByEmail(_ context.Context, email string) ([]order.HistoryEntry, error) {
	f.email = email
	return f.entries, nil
}

// --- Test setup ---

const (
	janeToken = "token-jane"
	oldToken  = "token-expired"
)

type testServer struct {
	mux     *http.ServeMux
	orders  *fakeOrders
	history *fakeHistory
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	catalog := menu.NewCatalog([]menu.Item{
		{ID: "burger", Name: "Burger", Price: decimal.RequireFromString("8.00"), Image: "burger.png"},
		{ID: "fries", Name: "Fries", Price: decimal.RequireFromString("4.00")},
		{ID: "soda", Name: "Soda", Price: decimal.RequireFromString("1.50")},
	})
	sessions := &memSessions{byHash: map[string]*auth.Session{}}
	sessions.add(janeToken, auth.Identity{UserID: "u-jane", Name: "Jane Doe", Email: "jane@example.com"}, time.Now().Add(time.Hour))
	sessions.add(oldToken, auth.Identity{UserID: "u-old"}, time.Now().Add(-time.Minute))

	ts := &testServer{
		mux:     http.NewServeMux(),
		orders:  &fakeOrders{},
		history: &fakeHistory{},
	}
	pricer := pricing.Default()
	registry := session.NewRegistry(
		&memCarts{data: map[string]map[string]int{}},
		staticMenu{c: catalog},
		func(key string, c checkout.Cart) *checkout.Machine {
			return checkout.NewMachine(key, checkout.Deps{
				Guard:    auth.ContextGuard{},
				Cart:     c,
				Pricer:   pricer,
				Payments: fakePayments{},
				Orders:   ts.orders,
			}, checkout.Config{ClearGrace: time.Hour, AuthorizationTTL: 10 * time.Minute})
		},
		session.Config{},
		zap.NewNop(),
	)

	h := NewHandler(registry, staticMenu{c: catalog}, pricer, ts.history)
	h.Register(ts.mux, NewSecurity(sessions, testPepper).Authenticate)
	return ts
}

func (ts *testServer) do(t *testing.T, method, path, token, body string) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	ts.mux.ServeHTTP(w, req)

	var out map[string]any
	if strings.HasPrefix(strings.TrimSpace(w.Body.String()), "{") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	}
	return w.Code, out
}

func (ts *testServer) fillCart(t *testing.T) {
	t.Helper()
	for _, id := range []string{"burger", "burger", "fries"} {
		code, _ := ts.do(t, http.MethodPost, "/api/cart/items/"+id, janeToken, "")
		require.Equal(t, http.StatusOK, code)
	}
}

func fakeForm(method order.PaymentMethod) string {
	fake := faker.New()
	b, _ := json.Marshal(map[string]string{
		"firstName":     fake.Person().FirstName(),
		"lastName":      fake.Person().LastName(),
		"email":         fake.Internet().Email(),
		"phone":         fake.Phone().Number(),
		"street":        fake.Address().StreetAddress(),
		"city":          fake.Address().City(),
		"state":         fake.Address().State(),
		"zipCode":       fake.Address().PostCode(),
		"country":       "US",
		"paymentMethod": string(method),
	})
	return string(b)
}

// --- Tests ---

func TestHandler_MenuIsPublic(t *testing.T) {
	ts := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/menu", nil)
	w := httptest.NewRecorder()
	ts.mux.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var items []map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &items))
	require.Len(t, items, 3)
	assert.Equal(t, "burger", items[0]["id"])
	assert.Equal(t, "8.00", items[0]["price"])
	assert.Equal(t, "burger.png", items[0]["image"])
	assert.NotContains(t, items[1], "image")
}

func TestHandler_Authentication(t *testing.T) {
	ts := newTestServer(t)

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{name: "missing header", header: "", want: http.StatusUnauthorized},
		{name: "wrong scheme", header: "Basic " + janeToken, want: http.StatusUnauthorized},
		{name: "empty token", header: "Bearer ", want: http.StatusUnauthorized},
		{name: "unknown token", header: "Bearer nope", want: http.StatusUnauthorized},
		{name: "expired session", header: "Bearer " + oldToken, want: http.StatusUnauthorized},
		{name: "valid", header: "Bearer " + janeToken, want: http.StatusOK},
		{name: "scheme is case-insensitive", header: "bearer " + janeToken, want: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/cart", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			ts.mux.ServeHTTP(w, req)
			assert.Equal(t, tt.want, w.Code)
			if tt.want == http.StatusUnauthorized {
				assert.Contains(t, w.Body.String(), `"code":401`)
			}
		})
	}
}

func TestHandler_Cart(t *testing.T) {
	ts := newTestServer(t)

	code, body := ts.do(t, http.MethodGet, "/api/cart", janeToken, "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 0.0, body["itemCount"])
	assert.Equal(t, "0.00", body["deliveryFee"])

	ts.fillCart(t)
	code, body = ts.do(t, http.MethodGet, "/api/cart", janeToken, "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 3.0, body["itemCount"])
	assert.Equal(t, "20.00", body["subtotal"])
	assert.Equal(t, "2.00", body["deliveryFee"])
	assert.Equal(t, "1.60", body["tax"])
	assert.Equal(t, "23.60", body["total"])

	lines, ok := body["lines"].([]any)
	require.True(t, ok)
	require.Len(t, lines, 2)
	first := lines[0].(map[string]any)
	assert.Equal(t, 2.0, first["quantity"])
	assert.Equal(t, "16.00", first["lineTotal"])

	code, body = ts.do(t, http.MethodDelete, "/api/cart/items/burger", janeToken, "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 2.0, body["itemCount"])
	assert.Equal(t, "12.00", body["subtotal"])
}

func TestHandler_CartUnknownItem(t *testing.T) {
	ts := newTestServer(t)

	code, body := ts.do(t, http.MethodPost, "/api/cart/items/pizza", janeToken, "")
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "unknown item pizza", body["message"])

	code, _ = ts.do(t, http.MethodDelete, "/api/cart/items/soda", janeToken, "")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestHandler_CheckoutCash(t *testing.T) {
	ts := newTestServer(t)
	ts.fillCart(t)

	code, body := ts.do(t, http.MethodPost, "/api/checkout", janeToken, "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "form_entry", body["state"])
	form := body["form"].(map[string]any)
	assert.Equal(t, "jane@example.com", form["email"])

	code, body = ts.do(t, http.MethodPut, "/api/checkout/form", janeToken, fakeForm(order.PaymentCash))
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, "confirmed", body["state"])
	conf := body["confirmation"].(map[string]any)
	assert.Equal(t, "ABC123", conf["orderNumber"])
	assert.Equal(t, "23.60", conf["total"])
	assert.Equal(t, "25-35 minutes", conf["estimatedDeliveryWindow"])

	code, body = ts.do(t, http.MethodGet, "/api/checkout", janeToken, "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "confirmed", body["state"])
}

func TestHandler_CheckoutCard(t *testing.T) {
	ts := newTestServer(t)
	ts.fillCart(t)

	code, _ := ts.do(t, http.MethodPost, "/api/checkout", janeToken, "")
	require.Equal(t, http.StatusOK, code)

	code, body := ts.do(t, http.MethodPut, "/api/checkout/form", janeToken, fakeForm(order.PaymentCard))
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, "awaiting_payment", body["state"])
	intent := body["intent"].(map[string]any)
	assert.Equal(t, "23.60", intent["amount"])
	assert.NotContains(t, intent, "clientSecret")
	draft := body["draft"].(map[string]any)
	assert.Equal(t, false, draft["paid"])

	code, body = ts.do(t, http.MethodPost, "/api/checkout/payment", janeToken, `{"paymentMethod":"pm_card_visa"}`)
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, "confirmed", body["state"])
}

func TestHandler_CheckoutCardDeclined(t *testing.T) {
	ts := newTestServer(t)
	ts.fillCart(t)

	ts.do(t, http.MethodPost, "/api/checkout", janeToken, "")
	code, _ := ts.do(t, http.MethodPut, "/api/checkout/form", janeToken, fakeForm(order.PaymentCard))
	require.Equal(t, http.StatusOK, code)

	code, body := ts.do(t, http.MethodPost, "/api/checkout/payment", janeToken, `{"paymentMethod":"`+declineMethod+`"}`)
	require.Equal(t, http.StatusPaymentRequired, code)
	assert.Equal(t, "payment declined: insufficient funds", body["message"])
	view := body["checkout"].(map[string]any)
	assert.Equal(t, "form_entry", view["state"])
	assert.Equal(t, "payment declined: insufficient funds", view["error"])
	assert.NotContains(t, view, "draft")
}

func TestHandler_CheckoutSubmissionFailureAndRetry(t *testing.T) {
	ts := newTestServer(t)
	ts.fillCart(t)
	ts.orders.err = &order.NetworkError{Kind: order.NetworkUnreachable}

	ts.do(t, http.MethodPost, "/api/checkout", janeToken, "")
	code, body := ts.do(t, http.MethodPut, "/api/checkout/form", janeToken, fakeForm(order.PaymentCash))
	require.Equal(t, http.StatusBadGateway, code)
	assert.Equal(t, "cannot connect to server", body["message"])
	view := body["checkout"].(map[string]any)
	assert.Equal(t, true, view["canRetry"])

	ts.orders.err = nil
	code, body = ts.do(t, http.MethodPost, "/api/checkout/retry", janeToken, "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "confirmed", body["state"])
}

func TestHandler_CheckoutValidation(t *testing.T) {
	ts := newTestServer(t)
	ts.fillCart(t)
	ts.do(t, http.MethodPost, "/api/checkout", janeToken, "")

	code, body := ts.do(t, http.MethodPut, "/api/checkout/form", janeToken, `{"firstName":"Jane","paymentMethod":"bitcoin"}`)
	require.Equal(t, http.StatusBadRequest, code)
	fields := body["fields"].([]any)
	assert.Contains(t, fields, "lastName")
	assert.Contains(t, fields, "paymentMethod")
	assert.Equal(t, "form_entry", body["checkout"].(map[string]any)["state"])

	code, _ = ts.do(t, http.MethodPut, "/api/checkout/form", janeToken, `{"firstName":`)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = ts.do(t, http.MethodPost, "/api/checkout/payment", janeToken, `{}`)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestHandler_CheckoutConflicts(t *testing.T) {
	ts := newTestServer(t)

	code, body := ts.do(t, http.MethodPost, "/api/checkout", janeToken, "")
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "cart is empty", body["message"])

	code, _ = ts.do(t, http.MethodPost, "/api/checkout/back", janeToken, "")
	assert.Equal(t, http.StatusConflict, code)

	code, _ = ts.do(t, http.MethodDelete, "/api/checkout", janeToken, "")
	assert.Equal(t, http.StatusConflict, code)
}

func TestHandler_CheckoutBackAndAbort(t *testing.T) {
	ts := newTestServer(t)
	ts.fillCart(t)

	ts.do(t, http.MethodPost, "/api/checkout", janeToken, "")
	ts.do(t, http.MethodPut, "/api/checkout/form", janeToken, fakeForm(order.PaymentCard))

	code, body := ts.do(t, http.MethodPost, "/api/checkout/back", janeToken, "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "form_entry", body["state"])
	assert.NotContains(t, body, "intent")

	code, body = ts.do(t, http.MethodDelete, "/api/checkout", janeToken, "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "aborted", body["state"])

	// The cart survives an abort.
	_, cartBody := ts.do(t, http.MethodGet, "/api/cart", janeToken, "")
	assert.Equal(t, 3.0, cartBody["itemCount"])
}

func TestHandler_ListOrders(t *testing.T) {
	ts := newTestServer(t)
	ts.history.entries = []order.HistoryEntry{{
		ID:        "65f0c2a9e4b0a1b2c3d4e5f6",
		Lines:     []order.Line{{Name: "Burger", Quantity: 2, Price: decimal.RequireFromString("8")}},
		Total:     decimal.RequireFromString("19.28"),
		Status:    "Pending",
		CreatedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}}

	req := httptest.NewRequest(http.MethodGet, "/api/orders", nil)
	req.Header.Set("Authorization", "Bearer "+janeToken)
	w := httptest.NewRecorder()
	ts.mux.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "jane@example.com", ts.history.email)

	var got []map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, "D4E5F6", got[0]["label"])
	assert.Equal(t, "19.28", got[0]["total"])
	assert.Equal(t, "2026-03-01T12:00:00Z", got[0]["createdAt"])
}

func TestStatusOf(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{&checkout.ValidationError{Fields: []string{"email"}}, http.StatusBadRequest},
		{badRequest("bad"), http.StatusBadRequest},
		{checkout.ErrUnauthenticated, http.StatusUnauthorized},
		{&cart.UnknownItemError{ItemID: "x"}, http.StatusNotFound},
		{&checkout.TransitionError{State: checkout.Idle, Op: "go back"}, http.StatusConflict},
		{checkout.ErrSubmissionInFlight, http.StatusConflict},
		{checkout.ErrStale, http.StatusConflict},
		{checkout.ErrEmptyCart, http.StatusConflict},
		{&payment.DeclinedError{Reason: "no"}, http.StatusPaymentRequired},
		{&payment.IntentCreationError{Err: errors.New("x")}, http.StatusBadGateway},
		{&payment.ProcessorError{Err: errors.New("x")}, http.StatusBadGateway},
		{errors.Wrap(&order.NetworkError{Kind: order.NetworkTimeout}, "fetch orders"), http.StatusBadGateway},
		{&order.RejectedError{Message: "closed"}, http.StatusBadGateway},
		{errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.want, statusOf(tt.err))
		})
	}
}
