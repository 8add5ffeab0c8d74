package httpmiddleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-faster/sdk/zctx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestWrap_Order(t *testing.T) {
	var order []string
	mark := func(name string) Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	h := Wrap(okHandler(), mark("outer"), mark("inner"))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, []string{"outer", "inner"}, order)
}

func TestMakeRouteFinder(t *testing.T) {
	mux := http.NewServeMux()
	mux.Handle("POST /api/cart/items/{id}", okHandler())
	find := MakeRouteFinder(mux)

	route, ok := find(httptest.NewRequest(http.MethodPost, "/api/cart/items/42", nil))
	require.True(t, ok)
	assert.Equal(t, "POST /api/cart/items/{id}", route)

	_, ok = find(httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.False(t, ok)
}

func TestLogRequests(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/menu", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("[]"))
	})
	mux.HandleFunc("GET /api/boom", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	find := MakeRouteFinder(mux)
	h := Wrap(mux, InjectLogger(zap.New(core)), LogRequests(find))

	req := httptest.NewRequest(http.MethodGet, "/api/menu", nil)
	req.Header.Set("Authorization", "Bearer secret")
	h.ServeHTTP(httptest.NewRecorder(), req)
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/boom", nil))

	entries := logs.All()
	require.Len(t, entries, 2)
	first := entries[0].ContextMap()
	assert.Equal(t, "GET /api/menu", first["route"])
	assert.EqualValues(t, http.StatusOK, first["status"])
	assert.Equal(t, zap.DebugLevel, entries[0].Level)
	assert.NotContains(t, first, "authorization")

	assert.Equal(t, zap.WarnLevel, entries[1].Level)
	assert.EqualValues(t, http.StatusBadGateway, entries[1].ContextMap()["status"])
}

func TestRequestID(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	var seen string
	h := Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
		zctx.From(r.Context()).Info("handled")
	}), InjectLogger(zap.New(core)), RequestID())

	tests := []struct {
		name     string
		incoming string
		keep     bool
	}{
		{name: "kept", incoming: "req-123", keep: true},
		{name: "generated when missing", incoming: ""},
		{name: "generated when too long", incoming: strings.Repeat("a", 129)},
		{name: "generated when not printable", incoming: "bad\x01id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.incoming != "" {
				req.Header.Set(RequestIDHeader, tt.incoming)
			}
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)

			got := w.Header().Get(RequestIDHeader)
			require.NotEmpty(t, got)
			assert.Equal(t, got, seen)
			if tt.keep {
				assert.Equal(t, tt.incoming, got)
			} else {
				assert.Len(t, got, 36)
			}
		})
	}

	last := logs.All()[logs.Len()-1]
	assert.Equal(t, seen, last.ContextMap()["request_id"])
}

func TestRecovery(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	h := Wrap(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}), InjectLogger(zap.New(core)), RequestID(), Recovery())

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "close", w.Header().Get("Connection"))
	assert.JSONEq(t, `{"code":500,"message":"internal server error"}`, w.Body.String())
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "boom", logs.All()[0].ContextMap()["panic"])
}

func TestCORS(t *testing.T) {
	tests := []struct {
		name        string
		cfg         CORSConfig
		method      string
		origin      string
		preflight   bool
		wantOrigin  string
		wantCode    int
		wantCreds   bool
		wantMethods bool
	}{
		{name: "wildcard simple", cfg: CORSConfig{}, method: http.MethodGet, origin: "https://shop.example", wantOrigin: "*", wantCode: http.StatusOK},
		{name: "listed origin echoes configured case", cfg: CORSConfig{AllowOrigins: []string{"https://Shop.example"}}, method: http.MethodGet, origin: "https://shop.example", wantOrigin: "https://Shop.example", wantCode: http.StatusOK},
		{name: "unlisted origin", cfg: CORSConfig{AllowOrigins: []string{"https://shop.example"}}, method: http.MethodGet, origin: "https://evil.example", wantCode: http.StatusOK},
		{name: "preflight", cfg: CORSConfig{MaxAge: 600}, method: http.MethodOptions, origin: "https://shop.example", preflight: true, wantOrigin: "*", wantCode: http.StatusNoContent, wantMethods: true},
		{name: "credentials never use wildcard", cfg: CORSConfig{AllowOrigins: []string{"*"}, AllowCredentials: true}, method: http.MethodGet, origin: "https://shop.example", wantOrigin: "https://shop.example", wantCode: http.StatusOK, wantCreds: true},
		{name: "preflight unlisted", cfg: CORSConfig{AllowOrigins: []string{"https://shop.example"}}, method: http.MethodOptions, origin: "https://evil.example", preflight: true, wantCode: http.StatusNoContent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := CORS(tt.cfg)(okHandler())
			req := httptest.NewRequest(tt.method, "/api/cart", nil)
			req.Header.Set("Origin", tt.origin)
			if tt.preflight {
				req.Header.Set("Access-Control-Request-Method", http.MethodPut)
			}
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)

			assert.Equal(t, tt.wantCode, w.Code)
			assert.Equal(t, tt.wantOrigin, w.Header().Get("Access-Control-Allow-Origin"))
			assert.Equal(t, tt.wantCreds, w.Header().Get("Access-Control-Allow-Credentials") == "true")
			if tt.wantMethods {
				assert.Contains(t, w.Header().Get("Access-Control-Allow-Methods"), http.MethodPut)
				assert.Contains(t, w.Header().Get("Access-Control-Allow-Headers"), "Authorization")
				assert.Equal(t, "600", w.Header().Get("Access-Control-Max-Age"))
			}
		})
	}
}

func TestCORS_NoOrigin(t *testing.T) {
	h := CORS(CORSConfig{AllowOrigins: []string{"https://shop.example"}})(okHandler())
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "Origin", w.Header().Get("Vary"))
}
