package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"nexuspay/internal/catalog"
	"nexuspay/internal/config"
	"nexuspay/internal/idempotency"
	"nexuspay/internal/intentauth"
	"nexuspay/internal/ledger"
	"nexuspay/internal/shop"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubShop struct {
	mu      sync.Mutex
	err     error
	calls   map[string]int
	ordered []uint64
	added   []string
}

func newStubShop() *stubShop {
	return &stubShop{calls: make(map[string]int)}
}

func (s *stubShop) record(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[name]++
	return s.err
}

func (s *stubShop) count(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[name]
}

func (s *stubShop) Connect(context.Context) error { return s.record("connect") }
func (s *stubShop) Reload(context.Context) error  { return s.record("reload") }
func (s *stubShop) Pay(context.Context) error     { return s.record("pay") }
func (s *stubShop) Cancel()                       { _ = s.record("cancel") }

func (s *stubShop) Order(_ context.Context, productID uint64) error {
	s.mu.Lock()
	s.ordered = append(s.ordered, productID)
	s.mu.Unlock()
	return s.record("order")
}

func (s *stubShop) AddProduct(_ context.Context, name, price string) error {
	s.mu.Lock()
	s.added = append(s.added, name+"@"+price)
	s.mu.Unlock()
	return s.record("add_product")
}

type stubWallet struct{ switched []int }

func (w *stubWallet) Switch(index int) error {
	if index > 1 {
		return fmt.Errorf("account index %d out of range", index)
	}
	w.switched = append(w.switched, index)
	return nil
}

type stubHealth struct{ err error }

func (h stubHealth) Ping(context.Context) error { return h.err }

func newTestServer(t *testing.T, cfg config.ServiceConfig, deps Deps) *Server {
	t.Helper()
	logger, _ := test.NewNullLogger()
	if deps.Session == nil {
		deps.Session = shop.NewSession()
	}
	deps.Log = logger
	if cfg.IdempotencyWindow == 0 {
		cfg.IdempotencyWindow = time.Minute
	}
	return NewServer(cfg, deps)
}

func do(srv *Server, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestIntentErrorStatusCodes(t *testing.T) {
	cases := []struct {
		err    error
		status int
		kind   string
	}{
		{shop.ErrBusy, http.StatusConflict, "Busy"},
		{shop.ErrInvalidState, http.StatusConflict, "InvalidState"},
		{shop.ErrSessionInvalidated, http.StatusConflict, "SessionInvalidated"},
		{fmt.Errorf("%w: product 2", shop.ErrProductUnavailable), http.StatusConflict, "ProductUnavailable"},
		{ledger.ErrAlreadyPending, http.StatusConflict, "AlreadyPending"},
		{shop.ErrValidationFailed, http.StatusBadRequest, "ValidationFailed"},
		{ledger.ErrUserRejected, http.StatusForbidden, "UserRejected"},
		{ledger.ErrWalletUnavailable, http.StatusServiceUnavailable, "WalletUnavailable"},
		{ledger.ErrTransactionReverted, http.StatusBadGateway, "TransactionReverted"},
		{shop.ErrOrderEventMissing, http.StatusBadGateway, "OrderEventMissing"},
		{catalog.ErrCatalogLoadFailed, http.StatusBadGateway, "CatalogLoadFailed"},
		{ledger.ErrTransactionTimeout, http.StatusGatewayTimeout, "TransactionTimeout"},
		{errors.New("boom"), http.StatusInternalServerError, "Internal"},
	}

	for _, tc := range cases {
		t.Run(tc.kind, func(t *testing.T) {
			sh := newStubShop()
			sh.err = tc.err
			srv := newTestServer(t, config.ServiceConfig{}, Deps{Shop: sh})

			rec := do(srv, http.MethodPost, "/api/v1/orders", `{"productId":2}`, nil)
			require.Equal(t, tc.status, rec.Code)

			var body errorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tc.kind, body.Kind)
			assert.NotEmpty(t, body.Error)
		})
	}
}

func TestIntentsReachShop(t *testing.T) {
	sh := newStubShop()
	srv := newTestServer(t, config.ServiceConfig{}, Deps{Shop: sh})

	for _, path := range []string{"/connect", "/catalog/reload", "/orders/current/pay", "/orders/current/cancel"} {
		rec := do(srv, http.MethodPost, "/api/v1"+path, "", nil)
		require.Equal(t, http.StatusOK, rec.Code, path)
	}
	rec := do(srv, http.MethodPost, "/api/v1/orders", `{"productId":3}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = do(srv, http.MethodPost, "/api/v1/products", `{"name":"Widget","price":"1.5"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body intentResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, shop.StateIdle, body.Session.State)

	for _, name := range []string{"connect", "reload", "pay", "cancel", "order", "add_product"} {
		assert.Equal(t, 1, sh.count(name), name)
	}
	assert.Equal(t, []uint64{3}, sh.ordered)
	assert.Equal(t, []string{"Widget@1.5"}, sh.added)
}

func TestMalformedBodyIsValidationFailure(t *testing.T) {
	sh := newStubShop()
	srv := newTestServer(t, config.ServiceConfig{}, Deps{Shop: sh})

	rec := do(srv, http.MethodPost, "/api/v1/orders", `{"productId":`, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "ValidationFailed")
	assert.Zero(t, sh.count("order"))
}

func TestSessionEndpoint(t *testing.T) {
	srv := newTestServer(t, config.ServiceConfig{}, Deps{Shop: newStubShop()})

	rec := do(srv, http.MethodGet, "/api/v1/session", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var snap shop.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, shop.StateIdle, snap.State)
	assert.False(t, snap.Busy)
}

func TestIdempotentPayIsReplayed(t *testing.T) {
	sh := newStubShop()
	srv := newTestServer(t, config.ServiceConfig{}, Deps{Shop: sh, Store: idempotency.NewMemoryStore()})
	headers := map[string]string{idempotency.HeaderKey: "pay-1"}

	first := do(srv, http.MethodPost, "/api/v1/orders/current/pay", "", headers)
	second := do(srv, http.MethodPost, "/api/v1/orders/current/pay", "", headers)

	require.Equal(t, http.StatusOK, first.Code)
	require.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, first.Body.String(), second.Body.String())
	assert.Equal(t, "true", second.Header().Get(idempotency.HeaderReplayed))
	assert.Equal(t, 1, sh.count("pay"))

	metrics := do(srv, http.MethodGet, "/api/v1/metrics", "", nil)
	assert.Contains(t, metrics.Body.String(), `nexuspay_idempotent_replays_total{route="POST /api/v1/orders/current/pay"} 1`)
}

func TestFailedIntentIsNotReplayed(t *testing.T) {
	sh := newStubShop()
	sh.err = ledger.ErrTransactionTimeout
	srv := newTestServer(t, config.ServiceConfig{}, Deps{Shop: sh, Store: idempotency.NewMemoryStore()})
	headers := map[string]string{idempotency.HeaderKey: "pay-1"}

	require.Equal(t, http.StatusGatewayTimeout, do(srv, http.MethodPost, "/api/v1/orders/current/pay", "", headers).Code)
	sh.err = nil
	require.Equal(t, http.StatusOK, do(srv, http.MethodPost, "/api/v1/orders/current/pay", "", headers).Code)
	assert.Equal(t, 2, sh.count("pay"))
}

func TestSignedIntents(t *testing.T) {
	sh := newStubShop()
	cfg := config.ServiceConfig{AuthSecret: "s3cret", AuthClockSkew: time.Minute}
	srv := newTestServer(t, cfg, Deps{Shop: sh})

	body := `{"productId":1}`
	rec := do(srv, http.MethodPost, "/api/v1/orders", body, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Zero(t, sh.count("order"))

	ts, sig := intentauth.Sign("s3cret", time.Now(), []byte(body))
	rec = do(srv, http.MethodPost, "/api/v1/orders", body, map[string]string{
		intentauth.HeaderTimestamp: ts,
		intentauth.HeaderSignature: sig,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []uint64{1}, sh.ordered)

	// reads stay open
	require.Equal(t, http.StatusOK, do(srv, http.MethodGet, "/api/v1/session", "", nil).Code)

	metrics := do(srv, http.MethodGet, "/api/v1/metrics", "", nil)
	assert.Contains(t, metrics.Body.String(), "nexuspay_unauthenticated_intents_total 1")
}

func TestIntentMetrics(t *testing.T) {
	sh := newStubShop()
	sh.err = shop.ErrProductUnavailable
	srv := newTestServer(t, config.ServiceConfig{}, Deps{Shop: sh})

	do(srv, http.MethodPost, "/api/v1/orders", `{"productId":2}`, nil)
	sh.err = nil
	do(srv, http.MethodPost, "/api/v1/connect", "", nil)

	body := do(srv, http.MethodGet, "/api/v1/metrics", "", nil).Body.String()
	assert.Contains(t, body, `nexuspay_intents_total{intent="order",result="ProductUnavailable"} 1`)
	assert.Contains(t, body, `nexuspay_intents_total{intent="connect",result="ok"} 1`)
	assert.Contains(t, body, `nexuspay_intent_duration_seconds_count{intent="connect"} 1`)
}

func TestWalletSwitch(t *testing.T) {
	srv := newTestServer(t, config.ServiceConfig{}, Deps{Shop: newStubShop()})
	rec := do(srv, http.MethodPost, "/api/v1/wallet/switch", `{"index":1}`, nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	wallet := &stubWallet{}
	srv = newTestServer(t, config.ServiceConfig{}, Deps{Shop: newStubShop(), Wallet: wallet})
	require.Equal(t, http.StatusOK, do(srv, http.MethodPost, "/api/v1/wallet/switch", `{"index":1}`, nil).Code)
	assert.Equal(t, []int{1}, wallet.switched)

	assert.Equal(t, http.StatusBadRequest, do(srv, http.MethodPost, "/api/v1/wallet/switch", `{}`, nil).Code)
	assert.Equal(t, http.StatusBadRequest, do(srv, http.MethodPost, "/api/v1/wallet/switch", `{"index":5}`, nil).Code)
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, config.ServiceConfig{}, Deps{Shop: newStubShop(), Health: stubHealth{}})
	rec := do(srv, http.MethodGet, "/api/v1/health", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"healthy"`)

	srv = newTestServer(t, config.ServiceConfig{}, Deps{Shop: newStubShop(), Health: stubHealth{err: errors.New("dial tcp: refused")}})
	rec = do(srv, http.MethodGet, "/api/v1/health", "", nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "refused")
}

func TestRequestID(t *testing.T) {
	srv := newTestServer(t, config.ServiceConfig{}, Deps{Shop: newStubShop()})

	rec := do(srv, http.MethodGet, "/api/v1/session", "", nil)
	_, err := uuid.Parse(rec.Header().Get(headerRequestID))
	require.NoError(t, err)

	rec = do(srv, http.MethodGet, "/api/v1/session", "", map[string]string{headerRequestID: "abc"})
	assert.Equal(t, "abc", rec.Header().Get(headerRequestID))
}

func TestIntentSurvivesClientCancel(t *testing.T) {
	sh := &ctxShop{stubShop: newStubShop()}
	srv := newTestServer(t, config.ServiceConfig{}, Deps{Shop: sh})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders/current/pay", bytes.NewReader(nil)).WithContext(ctx)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.NoError(t, sh.payCtxErr)
}

type ctxShop struct {
	*stubShop
	payCtxErr error
}

func (s *ctxShop) Pay(ctx context.Context) error {
	s.payCtxErr = ctx.Err()
	return s.stubShop.Pay(ctx)
}
