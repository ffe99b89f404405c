package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"nexuspay/internal/config"
	"nexuspay/internal/idempotency"
	"nexuspay/internal/intentauth"
	"nexuspay/internal/ledger"
	"nexuspay/internal/shop"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"
)

// Shop is the set of intents the API exposes. *shop.Coordinator satisfies it.
type Shop interface {
	Connect(ctx context.Context) error
	Reload(ctx context.Context) error
	Order(ctx context.Context, productID uint64) error
	Pay(ctx context.Context) error
	Cancel()
	AddProduct(ctx context.Context, name, price string) error
}

type SessionView interface {
	Snapshot() shop.Snapshot
}

// AccountSwitcher changes the active wallet account. Only development
// wallets provide one.
type AccountSwitcher interface {
	Switch(index int) error
}

type HealthChecker interface {
	Ping(ctx context.Context) error
}

type Deps struct {
	Shop    Shop
	Session SessionView
	Wallet  AccountSwitcher
	Health  HealthChecker
	Store   idempotency.Store
	Log     logrus.FieldLogger
}

type Server struct {
	cfg        config.ServiceConfig
	shop       Shop
	session    SessionView
	wallet     AccountSwitcher
	health     HealthChecker
	log        logrus.FieldLogger
	metrics    *metricsRegistry
	auth       *intentauth.Verifier
	replay     *idempotency.Replayer
	router     chi.Router
	httpServer *http.Server
}

func NewServer(cfg config.ServiceConfig, deps Deps) *Server {
	log := deps.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	log = log.WithField("component", "api")
	metrics := newMetricsRegistry()

	s := &Server{
		cfg:     cfg,
		shop:    deps.Shop,
		session: deps.Session,
		wallet:  deps.Wallet,
		health:  deps.Health,
		log:     log,
		metrics: metrics,
		auth: &intentauth.Verifier{
			Secret:   cfg.AuthSecret,
			MaxSkew:  cfg.AuthClockSkew,
			Log:      log,
			OnReject: func(error) { metrics.unauthenticated.Inc() },
		},
	}
	if deps.Store != nil {
		s.replay = &idempotency.Replayer{
			Store:    deps.Store,
			Window:   cfg.IdempotencyWindow,
			Log:      log,
			OnReplay: metrics.incReplay,
		}
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(accessLog(log))

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/session", s.handleSession)
		r.Get("/health", s.handleHealth)
		r.Method(http.MethodGet, "/metrics", metrics.handler())

		r.Group(func(r chi.Router) {
			r.Use(s.auth.Middleware)
			if s.replay != nil {
				r.Use(s.replay.Middleware)
			}
			r.Post("/connect", s.handleConnect)
			r.Post("/catalog/reload", s.handleReload)
			r.Post("/products", s.handleAddProduct)
			r.Post("/orders", s.handleOrder)
			r.Post("/orders/current/pay", s.handlePay)
			r.Post("/orders/current/cancel", s.handleCancel)
			r.Post("/wallet/switch", s.handleSwitch)
		})
	})
	s.router = r

	s.httpServer = &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.HTTPPort),
		Handler:           r,
		ReadHeaderTimeout: 15 * time.Second,
	}
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Start() error {
	s.log.WithField("addr", s.httpServer.Addr).Info("API listening")
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

type intentResponse struct {
	Status  string        `json:"status"`
	Session shop.Snapshot `json:"session"`
}

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

type addProductRequest struct {
	Name  string `json:"name"`
	Price string `json:"price"`
}

type orderRequest struct {
	ProductID uint64 `json:"productId"`
}

type switchRequest struct {
	Index *int `json:"index"`
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.session.Snapshot())
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	s.runIntent(w, r, "connect", s.shop.Connect)
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	s.runIntent(w, r, "reload", s.shop.Reload)
}

func (s *Server) handleAddProduct(w http.ResponseWriter, r *http.Request) {
	var req addProductRequest
	if !s.decode(w, r, "add_product", &req) {
		return
	}
	s.runIntent(w, r, "add_product", func(ctx context.Context) error {
		return s.shop.AddProduct(ctx, req.Name, req.Price)
	})
}

func (s *Server) handleOrder(w http.ResponseWriter, r *http.Request) {
	var req orderRequest
	if !s.decode(w, r, "order", &req) {
		return
	}
	s.runIntent(w, r, "order", func(ctx context.Context) error {
		return s.shop.Order(ctx, req.ProductID)
	})
}

func (s *Server) handlePay(w http.ResponseWriter, r *http.Request) {
	s.runIntent(w, r, "pay", s.shop.Pay)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	s.runIntent(w, r, "cancel", func(context.Context) error {
		s.shop.Cancel()
		return nil
	})
}

func (s *Server) handleSwitch(w http.ResponseWriter, r *http.Request) {
	var req switchRequest
	if !s.decode(w, r, "switch_account", &req) {
		return
	}
	s.runIntent(w, r, "switch_account", func(context.Context) error {
		if s.wallet == nil {
			return fmt.Errorf("%w: wallet does not support switching accounts", ledger.ErrWalletUnavailable)
		}
		if req.Index == nil {
			return fmt.Errorf("%w: index is required", shop.ErrValidationFailed)
		}
		if err := s.wallet.Switch(*req.Index); err != nil {
			return fmt.Errorf("%w: %v", shop.ErrValidationFailed, err)
		}
		return nil
	})
}

// runIntent executes fn detached from client cancellation: once a
// transaction is signed, hanging up must not abandon its confirmation.
func (s *Server) runIntent(w http.ResponseWriter, r *http.Request, intent string, fn func(context.Context) error) {
	start := time.Now()
	err := fn(context.WithoutCancel(r.Context()))
	kind := shop.ErrorKind(err)
	if err != nil && kind == "" {
		kind = "Internal"
	}
	s.metrics.observeIntent(intent, kind, time.Since(start))

	if err != nil {
		s.log.WithError(err).WithFields(logrus.Fields{
			"request_id": RequestID(r.Context()),
			"intent":     intent,
			"kind":       kind,
		}).Info("intent rejected")
		writeJSON(w, statusForKind(kind), errorResponse{Error: err.Error(), Kind: kind})
		return
	}
	writeJSON(w, http.StatusOK, intentResponse{Status: "ok", Session: s.session.Snapshot()})
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, intent string, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		s.metrics.observeIntent(intent, "ValidationFailed", 0)
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid json payload", Kind: "ValidationFailed"})
		return false
	}
	return true
}

func statusForKind(kind string) int {
	switch kind {
	case "ValidationFailed":
		return http.StatusBadRequest
	case "UserRejected":
		return http.StatusForbidden
	case "Busy", "InvalidState", "AlreadyPending", "ProductUnavailable", "SessionInvalidated":
		return http.StatusConflict
	case "WalletUnavailable":
		return http.StatusServiceUnavailable
	case "TransactionReverted", "OrderEventMissing", "CatalogLoadFailed":
		return http.StatusBadGateway
	case "TransactionTimeout":
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	type rpcStatus struct {
		Connected bool    `json:"connected"`
		LatencyMs float64 `json:"latency_ms"`
		Error     string  `json:"error,omitempty"`
	}
	rpc := rpcStatus{Connected: true}
	healthy := true

	if s.health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		start := time.Now()
		if err := s.health.Ping(ctx); err != nil {
			rpc.Connected = false
			rpc.Error = err.Error()
			healthy = false
		} else {
			rpc.LatencyMs = float64(time.Since(start).Microseconds()) / 1000.0
		}
	}

	snap := s.session.Snapshot()
	resp := struct {
		Status  string     `json:"status"`
		RPC     rpcStatus  `json:"rpc"`
		Session shop.State `json:"session_state"`
		Busy    bool       `json:"busy"`
	}{
		Status:  "healthy",
		RPC:     rpc,
		Session: snap.State,
		Busy:    snap.Busy,
	}
	status := http.StatusOK
	if !healthy {
		resp.Status = "degraded"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
