// Package panel serves the interaction panel: an HTML page for people and a
// JSON API for scripts, both backed by one contract gateway.
package panel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/govind123143/changecalculator/internal/chain"
	"github.com/govind123143/changecalculator/internal/gateway"
	"github.com/govind123143/changecalculator/internal/hmacauth"
	"github.com/govind123143/changecalculator/internal/idempotency"
	"github.com/govind123143/changecalculator/internal/metrics"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Gateway is the part of *gateway.Gateway the panel drives.
type Gateway interface {
	Snapshot() gateway.Snapshot
	Status() gateway.Status
	Refresh(ctx context.Context) (gateway.Snapshot, error)
	Submit(ctx context.Context, req gateway.Request) error
	Account() (common.Address, bool)
}

type Config struct {
	Addr            string
	Network         string
	NativeSymbol    string
	ContractAddress string

	IdempotencyWindow time.Duration
	HMAC              *hmacauth.Verifier
	// SubmitRate and SubmitBurst throttle all write routes together since
	// every write is signed by the same account. Zero disables throttling.
	SubmitRate  rate.Limit
	SubmitBurst int

	Logger  *zap.Logger
	Metrics *metrics.Registry
}

type Server struct {
	cfg     Config
	gw      Gateway
	store   idempotency.Store
	log     *zap.Logger
	metrics *metrics.Registry
	limiter *rate.Limiter
	page    *pageRenderer

	// submitMu keeps the idempotency lookup, the submission and the save
	// atomic, and allows one write in flight at a time.
	submitMu sync.Mutex

	router      chi.Router
	httpServer  *http.Server
	dbHealthFn  func(context.Context) error
	rpcHealthFn func(context.Context) error
}

// New wires the routes. rpc may be nil when the chain client has no health check.
func New(cfg Config, gw Gateway, store idempotency.Store, rpc chain.HealthChecker) (*Server, error) {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.NativeSymbol == "" {
		cfg.NativeSymbol = "ETH"
	}
	if cfg.HMAC == nil {
		cfg.HMAC = &hmacauth.Verifier{}
	}

	page, err := newPageRenderer()
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}

	s := &Server{
		cfg:     cfg,
		gw:      gw,
		store:   store,
		log:     log,
		metrics: cfg.Metrics,
		page:    page,
	}
	if cfg.SubmitRate > 0 {
		burst := cfg.SubmitBurst
		if burst <= 0 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(cfg.SubmitRate, burst)
	}

	if checker, ok := store.(interface{ Ping(context.Context) error }); ok {
		s.dbHealthFn = checker.Ping
	}
	if rpc != nil {
		s.rpcHealthFn = rpc.Ping
	}

	cfg.HMAC.OnReject = func(r *http.Request, err error) {
		log.Warn("rejected unsigned request",
			zap.String("path", r.URL.Path),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Error(err),
		)
	}

	s.router = s.routes()
	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 15 * time.Second,
	}
	return s, nil
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/", s.handlePage)
	r.With(s.throttle).Post("/actions/{action}", s.handleFormAction)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/snapshot", s.handleSnapshot)
		r.Get("/status", s.handleStatus)
		r.Get("/account", s.handleAccount)
		r.Get("/health", s.handleHealth)
		r.Handle("/metrics", s.metrics.Handler())

		r.With(s.throttle, s.cfg.HMAC.Middleware).Post("/actions/{action}", s.handleAPIAction)
	})
	return r
}

// Handler exposes the router for embedding and tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Start() error {
	s.log.Info("panel listening", zap.String("addr", s.httpServer.Addr))
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) throttle(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter != nil && !s.limiter.Allow() {
			w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(s.limiter)))
			http.Error(w, "too many submissions", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func retryAfterSeconds(l *rate.Limiter) int {
	if l.Limit() <= 0 {
		return 1
	}
	secs := int(1/float64(l.Limit()) + 0.999)
	if secs < 1 {
		secs = 1
	}
	return secs
}

// submitResult is the body answered for an accepted submission and stored
// for idempotent replays.
type submitResult struct {
	Action string         `json:"action"`
	Hash   *common.Hash   `json:"hash,omitempty"`
	Status gateway.Status `json:"status"`
}

// submit runs one write through the idempotency store. It returns the HTTP
// status and body to answer with, and whether the answer was a replay.
func (s *Server) submit(ctx context.Context, key string, req gateway.Request) (int, []byte, bool, error) {
	s.submitMu.Lock()
	defer s.submitMu.Unlock()

	storeKey := idempotency.Key(string(req.Action), key)
	if existing, err := s.store.Get(ctx, storeKey); err != nil {
		s.log.Warn("idempotency lookup failed", zap.String("key", storeKey), zap.Error(err))
	} else if existing != nil {
		s.metrics.IncReplay(string(req.Action))
		return existing.StatusCode, existing.Response, true, nil
	}

	if err := s.gw.Submit(ctx, req); err != nil {
		return 0, nil, false, err
	}

	st := s.gw.Status()
	body, err := json.Marshal(submitResult{Action: string(req.Action), Hash: st.Hash, Status: st})
	if err != nil {
		return 0, nil, false, err
	}

	now := time.Now()
	record := idempotency.Record{
		Action:     string(req.Action),
		StatusCode: http.StatusAccepted,
		Response:   body,
		CreatedAt:  now,
		ExpiresAt:  now.Add(s.cfg.IdempotencyWindow),
	}
	if err := s.store.Save(ctx, storeKey, record); err != nil {
		s.log.Warn("idempotency save failed", zap.String("key", storeKey), zap.Error(err))
	}
	return http.StatusAccepted, body, false, nil
}

// actionFromPath maps the URL segment to a gateway action.
func actionFromPath(segment string) (gateway.Action, bool) {
	switch segment {
	case "pay":
		return gateway.ActionPay, true
	case "set-price":
		return gateway.ActionSetPrice, true
	case "withdraw":
		return gateway.ActionWithdraw, true
	}
	return "", false
}

// errorStatus maps a Submit error to an HTTP status code.
func errorStatus(err error) int {
	var subErr *gateway.SubmissionError
	switch {
	case errors.Is(err, gateway.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, chain.ErrReadOnly):
		return http.StatusConflict
	case errors.As(err, &subErr):
		return http.StatusBadGateway
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	overallHealthy := true

	rpcInfo := struct {
		Connected bool    `json:"connected"`
		LatencyMs float64 `json:"latency_ms"`
		Error     string  `json:"error,omitempty"`
	}{Connected: true}

	if s.rpcHealthFn != nil {
		start := time.Now()
		rpcCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := s.rpcHealthFn(rpcCtx); err != nil {
			rpcInfo.Connected = false
			rpcInfo.Error = err.Error()
			overallHealthy = false
		} else {
			rpcInfo.LatencyMs = float64(time.Since(start).Microseconds()) / 1000.0
		}
	}

	dbInfo := struct {
		Connected bool   `json:"connected"`
		Error     string `json:"error,omitempty"`
	}{Connected: true}

	if s.dbHealthFn != nil {
		dbCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := s.dbHealthFn(dbCtx); err != nil {
			dbInfo.Connected = false
			dbInfo.Error = err.Error()
			overallHealthy = false
		}
	}

	_, connected := s.gw.Account()
	status := "healthy"
	if !overallHealthy {
		status = "degraded"
	}

	resp := struct {
		Status   string      `json:"status"`
		RPC      interface{} `json:"rpc"`
		Database interface{} `json:"database"`
		Wallet   bool        `json:"wallet_connected"`
	}{
		Status:   status,
		RPC:      rpcInfo,
		Database: dbInfo,
		Wallet:   connected,
	}

	code := http.StatusOK
	if !overallHealthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeRaw(w http.ResponseWriter, code int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(body)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
