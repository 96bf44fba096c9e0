// Package http exposes the trading engine, live runner, and backtester over
// a JSON REST API, a websocket status stream, and Prometheus metrics.
package http

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/quantlab/papertrade/internal/backtest"
	"github.com/quantlab/papertrade/internal/engine"
	"github.com/quantlab/papertrade/internal/market"
	"github.com/quantlab/papertrade/internal/persistence"
	"github.com/quantlab/papertrade/internal/runner"
)

// ServerConfig holds the listener settings.
type ServerConfig struct {
	Addr           string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	RequestTimeout time.Duration
}

// DefaultServerConfig returns the stock listener settings.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Addr:           ":8000",
		ReadTimeout:    15 * time.Second,
		WriteTimeout:   30 * time.Second,
		RequestTimeout: 25 * time.Second,
	}
}

// Deps are the collaborators the server exposes. The repos may be nil; the
// corresponding endpoints then skip persistence.
type Deps struct {
	Engine     *engine.Engine
	Runner     *runner.Runner
	Feed       market.PriceFeed
	Backtester *backtest.Engine
	Strategies persistence.StrategiesRepo
	Results    persistence.ResultsRepo
	Trades     persistence.TradesRepo
}

// Server is the HTTP front end.
type Server struct {
	cfg     ServerConfig
	router  *mux.Router
	server  *http.Server
	deps    Deps
	metrics *Metrics
}

// NewServer builds the router and middleware chain.
func NewServer(cfg ServerConfig, deps Deps) *Server {
	def := DefaultServerConfig()
	if cfg.Addr == "" {
		cfg.Addr = def.Addr
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = def.ReadTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = def.RequestTimeout
	}

	s := &Server{
		cfg:     cfg,
		router:  mux.NewRouter(),
		deps:    deps,
		metrics: NewMetrics(),
	}
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(s.requestIDMiddleware)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(s.corsMiddleware)

	// Metrics and the websocket stream stay outside the JSON middleware.
	s.router.Handle("/metrics", s.metrics.Handler()).Methods("GET")
	s.router.HandleFunc("/ws/status", s.handleStatusStream)

	api := s.router.PathPrefix("/api").Subrouter()
	api.Use(s.jsonMiddleware)
	api.Use(s.timeoutMiddleware)

	api.HandleFunc("/health", s.handleHealth).Methods("GET")

	pt := api.PathPrefix("/paper-trading").Subrouter()
	pt.HandleFunc("/portfolio", s.handlePortfolio).Methods("GET")
	pt.HandleFunc("/positions", s.handlePositions).Methods("GET")
	pt.HandleFunc("/orders", s.handleListOrders).Methods("GET")
	pt.HandleFunc("/orders", s.handleCreateOrder).Methods("POST")
	pt.HandleFunc("/orders/{order_id}", s.handleCancelOrder).Methods("DELETE")
	pt.HandleFunc("/status", s.handleStatus).Methods("GET")
	pt.HandleFunc("/trades", s.handleTrades).Methods("GET")
	pt.HandleFunc("/trades/history", s.handleTradeHistory).Methods("GET")
	pt.HandleFunc("/trade-markers", s.handleTradeMarkers).Methods("GET")
	pt.HandleFunc("/risk", s.handleRiskMetrics).Methods("GET")

	at := api.PathPrefix("/auto-trading").Subrouter()
	at.HandleFunc("/start", s.handleRunnerStart).Methods("POST")
	at.HandleFunc("/stop", s.handleRunnerStop).Methods("POST")
	at.HandleFunc("/status", s.handleRunnerStatus).Methods("GET")
	at.HandleFunc("/signals", s.handleRunnerSignals).Methods("GET")

	bt := api.PathPrefix("/backtest").Subrouter()
	bt.HandleFunc("/run", s.handleBacktestRun).Methods("POST")
	bt.HandleFunc("/results", s.handleBacktestResults).Methods("GET")

	s.router.NotFoundHandler = http.HandlerFunc(s.handleNotFound)
}

// Start serves until Shutdown or a listener error.
func (s *Server) Start() error {
	log.Info().Str("addr", s.cfg.Addr).Msg("http server starting")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("http server shutting down")
	return s.server.Shutdown(ctx)
}

// Router exposes the handler tree, mainly for tests.
func (s *Server) Router() http.Handler { return s.router }

type ctxKey string

const requestIDKey ctxKey = "request_id"

func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := uuid.New().String()[:8]
		ctx := context.WithValue(r.Context(), requestIDKey, requestID)
		w.Header().Set("X-Request-ID", requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapper := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(wrapper, r)

		requestID, _ := r.Context().Value(requestIDKey).(string)
		log.Info().
			Str("request_id", requestID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", wrapper.status).
			Dur("duration", time.Since(start)).
			Str("remote", r.RemoteAddr).
			Msg("http request")

		s.metrics.HTTPRequests.WithLabelValues(
			r.Method, r.URL.Path, http.StatusText(wrapper.status)).Inc()
	})
}

func (s *Server) timeoutMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), s.cfg.RequestTimeout)
		defer cancel()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if strings.Contains(origin, "localhost") || strings.Contains(origin, "127.0.0.1") {
			w.Header().Set("Access-Control-Allow-Origin", origin)
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
