// Package server exposes the market over HTTP.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"github.com/gorilla/mux"
	"github.com/rickgao/kabu-market/internal/config"
	"github.com/rickgao/kabu-market/internal/exchange"
	"github.com/rickgao/kabu-market/internal/market"
	"github.com/rickgao/kabu-market/internal/metrics"
	"github.com/rs/cors"
)

// Deps are the components served over HTTP. Stream, Metrics and
// MetricsHandler are optional.
type Deps struct {
	Market         *market.Market
	Exchange       *exchange.Exchange
	Stream         http.Handler
	Metrics        *metrics.Metrics
	MetricsHandler http.Handler
	MetricsPath    string
}

// Server is the HTTP surface.
type Server struct {
	cfg     config.ServerConfig
	deps    Deps
	limiter *clientLimiter
	logger  *slog.Logger

	mu       sync.Mutex
	srv      *http.Server
	listener net.Listener
	done     chan struct{}
}

// New creates a Server.
func New(cfg config.ServerConfig, deps Deps, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:    cfg,
		deps:   deps,
		logger: logger,
	}
	if cfg.RateLimit > 0 {
		s.limiter = newClientLimiter(cfg.RateLimit, cfg.RateBurst)
	}
	return s
}

// Handler builds the routed handler with CORS applied.
func (s *Server) Handler() http.Handler {
	router := mux.NewRouter()
	router.Use(s.observe)

	router.HandleFunc("/health", s.getHealth).Methods(http.MethodGet)
	if s.deps.MetricsHandler != nil {
		path := s.deps.MetricsPath
		if path == "" {
			path = config.DefaultMetricsPath
		}
		router.Handle(path, s.deps.MetricsHandler).Methods(http.MethodGet)
	}

	api := router.PathPrefix("/api/v1").Subrouter()
	if s.limiter != nil {
		api.Use(s.rateLimit)
	}
	api.HandleFunc("/market", s.getMarket).Methods(http.MethodGet)
	api.HandleFunc("/leaderboard", s.getLeaderboard).Methods(http.MethodGet)
	api.HandleFunc("/players/{id}/balance", s.getBalance).Methods(http.MethodGet)
	api.HandleFunc("/players/{id}/welcome", s.getWelcome).Methods(http.MethodGet)
	api.HandleFunc("/players/{id}/buy", s.postBuy).Methods(http.MethodPost)
	api.HandleFunc("/players/{id}/sell", s.postSell).Methods(http.MethodPost)
	if s.deps.Stream != nil {
		api.Handle("/stream", s.deps.Stream).Methods(http.MethodGet)
	}

	// Admin routes exist only when a token is configured.
	if s.cfg.AdminToken != "" {
		admin := api.PathPrefix("/admin").Subrouter()
		admin.Use(s.requireAdmin)
		admin.HandleFunc("/evaluate", s.postEvaluate).Methods(http.MethodPost)
		admin.HandleFunc("/market/price", s.putPrice).Methods(http.MethodPut)
		admin.HandleFunc("/market/delta", s.putDelta).Methods(http.MethodPut)
		admin.HandleFunc("/market/state", s.putState).Methods(http.MethodPut)
		admin.HandleFunc("/players/{id}/adjust", s.postAdjust).Methods(http.MethodPost)
		admin.HandleFunc("/players/{id}/balance", s.putBalance).Methods(http.MethodPut)
		admin.HandleFunc("/balances", s.deleteBalances).Methods(http.MethodDelete)
	}

	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, codeNotFound, "no such route")
	})
	router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, codeMethodNotAllowed, "method not allowed")
	})

	c := cors.New(cors.Options{
		AllowedOrigins: s.cfg.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", adminTokenHeader},
		MaxAge:         3600,
	})
	return c.Handler(router)
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.cfg.Addr)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  s.cfg.ReadTimeout.Std(),
		WriteTimeout: s.cfg.WriteTimeout.Std(),
	}

	s.mu.Lock()
	s.srv = srv
	s.listener = ln
	s.done = make(chan struct{})
	done := s.done
	s.mu.Unlock()

	go func() {
		defer close(done)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server error", "error", err)
		}
	}()

	s.logger.Info("http server started", "addr", ln.Addr().String())
	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv, done := s.srv, s.done
	s.mu.Unlock()
	if srv == nil {
		return nil
	}

	if err := srv.Shutdown(ctx); err != nil {
		return err
	}
	<-done
	s.logger.Info("http server stopped")
	return nil
}
