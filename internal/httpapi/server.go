// Package httpapi exposes a local, read-only HTTP surface over the
// engine's live state: health, the orchestrator's consolidated pattern
// view, open positions, and Prometheus metrics. It performs no writes:
// the dashboard and any external tooling poll this surface instead of
// touching live component state.
package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/ictengine/core/internal/baseline"
	"github.com/ictengine/core/internal/execution"
	"github.com/ictengine/core/internal/orchestrator"
	"github.com/ictengine/core/internal/telemetry"
)

// Config controls the listener and request timeouts.
type Config struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// DefaultConfig returns the local-only default.
func DefaultConfig() Config {
	return Config{
		Host:         "127.0.0.1",
		Port:         8090,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// Server is the read-only HTTP surface.
type Server struct {
	router *mux.Router
	server *http.Server
	cfg    Config

	orch      *orchestrator.Orchestrator
	router_   *execution.Router
	monitor   *baseline.Monitor
	sampler   *baseline.Sampler
	telemetry *telemetry.Registry

	defaultTimeframes []string
}

// New builds a Server wired to the engine's read models. It does not bind
// the listener until Start is called. sampler may be nil (health then
// always answers {"status":"ok"}, e.g. in tests that don't run the sampler).
func New(cfg Config, orch *orchestrator.Orchestrator, execRouter *execution.Router, monitor *baseline.Monitor, sampler *baseline.Sampler, reg *telemetry.Registry, defaultTimeframes []string) *Server {
	s := &Server{
		cfg:               cfg,
		orch:              orch,
		router_:           execRouter,
		monitor:           monitor,
		sampler:           sampler,
		telemetry:         reg,
		defaultTimeframes: defaultTimeframes,
	}
	s.router = mux.NewRouter()
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(s.requestIDMiddleware)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(s.jsonContentTypeMiddleware)

	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/patterns/{symbol}", s.handlePatterns).Methods(http.MethodGet)
	s.router.HandleFunc("/positions", s.handlePositions).Methods(http.MethodGet)
	s.router.HandleFunc("/baseline", s.handleBaseline).Methods(http.MethodGet)

	if s.telemetry != nil {
		s.router.Handle("/metrics", s.telemetry.Handler()).Methods(http.MethodGet)
	}

	s.router.NotFoundHandler = http.HandlerFunc(s.handleNotFound)
}

// Handler exposes the underlying mux.Router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.router }

// Start binds the listener and serves until Shutdown is called.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("httpapi: port unavailable: %w", err)
	}
	listener.Close()

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  s.cfg.IdleTimeout,
	}

	log.Info().Str("addr", addr).Msg("starting read-only HTTP server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.sampler == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}
	writeJSON(w, http.StatusOK, s.sampler.LastSnapshot())
}

func (s *Server) handlePatterns(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]
	if symbol == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing symbol"})
		return
	}

	timeframes := s.defaultTimeframes
	if tf := r.URL.Query().Get("timeframes"); tf != "" {
		timeframes = strings.Split(tf, ",")
	}

	view := s.orch.Get(strings.ToUpper(symbol), timeframes, time.Now())
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.router_.Positions())
}

func (s *Server) handleBaseline(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.monitor.Baselines())
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("httpapi: failed to encode response")
	}
}

type contextKey string

const requestIDKey contextKey = "request_id"

func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.NewString()[:8]
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey, id)))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapper := &statusWrapper{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapper, r)
		log.Debug().
			Str("request_id", fmt.Sprint(r.Context().Value(requestIDKey))).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", wrapper.status).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}

func (s *Server) jsonContentTypeMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

type statusWrapper struct {
	http.ResponseWriter
	status int
}

func (w *statusWrapper) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
