// Package api exposes the HTTP surface around the websocket endpoint:
// health, stats and metrics.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"learnbridge/internal/api/middleware"
	"learnbridge/pkg/interfaces"
)

const healthTimeout = 3 * time.Second

// StatsProvider reports counters for /api/stats
type StatsProvider interface {
	GetStats() map[string]int
}

// Options wires the server to the running components
type Options struct {
	WebSocket      http.Handler
	Checks         map[string]interfaces.HealthChecker
	Stats          map[string]StatsProvider
	AllowedOrigins []string
}

// Server is the HTTP entry point
// ARCHITECTURAL DISCOVERY: no business logic here, only HTTP handling and
// JSON serialization of what the components report
type Server struct {
	router    *chi.Mux
	checks    map[string]interfaces.HealthChecker
	stats     map[string]StatsProvider
	startedAt time.Time
	logger    zerolog.Logger
}

// NewServer builds the router
func NewServer(opts Options, logger zerolog.Logger) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		checks:    opts.Checks,
		stats:     opts.Stats,
		startedAt: time.Now(),
		logger:    logger.With().Str("component", "api").Logger(),
	}

	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := s.router
	r.Use(middleware.Metrics)
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logger(s.logger))
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/health", s.healthCheck)
	r.Get("/api/stats", s.getStats)
	if opts.WebSocket != nil {
		r.Handle("/ws", opts.WebSocket)
	}
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		s.sendError(w, "route not found", http.StatusNotFound)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		s.sendError(w, "method not allowed", http.StatusMethodNotAllowed)
	})

	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Check is the result of one dependency probe
type Check struct {
	Status  string `json:"status"`
	Latency string `json:"latency,omitempty"`
	Message string `json:"message,omitempty"`
}

type HealthResponse struct {
	Status    string           `json:"status"`
	Timestamp time.Time        `json:"timestamp"`
	Uptime    string           `json:"uptime"`
	Checks    map[string]Check `json:"checks"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// GET /health probes every dependency; any failure answers 503
func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	names := make([]string, 0, len(s.checks))
	for name := range s.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	checks := make(map[string]Check, len(names))
	healthy := true
	for _, name := range names {
		start := time.Now()
		if err := s.checks[name].HealthCheck(ctx); err != nil {
			s.logger.Warn().Err(err).Str("dependency", name).Msg("health check failed")
			checks[name] = Check{Status: "fail", Message: "unavailable"}
			healthy = false
			continue
		}
		checks[name] = Check{Status: "pass", Latency: time.Since(start).String()}
	}

	resp := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
		Uptime:    time.Since(s.startedAt).Round(time.Second).String(),
		Checks:    checks,
	}
	code := http.StatusOK
	if !healthy {
		resp.Status = "degraded"
		code = http.StatusServiceUnavailable
	}
	s.writeJSON(w, code, resp)
}

// GET /api/stats
func (s *Server) getStats(w http.ResponseWriter, r *http.Request) {
	out := make(map[string]map[string]int, len(s.stats))
	for name, provider := range s.stats {
		out[name] = provider.GetStats()
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug().Err(err).Msg("failed to write response")
	}
}

func (s *Server) sendError(w http.ResponseWriter, message string, code int) {
	s.writeJSON(w, code, ErrorResponse{
		Error:   http.StatusText(code),
		Code:    code,
		Message: message,
	})
}
