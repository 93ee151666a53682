// Package api implements the HTTP/Streaming API of spec.md §4.8: REST
// reads over the Store, control endpoints over the Scheduler and host
// service manager, and push endpoints (WebSocket/SSE) over the in-process
// topic bus. Router and middleware chain grounded on the teacher's
// internal/api/server.go (chi + chi/middleware: RequestID, RealIP,
// Recoverer, Timeout, CORS).
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/piwardrive/piwardrive/internal/config"
	"github.com/piwardrive/piwardrive/internal/pubsub"
	"github.com/piwardrive/piwardrive/internal/servicectl"
	"github.com/piwardrive/piwardrive/internal/store"
)

// Server is the PiWardrive HTTP API. It holds references to every
// collaborator its handlers read from or delegate to; it owns no
// lifecycle of its own beyond the in-memory token store.
type Server struct {
	store  *store.DB
	bus    *pubsub.Broker
	cfg    *config.Store
	svcctl *servicectl.Controller
	tokens *tokenStore
	log    *slog.Logger
}

// NewServer builds a Server. cfg and svcctl may be constructed by the
// Supervisor once and shared; bus is the same Broker the HealthCollector
// publishes on.
func NewServer(st *store.DB, bus *pubsub.Broker, cfg *config.Store, svcctl *servicectl.Controller, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{store: st, bus: bus, cfg: cfg, svcctl: svcctl, tokens: newTokenStore(), log: log}
}

// Handler returns the chi router with every route mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(5 * time.Minute))
	r.Use(corsMiddleware)
	r.Use(s.metricsMiddleware)
	r.Use(s.rateLimitMiddleware)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Post("/auth/login", s.handleLogin)
	r.Post("/auth/logout", s.handleLogout)

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/widgets", s.handleWidgets)
		r.Get("/logs", s.handleLogs)
		r.Get("/internal/health", s.handleInternalHealth)
		r.Post("/service/{name}/{action}", s.requireAuth(s.handleServiceControl))
		r.Post("/config", s.requireAuth(s.handleConfigUpdate))
	})

	r.Get("/ws/aps", s.handleWS(apsTopic))
	r.Get("/ws/status", s.handleWS(statusTopic))
	r.Get("/sse/aps", s.handleSSE(apsTopic))
	r.Get("/sse/status", s.handleSSE(statusTopic))
	r.Get("/sse/history", s.handleSSEHistory)

	r.Handle("/metrics", promhttp.Handler())

	return r
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}
