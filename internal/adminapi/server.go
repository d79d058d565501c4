// Package adminapi exposes the pool's admin commands over HTTP: token
// CRUD, monitor/fallback config, manual health checks, and export/import.
package adminapi

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/joestump/pplxpool/internal/monitor"
	"github.com/joestump/pplxpool/internal/pool"
	"github.com/joestump/pplxpool/internal/query"
	"github.com/joestump/pplxpool/internal/store"
)

// Server wires the pool, monitor, and query engine to an HTTP mux.
type Server struct {
	Pool        *pool.Pool
	Monitor     *monitor.Monitor
	Engine      *query.Engine
	ConfigStore *store.ConfigStore
	AdminToken  string

	router chi.Router
}

// New builds a Server with routes registered.
func New(p *pool.Pool, m *monitor.Monitor, eng *query.Engine, cs *store.ConfigStore, adminToken string) *Server {
	s := &Server{Pool: p, Monitor: m, Engine: eng, ConfigStore: cs, AdminToken: adminToken}
	s.router = s.newRouter()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.router.ServeHTTP(w, r) }

func (s *Server) newRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealthz)
	r.Post("/v1/run_query", s.handleRunQuery)

	r.Group(func(r chi.Router) {
		r.Use(httprate.LimitByIP(30, time.Minute))
		r.Use(s.requireAdminToken)

		r.Get("/v1/tokens", s.handleListTokens)
		r.Post("/v1/tokens", s.handleAddToken)
		r.Delete("/v1/tokens/{id}", s.handleRemoveToken)
		r.Post("/v1/tokens/{id}/enable", s.handleEnableToken)
		r.Post("/v1/tokens/{id}/disable", s.handleDisableToken)
		r.Post("/v1/tokens/{id}/reset", s.handleResetToken)
		r.Post("/v1/tokens/{id}/test", s.handleTestToken)
		r.Post("/v1/test", s.handleTestAll)

		r.Get("/v1/tokens/export", s.handleExport)
		r.Post("/v1/tokens/import", s.handleImport)

		r.Get("/v1/tokens/{id}/user_info", s.handleUserInfo)
		r.Get("/v1/tokens/user_info", s.handleUserInfoAll)

		r.Get("/v1/config/monitor", s.handleGetMonitorConfig)
		r.Put("/v1/config/monitor", s.handleSetMonitorConfig)
		r.Get("/v1/config/fallback", s.handleGetFallbackConfig)
		r.Put("/v1/config/fallback", s.handleSetFallbackConfig)
	})

	return r
}

// requireAdminToken enforces the PPLX_ADMIN_TOKEN bearer on mutating admin
// routes. An empty AdminToken disables the check (local/dev use).
func (s *Server) requireAdminToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.AdminToken == "" {
			next.ServeHTTP(w, r)
			return
		}
		auth := r.Header.Get("Authorization")
		if auth != "Bearer "+s.AdminToken {
			writeError(w, http.StatusUnauthorized, "missing or invalid bearer token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("adminapi: writeJSON encode error: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "clients": s.Pool.Len()})
}
