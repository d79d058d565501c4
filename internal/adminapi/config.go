package adminapi

import (
	"net/http"

	"github.com/joestump/pplxpool/internal/pool"
	"github.com/joestump/pplxpool/internal/store"
	"github.com/joestump/pplxpool/internal/upstream"
)

func (s *Server) handleGetMonitorConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Pool.GetMonitorConfig())
}

func (s *Server) handleSetMonitorConfig(w http.ResponseWriter, r *http.Request) {
	var cfg pool.MonitorConfig
	if !decodeJSON(w, r, &cfg) {
		return
	}
	s.Pool.SetMonitorConfig(cfg)
	if s.Monitor != nil {
		s.Monitor.Reconfigure()
	}
	writeJSON(w, http.StatusOK, s.Pool.GetMonitorConfig())
}

func (s *Server) handleGetFallbackConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Pool.GetFallbackConfig())
}

func (s *Server) handleSetFallbackConfig(w http.ResponseWriter, r *http.Request) {
	var cfg pool.FallbackConfig
	if !decodeJSON(w, r, &cfg) {
		return
	}
	s.Pool.SetFallbackConfig(cfg)
	writeJSON(w, http.StatusOK, s.Pool.GetFallbackConfig())
}

// handleExport returns the full token list (including credentials) so an
// operator can back up or migrate a pool. Requires the admin bearer token
// like every other mutating-adjacent route in this group.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	tokens := store.TokensFromPool(s.Pool)
	writeJSON(w, http.StatusOK, map[string]any{
		"tokens":   tokens,
		"monitor":  s.Pool.GetMonitorConfig(),
		"fallback": s.Pool.GetFallbackConfig(),
	})
}

type importRequest struct {
	Tokens []store.TokenRecord `json:"tokens"`
}

// handleImport adds every token in the request body that doesn't already
// exist in the pool. Existing ids are left untouched rather than
// overwritten, since import is meant for merging a backup, not replacing
// live state.
func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	var req importRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	added := 0
	for _, t := range req.Tokens {
		if _, ok := s.Pool.Get(t.ID); ok {
			continue
		}
		creds := pool.NewCredentials(t.CSRFToken, t.SessionToken)
		session := upstream.NewHTTPSession(creds, http.DefaultClient)
		if _, err := s.Pool.Add(t.ID, creds, session); err == nil {
			if !t.Enabled {
				s.Pool.Disable(t.ID)
			}
			added++
		}
	}
	writeJSON(w, http.StatusOK, map[string]int{"added": added})
}
