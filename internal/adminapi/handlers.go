package adminapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/joestump/pplxpool/internal/pool"
	"github.com/joestump/pplxpool/internal/upstream"
)

var (
	vldOnce sync.Once
	vld     *validator.Validate
)

func getValidator() *validator.Validate {
	vldOnce.Do(func() { vld = validator.New() })
	return vld
}

type addTokenRequest struct {
	ID           string `json:"id" validate:"required"`
	CSRFToken    string `json:"csrf_token" validate:"required"`
	SessionToken string `json:"session_token" validate:"required"`
}

func (s *Server) handleAddToken(w http.ResponseWriter, r *http.Request) {
	var req addTokenRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	creds := pool.NewCredentials(req.CSRFToken, req.SessionToken)
	session := upstream.NewHTTPSession(creds, http.DefaultClient)

	c, err := s.Pool.Add(req.ID, creds, session)
	if err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}

	// Adding a token triggers an immediate single-client health check so
	// session_valid/rate_limits are populated without waiting for the
	// next monitor tick. The check outlives this request, so it must not
	// be cancelled when the handler returns.
	if s.Monitor != nil {
		go s.Monitor.Test(context.WithoutCancel(r.Context()), &c.ID)
	}

	writeJSON(w, http.StatusCreated, tokenView(c))
}

func (s *Server) handleRemoveToken(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.Pool.Remove(id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleEnableToken(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.Pool.Enable(id); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": "enabled"})
}

func (s *Server) handleDisableToken(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.Pool.Disable(id); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": "disabled"})
}

func (s *Server) handleResetToken(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.Pool.ResetBackoff(id); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": "reset"})
}

func (s *Server) handleTestToken(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, ok := s.Pool.Get(id); !ok {
		writeError(w, http.StatusNotFound, "unknown client id")
		return
	}
	if s.Monitor != nil {
		s.Monitor.Test(r.Context(), &id)
	}
	c, _ := s.Pool.Get(id)
	writeJSON(w, http.StatusOK, tokenView(c))
}

func (s *Server) handleTestAll(w http.ResponseWriter, r *http.Request) {
	if s.Monitor != nil {
		s.Monitor.Test(r.Context(), nil)
	}
	writeJSON(w, http.StatusOK, tokensView(s.Pool.Snapshot()))
}

func (s *Server) handleListTokens(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, tokensView(s.Pool.Snapshot()))
}

func (s *Server) handleUserInfo(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	c, ok := s.Pool.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown client id")
		return
	}
	writeJSON(w, http.StatusOK, tokenView(c))
}

func (s *Server) handleUserInfoAll(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, tokensView(s.Pool.Snapshot()))
}

type tokenInfo struct {
	ID                  string           `json:"id"`
	Enabled             bool             `json:"enabled"`
	State               pool.State       `json:"state"`
	SessionValid        *bool            `json:"session_valid"`
	RateLimits          *pool.RateLimits `json:"rate_limits"`
	RequestCount        int              `json:"request_count"`
	FailCount           int              `json:"fail_count"`
	ConsecutiveFailures int              `json:"consecutive_failures"`
}

func tokenView(c *pool.Client) tokenInfo {
	return tokenInfo{
		ID:                  c.ID,
		Enabled:             c.Enabled,
		State:               c.State(),
		SessionValid:        c.SessionValid,
		RateLimits:          c.RateLimits,
		RequestCount:        c.RequestCount,
		FailCount:           c.FailCount,
		ConsecutiveFailures: c.ConsecutiveFailures,
	}
}

func tokensView(clients []*pool.Client) []tokenInfo {
	out := make([]tokenInfo, 0, len(clients))
	for _, c := range clients {
		out = append(out, tokenView(c))
	}
	return out
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

// decodeAndValidate decodes the body and then runs struct-tag validation
// (validate:"required", etc.) over it, collecting every failing field into
// a single error message.
func decodeAndValidate(w http.ResponseWriter, r *http.Request, v any) bool {
	if !decodeJSON(w, r, v) {
		return false
	}
	if err := getValidator().Struct(v); err != nil {
		verrs, ok := err.(validator.ValidationErrors)
		if !ok {
			writeError(w, http.StatusBadRequest, err.Error())
			return false
		}
		fields := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			fields = append(fields, strings.ToLower(fe.Field())+" failed "+fe.Tag())
		}
		writeError(w, http.StatusBadRequest, "validation failed: "+strings.Join(fields, ", "))
		return false
	}
	return true
}
