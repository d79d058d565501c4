package adminapi

import (
	"net/http"

	"github.com/joestump/pplxpool/internal/classify"
	"github.com/joestump/pplxpool/internal/pool"
	"github.com/joestump/pplxpool/internal/query"
)

type runQueryRequest struct {
	Query     string            `json:"query" validate:"required"`
	Mode      string            `json:"mode"`
	Model     string            `json:"model"`
	Sources   []string          `json:"sources"`
	Files     map[string]string `json:"files"`
	Language  string            `json:"language"`
	Incognito bool              `json:"incognito"`
}

func (s *Server) handleRunQuery(w http.ResponseWriter, r *http.Request) {
	var req runQueryRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	resp, err := s.Engine.RunQuery(r.Context(), pool.SearchRequest{
		Query:     req.Query,
		Mode:      req.Mode,
		Model:     req.Model,
		Sources:   req.Sources,
		Files:     req.Files,
		Language:  req.Language,
		Incognito: req.Incognito,
	})
	if err != nil {
		writeQueryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// writeQueryError maps a classified error onto the appropriate HTTP status.
func writeQueryError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	var kind classify.Kind

	switch e := err.(type) {
	case *classify.Error:
		kind = e.Kind
	case *query.RunError:
		kind = e.Kind
	}

	switch kind {
	case classify.ValidationError:
		status = http.StatusBadRequest
	case classify.SessionInvalid, classify.QuotaExhausted:
		status = http.StatusForbidden
	case classify.EmptyResponse, classify.SilentDowngrade, classify.Transient:
		status = http.StatusBadGateway
	case classify.Fatal:
		status = http.StatusServiceUnavailable
	}

	writeError(w, status, err.Error())
}
