package adminapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/joestump/pplxpool/internal/pool"
	"github.com/joestump/pplxpool/internal/query"
)

type fakeSession struct {
	resp *pool.SearchResponse
	err  error
}

func (f *fakeSession) Search(ctx context.Context, req pool.SearchRequest) (*pool.SearchResponse, error) {
	return f.resp, f.err
}
func (f *fakeSession) FetchRateLimits(ctx context.Context) (*pool.RateLimits, error) {
	return &pool.RateLimits{}, nil
}
func (f *fakeSession) Identity() pool.Credentials { return pool.Credentials{} }

func newTestServer(adminToken string) (*Server, *pool.Pool) {
	p := pool.New()
	eng := query.New(p, nil, nil, 0)
	s := New(p, nil, eng, nil, adminToken)
	return s, p
}

func TestHealthzNoAuthRequired(t *testing.T) {
	s, _ := newTestServer("secret")
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestMutatingRouteRequiresAdminToken(t *testing.T) {
	s, _ := newTestServer("secret")

	body, _ := json.Marshal(addTokenRequest{ID: "a", CSRFToken: "c", SessionToken: "s"})
	req := httptest.NewRequest(http.MethodPost, "/v1/tokens", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401 without a bearer token", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/v1/tokens", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer secret")
	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201 with the correct bearer token, body=%s", rec.Code, rec.Body.String())
	}
}

func TestEmptyAdminTokenDisablesCheck(t *testing.T) {
	s, _ := newTestServer("")
	body, _ := json.Marshal(addTokenRequest{ID: "a", CSRFToken: "c", SessionToken: "s"})
	req := httptest.NewRequest(http.MethodPost, "/v1/tokens", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201 when no admin token is configured", rec.Code)
	}
}

func TestRunQueryEndpoint(t *testing.T) {
	p := pool.New()
	p.Add("a", pool.Credentials{}, &fakeSession{resp: &pool.SearchResponse{Answer: "hi"}})
	eng := query.New(p, nil, nil, 0)
	s := New(p, nil, eng, nil, "")

	body, _ := json.Marshal(runQueryRequest{Query: "hello", Mode: pool.ModeAuto})
	req := httptest.NewRequest(http.MethodPost, "/v1/run_query", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", rec.Code, rec.Body.String())
	}
	var resp pool.SearchResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Answer != "hi" {
		t.Fatalf("answer = %q, want %q", resp.Answer, "hi")
	}
}

func TestRunQueryValidationErrorReturns400(t *testing.T) {
	s, _ := newTestServer("")
	body, _ := json.Marshal(runQueryRequest{Query: "", Mode: pool.ModeAuto})
	req := httptest.NewRequest(http.MethodPost, "/v1/run_query", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestEnableDisableRoutes(t *testing.T) {
	s, p := newTestServer("")
	p.Add("a", pool.Credentials{}, nil)

	req := httptest.NewRequest(http.MethodPost, "/v1/tokens/a/disable", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("disable status = %d, want 200", rec.Code)
	}
	c, _ := p.Get("a")
	if c.Enabled {
		t.Fatal("expected client to be disabled")
	}

	req = httptest.NewRequest(http.MethodPost, "/v1/tokens/a/enable", nil)
	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("enable status = %d, want 200", rec.Code)
	}
	if !c.Enabled {
		t.Fatal("expected client to be re-enabled")
	}
}

func TestRemoveUnknownTokenIsNoContent(t *testing.T) {
	s, _ := newTestServer("")
	req := httptest.NewRequest(http.MethodDelete, "/v1/tokens/ghost", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}
}

func TestUserInfoRoutes(t *testing.T) {
	s, p := newTestServer("")
	p.Add("a", pool.Credentials{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/v1/tokens/a/user_info", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("single user_info status = %d, want 200", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/v1/tokens/user_info", nil)
	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("all user_info status = %d, want 200", rec.Code)
	}
	var tokens []tokenInfo
	if err := json.Unmarshal(rec.Body.Bytes(), &tokens); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(tokens) != 1 {
		t.Fatalf("len(tokens) = %d, want 1", len(tokens))
	}
}
