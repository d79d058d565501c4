package mcpserver

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/joestump/pplxpool/internal/pool"
	"github.com/joestump/pplxpool/internal/query"
)

// --- Fake session ---

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

// --- Helpers ---

func makeRunQueryRequest(args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      "run_query",
			Arguments: args,
		},
	}
}

func makeGetUserInfoRequest(args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      "get_user_info",
			Arguments: args,
		},
	}
}

func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("result has no content")
	}
	tc, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("result content is %T, not TextContent", result.Content[0])
	}
	return tc.Text
}

// --- Tests ---

func TestRunQuery_Success(t *testing.T) {
	p := pool.New()
	p.Add("a", pool.Credentials{}, &fakeSession{resp: &pool.SearchResponse{Answer: "hi"}})
	eng := query.New(p, nil, nil, 0)
	s := NewServer(eng, p)

	req := makeRunQueryRequest(map[string]any{"query": "hello", "mode": "auto"})
	result, err := s.handleRunQuery(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected tool error: %s", resultText(t, result))
	}

	var resp pool.SearchResponse
	if err := json.Unmarshal([]byte(resultText(t, result)), &resp); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if resp.Answer != "hi" {
		t.Errorf("answer = %q, want %q", resp.Answer, "hi")
	}
}

func TestRunQuery_MissingQuery(t *testing.T) {
	p := pool.New()
	eng := query.New(p, nil, nil, 0)
	s := NewServer(eng, p)

	req := makeRunQueryRequest(map[string]any{"mode": "auto"})
	result, err := s.handleRunQuery(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected an error result for a missing query")
	}
	if !strings.Contains(resultText(t, result), "query is required") {
		t.Errorf("unexpected message: %s", resultText(t, result))
	}
}

func TestRunQuery_DefaultsToAutoMode(t *testing.T) {
	p := pool.New()
	p.Add("a", pool.Credentials{}, &fakeSession{resp: &pool.SearchResponse{Answer: "ok"}})
	eng := query.New(p, nil, nil, 0)
	s := NewServer(eng, p)

	req := makeRunQueryRequest(map[string]any{"query": "hello"})
	result, err := s.handleRunQuery(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected tool error: %s", resultText(t, result))
	}
}

func TestListTokens(t *testing.T) {
	p := pool.New()
	p.Add("a", pool.Credentials{}, &fakeSession{})
	p.Add("b", pool.Credentials{}, &fakeSession{})
	eng := query.New(p, nil, nil, 0)
	s := NewServer(eng, p)

	result, err := s.handleListTokens(context.Background(), mcp.CallToolRequest{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var tokens []tokenInfo
	if err := json.Unmarshal([]byte(resultText(t, result)), &tokens); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if len(tokens) != 2 {
		t.Fatalf("len(tokens) = %d, want 2", len(tokens))
	}
}

func TestGetUserInfo_SingleID(t *testing.T) {
	p := pool.New()
	p.Add("a", pool.Credentials{}, &fakeSession{})
	eng := query.New(p, nil, nil, 0)
	s := NewServer(eng, p)

	req := makeGetUserInfoRequest(map[string]any{"id": "a"})
	result, err := s.handleGetUserInfo(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var info tokenInfo
	if err := json.Unmarshal([]byte(resultText(t, result)), &info); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if info.ID != "a" {
		t.Errorf("id = %q, want %q", info.ID, "a")
	}
}

func TestGetUserInfo_UnknownID(t *testing.T) {
	p := pool.New()
	eng := query.New(p, nil, nil, 0)
	s := NewServer(eng, p)

	req := makeGetUserInfoRequest(map[string]any{"id": "ghost"})
	result, err := s.handleGetUserInfo(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected an error result for an unknown id")
	}
}

func TestGetUserInfo_AllWhenIDOmitted(t *testing.T) {
	p := pool.New()
	p.Add("a", pool.Credentials{}, &fakeSession{})
	p.Add("b", pool.Credentials{}, &fakeSession{})
	eng := query.New(p, nil, nil, 0)
	s := NewServer(eng, p)

	req := makeGetUserInfoRequest(map[string]any{})
	result, err := s.handleGetUserInfo(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var tokens []tokenInfo
	if err := json.Unmarshal([]byte(resultText(t, result)), &tokens); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if len(tokens) != 2 {
		t.Fatalf("len(tokens) = %d, want 2", len(tokens))
	}
}
