package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/joestump/pplxpool/internal/pool"
)

// --- Tool Definitions ---

func runQueryTool() mcp.Tool {
	return mcp.NewToolWithRawSchema(
		"run_query",
		"Run a search query against the answer engine, using the pool's round-robin scheduling, quota-aware fallback, and anonymous last resort.",
		json.RawMessage(`{
			"type": "object",
			"properties": {
				"query": {
					"type": "string",
					"description": "The question or prompt to send"
				},
				"mode": {
					"type": "string",
					"enum": ["auto", "pro", "reasoning", "deep research", "agentic_research"],
					"description": "Requested answer mode (default: auto)"
				},
				"model": {
					"type": "string",
					"description": "Optional upstream model override"
				},
				"sources": {
					"type": "array",
					"items": {"type": "string", "enum": ["web", "scholar", "social"]},
					"description": "Search sources to use (default: [\"web\"])"
				},
				"files": {
					"type": "object",
					"additionalProperties": {"type": "string"},
					"description": "Optional file attachments, name to content"
				},
				"language": {
					"type": "string",
					"description": "Preferred response language"
				},
				"incognito": {
					"type": "boolean",
					"description": "Ask the upstream session not to persist this query"
				}
			},
			"required": ["query"]
		}`),
	)
}

func listTokensTool() mcp.Tool {
	return mcp.NewToolWithRawSchema(
		"list_tokens",
		"List every token in the pool with its current state, enabled flag, and rate limits.",
		json.RawMessage(`{
			"type": "object",
			"properties": {}
		}`),
	)
}

func getUserInfoTool() mcp.Tool {
	return mcp.NewToolWithRawSchema(
		"get_user_info",
		"Fetch rate-limit and session-validity information for one token, or every token if id is omitted.",
		json.RawMessage(`{
			"type": "object",
			"properties": {
				"id": {
					"type": "string",
					"description": "Token id to look up; omit for every token"
				}
			}
		}`),
	)
}

// --- Handlers ---

type runQueryArgs struct {
	Query     string            `json:"query"`
	Mode      string            `json:"mode"`
	Model     string            `json:"model"`
	Sources   []string          `json:"sources"`
	Files     map[string]string `json:"files"`
	Language  string            `json:"language"`
	Incognito bool              `json:"incognito"`
}

func (s *Server) handleRunQuery(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args runQueryArgs
	if err := req.BindArguments(&args); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid arguments: %v", err)), nil
	}
	if args.Query == "" {
		return mcp.NewToolResultError("query is required"), nil
	}
	if args.Mode == "" {
		args.Mode = pool.ModeAuto
	}

	resp, err := s.engine.RunQuery(ctx, pool.SearchRequest{
		Query:     args.Query,
		Mode:      args.Mode,
		Model:     args.Model,
		Sources:   args.Sources,
		Files:     args.Files,
		Language:  args.Language,
		Incognito: args.Incognito,
	})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("run_query failed: %v", err)), nil
	}
	return resultJSON(resp)
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

func (s *Server) handleListTokens(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	clients := s.pool.Snapshot()
	out := make([]tokenInfo, 0, len(clients))
	for _, c := range clients {
		out = append(out, tokenView(c))
	}
	return resultJSON(out)
}

type getUserInfoArgs struct {
	ID string `json:"id"`
}

func (s *Server) handleGetUserInfo(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args getUserInfoArgs
	if err := req.BindArguments(&args); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid arguments: %v", err)), nil
	}

	if args.ID == "" {
		clients := s.pool.Snapshot()
		out := make([]tokenInfo, 0, len(clients))
		for _, c := range clients {
			out = append(out, tokenView(c))
		}
		return resultJSON(out)
	}

	c, ok := s.pool.Get(args.ID)
	if !ok {
		return mcp.NewToolResultError(fmt.Sprintf("unknown token id %q", args.ID)), nil
	}
	return resultJSON(tokenView(c))
}

// resultJSON marshals v to JSON and returns it as a tool result.
func resultJSON(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
