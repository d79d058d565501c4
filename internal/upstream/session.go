package upstream

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/joestump/pplxpool/internal/classify"
	"github.com/joestump/pplxpool/internal/pool"
	"github.com/tidwall/gjson"
)

// HTTPSession is the authenticated Session implementation (C1): one
// account's cookies plus an HTTP client impersonating a browser profile.
type HTTPSession struct {
	creds      pool.Credentials
	httpClient *http.Client
}

// NewHTTPSession builds a session bound to an owned copy of creds. The
// caller's Credentials value is passed by value already (pool.Credentials
// has no reference fields), so no further defensive copy is needed here —
// the copy-at-construction guarantee lives in pool.NewCredentials.
func NewHTTPSession(creds pool.Credentials, httpClient *http.Client) *HTTPSession {
	return &HTTPSession{creds: creds, httpClient: httpClient}
}

func (s *HTTPSession) Identity() pool.Credentials { return s.creds }

func (s *HTTPSession) cookieHeader() string {
	return fmt.Sprintf("pplx.session-token=%s", s.creds.SessionToken)
}

// searchPayload mirrors the upstream search endpoint's request body.
type searchPayload struct {
	Query     string            `json:"query"`
	Mode      string            `json:"mode"`
	Model     string            `json:"model,omitempty"`
	Sources   []string          `json:"search_focus"`
	Files     map[string]string `json:"attachments,omitempty"`
	Language  string            `json:"language,omitempty"`
	Incognito bool              `json:"incognito,omitempty"`
}

// Search dispatches one query over the SSE search endpoint and blocks
// until the stream terminates. See §4.1: a stream that closes without an
// end-of-stream marker fails with EmptyResponse rather than returning nil.
func (s *HTTPSession) Search(ctx context.Context, req pool.SearchRequest) (*pool.SearchResponse, error) {
	payload, err := json.Marshal(searchPayload{
		Query:     req.Query,
		Mode:      req.Mode,
		Model:     req.Model,
		Sources:   req.Sources,
		Files:     req.Files,
		Language:  req.Language,
		Incognito: req.Incognito,
	})
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/rest/sse/perplexity_ask", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	setBrowserHeaders(httpReq, s.creds.CSRFToken)
	httpReq.Header.Set("Cookie", s.cookieHeader())

	resp, err := s.httpClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, fmt.Errorf("upstream auth rejected: status %d", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("upstream returned status %d", resp.StatusCode)
	}

	out, err := parseSSE(resp.Body)
	if err == nil && out == nil {
		return nil, classify.New(classify.EmptyResponse, "dropped connection: stream ended without an end-of-stream marker")
	}
	return out, err
}

// parseSSE scans an SSE stream of "data: {json}" frames and returns the
// final accumulated response. The last frame carries the complete answer;
// a stream that ends without ever producing a final frame is EmptyResponse.
func parseSSE(body io.Reader) (*pool.SearchResponse, error) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 64*1024), 8*1024*1024)

	var last gjson.Result
	sawFinal := false

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "" || data == "[DONE]" {
			continue
		}
		frame := gjson.Parse(data)
		if !frame.Exists() {
			continue
		}
		last = frame
		if frame.Get("final").Bool() || frame.Get("finished").Bool() {
			sawFinal = true
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if !sawFinal {
		return nil, nil // caller classifies a nil response as EmptyResponse
	}

	return responseFromFrame(last), nil
}

// responseFromFrame translates the final SSE frame into a SearchResponse.
// A deep-research answer carries a "steps" array; a plain pro answer
// carries only a string "answer" (the shape §4.5's downgrade check keys
// on).
func responseFromFrame(frame gjson.Result) *pool.SearchResponse {
	resp := &pool.SearchResponse{
		Answer: frame.Get("text").String(),
	}
	if resp.Answer == "" {
		resp.Answer = frame.Get("answer").String()
	}

	steps := frame.Get("steps")
	if steps.Exists() && steps.IsArray() {
		steps.ForEach(func(_, step gjson.Result) bool {
			resp.Steps = append(resp.Steps, pool.ResponseStep{
				Title:   step.Get("title").String(),
				Content: step.Get("content").String(),
			})
			return true
		})
	}

	sources := frame.Get("sources")
	if sources.Exists() && sources.IsArray() {
		sources.ForEach(func(_, src gjson.Result) bool {
			if u := src.Get("url").String(); u != "" {
				resp.Sources = append(resp.Sources, u)
			}
			return true
		})
	}
	return resp
}

// FetchRateLimits calls the quota endpoint without consuming user quota.
func (s *HTTPSession) FetchRateLimits(ctx context.Context) (*pool.RateLimits, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/rest/rate-limit", nil)
	if err != nil {
		return nil, err
	}
	setBrowserHeaders(httpReq, s.creds.CSRFToken)
	httpReq.Header.Set("Cookie", s.cookieHeader())

	resp, err := s.httpClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, fmt.Errorf("upstream auth rejected: status %d", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("upstream returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	return parseRateLimits(body, time.Now())
}

// parseRateLimits mirrors the Antigravity quota parser's gjson-driven,
// multiple-field-name-tolerant approach: upstream field names vary across
// response versions, so each value is looked up under a short list of
// candidate keys rather than a single fixed path.
func parseRateLimits(body []byte, now time.Time) (*pool.RateLimits, error) {
	rl := &pool.RateLimits{Modes: make(map[string]pool.ModeQuota), FetchedAt: now}

	for _, field := range []string{"gpt4_limit", "pro_remaining", "remaining"} {
		if v := gjson.GetBytes(body, field); v.Exists() {
			n := int(v.Int())
			rl.ProRemaining = &n
			break
		}
	}

	modes := gjson.GetBytes(body, "modes")
	if modes.Exists() && modes.IsObject() {
		modes.ForEach(func(key, value gjson.Result) bool {
			mq := pool.ModeQuota{Available: value.Get("available").Bool()}
			if r := value.Get("remaining"); r.Exists() && r.Type != gjson.Null {
				n := int(r.Int())
				mq.Remaining = &n
			}
			if k := value.Get("kind"); k.Exists() {
				kind := k.String()
				mq.Kind = &kind
			}
			rl.Modes[key.String()] = mq
			return true
		})
	}

	return rl, nil
}
