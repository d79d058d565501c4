package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/joestump/pplxpool/internal/pool"
)

// AnonymousSession is the cookie-free, one-shot session used only as the
// last fallback leg (§4.5 step 5). It never reports rate limits — there is
// no account behind it to meter.
type AnonymousSession struct {
	httpClient *http.Client
}

// NewAnonymousSession builds a session with no credentials at all. There is
// no default cookie map here to accidentally share (§9 mutable-default
// safety): the struct simply carries none.
func NewAnonymousSession(httpClient *http.Client) *AnonymousSession {
	return &AnonymousSession{httpClient: httpClient}
}

func (s *AnonymousSession) Identity() pool.Credentials { return pool.Credentials{} }

func (s *AnonymousSession) Search(ctx context.Context, req pool.SearchRequest) (*pool.SearchResponse, error) {
	payload, err := json.Marshal(searchPayload{
		Query:   req.Query,
		Mode:    pool.ModeAuto,
		Sources: req.Sources,
	})
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/rest/sse/perplexity_ask_anonymous", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	setBrowserHeaders(httpReq, "")

	resp, err := s.httpClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("upstream returned status %d", resp.StatusCode)
	}
	return parseSSE(resp.Body)
}

func (s *AnonymousSession) FetchRateLimits(ctx context.Context) (*pool.RateLimits, error) {
	return &pool.RateLimits{Modes: map[string]pool.ModeQuota{}}, nil
}
