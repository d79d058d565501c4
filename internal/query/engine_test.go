package query

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/joestump/pplxpool/internal/classify"
	"github.com/joestump/pplxpool/internal/pool"
)

type scriptedSession struct {
	id      string
	resp    *pool.SearchResponse
	err     error
	calls   *[]string
}

func (s *scriptedSession) Search(ctx context.Context, req pool.SearchRequest) (*pool.SearchResponse, error) {
	if s.calls != nil {
		*s.calls = append(*s.calls, s.id)
	}
	return s.resp, s.err
}
func (s *scriptedSession) FetchRateLimits(ctx context.Context) (*pool.RateLimits, error) {
	return &pool.RateLimits{}, nil
}
func (s *scriptedSession) Identity() pool.Credentials { return pool.Credentials{} }

func intPtr(v int) *int { return &v }

func TestRunQueryBasicRotation(t *testing.T) {
	p := pool.New()
	var calls []string
	for _, id := range []string{"a", "b", "c"} {
		p.Add(id, pool.Credentials{}, &scriptedSession{
			id:    id,
			resp:  &pool.SearchResponse{Answer: "ok from " + id},
			calls: &calls,
		})
	}

	eng := New(p, nil, nil, 0)

	seenIDs := map[string]bool{}
	for i := 0; i < 3; i++ {
		resp, err := eng.RunQuery(context.Background(), pool.SearchRequest{Query: "q", Mode: pool.ModePro})
		if err != nil {
			t.Fatalf("RunQuery #%d: %v", i, err)
		}
		if resp == nil {
			t.Fatalf("RunQuery #%d returned nil response", i)
		}
	}
	for _, id := range calls {
		seenIDs[id] = true
	}
	if len(seenIDs) != 3 {
		t.Fatalf("expected 3 distinct clients visited across 3 calls, got %v", calls)
	}

	// The fourth call should wrap back to the first visited id.
	first := calls[0]
	calls = nil
	if _, err := eng.RunQuery(context.Background(), pool.SearchRequest{Query: "q", Mode: pool.ModePro}); err != nil {
		t.Fatalf("4th RunQuery: %v", err)
	}
	if len(calls) != 1 || calls[0] != first {
		t.Fatalf("4th call visited %v, want [%s]", calls, first)
	}
}

func TestRunQueryExhaustionFallsBackToAuto(t *testing.T) {
	p := pool.New()
	p.Add("a", pool.Credentials{}, &scriptedSession{id: "a", err: errors.New("pro search limit reached")})
	ca, _ := p.Get("a")
	ca.RateLimits = &pool.RateLimits{ProRemaining: intPtr(0)}

	// Also exhausted for pro, so the primary pro-mode loop finds nothing
	// eligible and the response only comes from the auto-mode retry.
	p.Add("b", pool.Credentials{}, &scriptedSession{id: "b", resp: &pool.SearchResponse{Answer: "auto answer"}})
	cb, _ := p.Get("b")
	cb.RateLimits = &pool.RateLimits{ProRemaining: intPtr(0)}

	eng := New(p, nil, nil, 0)
	resp, err := eng.RunQuery(context.Background(), pool.SearchRequest{Query: "q", Mode: pool.ModePro})
	if err != nil {
		t.Fatalf("expected auto fallback to succeed, got error: %v", err)
	}
	if resp.Answer != "auto answer" {
		t.Fatalf("unexpected answer: %q", resp.Answer)
	}
}

func TestRunQueryEmptyResponseClassifiedNotCrashed(t *testing.T) {
	p := pool.New()
	p.Add("a", pool.Credentials{}, &scriptedSession{id: "a", resp: nil, err: nil})

	eng := New(p, nil, nil, 0)
	_, err := eng.RunQuery(context.Background(), pool.SearchRequest{Query: "q", Mode: pool.ModeAuto})
	if err == nil {
		t.Fatal("expected an error for an empty response")
	}
	re, ok := err.(*classify.Error)
	if !ok || re.Kind != classify.EmptyResponse {
		t.Fatalf("expected classify.EmptyResponse, got %#v", err)
	}
}

func TestRunQueryDeepResearchDowngradeDetected(t *testing.T) {
	p := pool.New()
	p.Add("a", pool.Credentials{}, &scriptedSession{
		id:   "a",
		resp: &pool.SearchResponse{Answer: "plain pro answer, no steps"},
	})
	// Isolate the downgrade-detection behavior from the auto-mode fallback,
	// which would otherwise happily accept this same response once
	// re-requested in auto mode.
	p.SetFallbackConfig(pool.FallbackConfig{FallbackToAuto: false})

	eng := New(p, nil, nil, 0)
	_, err := eng.RunQuery(context.Background(), pool.SearchRequest{Query: "q", Mode: pool.ModeDeepResearch})
	if err == nil {
		t.Fatal("expected an error for a downgraded deep research response")
	}

	c, _ := p.Get("a")
	research := c.RateLimits.Modes["research"]
	if research.Remaining == nil || *research.Remaining != 0 {
		t.Fatalf("expected research remaining set to 0 after downgrade, got %+v", research)
	}
}

func TestRunQueryValidationErrorSurfacesImmediately(t *testing.T) {
	p := pool.New()
	p.Add("a", pool.Credentials{}, &scriptedSession{id: "a", resp: &pool.SearchResponse{Answer: "ok"}})

	eng := New(p, nil, nil, 0)
	_, err := eng.RunQuery(context.Background(), pool.SearchRequest{Query: "", Mode: pool.ModeAuto})
	if err == nil {
		t.Fatal("expected ValidationError for an empty query")
	}
	ce, ok := err.(*classify.Error)
	if !ok || ce.Kind != classify.ValidationError {
		t.Fatalf("expected ValidationError, got %#v", err)
	}
}

func TestRunQueryAllUnavailableIncludesEarliestBackoff(t *testing.T) {
	p := pool.New()
	p.Add("a", pool.Credentials{}, &scriptedSession{id: "a"})
	ca, _ := p.Get("a")
	until := time.Now().Add(time.Hour)
	ca.BackoffUntil = until

	eng := New(p, nil, nil, 0)
	_, err := eng.RunQuery(context.Background(), pool.SearchRequest{Query: "q", Mode: pool.ModeAuto})
	if err == nil {
		t.Fatal("expected an error when all clients are in backoff")
	}
	re, ok := err.(*RunError)
	if !ok {
		t.Fatalf("expected *RunError, got %#v", err)
	}
	if re.EarliestBackoff == nil || !re.EarliestBackoff.Equal(until) {
		t.Fatalf("expected earliest backoff %v, got %v", until, re.EarliestBackoff)
	}
}

func TestRunQueryAnonymousFallback(t *testing.T) {
	p := pool.New()
	p.Add("a", pool.Credentials{}, &scriptedSession{id: "a", err: errors.New("rate limit exceeded")})
	ca, _ := p.Get("a")
	ca.RateLimits = &pool.RateLimits{ProRemaining: intPtr(0)}

	anon := &scriptedSession{id: "anon", resp: &pool.SearchResponse{Answer: "anonymous answer"}}
	eng := New(p, nil, anon, 0)

	resp, err := eng.RunQuery(context.Background(), pool.SearchRequest{Query: "q", Mode: pool.ModePro})
	if err != nil {
		t.Fatalf("expected anonymous fallback to succeed, got error: %v", err)
	}
	if resp.Answer != "anonymous answer" {
		t.Fatalf("unexpected answer: %q", resp.Answer)
	}
}
