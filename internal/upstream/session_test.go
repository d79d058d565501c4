package upstream

import (
	"strings"
	"testing"
	"time"
)

func TestParseSSEPlainAnswer(t *testing.T) {
	stream := "data: {\"text\":\"partial\"}\n\n" +
		"data: {\"text\":\"the final answer\",\"final\":true,\"sources\":[{\"url\":\"https://example.com\"}]}\n\n"

	resp, err := parseSSE(strings.NewReader(stream))
	if err != nil {
		t.Fatalf("parseSSE: %v", err)
	}
	if resp == nil {
		t.Fatal("expected non-nil response")
	}
	if resp.Answer != "the final answer" {
		t.Fatalf("Answer = %q, want %q", resp.Answer, "the final answer")
	}
	if len(resp.Steps) != 0 {
		t.Fatalf("expected no steps for a plain answer, got %v", resp.Steps)
	}
	if len(resp.Sources) != 1 || resp.Sources[0] != "https://example.com" {
		t.Fatalf("unexpected sources: %v", resp.Sources)
	}
}

func TestParseSSEDeepResearchSteps(t *testing.T) {
	stream := `data: {"text":"summary","final":true,"steps":[{"title":"step one","content":"c1"},{"title":"step two","content":"c2"}]}` + "\n\n"

	resp, err := parseSSE(strings.NewReader(stream))
	if err != nil {
		t.Fatalf("parseSSE: %v", err)
	}
	if len(resp.Steps) != 2 {
		t.Fatalf("expected 2 steps, got %d", len(resp.Steps))
	}
}

func TestParseSSENoFinalMarkerIsEmptyResponse(t *testing.T) {
	stream := "data: {\"text\":\"partial one\"}\n\ndata: {\"text\":\"partial two\"}\n\n"

	resp, err := parseSSE(strings.NewReader(stream))
	if err != nil {
		t.Fatalf("parseSSE: %v", err)
	}
	if resp != nil {
		t.Fatalf("expected nil response for a stream with no final marker, got %+v", resp)
	}
}

func TestParseSSEEmptyStream(t *testing.T) {
	resp, err := parseSSE(strings.NewReader(""))
	if err != nil {
		t.Fatalf("parseSSE: %v", err)
	}
	if resp != nil {
		t.Fatal("expected nil response for an empty stream")
	}
}

func TestParseRateLimits(t *testing.T) {
	body := []byte(`{"pro_remaining": 3, "modes": {"research": {"available": true, "remaining": 2, "kind": "deep"}}}`)
	rl, err := parseRateLimits(body, time.Now())
	if err != nil {
		t.Fatalf("parseRateLimits: %v", err)
	}
	if rl.ProRemaining == nil || *rl.ProRemaining != 3 {
		t.Fatalf("ProRemaining = %v, want 3", rl.ProRemaining)
	}
	research, ok := rl.Modes["research"]
	if !ok || research.Remaining == nil || *research.Remaining != 2 {
		t.Fatalf("unexpected research mode quota: %+v", research)
	}
}
