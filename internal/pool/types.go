// Package pool implements the client-pool scheduler: the round-robin
// rotation over candidate sessions, the per-session backoff state machine,
// and the mode-aware quota filter.
package pool

import "time"

// Modes accepted by Acquire/HasQuota/Search.
const (
	ModeAuto            = "auto"
	ModePro             = "pro"
	ModeReasoning       = "reasoning"
	ModeDeepResearch    = "deep research"
	ModeAgenticResearch = "agentic_research"
)

// ModeQuota is the availability snapshot for a single named upstream mode.
type ModeQuota struct {
	Available bool    `json:"available"`
	Remaining *int    `json:"remaining"` // nil means "unknown"
	Kind      *string `json:"kind"`
}

// RateLimits is a snapshot of upstream quotas at a point in time.
type RateLimits struct {
	ProRemaining *int                 `json:"pro_remaining"` // nil means "unknown"
	Modes        map[string]ModeQuota `json:"modes"`
	FetchedAt    time.Time            `json:"fetched_at"`
}

// State is the derived, read-only display label computed from
// session_valid and rate_limits. It is never stored.
type State string

const (
	StateOffline   State = "offline"
	StateUnknown   State = "unknown"
	StateExhausted State = "exhausted"
	StateNormal    State = "normal"
)

// SessionValidity is a tri-state: true, false, or unknown (nil).
type SessionValidity = *bool

func validTrue() *bool  { v := true; return &v }
func validFalse() *bool { v := false; return &v }
