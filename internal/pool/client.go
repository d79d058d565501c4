package pool

import (
	"time"

	"github.com/joestump/pplxpool/internal/classify"
)

// backoffBase and backoffCap define the exponential backoff ladder:
// 60s, 120s, 240s, ... capped at 3600s.
const (
	backoffBase = 60 * time.Second
	backoffCap  = 3600 * time.Second
)

// backoffDuration computes the backoff window for the nth consecutive
// failure (n >= 1).
func backoffDuration(consecutiveFailures int) time.Duration {
	if consecutiveFailures <= 0 {
		return 0
	}
	d := backoffBase
	for i := 1; i < consecutiveFailures; i++ {
		d *= 2
		if d >= backoffCap {
			return backoffCap
		}
	}
	return d
}

// Client is the mutable per-session record a pool owns (§3
// ClientWrapper). Its id is stable and unique within the owning Pool.
type Client struct {
	ID          string
	Credentials Credentials
	Session     Session

	Enabled      bool
	SessionValid SessionValidity // nil = unknown
	RateLimits   *RateLimits
	LastCheckAt  *time.Time

	RequestCount int
	FailCount    int

	BackoffUntil        time.Time
	ConsecutiveFailures int
}

// NewClient constructs a Client in its default lifecycle state: enabled,
// validity unknown until the first health check, no backoff.
func NewClient(id string, creds Credentials, session Session) *Client {
	return &Client{
		ID:          id,
		Credentials: creds,
		Session:     session,
		Enabled:     true,
	}
}

// HasQuota reports whether the client's known quota permits a request in
// the given mode (§4.2).
func (c *Client) HasQuota(mode string) bool {
	if c.SessionValid != nil && !*c.SessionValid {
		return false
	}
	switch mode {
	case ModePro, ModeReasoning:
		if c.RateLimits == nil || c.RateLimits.ProRemaining == nil {
			return true
		}
		return *c.RateLimits.ProRemaining > 0
	case ModeDeepResearch:
		if c.RateLimits == nil {
			return true
		}
		research, ok := c.RateLimits.Modes["research"]
		if !ok || research.Remaining == nil {
			return true
		}
		return *research.Remaining > 0
	case ModeAuto:
		return true
	default:
		return true
	}
}

// IsAvailable reports whether the client is enabled and not currently
// serving a backoff window.
func (c *Client) IsAvailable(now time.Time) bool {
	return c.Enabled && !now.Before(c.BackoffUntil)
}

// State derives the display label from SessionValid + RateLimits (§3).
// It is computed fresh on every call, never stored.
func (c *Client) State() State {
	if c.SessionValid != nil && !*c.SessionValid {
		return StateOffline
	}
	if c.SessionValid == nil {
		return StateUnknown
	}
	if c.RateLimits != nil && c.RateLimits.ProRemaining != nil && *c.RateLimits.ProRemaining == 0 {
		return StateExhausted
	}
	return StateNormal
}

// RecordSuccess clears backoff and bumps the request counter (§4.2).
func (c *Client) RecordSuccess() {
	c.RequestCount++
	c.ConsecutiveFailures = 0
	c.BackoffUntil = time.Time{}
}

// RecordFailure bumps the failure counters and sets a new backoff window.
// A SessionInvalid classification additionally marks the session invalid,
// excluding it from selection until a manual re-test or monitor success.
func (c *Client) RecordFailure(now time.Time, kind classify.Kind) {
	c.FailCount++
	c.ConsecutiveFailures++
	c.BackoffUntil = now.Add(backoffDuration(c.ConsecutiveFailures))
	if kind == classify.SessionInvalid {
		c.SessionValid = validFalse()
	}
}

// ApplyRateLimits atomically replaces the quota snapshot and marks the
// session valid, as only the monitor or an explicit health check does.
func (c *Client) ApplyRateLimits(now time.Time, rl *RateLimits) {
	c.RateLimits = rl
	c.SessionValid = validTrue()
	c.LastCheckAt = &now
}

// MarkInvalid is used by the monitor when a health check fails with a
// classified auth error, without touching the rest of the quota snapshot.
func (c *Client) MarkInvalid(now time.Time) {
	c.SessionValid = validFalse()
	c.LastCheckAt = &now
}

// DecrementLocalQuota applies the local-optimism decrement (§4.3): a
// successful pro/reasoning/deep-research query decrements the relevant
// local counter so a burst of concurrent requests does not pick the same
// soon-to-be-exhausted client twice before the next monitor tick. A
// successful "pro" request never decrements "reasoning" or vice versa: the
// RateLimits model (§3) has a single shared ProRemaining counter for both,
// so this is a structural no-op beyond the one decrement below.
func (c *Client) DecrementLocalQuota(mode string) {
	if c.RateLimits == nil {
		return
	}
	switch mode {
	case ModePro, ModeReasoning:
		if c.RateLimits.ProRemaining != nil && *c.RateLimits.ProRemaining > 0 {
			v := *c.RateLimits.ProRemaining - 1
			c.RateLimits.ProRemaining = &v
		}
	case ModeDeepResearch:
		if research, ok := c.RateLimits.Modes["research"]; ok && research.Remaining != nil && *research.Remaining > 0 {
			v := *research.Remaining - 1
			research.Remaining = &v
			c.RateLimits.Modes["research"] = research
		}
	}
}

// Reset clears the client's backoff window and consecutive-failure count.
// Idempotent: calling it twice leaves the same state as calling it once.
func (c *Client) Reset() {
	c.BackoffUntil = time.Time{}
	c.ConsecutiveFailures = 0
}
