package store

import (
	"encoding/json"
	"os"
	"time"

	"github.com/joestump/pplxpool/internal/pool"
)

// ClientState is the persisted, mutable part of a client wrapper: the
// counters, backoff window, and quota snapshot a StateStore shares across
// the admin-server and mcp-server processes (§5, cross-process state).
type ClientState struct {
	ID                  string           `json:"id"`
	SessionValid        *bool            `json:"session_valid"`
	RateLimits          *pool.RateLimits `json:"rate_limits"`
	LastCheckAt         *time.Time       `json:"last_check_at"`
	RequestCount        int              `json:"request_count"`
	FailCount           int              `json:"fail_count"`
	BackoffUntil        time.Time        `json:"backoff_until"`
	ConsecutiveFailures int              `json:"consecutive_failures"`
}

type stateFile struct {
	Clients   []ClientState `json:"clients"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// StateStore reads and atomically writes the cross-process state file
// (pool_state.json). Unlike ConfigStore, a malformed or missing file is
// never fatal: the reading process falls back to whatever it already has
// in memory and tries again on the next refresh (§5, eventual
// consistency, best-effort).
type StateStore struct {
	Path string
}

// NewStateStore builds a store bound to path.
func NewStateStore(path string) *StateStore {
	return &StateStore{Path: path}
}

// Load reads the state file. A missing or malformed file returns a nil
// slice and no error: callers must treat this as "no update available",
// not as a fatal condition.
func (s *StateStore) Load() ([]ClientState, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, nil
	}

	var sf stateFile
	if err := json.Unmarshal(data, &sf); err != nil {
		return nil, nil
	}
	return sf.Clients, nil
}

// Save writes the given states atomically, stamped with the current time.
func (s *StateStore) Save(states []ClientState, now time.Time) error {
	sf := stateFile{Clients: states, UpdatedAt: now}
	data, err := json.MarshalIndent(sf, "", "  ")
	if err != nil {
		return err
	}
	return writeAtomic(s.Path, data)
}

// SnapshotFromPool builds the state list a Save call needs from a live pool.
func SnapshotFromPool(p *pool.Pool) []ClientState {
	clients := p.Snapshot()
	out := make([]ClientState, 0, len(clients))
	for _, c := range clients {
		out = append(out, ClientState{
			ID:                  c.ID,
			SessionValid:        c.SessionValid,
			RateLimits:          c.RateLimits,
			LastCheckAt:         c.LastCheckAt,
			RequestCount:        c.RequestCount,
			FailCount:           c.FailCount,
			BackoffUntil:        c.BackoffUntil,
			ConsecutiveFailures: c.ConsecutiveFailures,
		})
	}
	return out
}

// ApplyToPool merges a loaded state snapshot back into a pool, updating
// only the clients that already exist there (new/removed clients are a
// config-file concern, not a state-file one).
func ApplyToPool(p *pool.Pool, states []ClientState) {
	for _, st := range states {
		c, ok := p.Get(st.ID)
		if !ok {
			continue
		}
		c.SessionValid = st.SessionValid
		c.RateLimits = st.RateLimits
		c.LastCheckAt = st.LastCheckAt
		c.RequestCount = st.RequestCount
		c.FailCount = st.FailCount
		c.BackoffUntil = st.BackoffUntil
		c.ConsecutiveFailures = st.ConsecutiveFailures
	}
}
