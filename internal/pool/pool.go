package pool

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/joestump/pplxpool/internal/classify"
)

// MonitorConfig mirrors the monitor section of the master config file.
type MonitorConfig struct {
	Enable        bool    `json:"enable"`
	IntervalHours float64 `json:"interval"`
	TGBotToken    *string `json:"tg_bot_token,omitempty"`
	TGChatID      *string `json:"tg_chat_id,omitempty"`
}

// clampInterval enforces the >= 0.1 hour floor from the data model.
func (m *MonitorConfig) clampInterval() {
	if m.IntervalHours < 0.1 {
		m.IntervalHours = 0.1
	}
}

// FallbackConfig mirrors the fallback section of the master config file.
type FallbackConfig struct {
	FallbackToAuto bool `json:"fallback_to_auto"`
}

// Pool owns every client wrapper, the round-robin cursor, and the
// monitor/fallback configuration. Exactly one mutex guards all of it;
// network I/O never happens while the mutex is held (§4.3/§5).
type Pool struct {
	mu sync.Mutex

	order   []string // insertion order = round-robin order
	clients map[string]*Client
	cursor  int

	Monitor  MonitorConfig
	Fallback FallbackConfig

	// OnConfigChange and OnStateChange are invoked after a mutation of,
	// respectively, configuration or runtime state completes. They are
	// called synchronously, after p.mu has been released, so a hook may
	// do blocking I/O and call back into the pool.
	OnConfigChange func()
	OnStateChange  func()
}

// New creates an empty Pool with the pool-default fallback configuration
// (fallback_to_auto enabled).
func New() *Pool {
	return &Pool{
		clients:  make(map[string]*Client),
		Fallback: FallbackConfig{FallbackToAuto: true},
	}
}

// ClientRef is a lightweight handle returned by Acquire: the id plus a
// pointer to the live Client so callers can act on it after releasing the
// pool lock.
type ClientRef struct {
	ID     string
	Client *Client
}

// Add registers a new client. If id is empty, a uuid is generated. Adding
// a token with the same id as an existing, different client is rejected;
// removing and re-adding with the same id is allowed.
func (p *Pool) Add(id string, creds Credentials, session Session) (*Client, error) {
	p.mu.Lock()

	if id == "" {
		id = uuid.NewString()
	}
	if _, exists := p.clients[id]; exists {
		p.mu.Unlock()
		return nil, fmt.Errorf("pool: client %q already exists", id)
	}

	c := NewClient(id, creds, session)
	p.clients[id] = c
	p.order = append(p.order, id)
	p.mu.Unlock()

	p.notifyConfigChanged()
	return c, nil
}

// Remove deletes a client by id. Removing a nonexistent id is a no-op.
func (p *Pool) Remove(id string) {
	p.mu.Lock()

	if _, ok := p.clients[id]; !ok {
		p.mu.Unlock()
		return
	}
	delete(p.clients, id)
	for i, existing := range p.order {
		if existing == id {
			p.order = append(p.order[:i], p.order[i+1:]...)
			break
		}
	}
	if p.cursor >= len(p.order) {
		p.cursor = 0
	}
	p.mu.Unlock()

	p.notifyConfigChanged()
}

// Enable/Disable toggle the operator flag and persist the config change.
func (p *Pool) Enable(id string) error  { return p.setEnabled(id, true) }
func (p *Pool) Disable(id string) error { return p.setEnabled(id, false) }

func (p *Pool) setEnabled(id string, enabled bool) error {
	p.mu.Lock()

	c, ok := p.clients[id]
	if !ok {
		p.mu.Unlock()
		return fmt.Errorf("pool: client %q not found", id)
	}
	c.Enabled = enabled
	p.mu.Unlock()

	p.notifyConfigChanged()
	return nil
}

// ResetBackoff clears a client's backoff window. Idempotent.
func (p *Pool) ResetBackoff(id string) error {
	p.mu.Lock()

	c, ok := p.clients[id]
	if !ok {
		p.mu.Unlock()
		return fmt.Errorf("pool: client %q not found", id)
	}
	c.Reset()
	p.mu.Unlock()

	p.notifyStateChanged()
	return nil
}

// Get returns the client for id, or false if it does not exist. The
// returned pointer is live; callers must not mutate fields that require
// the pool's invariants (counters, backoff) without going through the
// pool's own methods or Record*/ApplyRateLimits under an external lock
// discipline matching §5 (snapshot under lock, mutate result under
// lock again after I/O completes).
func (p *Pool) Get(id string) (*Client, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.clients[id]
	return c, ok
}

// Snapshot returns a shallow copy of the ordered client list for read-only
// iteration (e.g. admin "export", monitor fan-out) without holding the
// lock for the duration of the caller's work.
func (p *Pool) Snapshot() []*Client {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*Client, 0, len(p.order))
	for _, id := range p.order {
		out = append(out, p.clients[id])
	}
	return out
}

// Len reports the number of registered clients.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.order)
}

// Acquire returns, in round-robin order starting at the cursor, the first
// client for which Enabled && IsAvailable(now) && HasQuota(mode) holds. It
// advances the cursor past the returned client. Returns (nil, false) if no
// client qualifies (§4.3).
func (p *Pool) Acquire(mode string, now time.Time) (ClientRef, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := len(p.order)
	if n == 0 {
		return ClientRef{}, false
	}

	for i := 0; i < n; i++ {
		idx := (p.cursor + i) % n
		id := p.order[idx]
		c := p.clients[id]
		if c == nil {
			continue
		}
		if c.Enabled && c.IsAvailable(now) && c.HasQuota(mode) {
			p.cursor = (idx + 1) % n
			return ClientRef{ID: id, Client: c}, true
		}
	}
	return ClientRef{}, false
}

// EarliestBackoff returns the soonest BackoffUntil across all enabled
// clients, for inclusion in an "all unavailable" error.
func (p *Pool) EarliestBackoff() (time.Time, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var earliest time.Time
	found := false
	for _, id := range p.order {
		c := p.clients[id]
		if c == nil || !c.Enabled {
			continue
		}
		if !found || c.BackoffUntil.Before(earliest) {
			earliest = c.BackoffUntil
			found = true
		}
	}
	return earliest, found
}

// RecordSuccess applies a success outcome and, for quota-bearing modes,
// the local-optimism decrement, then notifies state persistence.
func (p *Pool) RecordSuccess(id string, mode string) {
	p.mu.Lock()

	c, ok := p.clients[id]
	if !ok {
		p.mu.Unlock()
		return
	}
	c.RecordSuccess()
	c.DecrementLocalQuota(mode)
	p.mu.Unlock()

	p.notifyStateChanged()
}

// RecordFailure applies a failure outcome and notifies state persistence.
func (p *Pool) RecordFailure(id string, now time.Time, kind classify.Kind) {
	p.mu.Lock()

	c, ok := p.clients[id]
	if !ok {
		p.mu.Unlock()
		return
	}
	c.RecordFailure(now, kind)
	p.mu.Unlock()

	p.notifyStateChanged()
}

// SetMonitorConfig replaces the monitor configuration, clamping the
// interval, and notifies config persistence.
func (p *Pool) SetMonitorConfig(cfg MonitorConfig) {
	cfg.clampInterval()
	p.mu.Lock()
	p.Monitor = cfg
	p.mu.Unlock()
	p.notifyConfigChanged()
}

// GetMonitorConfig returns a copy of the current monitor configuration.
func (p *Pool) GetMonitorConfig() MonitorConfig {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Monitor
}

// SetFallbackConfig replaces the fallback configuration.
func (p *Pool) SetFallbackConfig(cfg FallbackConfig) {
	p.mu.Lock()
	p.Fallback = cfg
	p.mu.Unlock()
	p.notifyConfigChanged()
}

// GetFallbackConfig returns a copy of the current fallback configuration.
func (p *Pool) GetFallbackConfig() FallbackConfig {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Fallback
}

// notifyConfigChanged/notifyStateChanged fire the registered hooks. Every
// caller releases p.mu before invoking them, since a hook is free to call
// back into the pool (Snapshot, GetMonitorConfig, ...) and p.mu is not
// reentrant.
func (p *Pool) notifyConfigChanged() {
	if p.OnConfigChange != nil {
		p.OnConfigChange()
	}
}

func (p *Pool) notifyStateChanged() {
	if p.OnStateChange != nil {
		p.OnStateChange()
	}
}
