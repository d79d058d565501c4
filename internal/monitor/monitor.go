// Package monitor runs the background health check loop over a pool: a
// cancellable, reconfigurable sleep between ticks, concurrent per-client
// quota fetches, and change notifications when a client's derived state
// flips.
package monitor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/joestump/pplxpool/internal/pool"
	"golang.org/x/sync/errgroup"
)

// Notifier delivers a change-notification event. The log notifier always
// runs; a Telegram notifier is layered on top when configured.
type Notifier interface {
	Notify(ctx context.Context, subject, body string)
}

// Monitor owns the background tick loop for one Pool.
type Monitor struct {
	pool     *pool.Pool
	notifier Notifier

	reconfigure chan struct{}
	testReq     chan testRequest
}

type testRequest struct {
	id   *string
	done chan struct{}
}

// New builds a Monitor bound to p. notifier receives one Notify call per
// client whose derived state changed across a tick.
func New(p *pool.Pool, notifier Notifier) *Monitor {
	return &Monitor{
		pool:        p,
		notifier:    notifier,
		reconfigure: make(chan struct{}, 1),
		testReq:     make(chan testRequest),
	}
}

// Reconfigure signals a sleeping tick to wake up and re-read the interval.
// Non-blocking: a pending signal is coalesced if one is already queued.
func (m *Monitor) Reconfigure() {
	select {
	case m.reconfigure <- struct{}{}:
	default:
	}
}

// Test runs one health-check cycle immediately, for a single client id (or
// every client if id is nil), regardless of the enable flag. It blocks
// until that cycle completes. The cycle is handed to Run when Run is
// waiting for work; otherwise (Run busy or not started) it runs inline.
func (m *Monitor) Test(ctx context.Context, id *string) {
	req := testRequest{id: id, done: make(chan struct{})}
	select {
	case m.testReq <- req:
		<-req.done
	case <-ctx.Done():
	default:
		m.runCycle(ctx, id)
	}
}

// Run drives the monitor loop until ctx is cancelled. When the configured
// interval has enable == false, the loop idles — waiting only on
// cancellation, reconfiguration, or a manual test request — never ticking
// on its own.
func (m *Monitor) Run(ctx context.Context) {
	for {
		cfg := m.pool.GetMonitorConfig()

		var wake <-chan time.Time
		if cfg.Enable {
			d := time.Duration(cfg.IntervalHours * float64(time.Hour))
			timer := time.NewTimer(d)
			wake = timer.C
			defer timer.Stop()
		}

		select {
		case <-ctx.Done():
			return
		case <-m.reconfigure:
			continue
		case req := <-m.testReq:
			m.runCycle(ctx, req.id)
			close(req.done)
		case <-wake:
			m.runCycle(ctx, nil)
		}
	}
}

// maxConcurrentHealthChecks bounds how many FetchRateLimits calls a single
// tick runs at once, so a pool of fifty clients does not open fifty
// concurrent upstream connections every tick.
const maxConcurrentHealthChecks = 8

// runCycle fetches quotas for the targeted clients (all enabled clients
// when id is nil) and applies the results. Fetches run concurrently via
// errgroup, bounded by maxConcurrentHealthChecks.
func (m *Monitor) runCycle(ctx context.Context, id *string) {
	clients := m.pool.Snapshot()
	prior := make(map[string]pool.State, len(clients))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentHealthChecks)
	for _, c := range clients {
		c := c
		if id != nil && c.ID != *id {
			continue
		}
		if id == nil && !c.Enabled {
			continue
		}
		prior[c.ID] = c.State()

		g.Go(func() error {
			m.checkOne(gctx, c)
			return nil
		})
	}
	_ = g.Wait()

	now := time.Now()
	for _, c := range clients {
		before, ok := prior[c.ID]
		if !ok {
			continue
		}
		if after := c.State(); after != before {
			m.notifier.Notify(ctx, fmt.Sprintf("client %s state changed", c.ID),
				fmt.Sprintf("%s: %s -> %s at %s", c.ID, before, after, now.Format(time.RFC3339)))
		}
	}
}

// checkOne calls FetchRateLimits for a single client and applies the
// result or marks the session invalid on a classified auth failure. The
// client may have been removed from the pool between Snapshot and here;
// the result is applied only if the pool's Get still returns this same
// client once the fetch completes.
func (m *Monitor) checkOne(ctx context.Context, c *pool.Client) {
	if c.Session == nil {
		return
	}
	rl, err := c.Session.FetchRateLimits(ctx)
	now := time.Now()
	if cur, ok := m.pool.Get(c.ID); !ok || cur != c {
		return
	}
	if err != nil {
		if isAuthFailure(err) {
			c.MarkInvalid(now)
		}
		return
	}
	c.ApplyRateLimits(now, rl)
}

func isAuthFailure(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "401") || strings.Contains(msg, "403") || strings.Contains(msg, "auth rejected")
}
