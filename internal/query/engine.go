// Package query implements run_query: input validation, cross-process
// state sync, the primary selection loop with its seen-set contract, the
// auto-mode fallback, and the final anonymous fallback leg.
package query

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joestump/pplxpool/internal/classify"
	"github.com/joestump/pplxpool/internal/pool"
	"github.com/joestump/pplxpool/internal/store"
	"github.com/joestump/pplxpool/internal/upstream"
)

var (
	structValidatorOnce sync.Once
	structValidator     *validator.Validate
)

var validModeSet = map[string]bool{
	pool.ModeAuto:            true,
	pool.ModePro:             true,
	pool.ModeReasoning:       true,
	pool.ModeDeepResearch:    true,
	pool.ModeAgenticResearch: true,
}

func getStructValidator() *validator.Validate {
	structValidatorOnce.Do(func() {
		structValidator = validator.New()
		// oneof can't express "deep research" (the tag splits its
		// parameter list on whitespace), so mode membership is its own
		// registered validation instead.
		_ = structValidator.RegisterValidation("validmode", func(fl validator.FieldLevel) bool {
			return validModeSet[fl.Field().String()]
		})
	})
	return structValidator
}

// requestShape is the first-pass structural gate ahead of the
// quota-known-zero check in ValidateSearchRequest (which needs a live
// RateLimits snapshot) and the downgrade-shape check that attempt applies
// to the response; validator tags cannot express either.
type requestShape struct {
	Query   string   `validate:"required"`
	Mode    string   `validate:"required,validmode"`
	Sources []string `validate:"dive,oneof=web scholar social"`
}

func validateRequestShape(req pool.SearchRequest) *classify.Error {
	shape := requestShape{Query: req.Query, Mode: req.Mode, Sources: req.Sources}
	if err := getStructValidator().Struct(shape); err != nil {
		verrs, ok := err.(validator.ValidationErrors)
		if !ok {
			return classify.ValidationErrorf("%v", err)
		}
		fields := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			fields = append(fields, fe.Field())
		}
		return classify.ValidationErrorf("invalid request: %s", strings.Join(fields, ", "))
	}
	return nil
}

// Engine runs queries against a pool, syncing from a shared state file
// before each call so a sibling process's mutations become visible.
type Engine struct {
	Pool             *pool.Pool
	StateStore       *store.StateStore
	AnonymousSession pool.Session
	RequestTimeout   time.Duration
}

// New builds an Engine. requestTimeout is the per-upstream-call deadline
// (§5, default 900s); stateStore may be nil to disable cross-process sync
// (used by tests and by a single-process deployment).
func New(p *pool.Pool, stateStore *store.StateStore, anon pool.Session, requestTimeout time.Duration) *Engine {
	return &Engine{Pool: p, StateStore: stateStore, AnonymousSession: anon, RequestTimeout: requestTimeout}
}

// RunError is the structured failure surfaced to callers on total
// exhaustion: the last classified error plus, when relevant, the earliest
// backoff_until in the pool.
type RunError struct {
	Kind            classify.Kind
	Message         string
	EarliestBackoff *time.Time
}

func (e *RunError) Error() string {
	if e.EarliestBackoff != nil {
		return fmt.Sprintf("%s (earliest retry at %s)", e.Message, e.EarliestBackoff.Format(time.RFC3339))
	}
	return e.Message
}

// RunQuery executes the full six-step algorithm described by the query
// engine design: validate, sync, primary loop, auto-mode fallback,
// anonymous fallback, surface the last error.
func (e *Engine) RunQuery(ctx context.Context, req pool.SearchRequest) (*pool.SearchResponse, error) {
	req = upstream.NormalizeSearchRequest(req)
	if verr := validateRequestShape(req); verr != nil {
		return nil, verr
	}
	if verr := upstream.ValidateSearchRequest(req, nil); verr != nil {
		return nil, verr
	}

	e.syncState()

	resp, lastErr := e.loop(ctx, req, req.Mode)
	if resp != nil {
		return resp, nil
	}

	if isQuotaGatedMode(req.Mode) && e.Pool.GetFallbackConfig().FallbackToAuto {
		autoReq := req
		autoReq.Mode = pool.ModeAuto
		autoReq.Model = ""
		resp, autoErr := e.loop(ctx, autoReq, pool.ModeAuto)
		if resp != nil {
			return resp, nil
		}
		if autoErr != nil {
			lastErr = autoErr
		}

		if e.AnonymousSession != nil {
			anonResp, anonErr := e.runAnonymous(ctx, autoReq)
			if anonResp != nil {
				return anonResp, nil
			}
			if anonErr != nil {
				lastErr = anonErr
			}
		}
	}

	if lastErr == nil {
		lastErr = &RunError{Kind: classify.Fatal, Message: "no clients available"}
	}
	return nil, lastErr
}

func isQuotaGatedMode(mode string) bool {
	return mode == pool.ModePro || mode == pool.ModeReasoning || mode == pool.ModeDeepResearch
}

// loop is the primary selection loop (§4.5 step 3): up to 2*|pool|
// iterations, tracking seen ids so acquire's cursor wraparound cannot
// cause the loop to spin forever or revisit a client more than once per
// call, per the seen-set contract.
func (e *Engine) loop(ctx context.Context, req pool.SearchRequest, mode string) (*pool.SearchResponse, error) {
	n := e.Pool.Len()
	if n == 0 {
		return nil, e.allUnavailableError()
	}

	seen := make(map[string]bool, n)
	var lastErr error
	maxIterations := 2 * n

	for i := 0; i < maxIterations; i++ {
		ref, ok := e.Pool.Acquire(mode, time.Now())
		if !ok {
			if lastErr == nil {
				lastErr = e.allUnavailableError()
			}
			break
		}
		if seen[ref.ID] {
			if len(seen) >= n {
				break
			}
			continue
		}
		seen[ref.ID] = true

		resp, cerr := e.attempt(ctx, ref, req, mode)
		if cerr == nil {
			return resp, nil
		}
		lastErr = cerr
		if len(seen) >= n {
			break
		}
	}
	return nil, lastErr
}

// attempt dispatches one search against a single acquired client and
// applies the resulting success/failure bookkeeping.
func (e *Engine) attempt(ctx context.Context, ref pool.ClientRef, req pool.SearchRequest, mode string) (*pool.SearchResponse, error) {
	if verr := upstream.ValidateSearchRequest(req, ref.Client.RateLimits); verr != nil {
		return nil, verr
	}

	callCtx := ctx
	var cancel context.CancelFunc
	if e.RequestTimeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, e.RequestTimeout)
		defer cancel()
	}

	resp, err := ref.Client.Session.Search(callCtx, req)
	now := time.Now()

	if err != nil {
		kind := classifySearchErr(err)
		e.Pool.RecordFailure(ref.ID, now, kind)
		e.saveState()
		return nil, classify.Wrap(kind, err)
	}

	if resp.IsEmpty() {
		e.Pool.RecordFailure(ref.ID, now, classify.EmptyResponse)
		e.saveState()
		return nil, classify.New(classify.EmptyResponse, "dropped connection: stream ended without a result")
	}

	if resp.LooksLikeDowngrade(mode) {
		e.markDowngrade(ref)
		e.Pool.RecordFailure(ref.ID, now, classify.SilentDowngrade)
		e.saveState()
		return nil, classify.New(classify.SilentDowngrade, "upstream silently downgraded a deep research request")
	}

	e.Pool.RecordSuccess(ref.ID, mode)
	e.saveState()
	return resp, nil
}

// markDowngrade sets the client's research remaining counter to 0, per the
// per-client action for SilentDowngrade.
func (e *Engine) markDowngrade(ref pool.ClientRef) {
	c := ref.Client
	if c.RateLimits == nil {
		c.RateLimits = &pool.RateLimits{Modes: map[string]pool.ModeQuota{}}
	}
	if c.RateLimits.Modes == nil {
		c.RateLimits.Modes = map[string]pool.ModeQuota{}
	}
	zero := 0
	c.RateLimits.Modes["research"] = pool.ModeQuota{Remaining: &zero}
}

func classifySearchErr(err error) classify.Kind {
	if cerr, ok := err.(*classify.Error); ok {
		return cerr.Kind
	}
	return classify.FromMessage(err.Error())
}

// runAnonymous is the final fallback leg (§4.5 step 5): a one-shot,
// cookie-free session in auto mode.
func (e *Engine) runAnonymous(ctx context.Context, req pool.SearchRequest) (*pool.SearchResponse, error) {
	callCtx := ctx
	var cancel context.CancelFunc
	if e.RequestTimeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, e.RequestTimeout)
		defer cancel()
	}
	resp, err := e.AnonymousSession.Search(callCtx, req)
	if err != nil {
		kind := classifySearchErr(err)
		return nil, classify.Wrap(kind, err)
	}
	if resp.IsEmpty() {
		return nil, classify.New(classify.EmptyResponse, "dropped connection: anonymous stream ended without a result")
	}
	return resp, nil
}

// allUnavailableError reports total exhaustion, including the earliest
// backoff_until in the pool so a human can decide whether to wait.
func (e *Engine) allUnavailableError() error {
	re := &RunError{Kind: classify.Fatal, Message: "no clients available"}
	if earliest, ok := e.Pool.EarliestBackoff(); ok {
		re.EarliestBackoff = &earliest
	}
	return re
}

// syncState refreshes the in-memory pool from the shared state file, the
// mechanism that lets the stdio front-end see the admin-server's updates.
func (e *Engine) syncState() {
	if e.StateStore == nil {
		return
	}
	states, err := e.StateStore.Load()
	if err != nil || states == nil {
		return
	}
	store.ApplyToPool(e.Pool, states)
}

// saveState writes the pool's current runtime state back to the shared
// file. Failures are not fatal to the request that triggered them — the
// next sync will retry.
func (e *Engine) saveState() {
	if e.StateStore == nil {
		return
	}
	states := store.SnapshotFromPool(e.Pool)
	_ = e.StateStore.Save(states, time.Now())
}
