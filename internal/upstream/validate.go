package upstream

import (
	"github.com/joestump/pplxpool/internal/classify"
	"github.com/joestump/pplxpool/internal/pool"
)

var validModes = map[string]bool{
	pool.ModeAuto:            true,
	pool.ModePro:              true,
	pool.ModeReasoning:        true,
	pool.ModeDeepResearch:     true,
	pool.ModeAgenticResearch:  true,
}

var validSources = map[string]bool{
	"web":     true,
	"scholar": true,
	"social":  true,
}

// ValidateSearchRequest performs the structural pre-dispatch checks §4.1
// describes: unknown mode, unknown source, and a quota-known-zero
// precheck against the caller-visible rate limit snapshot. It never
// touches the pool mutex — the caller passes in whatever snapshot it has.
func ValidateSearchRequest(req pool.SearchRequest, rl *pool.RateLimits) *classify.Error {
	if req.Query == "" {
		return classify.ValidationErrorf("query must not be empty")
	}
	if !validModes[req.Mode] {
		return classify.ValidationErrorf("unknown mode %q", req.Mode)
	}
	for _, src := range req.Sources {
		if !validSources[src] {
			return classify.ValidationErrorf("unknown source %q", src)
		}
	}

	if rl == nil {
		return nil
	}
	switch req.Mode {
	case pool.ModePro, pool.ModeReasoning:
		if rl.ProRemaining != nil && *rl.ProRemaining == 0 {
			return classify.New(classify.ValidationError, "No remaining pro queries.")
		}
	case pool.ModeDeepResearch:
		if research, ok := rl.Modes["research"]; ok && research.Remaining != nil && *research.Remaining == 0 {
			return classify.New(classify.ValidationError, "No remaining pro queries.")
		}
	}
	return nil
}

// NormalizeSearchRequest applies the default-filling step of run_query's
// validation stage: sources defaults to ["web"], files defaults to {}.
func NormalizeSearchRequest(req pool.SearchRequest) pool.SearchRequest {
	if len(req.Sources) == 0 {
		req.Sources = []string{"web"}
	}
	if req.Files == nil {
		req.Files = map[string]string{}
	}
	return req
}
