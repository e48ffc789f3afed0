package filter

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/imsgguard/imsg-guard/api"
	"github.com/imsgguard/imsg-guard/internal/policy"
)

// RateLimitConfig defines send rate limiting rules.
type RateLimitConfig struct {
	// Global is the limit across all contacts.
	Global *RateLimit

	// PerContact maps aliases to per-contact limits.
	PerContact map[string]*RateLimit
}

// RateLimit defines a single limit: max sends per time window.
type RateLimit struct {
	Max    int
	Window time.Duration
}

// slidingWindow tracks send timestamps for rate limiting.
type slidingWindow struct {
	mu         sync.Mutex
	timestamps []time.Time
}

// RateLimitFilter enforces per-contact and global send limits using a
// sliding window. It runs after the policy filter so that it can key on the
// resolved alias and so that policy blocks take precedence.
type RateLimitFilter struct {
	config  RateLimitConfig
	mu      sync.RWMutex
	windows map[string]*slidingWindow // key: alias or "_global"
}

// NewRateLimitFilter creates a new rate limit filter.
func NewRateLimitFilter(config RateLimitConfig) *RateLimitFilter {
	return &RateLimitFilter{
		config:  config,
		windows: make(map[string]*slidingWindow),
	}
}

func (f *RateLimitFilter) Name() string { return "rate_limit" }

func (f *RateLimitFilter) Process(_ context.Context, fc *Context) error {
	if fc.Direction != api.DirectionOutbound || fc.Halted {
		return nil
	}
	if fc.Method() != policy.SendMethod {
		return nil
	}

	now := time.Now()

	// The policy filter recorded the resolved destination.
	alias := ""
	if fc.Decision != nil {
		alias = fc.Decision.Identity
	}

	if alias != "" {
		if limit, ok := f.config.PerContact[alias]; ok {
			if !f.allow(alias, limit, now) {
				f.block(fc, fmt.Sprintf("send rate limit exceeded for %q: max %d per %s",
					alias, limit.Max, limit.Window), alias)
				return nil
			}
		}
	}

	if f.config.Global != nil {
		if !f.allow("_global", f.config.Global, now) {
			f.block(fc, fmt.Sprintf("global send rate limit exceeded: max %d per %s",
				f.config.Global.Max, f.config.Global.Window), alias)
			return nil
		}
	}

	return nil
}

func (f *RateLimitFilter) block(fc *Context, message, identity string) {
	fc.Decision = &api.Decision{
		Action:   api.ActionBlock,
		Reason:   api.ReasonRateLimited,
		Message:  message,
		Identity: identity,
	}
	fc.Halted = true
}

// allow checks if a send is allowed under the given limit.
func (f *RateLimitFilter) allow(key string, limit *RateLimit, now time.Time) bool {
	f.mu.Lock()
	w, ok := f.windows[key]
	if !ok {
		w = &slidingWindow{}
		f.windows[key] = w
	}
	f.mu.Unlock()

	w.mu.Lock()
	defer w.mu.Unlock()

	// Remove expired timestamps
	cutoff := now.Add(-limit.Window)
	valid := 0
	for _, ts := range w.timestamps {
		if ts.After(cutoff) {
			w.timestamps[valid] = ts
			valid++
		}
	}
	w.timestamps = w.timestamps[:valid]

	if len(w.timestamps) >= limit.Max {
		return false
	}

	w.timestamps = append(w.timestamps, now)
	return true
}

// Reset clears all rate limit windows (useful for testing).
func (f *RateLimitFilter) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.windows = make(map[string]*slidingWindow)
}
