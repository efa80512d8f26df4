// Package security holds the per-caller admission state: sliding-window rate
// limits and idle-expiring sessions. Every key owns its own lock so callers
// never contend with each other.
package security

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

const (
	DefaultMaxRequests = 100
	DefaultWindow      = 60 * time.Second
)

// rateWindow is one caller's request timestamps, oldest first.
type rateWindow struct {
	mu     sync.Mutex
	stamps []time.Time
	// dead is set once the window has been swept out of the map. A caller
	// holding a stale pointer must reload.
	dead bool
}

// prune drops timestamps that fell out of the trailing window.
func (w *rateWindow) prune(now time.Time, window time.Duration) {
	i := 0
	for i < len(w.stamps) && now.Sub(w.stamps[i]) >= window {
		i++
	}
	if i > 0 {
		w.stamps = append(w.stamps[:0], w.stamps[i:]...)
	}
}

// RateLimiter admits at most maxRequests per caller in any trailing window.
type RateLimiter struct {
	maxRequests int
	window      time.Duration
	clock       clockwork.Clock
	logger      *zap.Logger

	windows sync.Map // caller ID -> *rateWindow
}

// NewRateLimiter creates a limiter. Zero values fall back to 100 per 60s.
func NewRateLimiter(maxRequests int, window time.Duration, clock clockwork.Clock, logger *zap.Logger) *RateLimiter {
	if maxRequests <= 0 {
		maxRequests = DefaultMaxRequests
	}
	if window <= 0 {
		window = DefaultWindow
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RateLimiter{
		maxRequests: maxRequests,
		window:      window,
		clock:       clock,
		logger:      logger.Named("ratelimit"),
	}
}

// Admit records a request for callerID and reports whether it fits. A
// rejected request leaves the window untouched.
func (r *RateLimiter) Admit(callerID string) bool {
	for {
		v, _ := r.windows.LoadOrStore(callerID, &rateWindow{})
		w := v.(*rateWindow)

		w.mu.Lock()
		if w.dead {
			w.mu.Unlock()
			continue
		}
		now := r.clock.Now()
		w.prune(now, r.window)
		if len(w.stamps) >= r.maxRequests {
			w.mu.Unlock()
			r.logger.Debug("Request rejected by rate limit.", zap.String("caller_id", callerID))
			return false
		}
		w.stamps = append(w.stamps, now)
		w.mu.Unlock()
		return true
	}
}

// Remaining reports how many more requests callerID may make right now.
func (r *RateLimiter) Remaining(callerID string) int {
	v, ok := r.windows.Load(callerID)
	if !ok {
		return r.maxRequests
	}
	w := v.(*rateWindow)

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.dead {
		return r.maxRequests
	}
	w.prune(r.clock.Now(), r.window)
	return r.maxRequests - len(w.stamps)
}

// Limit returns the configured request cap.
func (r *RateLimiter) Limit() int { return r.maxRequests }

// Sweep drops windows that have no live timestamps and returns how many went.
func (r *RateLimiter) Sweep() int {
	removed := 0
	now := r.clock.Now()
	r.windows.Range(func(key, value any) bool {
		w := value.(*rateWindow)
		w.mu.Lock()
		w.prune(now, r.window)
		if len(w.stamps) == 0 && !w.dead {
			w.dead = true
			r.windows.CompareAndDelete(key, w)
			removed++
		}
		w.mu.Unlock()
		return true
	})
	if removed > 0 {
		r.logger.Debug("Swept idle rate windows.", zap.Int("removed", removed))
	}
	return removed
}
