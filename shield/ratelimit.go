package shield

import (
	"fmt"
	"net/http"
	"sync"
	"time"
)

// RateLimiter admits requests with a sliding window over a timestamp ring of
// size limit. Admission counts timestamps newer than now-window; if fewer
// than limit, now is recorded (overwriting the oldest slot) and the request
// is admitted.
//
// Each Monlight service runs one bucket (one API key per service); the ring
// table is keyed so per-key limiting is a call-site change, not a redesign.
type RateLimiter struct {
	limit  int
	window time.Duration
	now    func() time.Time

	mu    sync.Mutex
	rings map[string][]time.Time
}

// NewRateLimiter creates a limiter admitting at most limit requests per
// window per key.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		limit:  limit,
		window: window,
		now:    time.Now,
		rings:  make(map[string][]time.Time),
	}
}

// SetClock overrides the time source. Tests only.
func (rl *RateLimiter) SetClock(now func() time.Time) { rl.now = now }

// Allow decides admission for key. When the request is rejected, retryAfter
// is the whole number of seconds (rounded up) until the oldest in-window
// timestamp ages out.
func (rl *RateLimiter) Allow(key string) (admitted bool, retryAfter int) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	cutoff := now.Add(-rl.window)

	ring, ok := rl.rings[key]
	if !ok {
		ring = make([]time.Time, 0, rl.limit)
		rl.rings[key] = ring
	}

	inWindow := 0
	var oldest time.Time
	oldestIdx := -1
	for i, ts := range ring {
		if ts.After(cutoff) {
			inWindow++
			if oldestIdx == -1 || ts.Before(oldest) {
				oldest = ts
				oldestIdx = i
			}
		}
	}

	if inWindow < rl.limit {
		// Record now, reusing an aged-out slot when the ring is full.
		if len(ring) < rl.limit {
			rl.rings[key] = append(ring, now)
		} else {
			stale := 0
			for i, ts := range ring {
				if !ts.After(cutoff) {
					stale = i
					break
				}
			}
			ring[stale] = now
		}
		return true, 0
	}

	wait := oldest.Add(rl.window).Sub(now)
	secs := int((wait + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return false, secs
}

// Middleware enforces the single service-wide bucket and answers rejected
// requests with 429 {"detail":"Rate limit exceeded","retry_after":N}.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		admitted, retryAfter := rl.Allow("")
		if !admitted {
			w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfter))
			WriteJSON(w, http.StatusTooManyRequests, map[string]any{
				"detail":      "Rate limit exceeded",
				"retry_after": retryAfter,
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}
