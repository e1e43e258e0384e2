package chi

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// idleSessionTTL is how long an unused session bucket is kept.
const idleSessionTTL = 30 * time.Minute

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// sessionLimiter is a token bucket per chat session.
type sessionLimiter struct {
	mu        sync.Mutex
	limit     rate.Limit
	burst     int
	buckets   map[string]*bucket
	lastSweep time.Time
	now       func() time.Time
}

// newSessionLimiter returns nil when requestsPerMinute is zero, meaning no limit.
func newSessionLimiter(requestsPerMinute, burst int) *sessionLimiter {
	if requestsPerMinute <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 1
	}
	return &sessionLimiter{
		limit:   rate.Limit(float64(requestsPerMinute) / 60),
		burst:   burst,
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}
}

// Allow reports whether the session may send another message now.
func (l *sessionLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.lastSweep) > idleSessionTTL {
		for k, b := range l.buckets {
			if now.Sub(b.lastSeen) > idleSessionTTL {
				delete(l.buckets, k)
			}
		}
		l.lastSweep = now
	}

	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.buckets[key] = b
	}
	b.lastSeen = now
	return b.limiter.AllowN(now, 1)
}

// Len returns the number of tracked sessions.
func (l *sessionLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}
