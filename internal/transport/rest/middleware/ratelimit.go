package middleware

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type limiterEntry struct {
	limiter    *rate.Limiter
	lastActive time.Time
}

// RateLimiter throttles requests per session, falling back to the client address
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*limiterEntry
	limit    rate.Limit
	burst    int
	now      func() time.Time
}

// NewRateLimiter allows perSecond requests with the given burst per key
func NewRateLimiter(perSecond float64, burst int) *RateLimiter {
	return &RateLimiter{
		limiters: make(map[string]*limiterEntry),
		limit:    rate.Limit(perSecond),
		burst:    burst,
		now:      time.Now,
	}
}

func clientKey(r *http.Request) string {
	if id := GetSessionID(r.Context()); id != "" {
		return "sid:" + id
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "ip:" + host
}

// Allow reports whether key may make a request now
func (l *RateLimiter) Allow(key string) bool {
	now := l.now()
	l.mu.Lock()
	entry, exists := l.limiters[key]
	if !exists {
		entry = &limiterEntry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.limiters[key] = entry
	}
	entry.lastActive = now
	l.mu.Unlock()

	return entry.limiter.AllowN(now, 1)
}

// Cleanup forgets limiters idle for longer than idle and returns how many were dropped
func (l *RateLimiter) Cleanup(idle time.Duration) int {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()
	dropped := 0
	for key, entry := range l.limiters {
		if now.Sub(entry.lastActive) > idle {
			delete(l.limiters, key)
			dropped++
		}
	}
	return dropped
}

// Limit rejects requests over the rate with 429
func (l *RateLimiter) Limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.Allow(clientKey(r)) {
			http.Error(w, `{"error":"too many requests"}`, http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}
