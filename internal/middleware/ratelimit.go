package middleware

import (
	"encoding/json"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/time/rate"
)

// RATE LIMITING:
// Register, sign-in and refresh are the endpoints an attacker hammers:
// guessing passwords, replaying refresh tokens, mass-creating accounts.
// Each (client IP, route) pair gets its own token bucket. A bucket holds
// `burst` tokens and refills at `limit` tokens per second; a request that
// finds the bucket empty gets 429 Too Many Requests.
//
// Buckets of clients that have gone quiet for longer than ttl are dropped
// by a background sweep, so the map does not grow without bound.

type keyLimiter struct {
	lim  *rate.Limiter
	seen time.Time
}

// RateLimiter is a per-client token bucket limiter. Create it with
// NewRateLimiter and call Stop on shutdown.
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*keyLimiter
	limit    rate.Limit
	burst    int
	ttl      time.Duration
	stop     chan struct{}
	stopOnce sync.Once
}

// NewRateLimiter creates a limiter and starts its sweep goroutine.
func NewRateLimiter(limit rate.Limit, burst int, ttl time.Duration) *RateLimiter {
	rl := &RateLimiter{
		limiters: make(map[string]*keyLimiter),
		limit:    limit,
		burst:    burst,
		ttl:      ttl,
		stop:     make(chan struct{}),
	}
	go rl.gc(30 * time.Second)
	return rl
}

func (rl *RateLimiter) get(key string, now time.Time) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if kl, ok := rl.limiters[key]; ok {
		kl.seen = now
		return kl.lim
	}
	lim := rate.NewLimiter(rl.limit, rl.burst)
	rl.limiters[key] = &keyLimiter{lim: lim, seen: now}
	return lim
}

func (rl *RateLimiter) gc(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-rl.stop:
			return
		case now := <-ticker.C:
			rl.sweep(now)
		}
	}
}

// sweep drops buckets not used since now-ttl.
func (rl *RateLimiter) sweep(now time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for k, v := range rl.limiters {
		if now.Sub(v.seen) > rl.ttl {
			delete(rl.limiters, k)
		}
	}
}

// Stop ends the sweep goroutine. Safe to call more than once.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stop) })
}

// Handler is the middleware. Mount it with r.With(limiter.Handler) on the
// routes that need it, so the chi route pattern is known when it runs.
//
// Client IPs come from RemoteAddr. Behind a proxy, chi's RealIP middleware
// must run first; without one it must not, or clients choose their own key.
func (rl *RateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var route string
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			route = rctx.RoutePattern()
		}
		if route == "" {
			route = r.URL.Path
		}
		key := clientIP(r.RemoteAddr) + "|" + route

		if !rl.get(key, time.Now()).Allow() {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			_ = json.NewEncoder(w).Encode(map[string]string{
				"error":   "rate_limited",
				"message": "too many requests",
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientIP(remote string) string {
	host, _, err := net.SplitHostPort(remote)
	if err != nil {
		return remote
	}
	return host
}
