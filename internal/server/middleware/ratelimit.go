package middleware

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/alanyoungcy/hedgebot/internal/domain"
)

// RateLimit returns middleware that applies per-client rate limiting using the
// shared domain.RateLimiter, so every API replica counts against the same
// window. Each client IP is limited to `limit` requests per `window`.
func RateLimit(limiter domain.RateLimiter, limit int, window time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := "ratelimit:api:" + extractClientIP(r)

			allowed, err := limiter.Allow(r.Context(), key, limit, window)
			if err != nil {
				// Fail open on limiter errors.
				next.ServeHTTP(w, r)
				return
			}
			if !allowed {
				writeTooManyRequests(w)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// IPLimiter keeps an in-process token bucket per client IP.
type IPLimiter struct {
	mu      sync.Mutex
	rps     rate.Limit
	burst   int
	ttl     time.Duration
	clients map[string]*ipBucket
	swept   time.Time
}

type ipBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewIPLimiter allows each IP rps requests per second with the given burst.
// Buckets idle for ten minutes are dropped.
func NewIPLimiter(rps float64, burst int) *IPLimiter {
	if burst < 1 {
		burst = 1
	}
	return &IPLimiter{
		rps:     rate.Limit(rps),
		burst:   burst,
		ttl:     10 * time.Minute,
		clients: make(map[string]*ipBucket),
	}
}

// Allow reports whether ip may make a request now.
func (l *IPLimiter) Allow(ip string) bool {
	now := time.Now()
	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.swept) > l.ttl {
		for k, b := range l.clients {
			if now.Sub(b.lastSeen) > l.ttl {
				delete(l.clients, k)
			}
		}
		l.swept = now
	}

	b, ok := l.clients[ip]
	if !ok {
		b = &ipBucket{limiter: rate.NewLimiter(l.rps, l.burst)}
		l.clients[ip] = b
	}
	b.lastSeen = now
	return b.limiter.AllowN(now, 1)
}

// Middleware rejects requests over the per-IP budget with 429.
func (l *IPLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.Allow(extractClientIP(r)) {
			writeTooManyRequests(w)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeTooManyRequests(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Retry-After", "1")
	w.WriteHeader(http.StatusTooManyRequests)
	w.Write([]byte(`{"error":"rate limit exceeded"}`))
}

// extractClientIP attempts to determine the real client IP from standard
// proxy headers, falling back to the direct remote address.
func extractClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.SplitN(xff, ",", 2)
		ip := strings.TrimSpace(parts[0])
		if ip != "" {
			return ip
		}
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
