package api

import (
	"net"
	"net/http"
	"sync"

	"golang.org/x/time/rate"

	"github.com/piwardrive/piwardrive/internal/domain"
)

// clientLimiter hands out one token bucket per client, grounded on
// FluxForge's TokenBucketLimiter (control_plane/scheduler/limiter.go):
// a lazily-created rate.Limiter per key under one mutex.
type clientLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	r        rate.Limit
	b        int
}

func newClientLimiter(r rate.Limit, b int) *clientLimiter {
	return &clientLimiter{limiters: make(map[string]*rate.Limiter), r: r, b: b}
}

func (l *clientLimiter) allow(key string) bool {
	l.mu.Lock()
	lim, ok := l.limiters[key]
	if !ok {
		lim = rate.NewLimiter(l.r, l.b)
		l.limiters[key] = lim
	}
	l.mu.Unlock()
	return lim.Allow()
}

// rateLimitMiddleware enforces a per-client request budget (spec.md §5's
// general backpressure posture, keyed here by remote IP since PiWardrive
// has no per-session client identifier on unauthenticated GET routes).
// 10 req/s sustained with a burst of 20 comfortably covers the dashboard's
// polling endpoints while still bounding a runaway or hostile client.
func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	limiter := newClientLimiter(rate.Limit(10), 20)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := clientKey(r)
		if !limiter.allow(key) {
			writeError(w, domain.RateLimitedError("too many requests from %s", key))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
