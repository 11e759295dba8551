package api

import (
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/harborchat/harbor/internal/auth"
)

// limiterBucket is one caller's token bucket plus the time it was last
// touched, so an idle bucket can eventually be swept from the map.
type limiterBucket struct {
	limiter *rate.Limiter
	seen    time.Time
}

// limiterSet hands out a per-key token-bucket limiter, lazily created on
// first use. Unlike the upstream project's Redis/DragonflyDB-backed tiers,
// this store is embedded in the same process as the rest of the instance,
// so there is no second process to share limiter state with: an
// in-memory map is the whole mechanism.
type limiterSet struct {
	mu      sync.Mutex
	buckets map[string]*limiterBucket
	burst   int
	refill  time.Duration
}

func newLimiterSet(burst int, refill time.Duration) *limiterSet {
	return &limiterSet{buckets: make(map[string]*limiterBucket), burst: burst, refill: refill}
}

func (ls *limiterSet) get(key string) *rate.Limiter {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	b, ok := ls.buckets[key]
	if !ok {
		every := rate.Every(ls.refill / time.Duration(ls.burst))
		b = &limiterBucket{limiter: rate.NewLimiter(every, ls.burst)}
		ls.buckets[key] = b
	}
	b.seen = time.Now()
	return b.limiter
}

// sweep drops buckets untouched for longer than idleFor, bounding memory
// for a long-running instance with many transient callers.
func (ls *limiterSet) sweep(idleFor time.Duration) {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	cutoff := time.Now().Add(-idleFor)
	for key, b := range ls.buckets {
		if b.seen.Before(cutoff) {
			delete(ls.buckets, key)
		}
	}
}

// rateLimit is middleware enforcing one token-bucket limiter per caller.
// keyFn derives the bucket key from the request (authenticated user id, or
// client IP pre-auth); a request that would exceed the bucket gets a 429
// with a Retry-After and X-RateLimit-* headers.
func (s *Server) rateLimit(keyFn func(r *http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if s.Config.RateLimit.Disabled {
				next.ServeHTTP(w, r)
				return
			}
			lim := s.limiters.get(keyFn(r))
			res := lim.Reserve()
			if !res.OK() {
				writeRateLimitResponse(w, s.Config.RateLimit.RefillSeconds)
				return
			}
			delay := res.Delay()
			if delay > 0 {
				res.Cancel()
				setRateLimitHeaders(w, s.Config.RateLimit.Burst, 0, delay)
				writeRateLimitResponse(w, int(delay.Seconds())+1)
				return
			}
			setRateLimitHeaders(w, s.Config.RateLimit.Burst, int(lim.Tokens()), 0)
			next.ServeHTTP(w, r)
		})
	}
}

// setRateLimitHeaders sets X-RateLimit-* headers so clients can track their
// remaining quota proactively.
func setRateLimitHeaders(w http.ResponseWriter, limit, remaining int, reset time.Duration) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(reset).Unix(), 10))
}

// writeRateLimitResponse sends a 429 Too Many Requests response with a
// Retry-After header.
func writeRateLimitResponse(w http.ResponseWriter, retryAfterSeconds int) {
	w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds))
	WriteError(w, http.StatusTooManyRequests, "rate_limited", "you are being rate limited, try again later")
}

// rateLimitKeyByUser buckets on the authenticated session's user id,
// falling back to client IP for unauthenticated requests. Applied inside
// the authenticated route group, after RequireAuth has populated the
// request context.
func rateLimitKeyByUser(r *http.Request) string {
	if uid := auth.UserIDFromContext(r.Context()); uid != 0 {
		return "user:" + uid.String()
	}
	return "ip:" + clientIP(r)
}

// rateLimitKeyByIP buckets on client IP alone. Applied as global
// middleware, ahead of any per-route auth check, so it also throttles
// unauthenticated traffic to /auth/register and /auth/login.
func rateLimitKeyByIP(r *http.Request) string { return "ip:" + clientIP(r) }

// clientIP extracts the client IP from the request. Chi's RealIP middleware
// already rewrites RemoteAddr from trusted proxy headers, so stripping the
// port is all that is left to do here.
func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil && host != "" {
		return host
	}
	return r.RemoteAddr
}
