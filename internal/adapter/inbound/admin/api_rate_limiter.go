package admin

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// idleLimiterTTL is how long a client's bucket survives without requests.
const idleLimiterTTL = 10 * time.Minute

type clientBucket struct {
	*rate.Limiter
	lastSeen time.Time
}

// apiRateLimiter keeps one token bucket per client IP. A client may spend
// the whole budget at once; tokens then refill evenly over the window.
type apiRateLimiter struct {
	limit rate.Limit
	burst int
	now   func() time.Time

	mu        sync.Mutex
	entries   map[string]*clientBucket
	nextSweep time.Time
}

func newAPIRateLimiter(maxRequests int, window time.Duration) *apiRateLimiter {
	return &apiRateLimiter{
		limit:   rate.Every(window / time.Duration(maxRequests)),
		burst:   maxRequests,
		now:     time.Now,
		entries: make(map[string]*clientBucket),
	}
}

// allow takes a token for ip. When none is available it returns the wait,
// rounded up to whole seconds, before the next one.
func (rl *apiRateLimiter) allow(ip string) (bool, int) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	rl.sweep(now)

	b := rl.entries[ip]
	if b == nil {
		b = &clientBucket{Limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.entries[ip] = b
	}
	b.lastSeen = now

	r := b.ReserveN(now, 1)
	wait := r.DelayFrom(now)
	if wait == 0 {
		return true, 0
	}
	r.CancelAt(now)
	return false, max(1, int(math.Ceil(wait.Seconds())))
}

// sweep drops idle buckets at most once per idleLimiterTTL.
func (rl *apiRateLimiter) sweep(now time.Time) {
	if now.Before(rl.nextSweep) {
		return
	}
	for ip, b := range rl.entries {
		if now.Sub(b.lastSeen) > idleLimiterTTL {
			delete(rl.entries, ip)
		}
	}
	rl.nextSweep = now.Add(idleLimiterTTL)
}

// apiRateLimitMiddleware throttles remote clients per IP, answering 429
// with Retry-After. Loopback clients are not limited.
func apiRateLimitMiddleware(maxRequests int, window time.Duration, next http.Handler) http.Handler {
	limiter := newAPIRateLimiter(maxRequests, window)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !isLocalhost(r) {
			if ok, retry := limiter.allow(clientHost(r)); !ok {
				w.Header().Set("Retry-After", strconv.Itoa(retry))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				_, _ = w.Write([]byte(`{"error":"rate limit exceeded"}` + "\n"))
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}
