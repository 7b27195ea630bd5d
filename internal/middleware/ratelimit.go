package middleware

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"trade-export/internal/domain"
)

// RateLimitConfig holds the token-bucket parameters applied per caller.
type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int
	// IdleAfter drops a caller's bucket after this much inactivity.
	IdleAfter time.Duration
}

type callerLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter enforces a token bucket per caller: the authenticated identity
// when present, otherwise the remote IP. Idle buckets are pruned until ctx
// is done. Rejected requests get 429 with Retry-After.
func RateLimiter(ctx context.Context, cfg RateLimitConfig) func(http.Handler) http.Handler {
	if cfg.IdleAfter <= 0 {
		cfg.IdleAfter = 10 * time.Minute
	}
	var (
		mu      sync.Mutex
		callers = make(map[string]*callerLimiter)
	)

	go func() {
		ticker := time.NewTicker(cfg.IdleAfter / 2)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				mu.Lock()
				for key, c := range callers {
					if time.Since(c.lastSeen) > cfg.IdleAfter {
						delete(callers, key)
					}
				}
				mu.Unlock()
			}
		}
	}()

	get := func(key string) *rate.Limiter {
		mu.Lock()
		defer mu.Unlock()
		c, ok := callers[key]
		if !ok {
			c = &callerLimiter{limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst)}
			callers[key] = c
		}
		c.lastSeen = time.Now()
		return c.limiter
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			limiter := get(callerKey(r))
			reservation := limiter.Reserve()
			if !reservation.OK() {
				writeTooManyRequests(w, 0)
				return
			}
			if delay := reservation.Delay(); delay > 0 {
				reservation.Cancel()
				writeTooManyRequests(w, int(delay.Seconds())+1)
				return
			}
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(cfg.Burst))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(int(limiter.Tokens())))
			next.ServeHTTP(w, r)
		})
	}
}

// callerKey prefers the identity. Only RemoteAddr is trusted for anonymous
// callers; X-Forwarded-For is ignored.
func callerKey(r *http.Request) string {
	if id, ok := domain.IdentityFromContext(r.Context()); ok {
		return "id:" + id
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return "ip:" + r.RemoteAddr
	}
	return "ip:" + host
}

func writeTooManyRequests(w http.ResponseWriter, retryAfterSecs int) {
	if retryAfterSecs > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(retryAfterSecs))
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"status":  "error",
		"message": "rate limit exceeded",
	})
}
