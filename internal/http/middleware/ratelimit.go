package middleware

import (
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// KeyFunc maps a request to the identity whose bucket it draws from.
type KeyFunc func(*gin.Context) string

// KeyByClientIP buckets requests by client address.
func KeyByClientIP() KeyFunc {
	return func(c *gin.Context) string { return "ip:" + c.ClientIP() }
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter is a process-local token bucket per key. Idle buckets are
// evicted opportunistically during lookups.
type RateLimiter struct {
	rps      rate.Limit
	burst    int
	keyFn    KeyFunc
	exempt   []string
	mu       sync.Mutex
	visitors map[string]*visitor

	ttl      time.Duration
	cleanupN uint64
}

// NewRateLimiter builds a limiter refilling rps tokens per second with the
// given burst (coerced to at least 1). Requests whose path starts with one of
// exemptPrefixes are never limited; the Telegram webhook is one, since a
// dropped update is not retried by the sender.
func NewRateLimiter(rps float64, burst int, keyFn KeyFunc, exemptPrefixes ...string) *RateLimiter {
	if burst <= 0 {
		burst = 1
	}
	if keyFn == nil {
		keyFn = KeyByClientIP()
	}
	return &RateLimiter{
		rps:      rate.Limit(rps),
		burst:    burst,
		keyFn:    keyFn,
		exempt:   exemptPrefixes,
		visitors: make(map[string]*visitor),
		ttl:      10 * time.Minute,
	}
}

// getVisitor runs eviction before the lookup so a stale bucket for key
// itself is dropped rather than refreshed.
func (rl *RateLimiter) getVisitor(key string) *rate.Limiter {
	now := time.Now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.cleanupN++
	if rl.cleanupN >= 5000 {
		for k, v := range rl.visitors {
			if now.Sub(v.lastSeen) >= rl.ttl {
				delete(rl.visitors, k)
			}
		}
		rl.cleanupN = 0
	}

	if v, ok := rl.visitors[key]; ok {
		v.lastSeen = now
		return v.limiter
	}
	lim := rate.NewLimiter(rl.rps, rl.burst)
	rl.visitors[key] = &visitor{limiter: lim, lastSeen: now}
	return lim
}

func (rl *RateLimiter) isExempt(path string) bool {
	for _, p := range rl.exempt {
		if p != "" && strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

// Handler rejects over-limit requests with 429 and a Retry-After derived
// from the bucket's refill time.
func (rl *RateLimiter) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if rl.isExempt(c.Request.URL.Path) {
			c.Next()
			return
		}

		res := rl.getVisitor(rl.keyFn(c)).Reserve()
		delay := res.Delay()
		if res.OK() && delay == 0 {
			c.Next()
			return
		}
		res.Cancel()

		retry := 1
		if res.OK() {
			retry = max(1, int(math.Ceil(delay.Seconds())))
		}
		c.Header("Retry-After", strconv.Itoa(retry))
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"request_id": c.Writer.Header().Get(requestIDHeader),
			"code":       "too_many_requests",
			"message":    "rate limit exceeded",
		})
	}
}
