package security

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

type limiterEntry struct {
	l        *rate.Limiter
	lastSeen time.Time
}

// RateLimiter is a per-user token-bucket pool. Idle buckets are pruned after ttl.
type RateLimiter struct {
	mu        sync.Mutex
	m         map[string]*limiterEntry
	limit     rate.Limit
	burst     int
	ttl       time.Duration
	lastPrune time.Time
	now       func() time.Time
}

// NewRateLimiter creates a pool allowing perSecond events with the given burst per key.
// A non-positive rate disables limiting.
func NewRateLimiter(perSecond float64, burst int) *RateLimiter {
	if burst <= 0 {
		burst = 1
	}
	limit := rate.Limit(perSecond)
	if perSecond <= 0 {
		limit = rate.Inf
	}
	return &RateLimiter{
		m:     map[string]*limiterEntry{},
		limit: limit,
		burst: burst,
		ttl:   10 * time.Minute,
		now:   time.Now,
	}
}

// Allow reports whether key may proceed now.
func (p *RateLimiter) Allow(key string) bool {
	now := p.now()
	p.mu.Lock()
	defer p.mu.Unlock()

	if now.Sub(p.lastPrune) > time.Minute {
		cutoff := now.Add(-p.ttl)
		for k, e := range p.m {
			if e.lastSeen.Before(cutoff) {
				delete(p.m, k)
			}
		}
		p.lastPrune = now
	}

	e, ok := p.m[key]
	if !ok {
		e = &limiterEntry{l: rate.NewLimiter(p.limit, p.burst)}
		p.m[key] = e
	}
	e.lastSeen = now
	return e.l.AllowN(now, 1)
}

// RateLimitMiddleware rejects requests from users that exceed their bucket with 429.
// It must run after AuthMiddleware.
func RateLimitMiddleware(limiter *RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		u := GetUser(c)
		if u == nil || limiter == nil {
			c.Next()
			return
		}
		if !limiter.Allow(u.ID.String()) {
			recordRateLimited()
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"code": "rate_limited", "error": "too many requests"})
			return
		}
		c.Next()
	}
}
