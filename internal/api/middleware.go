package api

import (
	"net/http"
	"strconv"
	"time"

	"booking-service/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"
)

const (
	memberHeader = "X-Member-ID"
	memberKey    = "member_id"
)

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}

// requireMember reads the authenticated member id set by the gateway.
func requireMember() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.ParseInt(c.GetHeader(memberHeader), 10, 64)
		if err != nil || id <= 0 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Missing or invalid " + memberHeader + " header",
			})
			return
		}
		c.Set(memberKey, id)
		c.Next()
	}
}

func memberID(c *gin.Context) int64 {
	return c.GetInt64(memberKey)
}

const limiterIdleTTL = 10 * time.Minute

// clientLimiter stores a token bucket per client. Buckets idle for longer
// than idle are evicted.
type clientLimiter struct {
	clients *cache.Cache
	r       rate.Limit
	b       int
}

func newClientLimiter(r rate.Limit, b int, idle time.Duration) *clientLimiter {
	return &clientLimiter{
		clients: cache.New(idle, idle),
		r:       r,
		b:       b,
	}
}

// limiterIdle is how long a bucket is kept after its last use. It is never
// shorter than a full refill, so eviction cannot hand out a fresh burst early.
func limiterIdle(r rate.Limit, b int) time.Duration {
	idle := limiterIdleTTL
	if r > 0 && r != rate.Inf {
		if refill := time.Duration(float64(b) / float64(r) * float64(time.Second)); refill > idle {
			idle = refill
		}
	}
	return idle
}

func (l *clientLimiter) get(key string) *rate.Limiter {
	if v, ok := l.clients.Get(key); ok {
		limiter := v.(*rate.Limiter)
		l.clients.SetDefault(key, limiter)
		return limiter
	}

	limiter := rate.NewLimiter(l.r, l.b)
	if err := l.clients.Add(key, limiter, cache.DefaultExpiration); err != nil {
		// Another request created the bucket first.
		if v, ok := l.clients.Get(key); ok {
			return v.(*rate.Limiter)
		}
	}
	return limiter
}

// rateLimiter throttles each member, falling back to the client IP for
// requests without a member header.
func rateLimiter(r rate.Limit, b int) gin.HandlerFunc {
	limiter := newClientLimiter(r, b, limiterIdle(r, b))
	return func(c *gin.Context) {
		key := c.GetHeader(memberHeader)
		if key == "" {
			key = "ip:" + c.ClientIP()
		}
		if !limiter.get(key).Allow() {
			util.HTTPRateLimitedTotal.Inc()
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "Too many requests",
			})
			return
		}
		c.Next()
	}
}
