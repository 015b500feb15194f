package middlewares

import (
	"context"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/geocoder89/taskora/internal/apperr"
	"github.com/geocoder89/taskora/internal/authctx"
	"github.com/geocoder89/taskora/internal/observability"
	"github.com/gin-gonic/gin"
)

type RateDecision struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

type Limiter interface {
	Allow(ctx context.Context, key string) (RateDecision, error)
}

// RateLimiter is the in-process fixed-window limiter used when Redis is not
// configured.
type RateLimiter struct {
	mu      sync.Mutex
	window  time.Duration
	limit   int
	clients map[string]*clientBucket
	now     func() time.Time
}

type clientBucket struct {
	count     int
	windowEnd time.Time
}

func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		limit:   limit,
		window:  window,
		clients: make(map[string]*clientBucket),
		now:     time.Now,
	}
}

func (rl *RateLimiter) Allow(_ context.Context, key string) (RateDecision, error) {
	now := rl.now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	b, ok := rl.clients[key]

	if !ok || now.After(b.windowEnd) {
		rl.sweep(now)
		b = &clientBucket{windowEnd: now.Add(rl.window)}
		rl.clients[key] = b
	}

	if b.count >= rl.limit {
		return RateDecision{Allowed: false, ResetAt: b.windowEnd}, nil
	}

	b.count++
	return RateDecision{Allowed: true, Remaining: rl.limit - b.count, ResetAt: b.windowEnd}, nil
}

// sweep drops buckets whose window ended. Caller holds mu.
func (rl *RateLimiter) sweep(now time.Time) {
	for k, b := range rl.clients {
		if now.After(b.windowEnd) {
			delete(rl.clients, k)
		}
	}
}

// RateLimit enforces l for the derived key. Limiter errors let the request
// through.
func RateLimit(l Limiter, route string, keyFn func(*gin.Context) string, log *slog.Logger, prom *observability.Prom) gin.HandlerFunc {
	if log == nil {
		log = slog.Default()
	}

	return func(c *gin.Context) {
		key := keyFn(c)

		if key == "" {
			// fallback to IP if key cannot be derived
			key = clientIP(c)
		}

		d, err := l.Allow(c.Request.Context(), route+":"+key)
		if err != nil {
			log.WarnContext(c.Request.Context(), "rate_limit_unavailable", "route", route, "err", err)
			c.Next()
			return
		}

		c.Header("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))

		if !d.Allowed {
			retryAfter := int(time.Until(d.ResetAt).Seconds())

			if retryAfter < 0 {
				retryAfter = 0
			}

			c.Header("Retry-After", strconv.Itoa(retryAfter))
			prom.ObserveRateLimited(route)
			abort(c, apperr.TooManyRequests("Too many requests. Please try again shortly."))
			return
		}

		c.Next()
	}
}

// for unauthenticated endpoints: rate limit by IP
func KeyByIP(c *gin.Context) string {
	return clientIP(c)
}

// For authenticated endpoints: rate limit by userID if available
func KeyByUserOrIP(c *gin.Context) string {
	id, ok := authctx.UserIDFrom(c.Request.Context())

	if ok && id != "" {
		return "user:" + id
	}

	return clientIP(c)
}

func clientIP(c *gin.Context) string {
	// Gin's ClientIP respects X-Forwarded-For / X-Real-IP if configured.
	ip := c.ClientIP()

	host, _, err := net.SplitHostPort(ip)

	if err == nil && host != "" {
		return host
	}

	return ip
}
