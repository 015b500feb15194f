package middlewares

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

func TestRateLimiter_FixedWindow(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(2, time.Minute)
	rl.now = func() time.Time { return now }

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if d, _ := rl.Allow(ctx, "ip"); !d.Allowed {
			t.Fatalf("request %d should pass", i)
		}
	}
	if d, _ := rl.Allow(ctx, "ip"); d.Allowed {
		t.Fatalf("third request in window should be limited")
	}
	if d, _ := rl.Allow(ctx, "other"); !d.Allowed {
		t.Fatalf("keys are independent")
	}

	now = now.Add(time.Minute + time.Second)
	if d, _ := rl.Allow(ctx, "ip"); !d.Allowed {
		t.Fatalf("new window should reset the count")
	}
}

type errLimiter struct{}

func (errLimiter) Allow(context.Context, string) (RateDecision, error) {
	return RateDecision{}, errors.New("redis down")
}

func newLimitedRouter(l Limiter) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(ErrorHandler("test", nil))
	r.POST("/login", RateLimit(l, "login", KeyByIP, nil, nil), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})
	return r
}

func TestRateLimit_RejectsWith429(t *testing.T) {
	r := newLimitedRouter(NewRateLimiter(1, time.Minute))

	first := httptest.NewRecorder()
	r.ServeHTTP(first, httptest.NewRequest(http.MethodPost, "/login", nil))
	if first.Code != http.StatusNoContent {
		t.Fatalf("first request: %d", first.Code)
	}

	second := httptest.NewRecorder()
	r.ServeHTTP(second, httptest.NewRequest(http.MethodPost, "/login", nil))
	if second.Code != http.StatusTooManyRequests {
		t.Fatalf("second request: %d", second.Code)
	}
	if second.Header().Get("Retry-After") == "" {
		t.Fatalf("missing Retry-After")
	}
}

func TestRateLimit_FailsOpen(t *testing.T) {
	r := newLimitedRouter(errLimiter{})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/login", nil))

	if w.Code != http.StatusNoContent {
		t.Fatalf("limiter failure should let the request through, got %d", w.Code)
	}
}

func TestRedisRateLimiter_SlidingWindow(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })

	ctx := context.Background()
	l := NewRedisRateLimiter(client, "test:ratelimit:", 2, time.Minute)
	key := uuid.NewString()
	t.Cleanup(func() { client.Del(ctx, "test:ratelimit:"+key, "test:ratelimit:"+key+":seq") })

	for i := 0; i < 2; i++ {
		d, err := l.Allow(ctx, key)
		if err != nil || !d.Allowed {
			t.Fatalf("request %d: %+v %v", i, d, err)
		}
	}

	d, err := l.Allow(ctx, key)
	if err != nil {
		t.Fatalf("Allow: %v", err)
	}
	if d.Allowed || d.Remaining != 0 {
		t.Fatalf("expected limited decision, got %+v", d)
	}
}
