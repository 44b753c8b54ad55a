package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	. "github.com/nightslayer18/skeenode-contracts/internal/transport/middleware"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// newTestRedis starts an in-process fake Redis server so the sliding-window
// limiter can be exercised without a live Redis instance.
func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	return redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

func TestRateLimiter_AllowsWithinWindow(t *testing.T) {
	client := newTestRedis(t)
	rl := NewRateLimiter(client, RateLimiterConfig{RequestsPerWindow: 5, Window: time.Minute})
	ctx := t.Context()

	for i := 0; i < 5; i++ {
		ok, err := rl.Allow(ctx, "agent-1")
		if err != nil {
			t.Fatalf("request %d: %v", i+1, err)
		}
		if !ok {
			t.Errorf("request %d should be allowed within the window", i+1)
		}
	}
}

func TestRateLimiter_BlocksExcessRequests(t *testing.T) {
	client := newTestRedis(t)
	rl := NewRateLimiter(client, RateLimiterConfig{RequestsPerWindow: 2, Window: time.Minute})
	ctx := t.Context()

	for i := 0; i < 2; i++ {
		ok, err := rl.Allow(ctx, "agent-1")
		if err != nil || !ok {
			t.Fatalf("request %d should be allowed, ok=%v err=%v", i+1, ok, err)
		}
	}

	ok, err := rl.Allow(ctx, "agent-1")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("third request should be blocked once the window budget is exhausted")
	}
}

func TestRateLimiter_SeparatesClients(t *testing.T) {
	client := newTestRedis(t)
	rl := NewRateLimiter(client, RateLimiterConfig{RequestsPerWindow: 1, Window: time.Minute})
	ctx := t.Context()

	ok, err := rl.Allow(ctx, "agent-1")
	if err != nil || !ok {
		t.Fatalf("agent-1's first request should be allowed, ok=%v err=%v", ok, err)
	}

	ok, err = rl.Allow(ctx, "agent-2")
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Error("a different agent should have its own budget")
	}
}

func TestRateLimiter_Middleware_Returns429(t *testing.T) {
	client := newTestRedis(t)
	rl := NewRateLimiter(client, RateLimiterConfig{RequestsPerWindow: 1, Window: time.Minute})

	router := gin.New()
	router.Use(rl.Middleware())
	router.GET("/test", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.Header.Set(APIKeyHeaderKey, "agent-1")

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("first request expected 200, got %d", w.Code)
	}

	w2 := httptest.NewRecorder()
	router.ServeHTTP(w2, req)
	if w2.Code != http.StatusTooManyRequests {
		t.Errorf("second request expected 429, got %d", w2.Code)
	}
}

func TestRateLimiter_Middleware_FailsOpenWhenRedisUnreachable(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	mr.Close() // simulate a Redis outage before the request arrives

	rl := NewRateLimiter(client, RateLimiterConfig{RequestsPerWindow: 1, Window: time.Minute})

	router := gin.New()
	router.Use(rl.Middleware())
	router.GET("/test", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("a Redis outage must fail open, got status %d", w.Code)
	}
}
