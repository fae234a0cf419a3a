package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestRouter(t *testing.T, perMinute int) (*gin.Engine, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	r := gin.New()
	r.GET("/ping", Middleware(rdb, perMinute, zap.NewNop()), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	return r, mr
}

func get(r *gin.Engine) int {
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.RemoteAddr = "203.0.113.7:50000"
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w.Code
}

func TestMiddleware_AllowsUnderLimit(t *testing.T) {
	r, _ := newTestRouter(t, 3)
	for i := 0; i < 3; i++ {
		if code := get(r); code != http.StatusOK {
			t.Fatalf("request %d: got %d want 200", i+1, code)
		}
	}
}

func TestMiddleware_RejectsOverLimit(t *testing.T) {
	r, _ := newTestRouter(t, 2)
	get(r)
	get(r)
	if code := get(r); code != http.StatusTooManyRequests {
		t.Errorf("third request: got %d want 429", code)
	}
}

func TestMiddleware_WindowExpires(t *testing.T) {
	r, mr := newTestRouter(t, 1)
	get(r)
	if code := get(r); code != http.StatusTooManyRequests {
		t.Fatalf("second request: got %d want 429", code)
	}

	// New window: counters carry a TTL and expire.
	mr.FastForward(3 * time.Minute)
	if code := get(r); code != http.StatusOK {
		t.Errorf("request after window: got %d want 200", code)
	}
}

func TestMiddleware_FailsOpenWhenRedisDown(t *testing.T) {
	r, mr := newTestRouter(t, 1)
	mr.Close()

	if code := get(r); code != http.StatusOK {
		t.Errorf("redis down: got %d want 200 (fail open)", code)
	}
}
