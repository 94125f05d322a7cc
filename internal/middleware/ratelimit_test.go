package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flashsale/checkout-coordinator/internal/config"
)

func newTestEcho(req *http.Request) (echo.Context, *httptest.ResponseRecorder) {
	rec := httptest.NewRecorder()
	e := echo.New()
	c := e.NewContext(req, rec)
	c.SetPath("/holds")
	return c, rec
}

func okHandler(c echo.Context) error { return c.NoContent(http.StatusOK) }

func TestNewTokenBucket_DisabledIsNoOp(t *testing.T) {
	cfg := config.RateLimitConfig{Enabled: false}
	mw := NewTokenBucket(cfg, nil)

	req := httptest.NewRequest(http.MethodPost, "/holds", nil)
	c, rec := newTestEcho(req)

	require.NoError(t, mw(okHandler)(c))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestNewTokenBucket_AllowsWithinCapacityThenRejects(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	cfg := config.RateLimitConfig{
		Enabled:        true,
		Capacity:       2,
		RefillTokens:   1,
		RefillInterval: time.Minute,
		TTL:            10 * time.Minute,
		Prefix:         "rl",
	}
	mw := NewTokenBucket(cfg, client)

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/holds", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		c, rec := newTestEcho(req)
		require.NoError(t, mw(okHandler)(c))
		assert.Equal(t, http.StatusOK, rec.Code, "request %d must be allowed within capacity", i+1)
	}

	req := httptest.NewRequest(http.MethodPost, "/holds", nil)
	req.RemoteAddr = "10.0.0.1:1234"
	c, rec := newTestEcho(req)
	require.NoError(t, mw(okHandler)(c))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code, "the third request must exhaust the bucket")
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
}

func TestNewTokenBucket_DistinctIPsHaveIndependentBuckets(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	cfg := config.RateLimitConfig{
		Enabled:        true,
		Capacity:       1,
		RefillTokens:   1,
		RefillInterval: time.Minute,
		TTL:            10 * time.Minute,
		Prefix:         "rl",
	}
	mw := NewTokenBucket(cfg, client)

	for _, ip := range []string{"10.0.0.1:1", "10.0.0.2:1"} {
		req := httptest.NewRequest(http.MethodPost, "/holds", nil)
		req.RemoteAddr = ip
		c, rec := newTestEcho(req)
		require.NoError(t, mw(okHandler)(c))
		assert.Equal(t, http.StatusOK, rec.Code, "ip %s must have its own bucket", ip)
	}
}

func TestNewTokenBucket_FailsOpenOnClosedRedisClient(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	require.NoError(t, client.Close())

	cfg := config.RateLimitConfig{
		Enabled:        true,
		Capacity:       1,
		RefillTokens:   1,
		RefillInterval: time.Minute,
		TTL:            10 * time.Minute,
		Prefix:         "rl",
	}
	mw := NewTokenBucket(cfg, client)

	req := httptest.NewRequest(http.MethodPost, "/holds", nil)
	c, rec := newTestEcho(req)
	require.NoError(t, mw(okHandler)(c))
	assert.Equal(t, http.StatusOK, rec.Code, "a redis error must fail open rather than block the request")
}
