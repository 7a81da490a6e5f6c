package ratelimit

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenBucketRefills(t *testing.T) {
	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	l := NewTokenBucket(2, 60)
	l.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		ok, err := l.Allow(ctx, "a")
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, _ := l.Allow(ctx, "a")
	assert.False(t, ok, "bucket drained")

	ok, _ = l.Allow(ctx, "b")
	assert.True(t, ok, "keys are independent")

	now = now.Add(time.Second)
	ok, _ = l.Allow(ctx, "a")
	assert.True(t, ok, "one token per second at 60/min")
	ok, _ = l.Allow(ctx, "a")
	assert.False(t, ok)
}

func TestTokenBucketForgetsIdleKeys(t *testing.T) {
	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	l := NewTokenBucket(10, 30)
	l.now = func() time.Time { return now }
	ctx := context.Background()
	require.Equal(t, 20*time.Second, l.idle)

	for _, key := range []string{"ip:10.0.0.1", "ip:10.0.0.2", "ip:10.0.0.3"} {
		ok, err := l.Allow(ctx, key)
		require.NoError(t, err)
		require.True(t, ok)
	}
	assert.Len(t, l.state, 3)

	now = now.Add(10 * time.Second)
	_, _ = l.Allow(ctx, "ip:10.0.0.1")
	assert.Len(t, l.state, 3, "no sweep before a full refill period")

	now = now.Add(15 * time.Second)
	_, _ = l.Allow(ctx, "ip:10.0.0.4")
	assert.Len(t, l.state, 2, "idle keys dropped, recently used key kept")
	assert.Contains(t, l.state, "ip:10.0.0.1")
	assert.Contains(t, l.state, "ip:10.0.0.4")

	for i := 0; i < 10; i++ {
		ok, _ := l.Allow(ctx, "ip:10.0.0.2")
		assert.True(t, ok, "a forgotten key starts with a full bucket")
	}
}

type failingLimiter struct{}

func (failingLimiter) Allow(context.Context, string) (bool, error) {
	return false, errors.New("redis down")
}

func TestMiddlewareRejectsOverBudget(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.POST("/redeem", Middleware(NewTokenBucket(1, 1), nil, nil, nil), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	first := httptest.NewRecorder()
	router.ServeHTTP(first, httptest.NewRequest(http.MethodPost, "/redeem", nil))
	assert.Equal(t, http.StatusNoContent, first.Code)

	second := httptest.NewRecorder()
	router.ServeHTTP(second, httptest.NewRequest(http.MethodPost, "/redeem", nil))
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.Equal(t, "60", second.Header().Get("Retry-After"))
	assert.Contains(t, second.Body.String(), "RATE_LIMITED")
}

func TestMiddlewareFallsBackWhenPrimaryFails(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/", Middleware(failingLimiter{}, NewTokenBucket(1, 1), func(*gin.Context) string { return "k" }, nil), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	first := httptest.NewRecorder()
	router.ServeHTTP(first, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, first.Code)

	second := httptest.NewRecorder()
	router.ServeHTTP(second, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
}

func TestNewRedisWindowNilClient(t *testing.T) {
	assert.Nil(t, NewRedisWindow(nil, 10))
}
