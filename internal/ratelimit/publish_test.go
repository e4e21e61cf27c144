package ratelimit

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/newsletter/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLimiter(t *testing.T, rate float64, burst int) (*PublishLimiter, *miniredis.Miniredis) {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	limiter, err := newPublishLimiter(client, config.RateLimitConfig{PublishRate: rate, PublishBurst: burst})
	require.NoError(t, err)
	return limiter, srv
}

func TestPublishLimiter_ExhaustsBurst(t *testing.T) {
	limiter, _ := newTestLimiter(t, 0.001, 2)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		res, err := limiter.AllowUser(ctx, "42")
		require.NoError(t, err)
		assert.True(t, res.Allowed, "request %d", i)
	}

	res, err := limiter.AllowUser(ctx, "42")
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, 2, res.Limit)
	assert.Positive(t, res.RetryAfter)
}

func TestPublishLimiter_BucketsArePerUser(t *testing.T) {
	limiter, srv := newTestLimiter(t, 0.001, 1)
	ctx := context.Background()

	res, err := limiter.AllowUser(ctx, "1")
	require.NoError(t, err)
	require.True(t, res.Allowed)

	res, err = limiter.AllowUser(ctx, "1")
	require.NoError(t, err)
	assert.False(t, res.Allowed)

	res, err = limiter.AllowUser(ctx, "2")
	require.NoError(t, err)
	assert.True(t, res.Allowed)

	assert.True(t, srv.Exists("newsletter:publish:user:1"))
	assert.True(t, srv.Exists("newsletter:publish:user:2"))
}

func TestPublishLimiter_RejectsEmptyUser(t *testing.T) {
	limiter, _ := newTestLimiter(t, 1, 1)

	res, err := limiter.AllowUser(context.Background(), "  ")
	require.Error(t, err)
	assert.False(t, res.Allowed)
}

func TestPublishLimiter_DisabledAllows(t *testing.T) {
	limiter, err := NewPublishLimiter(config.Config{})
	require.NoError(t, err)
	require.Nil(t, limiter)

	res, err := limiter.AllowUser(context.Background(), "42")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.False(t, limiter.Enabled())
}

func TestNewPublishLimiter_RequiresPositiveRate(t *testing.T) {
	_, err := newPublishLimiter(nil, config.RateLimitConfig{PublishRate: 0, PublishBurst: 1})
	require.Error(t, err)
}

func TestDefaultBucketTTL(t *testing.T) {
	assert.Equal(t, int64(10), int64(defaultBucketTTL(1, 5).Seconds()))
	assert.Equal(t, int64(1), int64(defaultBucketTTL(100, 1).Seconds()))
}

func TestAdmitPublish_ReturnsRetryAfterOnceExhausted(t *testing.T) {
	limiter, _ := newTestLimiter(t, 0.001, 1)
	ctx := context.Background()

	require.NoError(t, limiter.AdmitPublish(ctx, "42"))

	err := limiter.AdmitPublish(ctx, "42")
	require.ErrorIs(t, err, ErrLimitExceeded)
	var exceeded *LimitExceededError
	require.True(t, errors.As(err, &exceeded))
	assert.Equal(t, ReasonUserRate, exceeded.Reason)
	assert.Positive(t, exceeded.RetryAfter)
}

func TestAdmitPublish_RedisDownIsUnavailable(t *testing.T) {
	limiter, srv := newTestLimiter(t, 1, 1)
	srv.Close()

	err := limiter.AdmitPublish(context.Background(), "42")
	assert.ErrorIs(t, err, ErrLimiterUnavailable)
}

func TestAdmitPublish_DisabledAdmits(t *testing.T) {
	var limiter *PublishLimiter
	assert.NoError(t, limiter.AdmitPublish(context.Background(), "42"))
}
