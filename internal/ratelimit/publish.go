package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/newsletter/internal/config"
)

const (
	keyPublishUser = "newsletter:publish:user:%s"

	ReasonUserRate = "user-rate"
)

var (
	ErrLimitExceeded      = errors.New("rate_limited")
	ErrLimiterUnavailable = errors.New("rate_limiter_unavailable")
)

// LimitExceededError carries how long the caller should wait before retrying.
type LimitExceededError struct {
	Reason     string
	RetryAfter time.Duration
}

func (e *LimitExceededError) Error() string {
	return fmt.Sprintf("rate limited (%s), retry after %s", e.Reason, e.RetryAfter)
}

func (e *LimitExceededError) Unwrap() error { return ErrLimitExceeded }

// PublishLimiter throttles publish commands per authenticated user.
// A nil limiter allows everything.
type PublishLimiter struct {
	bucket *TokenBucket
	rate   float64
	burst  int
}

func NewPublishLimiter(cfg config.Config) (*PublishLimiter, error) {
	if !cfg.Redis.Enabled() {
		return nil, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     strings.TrimSpace(cfg.Redis.Addr),
		Password: strings.TrimSpace(cfg.Redis.Password),
		DB:       cfg.Redis.DB,
	})
	return newPublishLimiter(client, cfg.RateLimit)
}

func newPublishLimiter(client *redis.Client, cfg config.RateLimitConfig) (*PublishLimiter, error) {
	if cfg.PublishRate <= 0 || cfg.PublishBurst <= 0 {
		return nil, errors.New("publish rate limit must be positive")
	}
	return &PublishLimiter{
		bucket: NewTokenBucket(client),
		rate:   cfg.PublishRate,
		burst:  cfg.PublishBurst,
	}, nil
}

func (l *PublishLimiter) Enabled() bool {
	return l != nil && l.bucket != nil
}

func (l *PublishLimiter) AllowUser(ctx context.Context, userID string) (*RateLimitResult, error) {
	if !l.Enabled() {
		return &RateLimitResult{Allowed: true}, nil
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return &RateLimitResult{Allowed: false}, errors.New("rate limiter user id is empty")
	}
	return l.bucket.Allow(ctx, fmt.Sprintf(keyPublishUser, userID), l.rate, l.burst)
}

// AdmitPublish charges one token from the user's bucket. It returns a
// *LimitExceededError when the bucket is empty and ErrLimiterUnavailable when
// redis cannot be reached.
func (l *PublishLimiter) AdmitPublish(ctx context.Context, userID string) error {
	if !l.Enabled() {
		return nil
	}
	res, err := l.AllowUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrLimiterUnavailable, err)
	}
	if !res.Allowed {
		return &LimitExceededError{Reason: ReasonUserRate, RetryAfter: res.RetryAfter}
	}
	return nil
}
