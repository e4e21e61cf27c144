package delivery

import (
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/smallbiznis/newsletter/internal/config"
)

var (
	errInvalidRecipient = errors.New("invalid_recipient")
	errIssueMissing     = errors.New("issue_missing")
)

// retryDelay is the wait before attempt number retries+1, doubling from
// RetryBase and capped at RetryMax.
func retryDelay(cfg config.DeliveryConfig, retries int) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.RetryBase
	b.MaxInterval = cfg.RetryMax
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.Reset()

	delay := b.NextBackOff()
	for i := 1; i < retries; i++ {
		delay = b.NextBackOff()
	}
	return delay
}

// shouldRetry decides whether a failed attempt goes back to the queue.
// Permanent failures and best effort delivery always retire the task.
func shouldRetry(cfg config.DeliveryConfig, attempts int, err error) bool {
	if err == nil || errors.Is(err, errInvalidRecipient) || errors.Is(err, errIssueMissing) {
		return false
	}
	if cfg.Policy != config.DeliveryPolicyRetryWithBackoff {
		return false
	}
	return attempts < cfg.MaxAttempts
}
