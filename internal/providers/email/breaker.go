package email

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

var ErrCircuitOpen = errors.New("email_transport_unavailable")

type BreakerConfig struct {
	Name                string
	ConsecutiveFailures uint32
	OpenTimeout         time.Duration
}

// BreakerProvider stops calling the transport after repeated failures and
// fails fast until the open timeout elapses.
type BreakerProvider struct {
	next    Provider
	breaker *gobreaker.CircuitBreaker
}

func NewBreaker(next Provider, cfg BreakerConfig, log *zap.Logger) *BreakerProvider {
	if log == nil {
		log = zap.NewNop()
	}
	failures := cfg.ConsecutiveFailures
	if failures == 0 {
		failures = 5
	}
	name := cfg.Name
	if name == "" {
		name = "email"
	}
	log = log.Named("email.breaker")

	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		IsSuccessful: func(err error) bool {
			// a cancelled caller says nothing about transport health
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("email circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	}

	return &BreakerProvider{
		next:    next,
		breaker: gobreaker.NewCircuitBreaker(settings),
	}
}

func (p *BreakerProvider) Send(ctx context.Context, to, subject, htmlBody, textBody string) error {
	_, err := p.breaker.Execute(func() (interface{}, error) {
		return nil, p.next.Send(ctx, to, subject, htmlBody, textBody)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return errors.Join(ErrCircuitOpen, err)
	}
	return err
}

func (p *BreakerProvider) State() gobreaker.State {
	return p.breaker.State()
}
