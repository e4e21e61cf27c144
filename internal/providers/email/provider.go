package email

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Provider is the outbound mail transport. Errors are transient from the
// caller's point of view: nothing here distinguishes a bad mailbox from an outage.
type Provider interface {
	Send(ctx context.Context, to, subject, htmlBody, textBody string) error
}

// SendError carries the provider name and, for HTTP transports, the response status.
type SendError struct {
	Provider   string
	StatusCode int
	Err        error
}

func (e *SendError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: status %d: %v", e.Provider, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Provider, e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }

type NoOpProvider struct {
	log *zap.Logger
}

func NewNoOp(log *zap.Logger) *NoOpProvider {
	if log == nil {
		log = zap.NewNop()
	}
	return &NoOpProvider{log: log.Named("email.noop")}
}

func (p *NoOpProvider) Send(ctx context.Context, to, subject, htmlBody, textBody string) error {
	p.log.Debug("email dropped", zap.String("subject", subject), zap.Int("html_bytes", len(htmlBody)), zap.Int("text_bytes", len(textBody)))
	return nil
}
