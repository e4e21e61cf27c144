package email

import (
	"github.com/smallbiznis/newsletter/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("providers.email",
	fx.Provide(NewFromConfig),
	fx.Provide(NewTemplates),
)

func NewFromConfig(cfg config.Config, log *zap.Logger) Provider {
	var transport Provider
	switch cfg.Email.Provider {
	case "smtp":
		transport = NewSMTP(SMTPConfig{
			Host:     cfg.Email.SMTPHost,
			Port:     cfg.Email.SMTPPort,
			Username: cfg.Email.SMTPUser,
			Password: cfg.Email.SMTPPassword,
			From:     cfg.Email.Sender,
		})
	case "postmark":
		transport = NewPostmark(PostmarkConfig{
			BaseURL: cfg.Email.PostmarkBaseURL,
			Token:   cfg.Email.PostmarkToken,
			Sender:  cfg.Email.Sender,
			Timeout: cfg.Email.Timeout,
		})
	default:
		return NewNoOp(log)
	}

	log.Info("email transport configured", zap.String("provider", cfg.Email.Provider))
	return NewBreaker(transport, BreakerConfig{
		Name:                cfg.Email.Provider,
		ConsecutiveFailures: cfg.Email.BreakerConsecutiveFailures,
		OpenTimeout:         cfg.Email.BreakerOpenTimeout,
	}, log)
}
