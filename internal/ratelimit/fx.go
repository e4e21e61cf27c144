package ratelimit

import (
	newsletterdomain "github.com/smallbiznis/newsletter/internal/newsletter/domain"
	"go.uber.org/fx"
)

var Module = fx.Module("rate.limit",
	fx.Provide(
		NewPublishLimiter,
		func(l *PublishLimiter) newsletterdomain.PublishThrottle { return l },
	),
)
