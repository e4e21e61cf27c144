package idempotency

import (
	"github.com/smallbiznis/newsletter/internal/idempotency/repository"
	"github.com/smallbiznis/newsletter/internal/idempotency/service"
	"go.uber.org/fx"
)

var Module = fx.Module("idempotency.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
