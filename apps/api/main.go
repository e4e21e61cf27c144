package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/newsletter/internal/auth"
	"github.com/smallbiznis/newsletter/internal/authorization"
	"github.com/smallbiznis/newsletter/internal/clock"
	"github.com/smallbiznis/newsletter/internal/config"
	"github.com/smallbiznis/newsletter/internal/idempotency"
	"github.com/smallbiznis/newsletter/internal/migration"
	"github.com/smallbiznis/newsletter/internal/newsletter"
	"github.com/smallbiznis/newsletter/internal/observability"
	"github.com/smallbiznis/newsletter/internal/providers/email"
	"github.com/smallbiznis/newsletter/internal/ratelimit"
	"github.com/smallbiznis/newsletter/internal/seed"
	"github.com/smallbiznis/newsletter/internal/server"
	"github.com/smallbiznis/newsletter/internal/subscription"
	"github.com/smallbiznis/newsletter/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,

		// Publish and subscription surface, no delivery loop
		auth.Module,
		seed.Module,
		authorization.Module,
		email.Module,
		subscription.Module,
		idempotency.Module,
		newsletter.Module,
		ratelimit.Module,

		server.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
