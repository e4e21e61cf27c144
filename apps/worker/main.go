package main

import (
	"github.com/smallbiznis/newsletter/internal/clock"
	"github.com/smallbiznis/newsletter/internal/config"
	"github.com/smallbiznis/newsletter/internal/delivery"
	"github.com/smallbiznis/newsletter/internal/migration"
	"github.com/smallbiznis/newsletter/internal/newsletter"
	"github.com/smallbiznis/newsletter/internal/observability"
	"github.com/smallbiznis/newsletter/internal/providers/email"
	"github.com/smallbiznis/newsletter/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		db.Module,
		clock.Module,
		migration.Module,

		// Delivery worker only needs the issue repository and a transport.
		email.Module,
		newsletter.Module,
		delivery.Module,
	)
	app.Run()
}
