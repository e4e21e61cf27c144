package migration

import (
	"strings"

	"github.com/smallbiznis/newsletter/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config, log *zap.Logger) error {
		if err := Run(conn, strings.ToLower(strings.TrimSpace(cfg.DBType))); err != nil {
			return err
		}
		log.Named("migrations").Info("schema up to date", zap.String("type", cfg.DBType))
		return nil
	}),
)
