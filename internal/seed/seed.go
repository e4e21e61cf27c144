package seed

import (
	"context"
	"errors"
	"strings"

	authdomain "github.com/smallbiznis/newsletter/internal/auth/domain"
	"github.com/smallbiznis/newsletter/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Module creates the bootstrap admin after migrations have run.
var Module = fx.Module("seed",
	fx.Invoke(func(cfg config.Config, users authdomain.Repository, authsvc authdomain.Service, log *zap.Logger) error {
		log = log.Named("seed")
		created, err := EnsureAdmin(context.Background(), users, authsvc, cfg.Admin)
		if err != nil {
			return err
		}
		switch {
		case created:
			log.Info("bootstrap admin created", zap.String("username", cfg.Admin.Username))
		case strings.TrimSpace(cfg.Admin.Password) == "":
			log.Warn("ADMIN_PASSWORD not set, skipping admin bootstrap")
		}
		return nil
	}),
)

// EnsureAdmin creates the configured admin user unless it already exists.
// It reports whether a user was created.
func EnsureAdmin(ctx context.Context, users authdomain.Repository, authsvc authdomain.Service, cfg config.AdminConfig) (bool, error) {
	username := strings.TrimSpace(cfg.Username)
	if username == "" || cfg.Password == "" {
		return false, nil
	}

	_, err := users.FindByUsername(ctx, username)
	switch {
	case err == nil:
		return false, nil
	case !errors.Is(err, authdomain.ErrUserNotFound):
		return false, err
	}

	_, err = authsvc.CreateUser(ctx, authdomain.CreateUserRequest{
		Username: username,
		Password: cfg.Password,
		Role:     authdomain.RoleAdmin,
	})
	if errors.Is(err, authdomain.ErrUserExists) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
