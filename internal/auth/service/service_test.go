package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/newsletter/internal/auth/domain"
	"github.com/smallbiznis/newsletter/internal/auth/repository"
	"github.com/smallbiznis/newsletter/internal/clock"
	"github.com/smallbiznis/newsletter/pkg/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestService(t *testing.T) domain.Service {
	t.Helper()
	conn, err := db.NewTest()
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(&domain.User{}))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	return New(zap.NewNop(), repository.New(conn), node, clock.NewFakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)))
}

func TestCreateUserAndAuthenticate(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	user, err := svc.CreateUser(ctx, domain.CreateUserRequest{Username: "admin", Password: "everythinghastostartsomewhere", Role: "ADMIN"})
	require.NoError(t, err)
	assert.Equal(t, domain.RoleAdmin, user.Role)
	assert.NotContains(t, user.PasswordHash, "everythinghastostartsomewhere")

	got, err := svc.Authenticate(ctx, domain.Credentials{Username: "admin", Password: "everythinghastostartsomewhere"})
	require.NoError(t, err)
	assert.Equal(t, user.ID, got.ID)

	_, err = svc.Authenticate(ctx, domain.Credentials{Username: "admin", Password: "wrong-password"})
	assert.ErrorIs(t, err, domain.ErrInvalidCredentials)

	_, err = svc.Authenticate(ctx, domain.Credentials{Username: "nobody", Password: "everythinghastostartsomewhere"})
	assert.ErrorIs(t, err, domain.ErrInvalidCredentials)
}

func TestCreateUser_Validation(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.CreateUser(ctx, domain.CreateUserRequest{Username: "editor", Password: "short"})
	assert.ErrorIs(t, err, domain.ErrWeakPassword)

	_, err = svc.CreateUser(ctx, domain.CreateUserRequest{Username: "editor", Password: "long-enough-password", Role: "owner"})
	assert.ErrorIs(t, err, domain.ErrInvalidRole)

	user, err := svc.CreateUser(ctx, domain.CreateUserRequest{Username: "editor", Password: "long-enough-password"})
	require.NoError(t, err)
	assert.Equal(t, domain.RoleEditor, user.Role)

	_, err = svc.CreateUser(ctx, domain.CreateUserRequest{Username: "editor", Password: "long-enough-password"})
	assert.ErrorIs(t, err, domain.ErrUserExists)
}
