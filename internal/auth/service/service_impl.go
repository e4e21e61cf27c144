package service

import (
	"context"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"github.com/smallbiznis/newsletter/internal/auth/domain"
	"github.com/smallbiznis/newsletter/internal/auth/password"
	"github.com/smallbiznis/newsletter/internal/clock"
	"go.uber.org/zap"
)

const minPasswordLength = 12

// fallbackHash is verified when the username is unknown so that both paths
// cost one Argon2id evaluation.
var fallbackHash, _ = password.Hash(uuid.NewString())

type Service struct {
	log   *zap.Logger
	repo  domain.Repository
	genID *snowflake.Node
	clock clock.Clock
}

func New(log *zap.Logger, repo domain.Repository, genID *snowflake.Node, clk clock.Clock) domain.Service {
	return &Service{
		log:   log.Named("auth.service"),
		repo:  repo,
		genID: genID,
		clock: clk,
	}
}

func (s *Service) CreateUser(ctx context.Context, req domain.CreateUserRequest) (*domain.User, error) {
	username := strings.TrimSpace(req.Username)
	if username == "" {
		return nil, domain.ErrInvalidCredentials
	}
	if len(req.Password) < minPasswordLength {
		return nil, domain.ErrWeakPassword
	}

	role := strings.ToLower(strings.TrimSpace(req.Role))
	switch role {
	case domain.RoleAdmin, domain.RoleEditor:
	case "":
		role = domain.RoleEditor
	default:
		return nil, domain.ErrInvalidRole
	}

	hashed, err := password.Hash(req.Password)
	if err != nil {
		return nil, err
	}

	user := &domain.User{
		ID:           s.genID.Generate(),
		Username:     username,
		PasswordHash: hashed,
		Role:         role,
		CreatedAt:    s.clock.Now(),
	}
	if err := s.repo.Create(ctx, user); err != nil {
		return nil, err
	}

	s.log.Info("user created", zap.String("user_id", user.ID.String()), zap.String("role", role))
	return user, nil
}

func (s *Service) Authenticate(ctx context.Context, creds domain.Credentials) (*domain.User, error) {
	username := strings.TrimSpace(creds.Username)
	if username == "" || creds.Password == "" {
		return nil, domain.ErrInvalidCredentials
	}

	user, err := s.repo.FindByUsername(ctx, username)
	if err != nil && !errors.Is(err, domain.ErrUserNotFound) {
		return nil, err
	}

	expected := fallbackHash
	if user != nil {
		expected = user.PasswordHash
	}
	if !password.Verify(creds.Password, expected) || user == nil {
		return nil, domain.ErrInvalidCredentials
	}
	return user, nil
}
