package domain

import "context"

type Service interface {
	CreateUser(ctx context.Context, req CreateUserRequest) (*User, error)
	// Authenticate returns the user owning the credentials or ErrInvalidCredentials.
	Authenticate(ctx context.Context, creds Credentials) (*User, error)
}

type CreateUserRequest struct {
	Username string
	Password string
	Role     string
}
