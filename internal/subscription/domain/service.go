package domain

import "context"

type Service interface {
	Subscribe(ctx context.Context, req SubscribeRequest) (*Subscription, error)
	Confirm(ctx context.Context, token string) error
}

type SubscribeRequest struct {
	Name  string `form:"name"`
	Email string `form:"email"`
}
