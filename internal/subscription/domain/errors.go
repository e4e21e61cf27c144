package domain

import "errors"

var (
	ErrInvalidEmail      = errors.New("invalid_subscriber_email")
	ErrInvalidName       = errors.New("invalid_subscriber_name")
	ErrInvalidToken      = errors.New("invalid_subscription_token")
	ErrTokenNotFound     = errors.New("subscription_token_not_found")
	ErrAlreadySubscribed = errors.New("subscriber_already_exists")
)
