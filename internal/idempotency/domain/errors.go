package domain

import "errors"

var (
	ErrInvalidKey       = errors.New("invalid_idempotency_key")
	ErrInvalidUser      = errors.New("invalid_user_id")
	ErrInvalidResponse  = errors.New("invalid_stored_response")
	ErrResponseNotReady = errors.New("idempotency_response_not_ready")
)
