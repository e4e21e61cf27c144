package domain

import (
	"context"
	"time"

	"gorm.io/gorm"
)

type Repository interface {
	// InsertPlaceholder reports whether a new row was written; false means the key already exists.
	InsertPlaceholder(ctx context.Context, tx *gorm.DB, userID string, key Key, createdAt time.Time) (bool, error)
	Find(ctx context.Context, db *gorm.DB, userID string, key Key) (*Record, error)
	SaveResponse(ctx context.Context, tx *gorm.DB, userID string, key Key, status int16, headers []byte, body []byte) error
}
