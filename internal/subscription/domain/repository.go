package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, subscription *Subscription) error
	InsertToken(ctx context.Context, db *gorm.DB, token SubscriptionToken) error
	FindByEmail(ctx context.Context, db *gorm.DB, email string) (*Subscription, error)
	FindSubscriptionIDByToken(ctx context.Context, db *gorm.DB, token string) (snowflake.ID, error)
	UpdateStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, status Status) error
	// ConfirmedEmails lists every address currently in the confirmed state.
	ConfirmedEmails(ctx context.Context, db *gorm.DB) ([]string, error)
}
