package domain

import (
	"context"

	"gorm.io/gorm"
)

type Repository interface {
	InsertIssue(ctx context.Context, db *gorm.DB, issue *Issue) error
	EnqueueDeliveries(ctx context.Context, db *gorm.DB, tasks []DeliveryTask) error
	FindIssue(ctx context.Context, db *gorm.DB, issueID string) (*Issue, error)
	// ListIssues returns up to limit issues older than beforeID, newest first.
	ListIssues(ctx context.Context, db *gorm.DB, beforeID string, limit int) ([]*Issue, error)
	CountPending(ctx context.Context, db *gorm.DB, issueID string) (int64, error)
}

// RecipientSource reads the addresses that should receive a new issue.
type RecipientSource interface {
	ConfirmedEmails(ctx context.Context, db *gorm.DB) ([]string, error)
}
