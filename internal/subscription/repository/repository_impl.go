package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	subscriptiondomain "github.com/smallbiznis/newsletter/internal/subscription/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() subscriptiondomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, subscription *subscriptiondomain.Subscription) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO subscriptions (id, email, name, status, subscribed_at)
		VALUES (?, ?, ?, ?, ?)`,
		subscription.ID,
		subscription.Email,
		subscription.Name,
		subscription.Status,
		subscription.SubscribedAt,
	).Error
}

func (r *repo) InsertToken(ctx context.Context, db *gorm.DB, token subscriptiondomain.SubscriptionToken) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO subscription_tokens (subscription_token, subscriber_id) VALUES (?, ?)`,
		token.Token,
		token.SubscriptionID,
	).Error
}

func (r *repo) FindByEmail(ctx context.Context, db *gorm.DB, email string) (*subscriptiondomain.Subscription, error) {
	var subscription subscriptiondomain.Subscription
	err := db.WithContext(ctx).Raw(
		`SELECT id, email, name, status, subscribed_at
		FROM subscriptions
		WHERE email = ?
		LIMIT 1`,
		email,
	).Scan(&subscription).Error
	if err != nil {
		return nil, err
	}
	if subscription.ID == 0 {
		return nil, nil
	}
	return &subscription, nil
}

func (r *repo) FindSubscriptionIDByToken(ctx context.Context, db *gorm.DB, token string) (snowflake.ID, error) {
	var row struct {
		SubscriberID snowflake.ID `gorm:"column:subscriber_id"`
	}
	err := db.WithContext(ctx).Raw(
		`SELECT subscriber_id FROM subscription_tokens WHERE subscription_token = ? LIMIT 1`,
		token,
	).Scan(&row).Error
	if err != nil {
		return 0, err
	}
	return row.SubscriberID, nil
}

func (r *repo) UpdateStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, status subscriptiondomain.Status) error {
	return db.WithContext(ctx).Exec(
		`UPDATE subscriptions SET status = ? WHERE id = ?`,
		status,
		id,
	).Error
}

func (r *repo) ConfirmedEmails(ctx context.Context, db *gorm.DB) ([]string, error) {
	var emails []string
	err := db.WithContext(ctx).Raw(
		`SELECT email FROM subscriptions WHERE status = ? ORDER BY id ASC`,
		subscriptiondomain.StatusConfirmed,
	).Scan(&emails).Error
	if err != nil {
		return nil, err
	}
	return emails, nil
}
