// Package domain contains persistence models for newsletter subscriptions.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Status is the confirmation state of a subscription.
type Status string

const (
	StatusPendingConfirmation Status = "pending_confirmation"
	StatusConfirmed           Status = "confirmed"
)

// Subscription is one reader signed up for the newsletter. Only confirmed
// subscriptions receive issues.
type Subscription struct {
	ID           snowflake.ID `gorm:"primaryKey"`
	Email        string       `gorm:"type:text;not null;uniqueIndex"`
	Name         string       `gorm:"type:text;not null"`
	Status       Status       `gorm:"type:text;not null"`
	SubscribedAt time.Time    `gorm:"not null"`
}

// TableName sets the database table name.
func (Subscription) TableName() string { return "subscriptions" }

// SubscriptionToken links a confirmation link back to its subscription.
type SubscriptionToken struct {
	Token          string       `gorm:"column:subscription_token;primaryKey;size:64"`
	SubscriptionID snowflake.ID `gorm:"column:subscriber_id;not null;index"`
}

// TableName sets the database table name.
func (SubscriptionToken) TableName() string { return "subscription_tokens" }
