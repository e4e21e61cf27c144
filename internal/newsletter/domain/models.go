// Package domain contains the newsletter issue and its delivery outbox.
package domain

import "time"

// Issue is a published newsletter. Rows are immutable once written.
type Issue struct {
	ID          string    `gorm:"column:issue_id;primaryKey;size:26" json:"issue_id"`
	Title       string    `gorm:"type:text;not null" json:"title"`
	Slug        string    `gorm:"type:text;not null" json:"slug"`
	TextContent string    `gorm:"column:text_content;type:text;not null" json:"text_content"`
	HTMLContent string    `gorm:"column:html_content;type:text;not null" json:"html_content"`
	PublishedAt time.Time `gorm:"not null" json:"published_at"`
}

// TableName sets the database table name.
func (Issue) TableName() string { return "newsletter_issues" }

// DeliveryTask is one outbox row: a pending delivery of an issue to a single
// recipient. The row is deleted once its delivery attempt is retired.
type DeliveryTask struct {
	IssueID         string     `gorm:"column:issue_id;primaryKey;size:26"`
	SubscriberEmail string     `gorm:"column:subscriber_email;primaryKey;size:320"`
	Claimed         bool       `gorm:"not null;default:false"`
	ClaimedAt       *time.Time `gorm:"column:claimed_at"`
	NRetries        int        `gorm:"column:n_retries;not null;default:0"`
	ExecuteAfter    time.Time  `gorm:"column:execute_after;not null;index"`
	EnqueuedAt      time.Time  `gorm:"column:enqueued_at;not null;index"`
}

// TableName sets the database table name.
func (DeliveryTask) TableName() string { return "issue_delivery_queue" }

// PublishCommand is the parsed publish form.
type PublishCommand struct {
	Title          string `form:"title"`
	TextContent    string `form:"text_content"`
	HTMLContent    string `form:"html_content"`
	IdempotencyKey string `form:"idempotency_key"`
}

type EnqueueResult struct {
	IssueID    string
	Recipients int
}

type IssueView struct {
	Issue
	PendingDeliveries int64 `json:"pending_deliveries"`
}
