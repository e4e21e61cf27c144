package domain

import (
	"context"

	idempotencydomain "github.com/smallbiznis/newsletter/internal/idempotency/domain"
	"github.com/smallbiznis/newsletter/pkg/db/pagination"
	"gorm.io/gorm"
)

type Service interface {
	// Publish is idempotent per (userID, cmd.IdempotencyKey).
	Publish(ctx context.Context, userID string, cmd PublishCommand) (PublishResult, error)
	RecordIssueAndEnqueue(ctx context.Context, tx *gorm.DB, title, text, html string) (EnqueueResult, error)
	GetIssue(ctx context.Context, issueID string) (*IssueView, error)
	ListIssues(ctx context.Context, req ListIssuesRequest) (ListIssuesResponse, error)
}

// PublishThrottle admits a first-time publish for a user. Replays of a saved
// response never reach it.
type PublishThrottle interface {
	AdmitPublish(ctx context.Context, userID string) error
}

type PublishResult struct {
	Response idempotencydomain.StoredResponse
	Replayed bool
}

type ListIssuesRequest struct {
	pagination.Pagination
}

type ListIssuesResponse struct {
	Issues   []*Issue             `json:"issues"`
	PageInfo *pagination.PageInfo `json:"page_info"`
}
