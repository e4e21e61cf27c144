package repository

import (
	"context"

	newsletterdomain "github.com/smallbiznis/newsletter/internal/newsletter/domain"
	"gorm.io/gorm"
)

const enqueueBatchSize = 500

type repo struct{}

func Provide() newsletterdomain.Repository {
	return &repo{}
}

func (r *repo) InsertIssue(ctx context.Context, db *gorm.DB, issue *newsletterdomain.Issue) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO newsletter_issues (issue_id, title, slug, text_content, html_content, published_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		issue.ID,
		issue.Title,
		issue.Slug,
		issue.TextContent,
		issue.HTMLContent,
		issue.PublishedAt,
	).Error
}

// EnqueueDeliveries inserts every task as given. Duplicate (issue, recipient)
// pairs fail on the primary key instead of being collapsed.
func (r *repo) EnqueueDeliveries(ctx context.Context, db *gorm.DB, tasks []newsletterdomain.DeliveryTask) error {
	if len(tasks) == 0 {
		return nil
	}
	return db.WithContext(ctx).CreateInBatches(tasks, enqueueBatchSize).Error
}

func (r *repo) FindIssue(ctx context.Context, db *gorm.DB, issueID string) (*newsletterdomain.Issue, error) {
	var issue newsletterdomain.Issue
	err := db.WithContext(ctx).Raw(
		`SELECT issue_id, title, slug, text_content, html_content, published_at
		FROM newsletter_issues
		WHERE issue_id = ?
		LIMIT 1`,
		issueID,
	).Scan(&issue).Error
	if err != nil {
		return nil, err
	}
	if issue.ID == "" {
		return nil, nil
	}
	return &issue, nil
}

func (r *repo) ListIssues(ctx context.Context, db *gorm.DB, beforeID string, limit int) ([]*newsletterdomain.Issue, error) {
	query := db.WithContext(ctx).
		Model(&newsletterdomain.Issue{}).
		Order("issue_id DESC").
		Limit(limit)
	if beforeID != "" {
		query = query.Where("issue_id < ?", beforeID)
	}

	var issues []*newsletterdomain.Issue
	if err := query.Find(&issues).Error; err != nil {
		return nil, err
	}
	return issues, nil
}

func (r *repo) CountPending(ctx context.Context, db *gorm.DB, issueID string) (int64, error) {
	var count int64
	err := db.WithContext(ctx).Raw(
		`SELECT COUNT(*) FROM issue_delivery_queue WHERE issue_id = ?`,
		issueID,
	).Scan(&count).Error
	return count, err
}
