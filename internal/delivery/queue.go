package delivery

import (
	"context"
	"errors"
	"time"

	newsletterdomain "github.com/smallbiznis/newsletter/internal/newsletter/domain"
	"gorm.io/gorm"
)

var (
	// ErrClaimLost means the selected row changed between select and update.
	ErrClaimLost = errors.New("delivery_claim_lost")
	// ErrLeaseLost means another worker took the task over after the lease expired.
	ErrLeaseLost = errors.New("delivery_lease_lost")
)

// ClaimFilter selects the next task a worker may take.
type ClaimFilter struct {
	Now time.Time
	// LeaseCutoff, when set, also makes claims taken before it eligible again.
	LeaseCutoff time.Time
	SkipLocked  bool
}

// Queue is the storage side of the delivery outbox. Every method runs on the
// handle it is given so callers decide the transaction boundaries.
type Queue interface {
	ClaimNext(ctx context.Context, tx *gorm.DB, filter ClaimFilter) (*newsletterdomain.DeliveryTask, error)
	// Delete and Reschedule only touch the row while it still carries the
	// task's claim. Delete reports false and Reschedule returns ErrLeaseLost
	// otherwise.
	Delete(ctx context.Context, tx *gorm.DB, task newsletterdomain.DeliveryTask) (bool, error)
	Reschedule(ctx context.Context, tx *gorm.DB, task newsletterdomain.DeliveryTask, nRetries int, executeAfter time.Time) error
	Count(ctx context.Context, db *gorm.DB) (int64, error)
}

type queue struct{}

func ProvideQueue() Queue {
	return &queue{}
}

func (q *queue) ClaimNext(ctx context.Context, tx *gorm.DB, filter ClaimFilter) (*newsletterdomain.DeliveryTask, error) {
	where := `claimed = ? AND execute_after <= ?`
	args := []any{false, filter.Now}
	if !filter.LeaseCutoff.IsZero() {
		where = `(` + where + `) OR (claimed = ? AND claimed_at < ?)`
		args = append(args, true, filter.LeaseCutoff)
	}

	query := `SELECT issue_id, subscriber_email, claimed, claimed_at, n_retries, execute_after, enqueued_at
		FROM issue_delivery_queue
		WHERE ` + where + `
		ORDER BY enqueued_at, issue_id, subscriber_email
		LIMIT 1`
	if filter.SkipLocked {
		query += ` FOR UPDATE SKIP LOCKED`
	}

	var tasks []newsletterdomain.DeliveryTask
	if err := tx.WithContext(ctx).Raw(query, args...).Scan(&tasks).Error; err != nil {
		return nil, err
	}
	if len(tasks) == 0 {
		return nil, nil
	}
	task := tasks[0]

	// DATETIME(6) and timestamptz keep microseconds; the owner check compares
	// against the stored value.
	claimedAt := filter.Now.Truncate(time.Microsecond)
	res := tx.WithContext(ctx).Exec(
		`UPDATE issue_delivery_queue
		SET claimed = ?, claimed_at = ?
		WHERE issue_id = ? AND subscriber_email = ? AND claimed = ?`,
		true,
		claimedAt,
		task.IssueID,
		task.SubscriberEmail,
		task.Claimed,
	)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected != 1 {
		return nil, ErrClaimLost
	}

	task.Claimed = true
	task.ClaimedAt = &claimedAt
	return &task, nil
}

func (q *queue) Delete(ctx context.Context, tx *gorm.DB, task newsletterdomain.DeliveryTask) (bool, error) {
	owner, ownerArgs := ownedBy(task)
	args := append([]any{task.IssueID, task.SubscriberEmail}, ownerArgs...)
	res := tx.WithContext(ctx).Exec(
		`DELETE FROM issue_delivery_queue WHERE issue_id = ? AND subscriber_email = ?`+owner,
		args...,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (q *queue) Reschedule(ctx context.Context, tx *gorm.DB, task newsletterdomain.DeliveryTask, nRetries int, executeAfter time.Time) error {
	owner, ownerArgs := ownedBy(task)
	args := append([]any{false, nRetries, executeAfter, task.IssueID, task.SubscriberEmail}, ownerArgs...)
	res := tx.WithContext(ctx).Exec(
		`UPDATE issue_delivery_queue
		SET claimed = ?, claimed_at = NULL, n_retries = ?, execute_after = ?
		WHERE issue_id = ? AND subscriber_email = ?`+owner,
		args...,
	)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected != 1 {
		return ErrLeaseLost
	}
	return nil
}

// ownedBy narrows a statement to the claim recorded on task.
func ownedBy(task newsletterdomain.DeliveryTask) (string, []any) {
	if task.ClaimedAt == nil {
		return "", nil
	}
	return ` AND claimed = ? AND claimed_at = ?`, []any{true, *task.ClaimedAt}
}

func (q *queue) Count(ctx context.Context, db *gorm.DB) (int64, error) {
	var count int64
	err := db.WithContext(ctx).Raw(`SELECT COUNT(*) FROM issue_delivery_queue`).Scan(&count).Error
	return count, err
}

// supportsSkipLocked reports whether the connected store understands
// FOR UPDATE SKIP LOCKED. SQLite serializes writers instead.
func supportsSkipLocked(db *gorm.DB) bool {
	switch db.Dialector.Name() {
	case "postgres", "mysql":
		return true
	default:
		return false
	}
}
