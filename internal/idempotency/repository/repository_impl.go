package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/smallbiznis/newsletter/internal/idempotency/domain"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) InsertPlaceholder(ctx context.Context, tx *gorm.DB, userID string, key domain.Key, createdAt time.Time) (bool, error) {
	stmt := `INSERT INTO idempotency (user_id, idempotency_key, created_at)
		 VALUES (?, ?, ?)
		 ON CONFLICT DO NOTHING`
	if tx.Dialector.Name() == "mysql" {
		stmt = `INSERT IGNORE INTO idempotency (user_id, idempotency_key, created_at)
		 VALUES (?, ?, ?)`
	}

	res := tx.WithContext(ctx).Exec(stmt, userID, string(key), createdAt)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) Find(ctx context.Context, db *gorm.DB, userID string, key domain.Key) (*domain.Record, error) {
	var rec domain.Record
	res := db.WithContext(ctx).Raw(
		`SELECT user_id, idempotency_key, created_at, response_status_code, response_headers, response_body
		 FROM idempotency
		 WHERE user_id = ? AND idempotency_key = ?`,
		userID,
		string(key),
	).Scan(&rec)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 || rec.UserID == "" {
		return nil, nil
	}
	return &rec, nil
}

func (r *repo) SaveResponse(ctx context.Context, tx *gorm.DB, userID string, key domain.Key, status int16, headers []byte, body []byte) error {
	res := tx.WithContext(ctx).Exec(
		`UPDATE idempotency
		 SET response_status_code = ?, response_headers = ?, response_body = ?
		 WHERE user_id = ? AND idempotency_key = ?`,
		status,
		datatypes.JSON(headers),
		body,
		userID,
		string(key),
	)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected != 1 {
		return fmt.Errorf("save idempotent response: expected 1 row, updated %d", res.RowsAffected)
	}
	return nil
}
