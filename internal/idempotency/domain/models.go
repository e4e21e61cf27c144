package domain

import (
	"strings"
	"time"

	"gorm.io/datatypes"
)

// Record is one row of the idempotency table. Null response columns mean
// the first attempt has not committed a result yet.
type Record struct {
	UserID             string         `gorm:"column:user_id;primaryKey;size:64" json:"user_id"`
	IdempotencyKey     string         `gorm:"column:idempotency_key;primaryKey;size:64" json:"idempotency_key"`
	CreatedAt          time.Time      `gorm:"column:created_at;not null" json:"created_at"`
	ResponseStatusCode *int16         `gorm:"column:response_status_code" json:"response_status_code,omitempty"`
	ResponseHeaders    datatypes.JSON `gorm:"column:response_headers" json:"response_headers,omitempty"`
	ResponseBody       []byte         `gorm:"column:response_body" json:"response_body,omitempty"`
}

func (Record) TableName() string { return "idempotency" }

func (r Record) Completed() bool {
	return r.ResponseStatusCode != nil
}

type HeaderPair struct {
	Name  string `json:"name"`
	Value []byte `json:"value"`
}

// StoredResponse is the framework-neutral form of an HTTP response that can be
// replayed byte for byte.
type StoredResponse struct {
	StatusCode int
	Headers    []HeaderPair
	Body       []byte
}

// Header returns the first value stored under name, compared case-insensitively.
func (r StoredResponse) Header(name string) (string, bool) {
	for _, h := range r.Headers {
		if strings.EqualFold(h.Name, name) {
			return string(h.Value), true
		}
	}
	return "", false
}
