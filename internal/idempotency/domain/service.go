package domain

import (
	"context"

	"gorm.io/gorm"
)

type ActionKind int

const (
	// StartProcessing hands the caller an open transaction that must be finished with SaveResponse or rolled back.
	StartProcessing ActionKind = iota + 1
	// ReturnSaved carries the response of an earlier completed attempt.
	ReturnSaved
)

func (k ActionKind) String() string {
	switch k {
	case StartProcessing:
		return "start_processing"
	case ReturnSaved:
		return "return_saved"
	default:
		return "unknown"
	}
}

type NextAction struct {
	Kind     ActionKind
	Tx       *gorm.DB
	Response StoredResponse
}

const (
	RacePolicyFail = "fail"
	RacePolicyWait = "wait"
)

type Service interface {
	TryProcessing(ctx context.Context, userID string, key Key) (NextAction, error)
	SaveResponse(ctx context.Context, tx *gorm.DB, userID string, key Key, resp StoredResponse) (StoredResponse, error)
}
