package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/smallbiznis/newsletter/internal/clock"
	"github.com/smallbiznis/newsletter/internal/config"
	"github.com/smallbiznis/newsletter/internal/idempotency/codec"
	"github.com/smallbiznis/newsletter/internal/idempotency/domain"
	"github.com/smallbiznis/newsletter/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// The placeholder we conflicted with disappeared: its transaction rolled back.
var errFirstAttemptRolledBack = fmt.Errorf("%w: first attempt rolled back", domain.ErrResponseNotReady)

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	Clock   clock.Clock
	Config  config.Config
	Repo    domain.Repository
	Metrics *metrics.OutboxMetrics `optional:"true"`
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	clock       clock.Clock
	repo        domain.Repository
	metrics     *metrics.OutboxMetrics
	racePolicy  string
	waitTimeout time.Duration
}

func New(p Params) domain.Service {
	racePolicy := p.Config.Idempotency.RacePolicy
	if racePolicy != domain.RacePolicyWait {
		racePolicy = domain.RacePolicyFail
	}
	waitTimeout := p.Config.Idempotency.WaitTimeout
	if waitTimeout <= 0 {
		waitTimeout = 5 * time.Second
	}

	return &Service{
		db:          p.DB,
		log:         p.Log.Named("idempotency.service"),
		clock:       p.Clock,
		repo:        p.Repo,
		metrics:     p.Metrics,
		racePolicy:  racePolicy,
		waitTimeout: waitTimeout,
	}
}

func (s *Service) TryProcessing(ctx context.Context, userID string, key domain.Key) (domain.NextAction, error) {
	userID, err := normalizeUser(userID)
	if err != nil {
		return domain.NextAction{}, err
	}
	if _, err := domain.ParseKey(string(key)); err != nil {
		return domain.NextAction{}, err
	}

	tx := s.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return domain.NextAction{}, fmt.Errorf("begin idempotency transaction: %w", tx.Error)
	}

	inserted, err := s.repo.InsertPlaceholder(ctx, tx, userID, key, s.clock.Now())
	if err != nil {
		tx.Rollback()
		return domain.NextAction{}, fmt.Errorf("insert idempotency placeholder: %w", err)
	}
	if inserted {
		s.metrics.IncIdempotencyOutcome(metrics.IdempotencyOutcomeStarted)
		return domain.NextAction{Kind: domain.StartProcessing, Tx: tx}, nil
	}

	rec, err := s.repo.Find(ctx, tx, userID, key)
	tx.Rollback()
	if err != nil {
		return domain.NextAction{}, fmt.Errorf("load saved response: %w", err)
	}

	resp, err := s.decode(rec)
	if errors.Is(err, domain.ErrResponseNotReady) && s.racePolicy == domain.RacePolicyWait {
		resp, err = s.waitForResponse(ctx, userID, key)
	}
	if err != nil {
		if errors.Is(err, domain.ErrResponseNotReady) {
			s.metrics.IncIdempotencyOutcome(metrics.IdempotencyOutcomeNotReady)
			s.log.Warn("concurrent first attempt has not saved a response",
				zap.String("user_id", userID),
				zap.String("idempotency_key", key.String()),
				zap.String("race_policy", s.racePolicy),
			)
		}
		return domain.NextAction{}, err
	}

	s.metrics.IncIdempotencyOutcome(metrics.IdempotencyOutcomeReplayed)
	return domain.NextAction{Kind: domain.ReturnSaved, Response: resp}, nil
}

// SaveResponse stores resp on the placeholder row and commits tx. The returned
// response is rebuilt from the persisted column values, so it matches what
// later duplicates will replay.
func (s *Service) SaveResponse(ctx context.Context, tx *gorm.DB, userID string, key domain.Key, resp domain.StoredResponse) (domain.StoredResponse, error) {
	userID, err := normalizeUser(userID)
	if err != nil {
		tx.Rollback()
		return domain.StoredResponse{}, err
	}
	cols, err := codec.Encode(resp)
	if err != nil {
		tx.Rollback()
		return domain.StoredResponse{}, err
	}

	if err := s.repo.SaveResponse(ctx, tx, userID, key, cols.StatusCode, cols.Headers, cols.Body); err != nil {
		tx.Rollback()
		return domain.StoredResponse{}, err
	}
	if err := tx.Commit().Error; err != nil {
		return domain.StoredResponse{}, fmt.Errorf("commit idempotent response: %w", err)
	}

	return codec.Decode(cols)
}

// normalizeUser gives TryProcessing and SaveResponse the same row key.
func normalizeUser(userID string) (string, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", domain.ErrInvalidUser
	}
	return userID, nil
}

func (s *Service) decode(rec *domain.Record) (domain.StoredResponse, error) {
	if rec == nil {
		return domain.StoredResponse{}, errFirstAttemptRolledBack
	}
	return codec.DecodeRecord(*rec)
}

func (s *Service) waitForResponse(ctx context.Context, userID string, key domain.Key) (domain.StoredResponse, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 25 * time.Millisecond
	b.MaxInterval = 500 * time.Millisecond

	return backoff.Retry(ctx, func() (domain.StoredResponse, error) {
		rec, err := s.repo.Find(ctx, s.db, userID, key)
		if err != nil {
			return domain.StoredResponse{}, backoff.Permanent(err)
		}
		if rec == nil {
			return domain.StoredResponse{}, backoff.Permanent(errFirstAttemptRolledBack)
		}
		return s.decode(rec)
	},
		backoff.WithBackOff(b),
		backoff.WithMaxElapsedTime(s.waitTimeout),
	)
}
