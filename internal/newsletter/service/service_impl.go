package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gosimple/slug"
	"github.com/oklog/ulid/v2"
	"github.com/smallbiznis/newsletter/internal/clock"
	idempotencydomain "github.com/smallbiznis/newsletter/internal/idempotency/domain"
	newsletterdomain "github.com/smallbiznis/newsletter/internal/newsletter/domain"
	obscontext "github.com/smallbiznis/newsletter/internal/observability/context"
	"github.com/smallbiznis/newsletter/internal/observability/logger"
	"github.com/smallbiznis/newsletter/internal/observability/metrics"
	"github.com/smallbiznis/newsletter/internal/ratelimit"
	"github.com/smallbiznis/newsletter/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	// PublishRedirect is where a successful publish sends the browser.
	PublishRedirect = "/admin/newsletters"
	HeaderIssueID   = obscontext.HeaderIssueID
)

const (
	outcomePublished = "published"
	outcomeReplayed  = "replayed"
	outcomeRejected  = "rejected"
	outcomeFailed    = "failed"
	outcomeThrottled = "throttled"

	rateLimitEndpointPublish = "newsletter.publish"
)

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	Clock       clock.Clock
	Repo        newsletterdomain.Repository
	Recipients  newsletterdomain.RecipientSource
	Idempotency idempotencydomain.Service
	Throttle    newsletterdomain.PublishThrottle `optional:"true"`
	Outbox      *metrics.OutboxMetrics           `optional:"true"`
	Metrics     *metrics.Metrics                 `optional:"true"`
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	clock       clock.Clock
	repo        newsletterdomain.Repository
	recipients  newsletterdomain.RecipientSource
	idempotency idempotencydomain.Service
	throttle    newsletterdomain.PublishThrottle
	outbox      *metrics.OutboxMetrics
	metrics     *metrics.Metrics
}

func New(p Params) newsletterdomain.Service {
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("newsletter.service"),
		clock:       p.Clock,
		repo:        p.Repo,
		recipients:  p.Recipients,
		idempotency: p.Idempotency,
		throttle:    p.Throttle,
		outbox:      p.Outbox,
		metrics:     p.Metrics,
	}
}

// Publish validates the command, then either replays the response saved for
// the idempotency key or records the issue, fans it out to the outbox and
// saves the 303 response in one transaction.
func (s *Service) Publish(ctx context.Context, userID string, cmd newsletterdomain.PublishCommand) (newsletterdomain.PublishResult, error) {
	log := logger.WithContext(ctx, s.log)

	key, err := idempotencydomain.ParseKey(cmd.IdempotencyKey)
	if err != nil {
		s.metrics.RecordPublish(ctx, outcomeRejected)
		return newsletterdomain.PublishResult{}, err
	}
	cmd, err = newsletterdomain.ValidateCommand(cmd)
	if err != nil {
		s.metrics.RecordPublish(ctx, outcomeRejected)
		return newsletterdomain.PublishResult{}, err
	}

	action, err := s.idempotency.TryProcessing(ctx, userID, key)
	if err != nil {
		s.metrics.RecordPublish(ctx, outcomeFailed)
		return newsletterdomain.PublishResult{}, err
	}
	if action.Kind == idempotencydomain.ReturnSaved {
		s.metrics.RecordPublish(ctx, outcomeReplayed)
		log.Info("replaying saved publish response", zap.String("idempotency_key", key.String()))
		return newsletterdomain.PublishResult{Response: action.Response, Replayed: true}, nil
	}

	if err := s.admit(ctx, userID); err != nil {
		action.Tx.Rollback()
		return newsletterdomain.PublishResult{}, err
	}

	result, err := s.RecordIssueAndEnqueue(ctx, action.Tx, cmd.Title, cmd.TextContent, cmd.HTMLContent)
	if err != nil {
		action.Tx.Rollback()
		s.metrics.RecordPublish(ctx, outcomeFailed)
		return newsletterdomain.PublishResult{}, err
	}

	stored, err := s.idempotency.SaveResponse(ctx, action.Tx, userID, key, idempotencydomain.StoredResponse{
		StatusCode: http.StatusSeeOther,
		Headers: []idempotencydomain.HeaderPair{
			{Name: "Location", Value: []byte(PublishRedirect)},
			{Name: HeaderIssueID, Value: []byte(result.IssueID)},
		},
	})
	if err != nil {
		s.metrics.RecordPublish(ctx, outcomeFailed)
		return newsletterdomain.PublishResult{}, err
	}

	s.outbox.RecordPublished(result.Recipients)
	s.metrics.RecordPublish(ctx, outcomePublished)
	log.Info("newsletter issue published",
		zap.String("issue_id", result.IssueID),
		zap.Int("recipients", result.Recipients),
		zap.String("idempotency_key", key.String()),
	)
	return newsletterdomain.PublishResult{Response: stored}, nil
}

// admit charges the publish rate limit. Only the first attempt for a key pays;
// rolling back the placeholder lets the same key be retried later.
func (s *Service) admit(ctx context.Context, userID string) error {
	if s.throttle == nil {
		return nil
	}
	if err := s.throttle.AdmitPublish(ctx, userID); err != nil {
		var exceeded *ratelimit.LimitExceededError
		if errors.As(err, &exceeded) {
			s.metrics.RecordRateLimitDenied(ctx, rateLimitEndpointPublish, exceeded.Reason)
			s.metrics.RecordPublish(ctx, outcomeThrottled)
		} else {
			s.metrics.RecordPublish(ctx, outcomeFailed)
		}
		return err
	}
	s.metrics.RecordRateLimitAllowed(ctx, rateLimitEndpointPublish)
	return nil
}

// RecordIssueAndEnqueue writes the issue and one delivery task per confirmed
// recipient through tx. Nothing is committed here.
func (s *Service) RecordIssueAndEnqueue(ctx context.Context, tx *gorm.DB, title, text, html string) (newsletterdomain.EnqueueResult, error) {
	now := s.clock.Now()
	issue := &newsletterdomain.Issue{
		ID:          ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String(),
		Title:       title,
		Slug:        slug.Make(title),
		TextContent: text,
		HTMLContent: html,
		PublishedAt: now,
	}
	if err := s.repo.InsertIssue(ctx, tx, issue); err != nil {
		return newsletterdomain.EnqueueResult{}, fmt.Errorf("insert newsletter issue: %w", err)
	}

	emails, err := s.recipients.ConfirmedEmails(ctx, tx)
	if err != nil {
		return newsletterdomain.EnqueueResult{}, fmt.Errorf("load recipients: %w", err)
	}

	tasks := make([]newsletterdomain.DeliveryTask, 0, len(emails))
	for _, email := range emails {
		tasks = append(tasks, newsletterdomain.DeliveryTask{
			IssueID:         issue.ID,
			SubscriberEmail: email,
			ExecuteAfter:    now,
			EnqueuedAt:      now,
		})
	}
	if err := s.repo.EnqueueDeliveries(ctx, tx, tasks); err != nil {
		return newsletterdomain.EnqueueResult{}, fmt.Errorf("enqueue deliveries: %w", err)
	}

	return newsletterdomain.EnqueueResult{IssueID: issue.ID, Recipients: len(tasks)}, nil
}

func (s *Service) GetIssue(ctx context.Context, issueID string) (*newsletterdomain.IssueView, error) {
	id, err := ulid.ParseStrict(strings.TrimSpace(issueID))
	if err != nil {
		return nil, newsletterdomain.ErrInvalidIssueID
	}

	issue, err := s.repo.FindIssue(ctx, s.db, id.String())
	if err != nil {
		return nil, err
	}
	if issue == nil {
		return nil, newsletterdomain.ErrIssueNotFound
	}

	pending, err := s.repo.CountPending(ctx, s.db, issue.ID)
	if err != nil {
		return nil, err
	}
	return &newsletterdomain.IssueView{Issue: *issue, PendingDeliveries: pending}, nil
}

func (s *Service) ListIssues(ctx context.Context, req newsletterdomain.ListIssuesRequest) (newsletterdomain.ListIssuesResponse, error) {
	var beforeID string
	if token := strings.TrimSpace(req.PageToken); token != "" {
		cursor, err := pagination.DecodeCursor(token)
		if err != nil {
			return newsletterdomain.ListIssuesResponse{}, newsletterdomain.ErrInvalidPageToken
		}
		beforeID = cursor.ID
	}

	limit := req.Limit()
	issues, err := s.repo.ListIssues(ctx, s.db, beforeID, limit+1)
	if err != nil {
		return newsletterdomain.ListIssuesResponse{}, err
	}

	page, info, err := pagination.BuildCursorPage(issues, limit, func(issue *newsletterdomain.Issue) pagination.Cursor {
		return pagination.Cursor{ID: issue.ID}
	})
	if err != nil {
		return newsletterdomain.ListIssuesResponse{}, errors.Join(newsletterdomain.ErrInvalidPageToken, err)
	}
	if page == nil {
		page = []*newsletterdomain.Issue{}
	}
	return newsletterdomain.ListIssuesResponse{Issues: page, PageInfo: info}, nil
}
