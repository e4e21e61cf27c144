package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"github.com/smallbiznis/newsletter/internal/clock"
	"github.com/smallbiznis/newsletter/internal/config"
	"github.com/smallbiznis/newsletter/internal/observability/metrics"
	"github.com/smallbiznis/newsletter/internal/providers/email"
	subscriptiondomain "github.com/smallbiznis/newsletter/internal/subscription/domain"
	"github.com/smallbiznis/newsletter/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const confirmationSubject = "Welcome!"

type ServiceParam struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	Config    config.Config
	GenID     *snowflake.Node
	Clock     clock.Clock
	Repo      subscriptiondomain.Repository
	Email     email.Provider
	Templates *email.Templates
	Metrics   *metrics.Metrics `optional:"true"`
}

type Service struct {
	db        *gorm.DB
	log       *zap.Logger
	baseURL   string
	genID     *snowflake.Node
	clock     clock.Clock
	repo      subscriptiondomain.Repository
	email     email.Provider
	templates *email.Templates
	metrics   *metrics.Metrics
}

func NewService(p ServiceParam) subscriptiondomain.Service {
	return &Service{
		db:        p.DB,
		log:       p.Log.Named("subscription.service"),
		baseURL:   p.Config.BaseURL,
		genID:     p.GenID,
		clock:     p.Clock,
		repo:      p.Repo,
		email:     p.Email,
		templates: p.Templates,
		metrics:   p.Metrics,
	}
}

// Subscribe stores a pending subscription with its confirmation token and
// mails the confirmation link. Storage commits before the mail is sent.
func (s *Service) Subscribe(ctx context.Context, req subscriptiondomain.SubscribeRequest) (*subscriptiondomain.Subscription, error) {
	name, err := subscriptiondomain.ParseName(req.Name)
	if err != nil {
		return nil, err
	}
	address, err := subscriptiondomain.ParseEmail(req.Email)
	if err != nil {
		return nil, err
	}

	subscription := &subscriptiondomain.Subscription{
		ID:           s.genID.Generate(),
		Email:        address,
		Name:         name,
		Status:       subscriptiondomain.StatusPendingConfirmation,
		SubscribedAt: s.clock.Now(),
	}
	token := newToken()

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := s.repo.FindByEmail(ctx, tx, address)
		if err != nil {
			return err
		}
		if existing != nil {
			return subscriptiondomain.ErrAlreadySubscribed
		}
		if err := s.repo.Insert(ctx, tx, subscription); err != nil {
			if db.IsDuplicateKeyErr(err) {
				return subscriptiondomain.ErrAlreadySubscribed
			}
			return fmt.Errorf("insert subscription: %w", err)
		}
		if err := s.repo.InsertToken(ctx, tx, subscriptiondomain.SubscriptionToken{
			Token:          token,
			SubscriptionID: subscription.ID,
		}); err != nil {
			return fmt.Errorf("store subscription token: %w", err)
		}
		return nil
	})
	if errors.Is(err, subscriptiondomain.ErrAlreadySubscribed) {
		s.metrics.RecordSubscriptionEvent(ctx, metrics.SubscriptionEventDuplicate)
	}
	if err != nil {
		return nil, err
	}

	if err := s.sendConfirmation(ctx, subscription, token); err != nil {
		s.metrics.RecordSubscriptionEvent(ctx, metrics.SubscriptionEventConfirmationFailed)
		s.log.Error("failed to send confirmation email",
			zap.String("subscription_id", subscription.ID.String()),
			zap.Error(err),
		)
		return nil, err
	}

	s.metrics.RecordSubscriptionEvent(ctx, metrics.SubscriptionEventSubscribed)
	s.log.Info("subscription created", zap.String("subscription_id", subscription.ID.String()))
	return subscription, nil
}

func (s *Service) Confirm(ctx context.Context, token string) error {
	token = strings.TrimSpace(token)
	if token == "" || len(token) > 64 {
		return subscriptiondomain.ErrInvalidToken
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		id, err := s.repo.FindSubscriptionIDByToken(ctx, tx, token)
		if err != nil {
			return err
		}
		if id == 0 {
			return subscriptiondomain.ErrTokenNotFound
		}
		if err := s.repo.UpdateStatus(ctx, tx, id, subscriptiondomain.StatusConfirmed); err != nil {
			return fmt.Errorf("confirm subscription: %w", err)
		}
		s.log.Info("subscription confirmed", zap.String("subscription_id", id.String()))
		return nil
	})
	if err != nil {
		return err
	}
	s.metrics.RecordSubscriptionEvent(ctx, metrics.SubscriptionEventConfirmed)
	return nil
}

func (s *Service) sendConfirmation(ctx context.Context, subscription *subscriptiondomain.Subscription, token string) error {
	link := fmt.Sprintf("%s/subscriptions/confirm?subscription_token=%s", s.baseURL, url.QueryEscape(token))
	html, text, err := s.templates.Render("confirmation", map[string]string{
		"Name":             subscription.Name,
		"ConfirmationLink": link,
	})
	if err != nil {
		return err
	}
	if err := s.email.Send(ctx, subscription.Email, confirmationSubject, html, text); err != nil {
		return fmt.Errorf("send confirmation email: %w", err)
	}
	return nil
}

func newToken() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
