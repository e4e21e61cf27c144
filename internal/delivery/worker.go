package delivery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/smallbiznis/newsletter/internal/clock"
	"github.com/smallbiznis/newsletter/internal/config"
	newsletterdomain "github.com/smallbiznis/newsletter/internal/newsletter/domain"
	obscontext "github.com/smallbiznis/newsletter/internal/observability/context"
	"github.com/smallbiznis/newsletter/internal/observability/logger"
	"github.com/smallbiznis/newsletter/internal/observability/metrics"
	"github.com/smallbiznis/newsletter/internal/providers/email"
	subscriptiondomain "github.com/smallbiznis/newsletter/internal/subscription/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ExecutionOutcome is the result of one worker iteration.
type ExecutionOutcome int

const (
	TaskCompleted ExecutionOutcome = iota + 1
	EmptyQueue
)

func (o ExecutionOutcome) String() string {
	switch o {
	case TaskCompleted:
		return "task_completed"
	case EmptyQueue:
		return "empty_queue"
	default:
		return "unknown"
	}
}

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	Clock   clock.Clock
	Config  *config.DeliveryConfigHolder
	Queue   Queue
	Issues  newsletterdomain.Repository
	Email   email.Provider
	Metrics *metrics.OutboxMetrics `optional:"true"`
}

// Worker drains the delivery outbox one task at a time.
type Worker struct {
	db      *gorm.DB
	log     *zap.Logger
	clock   clock.Clock
	config  *config.DeliveryConfigHolder
	queue   Queue
	issues  newsletterdomain.Repository
	email   email.Provider
	metrics *metrics.OutboxMetrics
}

func New(p Params) *Worker {
	holder := p.Config
	if holder == nil {
		holder = config.NewStaticDeliveryConfigHolder(config.DefaultDeliveryConfig())
	}
	return &Worker{
		db:      p.DB,
		log:     p.Log.Named("delivery.worker").With(zap.String("component", "delivery_worker")),
		clock:   p.Clock,
		config:  holder,
		queue:   p.Queue,
		issues:  p.Issues,
		email:   p.Email,
		metrics: p.Metrics,
	}
}

// claim is a task taken off the queue together with the issue it delivers.
// tx is set only in held mode, where the open transaction is the lock.
type claim struct {
	tx    *gorm.DB
	task  newsletterdomain.DeliveryTask
	issue *newsletterdomain.Issue
}

// TryExecuteTask claims at most one due task, attempts its delivery and
// retires or reschedules it.
func (w *Worker) TryExecuteTask(ctx context.Context) (ExecutionOutcome, error) {
	ctx = obscontext.WithActor(ctx, obscontext.ActorTypeWorker, "delivery")
	cfg := w.config.Get()

	if cfg.ClaimMode == config.ClaimModeLease {
		return w.tryLeased(ctx, cfg)
	}
	return w.tryHeld(ctx, cfg)
}

// tryHeld keeps the claim transaction open across the delivery attempt. The
// claim is only ever committed as a delete or a reschedule.
func (w *Worker) tryHeld(ctx context.Context, cfg config.DeliveryConfig) (ExecutionOutcome, error) {
	tx := w.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return 0, fmt.Errorf("begin claim transaction: %w", tx.Error)
	}

	c, err := w.claimOne(ctx, tx, ClaimFilter{
		Now:        w.clock.Now(),
		SkipLocked: supportsSkipLocked(tx),
	})
	if err != nil {
		tx.Rollback()
		return 0, err
	}
	if c == nil {
		tx.Rollback()
		return EmptyQueue, nil
	}

	deliveryErr := w.deliver(ctx, cfg, c)
	if err := w.settle(ctx, tx, cfg, c.task, deliveryErr); err != nil {
		tx.Rollback()
		return 0, err
	}
	if err := tx.Commit().Error; err != nil {
		return 0, fmt.Errorf("commit delivery task: %w", err)
	}
	return TaskCompleted, nil
}

// tryLeased commits the claim right away and delivers outside any
// transaction. A lease older than LeaseTTL can be taken over by another worker.
func (w *Worker) tryLeased(ctx context.Context, cfg config.DeliveryConfig) (ExecutionOutcome, error) {
	now := w.clock.Now()

	var c *claim
	err := w.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		c, err = w.claimOne(ctx, tx, ClaimFilter{
			Now:         now,
			LeaseCutoff: now.Add(-cfg.LeaseTTL),
			SkipLocked:  supportsSkipLocked(tx),
		})
		return err
	})
	if err != nil {
		return 0, err
	}
	if c == nil {
		return EmptyQueue, nil
	}

	deliveryErr := w.deliver(ctx, cfg, c)
	err = w.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return w.settle(ctx, tx, cfg, c.task, deliveryErr)
	})
	if err != nil {
		return 0, err
	}
	return TaskCompleted, nil
}

func (w *Worker) claimOne(ctx context.Context, tx *gorm.DB, filter ClaimFilter) (*claim, error) {
	task, err := w.queue.ClaimNext(ctx, tx, filter)
	if err != nil {
		return nil, fmt.Errorf("claim delivery task: %w", err)
	}
	if task == nil {
		return nil, nil
	}

	issue, err := w.issues.FindIssue(ctx, tx, task.IssueID)
	if err != nil {
		return nil, fmt.Errorf("load issue %s: %w", task.IssueID, err)
	}
	return &claim{tx: tx, task: *task, issue: issue}, nil
}

// deliver attempts one send. The returned error describes the attempt and
// never aborts the settle step.
func (w *Worker) deliver(ctx context.Context, cfg config.DeliveryConfig, c *claim) error {
	if c.issue == nil {
		w.metrics.IncDeliveryAttempt(metrics.DeliveryOutcomeFailed)
		return errIssueMissing
	}
	if _, err := subscriptiondomain.ParseEmail(c.task.SubscriberEmail); err != nil {
		w.metrics.IncDeliveryAttempt(metrics.DeliveryOutcomeInvalidRecipient)
		return fmt.Errorf("%w: %v", errInvalidRecipient, err)
	}

	sendCtx := ctx
	if cfg.DeliveryTimeout > 0 {
		var cancel context.CancelFunc
		sendCtx, cancel = context.WithTimeout(ctx, cfg.DeliveryTimeout)
		defer cancel()
	}

	start := time.Now()
	err := w.email.Send(sendCtx, c.task.SubscriberEmail, c.issue.Title, c.issue.HTMLContent, c.issue.TextContent)
	w.metrics.ObserveDeliveryDuration(time.Since(start))
	if err != nil {
		w.metrics.IncDeliveryAttempt(metrics.DeliveryOutcomeFailed)
		return err
	}
	w.metrics.IncDeliveryAttempt(metrics.DeliveryOutcomeDelivered)
	return nil
}

// settle retires the task, or puts it back with a delay when the policy
// allows another attempt.
func (w *Worker) settle(ctx context.Context, tx *gorm.DB, cfg config.DeliveryConfig, task newsletterdomain.DeliveryTask, deliveryErr error) error {
	log := logger.WithContext(ctx, w.log).With(
		zap.String("issue_id", task.IssueID),
		zap.String("recipient", task.SubscriberEmail),
		zap.Int("attempt", task.NRetries+1),
	)

	if shouldRetry(cfg, task.NRetries+1, deliveryErr) {
		retries := task.NRetries + 1
		executeAfter := w.clock.Now().Add(retryDelay(cfg, retries))
		err := w.queue.Reschedule(ctx, tx, task, retries, executeAfter)
		if errors.Is(err, ErrLeaseLost) {
			w.metrics.IncQueueTransition(metrics.QueueTransitionLeaseLost)
			log.Warn("delivery lease expired before the task was rescheduled", zap.Error(deliveryErr))
			return nil
		}
		if err != nil {
			return fmt.Errorf("reschedule delivery task: %w", err)
		}
		w.metrics.IncQueueTransition(metrics.QueueTransitionRescheduled)
		log.Warn("delivery failed, rescheduled",
			zap.Time("execute_after", executeAfter),
			zap.Error(deliveryErr),
		)
		return nil
	}

	deleted, err := w.queue.Delete(ctx, tx, task)
	if err != nil {
		return fmt.Errorf("retire delivery task: %w", err)
	}
	if !deleted {
		w.metrics.IncQueueTransition(metrics.QueueTransitionLeaseLost)
		log.Warn("delivery lease expired before the task was retired", zap.Error(deliveryErr))
		return nil
	}
	w.metrics.IncQueueTransition(metrics.QueueTransitionRetired)

	switch {
	case deliveryErr == nil:
		log.Debug("delivered newsletter issue")
	case errors.Is(deliveryErr, errInvalidRecipient):
		log.Error("skipping confirmed subscriber with an invalid address", zap.Error(deliveryErr))
	default:
		log.Error("failed to deliver issue to a confirmed subscriber, giving up", zap.Error(deliveryErr))
	}
	return nil
}

// RunForever loops until ctx is cancelled, sleeping IdleInterval when the
// queue is empty and ErrorBackoff after a failed iteration.
func (w *Worker) RunForever(ctx context.Context) {
	timer := time.NewTimer(0)
	defer timer.Stop()
	<-timer.C

	for {
		outcome, err := w.TryExecuteTask(ctx)
		if ctx.Err() != nil {
			return
		}

		cfg := w.config.Get()
		var wait time.Duration
		switch {
		case err != nil:
			w.metrics.IncWorkerIteration(metrics.WorkerIterationError)
			w.metrics.IncWorkerError(err)
			w.log.Error("delivery iteration failed", zap.Error(err))
			wait = cfg.ErrorBackoff
		case outcome == EmptyQueue:
			w.metrics.IncWorkerIteration(metrics.WorkerIterationEmptyQueue)
			wait = cfg.IdleInterval
		default:
			w.metrics.IncWorkerIteration(metrics.WorkerIterationTaskCompleted)
			continue
		}

		timer.Reset(wait)
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
	}
}

// DrainQueue runs iterations until the queue reports empty and returns how
// many tasks were completed.
func (w *Worker) DrainQueue(ctx context.Context) (int, error) {
	completed := 0
	for {
		if err := ctx.Err(); err != nil {
			return completed, err
		}
		outcome, err := w.TryExecuteTask(ctx)
		if err != nil {
			w.metrics.IncWorkerIteration(metrics.WorkerIterationError)
			w.metrics.IncWorkerError(err)
			return completed, err
		}
		if outcome == EmptyQueue {
			w.metrics.IncWorkerIteration(metrics.WorkerIterationEmptyQueue)
			return completed, nil
		}
		w.metrics.IncWorkerIteration(metrics.WorkerIterationTaskCompleted)
		completed++
	}
}
