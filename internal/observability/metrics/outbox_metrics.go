package metrics

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/smallbiznis/newsletter/pkg/db"
)

const (
	IdempotencyOutcomeStarted  = "started"
	IdempotencyOutcomeReplayed = "replayed"
	IdempotencyOutcomeNotReady = "not_ready"
)

const (
	DeliveryOutcomeDelivered        = "delivered"
	DeliveryOutcomeFailed           = "failed"
	DeliveryOutcomeInvalidRecipient = "invalid_recipient"
)

const (
	QueueTransitionRetired     = "retired"
	QueueTransitionRescheduled = "rescheduled"
	QueueTransitionLeaseLost   = "lease_lost"
)

const (
	WorkerIterationTaskCompleted = "task_completed"
	WorkerIterationEmptyQueue    = "empty_queue"
	WorkerIterationError         = "error"
)

const (
	WorkerErrorReasonDeadlineExceeded = "deadline_exceeded"
	WorkerErrorReasonLockContention   = "lock_contention"
	WorkerErrorReasonUnknown          = "unknown"
)

// OutboxMetrics tracks the idempotency guard, the outbox fan-out and the delivery worker.
type OutboxMetrics struct {
	idempotencyOutcomes *prometheus.CounterVec
	issuesPublished     prometheus.Counter
	deliveriesEnqueued  prometheus.Counter
	deliveryAttempts    *prometheus.CounterVec
	deliveryDuration    prometheus.Observer
	queueTransitions    *prometheus.CounterVec
	workerIterations    *prometheus.CounterVec
	workerErrors        *prometheus.CounterVec
}

var (
	outboxMetricsOnce sync.Once
	outboxMetrics     *OutboxMetrics
)

// Outbox returns the singleton outbox metrics registry.
func Outbox() *OutboxMetrics {
	return OutboxWithConfig(Config{})
}

// OutboxWithConfig returns the singleton registry, labelled from cfg on first use.
func OutboxWithConfig(cfg Config) *OutboxMetrics {
	outboxMetricsOnce.Do(func() {
		outboxMetrics = newOutboxMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return outboxMetrics
}

// ResetOutboxMetricsForTest resets the singleton for tests.
func ResetOutboxMetricsForTest() {
	outboxMetricsOnce = sync.Once{}
	outboxMetrics = nil
}

func newOutboxMetrics(registerer prometheus.Registerer, cfg Config) *OutboxMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "newsletter"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	m := &OutboxMetrics{
		idempotencyOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "newsletter_idempotency_outcomes_total",
			Help:        "Idempotency guard decisions by outcome.",
			ConstLabels: constLabels,
		}, []string{"outcome"}),
		issuesPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "newsletter_issues_published_total",
			Help:        "Newsletter issues committed together with their delivery fan-out.",
			ConstLabels: constLabels,
		}),
		deliveriesEnqueued: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "newsletter_deliveries_enqueued_total",
			Help:        "Delivery queue rows written by the outbox.",
			ConstLabels: constLabels,
		}),
		deliveryAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "newsletter_delivery_attempts_total",
			Help:        "Delivery attempts by outcome.",
			ConstLabels: constLabels,
		}, []string{"outcome"}),
		queueTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "newsletter_queue_transitions_total",
			Help:        "Queue rows leaving a claim, either retired or rescheduled.",
			ConstLabels: constLabels,
		}, []string{"transition"}),
		workerIterations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "newsletter_worker_iterations_total",
			Help:        "Delivery worker loop iterations by result.",
			ConstLabels: constLabels,
		}, []string{"outcome"}),
		workerErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "newsletter_worker_errors_total",
			Help:        "Delivery worker storage errors by low-cardinality reason.",
			ConstLabels: constLabels,
		}, []string{"reason"}),
	}
	duration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:        "newsletter_delivery_duration_seconds",
		Help:        "Time spent calling the email transport for one queue row.",
		Buckets:     []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		ConstLabels: constLabels,
	})
	m.deliveryDuration = duration

	registerer.MustRegister(
		m.idempotencyOutcomes,
		m.issuesPublished,
		m.deliveriesEnqueued,
		m.deliveryAttempts,
		duration,
		m.queueTransitions,
		m.workerIterations,
		m.workerErrors,
	)
	return m
}

func (m *OutboxMetrics) IncIdempotencyOutcome(outcome string) {
	if m == nil {
		return
	}
	m.idempotencyOutcomes.WithLabelValues(outcome).Inc()
}

// RecordPublished counts one committed issue and its fan-out size.
func (m *OutboxMetrics) RecordPublished(recipients int) {
	if m == nil {
		return
	}
	m.issuesPublished.Inc()
	if recipients > 0 {
		m.deliveriesEnqueued.Add(float64(recipients))
	}
}

func (m *OutboxMetrics) IncDeliveryAttempt(outcome string) {
	if m == nil {
		return
	}
	m.deliveryAttempts.WithLabelValues(outcome).Inc()
}

func (m *OutboxMetrics) ObserveDeliveryDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.deliveryDuration.Observe(d.Seconds())
}

func (m *OutboxMetrics) IncQueueTransition(transition string) {
	if m == nil {
		return
	}
	m.queueTransitions.WithLabelValues(transition).Inc()
}

func (m *OutboxMetrics) IncWorkerIteration(outcome string) {
	if m == nil {
		return
	}
	m.workerIterations.WithLabelValues(outcome).Inc()
}

func (m *OutboxMetrics) IncWorkerError(err error) {
	if m == nil || err == nil {
		return
	}
	m.workerErrors.WithLabelValues(ClassifyWorkerError(err)).Inc()
}

func ClassifyWorkerError(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return WorkerErrorReasonDeadlineExceeded
	case db.IsLockContention(err):
		return WorkerErrorReasonLockContention
	default:
		return WorkerErrorReasonUnknown
	}
}
