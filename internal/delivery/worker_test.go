package delivery

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/smallbiznis/newsletter/internal/clock"
	"github.com/smallbiznis/newsletter/internal/config"
	newsletterdomain "github.com/smallbiznis/newsletter/internal/newsletter/domain"
	newsletterrepo "github.com/smallbiznis/newsletter/internal/newsletter/repository"
	"github.com/smallbiznis/newsletter/internal/providers/email"
	"github.com/smallbiznis/newsletter/pkg/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var start = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type recordingProvider struct {
	mu    sync.Mutex
	sent  map[string]int
	calls int
	err   error
}

func newRecordingProvider(err error) *recordingProvider {
	return &recordingProvider{sent: map[string]int{}, err: err}
}

func (p *recordingProvider) Send(_ context.Context, to, _, _, _ string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.err != nil {
		return p.err
	}
	p.sent[to]++
	return nil
}

func (p *recordingProvider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

type fixture struct {
	conn     *gorm.DB
	clock    *clock.FakeClock
	provider *recordingProvider
	worker   *Worker
	issueID  string
}

func newFixture(t *testing.T, cfg config.DeliveryConfig, sendErr error) *fixture {
	t.Helper()

	conn, err := db.NewTest()
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(&newsletterdomain.Issue{}, &newsletterdomain.DeliveryTask{}))

	clk := clock.NewFakeClock(start)
	provider := newRecordingProvider(sendErr)
	issueID := ulid.MustNew(ulid.Timestamp(start), ulid.DefaultEntropy()).String()
	require.NoError(t, newsletterrepo.Provide().InsertIssue(context.Background(), conn, &newsletterdomain.Issue{
		ID:          issueID,
		Title:       "Issue #1",
		Slug:        "issue-1",
		TextContent: "text",
		HTMLContent: "<p>html</p>",
		PublishedAt: start,
	}))

	return &fixture{
		conn:     conn,
		clock:    clk,
		provider: provider,
		issueID:  issueID,
		worker:   newWorker(conn, clk, provider, cfg),
	}
}

func newWorker(conn *gorm.DB, clk clock.Clock, provider email.Provider, cfg config.DeliveryConfig) *Worker {
	return New(Params{
		DB:     conn,
		Log:    zap.NewNop(),
		Clock:  clk,
		Config: config.NewStaticDeliveryConfigHolder(cfg),
		Queue:  ProvideQueue(),
		Issues: newsletterrepo.Provide(),
		Email:  provider,
	})
}

func (f *fixture) enqueue(t *testing.T, emails ...string) {
	t.Helper()
	tasks := make([]newsletterdomain.DeliveryTask, 0, len(emails))
	for _, email := range emails {
		tasks = append(tasks, newsletterdomain.DeliveryTask{
			IssueID:         f.issueID,
			SubscriberEmail: email,
			ExecuteAfter:    f.clock.Now(),
			EnqueuedAt:      f.clock.Now(),
		})
	}
	require.NoError(t, newsletterrepo.Provide().EnqueueDeliveries(context.Background(), f.conn, tasks))
}

func (f *fixture) pending(t *testing.T) int64 {
	t.Helper()
	n, err := ProvideQueue().Count(context.Background(), f.conn)
	require.NoError(t, err)
	return n
}

func (f *fixture) task(t *testing.T, email string) newsletterdomain.DeliveryTask {
	t.Helper()
	var task newsletterdomain.DeliveryTask
	require.NoError(t, f.conn.Where("subscriber_email = ?", email).First(&task).Error)
	return task
}

func recipients(n int) []string {
	emails := make([]string, n)
	for i := range emails {
		emails[i] = fmt.Sprintf("reader%02d@example.com", i)
	}
	return emails
}

func TestTryExecuteTask_EmptyQueue(t *testing.T) {
	f := newFixture(t, config.DefaultDeliveryConfig(), nil)

	outcome, err := f.worker.TryExecuteTask(context.Background())
	require.NoError(t, err)
	assert.Equal(t, EmptyQueue, outcome)
	assert.Zero(t, f.provider.Calls())
}

func TestDrainQueue_OneIterationPerRow(t *testing.T) {
	f := newFixture(t, config.DefaultDeliveryConfig(), nil)
	f.enqueue(t, "a@example.com", "b@example.com", "c@example.com")

	n, err := f.worker.DrainQueue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, map[string]int{"a@example.com": 1, "b@example.com": 1, "c@example.com": 1}, f.provider.sent)
	assert.Zero(t, f.pending(t))

	n, err = f.worker.DrainQueue(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestDrainQueue_ConcurrentWorkersNeverShareATask(t *testing.T) {
	f := newFixture(t, config.DefaultDeliveryConfig(), nil)
	emails := recipients(20)
	f.enqueue(t, emails...)

	other := newWorker(f.conn, f.clock, f.provider, config.DefaultDeliveryConfig())

	var wg sync.WaitGroup
	counts := make([]int, 2)
	for i, w := range []*Worker{f.worker, other} {
		wg.Add(1)
		go func(i int, w *Worker) {
			defer wg.Done()
			n, err := w.DrainQueue(context.Background())
			assert.NoError(t, err)
			counts[i] = n
		}(i, w)
	}
	wg.Wait()

	assert.Equal(t, len(emails), counts[0]+counts[1])
	assert.Len(t, f.provider.sent, len(emails))
	for _, email := range emails {
		assert.Equal(t, 1, f.provider.sent[email], email)
	}
	assert.Zero(t, f.pending(t))
}

func TestBestEffort_FailedDeliveryIsRetired(t *testing.T) {
	f := newFixture(t, config.DefaultDeliveryConfig(), errors.New("smtp: 421 try later"))
	f.enqueue(t, "a@example.com")

	n, err := f.worker.DrainQueue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, f.provider.Calls())
	assert.Zero(t, f.pending(t))
}

func TestInvalidRecipient_RetiredWithoutSending(t *testing.T) {
	cfg := config.DefaultDeliveryConfig()
	cfg.Policy = config.DeliveryPolicyRetryWithBackoff
	f := newFixture(t, cfg, nil)
	f.enqueue(t, "definitely-not-an-email")

	outcome, err := f.worker.TryExecuteTask(context.Background())
	require.NoError(t, err)
	assert.Equal(t, TaskCompleted, outcome)
	assert.Zero(t, f.provider.Calls())
	assert.Zero(t, f.pending(t))
}

func TestMissingIssue_Retired(t *testing.T) {
	f := newFixture(t, config.DefaultDeliveryConfig(), nil)
	f.issueID = ulid.Make().String()
	f.enqueue(t, "a@example.com")

	n, err := f.worker.DrainQueue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Zero(t, f.provider.Calls())
	assert.Zero(t, f.pending(t))
}

func TestRetryWithBackoff_ReschedulesUntilMaxAttempts(t *testing.T) {
	cfg := config.DefaultDeliveryConfig()
	cfg.Policy = config.DeliveryPolicyRetryWithBackoff
	cfg.MaxAttempts = 3
	cfg.RetryBase = 30 * time.Second
	cfg.RetryMax = 10 * time.Minute
	f := newFixture(t, cfg, errors.New("connection refused"))
	f.enqueue(t, "a@example.com")
	ctx := context.Background()

	outcome, err := f.worker.TryExecuteTask(ctx)
	require.NoError(t, err)
	assert.Equal(t, TaskCompleted, outcome)

	task := f.task(t, "a@example.com")
	assert.False(t, task.Claimed)
	assert.Nil(t, task.ClaimedAt)
	assert.Equal(t, 1, task.NRetries)
	assert.True(t, task.ExecuteAfter.Equal(start.Add(30*time.Second)), task.ExecuteAfter)

	outcome, err = f.worker.TryExecuteTask(ctx)
	require.NoError(t, err)
	assert.Equal(t, EmptyQueue, outcome, "task is not due yet")

	f.clock.Advance(30 * time.Second)
	outcome, err = f.worker.TryExecuteTask(ctx)
	require.NoError(t, err)
	assert.Equal(t, TaskCompleted, outcome)
	task = f.task(t, "a@example.com")
	assert.Equal(t, 2, task.NRetries)
	assert.True(t, task.ExecuteAfter.Equal(f.clock.Now().Add(time.Minute)), task.ExecuteAfter)

	f.clock.Advance(time.Minute)
	outcome, err = f.worker.TryExecuteTask(ctx)
	require.NoError(t, err)
	assert.Equal(t, TaskCompleted, outcome)

	assert.Equal(t, 3, f.provider.Calls())
	assert.Zero(t, f.pending(t))
}

func TestLeaseMode_ReclaimsOnlyExpiredLeases(t *testing.T) {
	cfg := config.DefaultDeliveryConfig()
	cfg.ClaimMode = config.ClaimModeLease
	cfg.LeaseTTL = 5 * time.Minute
	f := newFixture(t, cfg, nil)
	f.enqueue(t, "fresh@example.com", "stale@example.com", "open@example.com")

	stale := start.Add(-10 * time.Minute)
	fresh := start.Add(-time.Minute)
	require.NoError(t, f.conn.Exec(`UPDATE issue_delivery_queue SET claimed = ?, claimed_at = ? WHERE subscriber_email = ?`, true, stale, "stale@example.com").Error)
	require.NoError(t, f.conn.Exec(`UPDATE issue_delivery_queue SET claimed = ?, claimed_at = ? WHERE subscriber_email = ?`, true, fresh, "fresh@example.com").Error)

	n, err := f.worker.DrainQueue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, map[string]int{"stale@example.com": 1, "open@example.com": 1}, f.provider.sent)
	assert.Equal(t, int64(1), f.pending(t))
}

// blockingProvider parks Send until released so a lease can expire mid-send.
type blockingProvider struct {
	entered chan struct{}
	release chan struct{}
	err     error
}

func newBlockingProvider(err error) *blockingProvider {
	return &blockingProvider{entered: make(chan struct{}, 1), release: make(chan struct{}), err: err}
}

func (p *blockingProvider) Send(ctx context.Context, _, _, _, _ string) error {
	p.entered <- struct{}{}
	select {
	case <-p.release:
	case <-ctx.Done():
		return ctx.Err()
	}
	return p.err
}

func TestLeaseMode_ExpiredOwnerCannotSettleTakenOverTask(t *testing.T) {
	tests := []struct {
		name    string
		policy  string
		sendErr error
	}{
		{name: "retire after success", policy: config.DeliveryPolicyBestEffort},
		{name: "reschedule after failure", policy: config.DeliveryPolicyRetryWithBackoff, sendErr: errors.New("smtp timeout")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.DefaultDeliveryConfig()
			cfg.Policy = tt.policy
			cfg.ClaimMode = config.ClaimModeLease
			cfg.LeaseTTL = time.Minute
			cfg.DeliveryTimeout = 30 * time.Second
			require.NoError(t, config.ValidateDeliveryConfig(cfg))

			f := newFixture(t, cfg, nil)
			f.enqueue(t, "reader@example.com")

			slow := newBlockingProvider(tt.sendErr)
			stale := newWorker(f.conn, f.clock, slow, cfg)

			type result struct {
				outcome ExecutionOutcome
				err     error
			}
			done := make(chan result, 1)
			go func() {
				outcome, err := stale.TryExecuteTask(context.Background())
				done <- result{outcome, err}
			}()

			select {
			case <-slow.entered:
			case <-time.After(2 * time.Second):
				t.Fatal("first worker never started sending")
			}

			f.clock.Advance(2 * time.Minute)
			var takeover *newsletterdomain.DeliveryTask
			require.NoError(t, f.conn.Transaction(func(tx *gorm.DB) error {
				var err error
				takeover, err = ProvideQueue().ClaimNext(context.Background(), tx, ClaimFilter{
					Now:         f.clock.Now(),
					LeaseCutoff: f.clock.Now().Add(-cfg.LeaseTTL),
				})
				return err
			}))
			require.NotNil(t, takeover)

			close(slow.release)
			var res result
			select {
			case res = <-done:
			case <-time.After(2 * time.Second):
				t.Fatal("first worker did not finish")
			}
			require.NoError(t, res.err)
			assert.Equal(t, TaskCompleted, res.outcome)

			row := f.task(t, "reader@example.com")
			assert.True(t, row.Claimed)
			require.NotNil(t, row.ClaimedAt)
			assert.True(t, row.ClaimedAt.Equal(*takeover.ClaimedAt))
			assert.Zero(t, row.NRetries)

			deleted, err := ProvideQueue().Delete(context.Background(), f.conn, *takeover)
			require.NoError(t, err)
			assert.True(t, deleted)
			assert.Zero(t, f.pending(t))
		})
	}
}

func TestRunForever_DrainsAndStopsOnCancel(t *testing.T) {
	cfg := config.DefaultDeliveryConfig()
	cfg.IdleInterval = 5 * time.Millisecond
	f := newFixture(t, cfg, nil)
	f.enqueue(t, recipients(5)...)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		f.worker.RunForever(ctx)
	}()

	require.Eventually(t, func() bool {
		n, err := ProvideQueue().Count(context.Background(), f.conn)
		return err == nil && n == 0
	}, 2*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop after cancel")
	}
	assert.Equal(t, 5, f.provider.Calls())
}

func TestExecutionOutcome_String(t *testing.T) {
	assert.Equal(t, "task_completed", TaskCompleted.String())
	assert.Equal(t, "empty_queue", EmptyQueue.String())
	assert.Equal(t, "unknown", ExecutionOutcome(0).String())
}
