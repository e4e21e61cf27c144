package service

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/smallbiznis/newsletter/internal/clock"
	"github.com/smallbiznis/newsletter/internal/config"
	idempotencydomain "github.com/smallbiznis/newsletter/internal/idempotency/domain"
	idempotencyrepo "github.com/smallbiznis/newsletter/internal/idempotency/repository"
	idempotencyservice "github.com/smallbiznis/newsletter/internal/idempotency/service"
	newsletterdomain "github.com/smallbiznis/newsletter/internal/newsletter/domain"
	"github.com/smallbiznis/newsletter/internal/newsletter/repository"
	"github.com/smallbiznis/newsletter/internal/ratelimit"
	"github.com/smallbiznis/newsletter/pkg/db"
	"github.com/smallbiznis/newsletter/pkg/db/pagination"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type staticRecipients []string

func (r staticRecipients) ConfirmedEmails(context.Context, *gorm.DB) ([]string, error) {
	return r, nil
}

type failingRecipients struct{}

func (failingRecipients) ConfirmedEmails(context.Context, *gorm.DB) ([]string, error) {
	return nil, errors.New("subscriptions table unavailable")
}

type fixture struct {
	svc   newsletterdomain.Service
	conn  *gorm.DB
	clock *clock.FakeClock
}

type countingThrottle struct {
	mu     sync.Mutex
	calls  int
	budget int
}

func (c *countingThrottle) AdmitPublish(context.Context, string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.calls > c.budget {
		return &ratelimit.LimitExceededError{Reason: ratelimit.ReasonUserRate, RetryAfter: time.Minute}
	}
	return nil
}

func newFixture(t *testing.T, recipients newsletterdomain.RecipientSource) fixture {
	t.Helper()
	return newThrottledFixture(t, recipients, nil)
}

func newThrottledFixture(t *testing.T, recipients newsletterdomain.RecipientSource, throttle newsletterdomain.PublishThrottle) fixture {
	t.Helper()

	conn, err := db.NewTest()
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(
		&idempotencydomain.Record{},
		&newsletterdomain.Issue{},
		&newsletterdomain.DeliveryTask{},
	))

	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	guard := idempotencyservice.New(idempotencyservice.Params{
		DB:     conn,
		Log:    zap.NewNop(),
		Clock:  clk,
		Config: config.Config{},
		Repo:   idempotencyrepo.Provide(),
	})

	svc := New(Params{
		DB:          conn,
		Log:         zap.NewNop(),
		Clock:       clk,
		Repo:        repository.Provide(),
		Recipients:  recipients,
		Idempotency: guard,
		Throttle:    throttle,
	})
	return fixture{svc: svc, conn: conn, clock: clk}
}

func (f fixture) count(t *testing.T, model any) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.conn.Model(model).Count(&n).Error)
	return n
}

func command(key string) newsletterdomain.PublishCommand {
	return newsletterdomain.PublishCommand{
		Title:          "Newsletter title",
		TextContent:    "Newsletter body as plain text",
		HTMLContent:    "<p>Newsletter body as HTML</p>",
		IdempotencyKey: key,
	}
}

var threeRecipients = staticRecipients{"a@example.com", "b@example.com", "c@example.com"}

func TestPublish_SecondCallReplaysFirstResponse(t *testing.T) {
	f := newFixture(t, threeRecipients)
	ctx := context.Background()

	first, err := f.svc.Publish(ctx, "42", command("abc-123"))
	require.NoError(t, err)
	assert.False(t, first.Replayed)
	assert.Equal(t, http.StatusSeeOther, first.Response.StatusCode)
	location, _ := first.Response.Header("Location")
	assert.Equal(t, PublishRedirect, location)
	issueID, ok := first.Response.Header(HeaderIssueID)
	require.True(t, ok)

	second, err := f.svc.Publish(ctx, "42", command("abc-123"))
	require.NoError(t, err)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.Response, second.Response)

	assert.Equal(t, int64(1), f.count(t, &newsletterdomain.Issue{}))
	assert.Equal(t, int64(3), f.count(t, &newsletterdomain.DeliveryTask{}))

	view, err := f.svc.GetIssue(ctx, issueID)
	require.NoError(t, err)
	assert.Equal(t, "Newsletter title", view.Title)
	assert.Equal(t, "newsletter-title", view.Slug)
	assert.Equal(t, int64(3), view.PendingDeliveries)
}

func TestPublish_ConcurrentDuplicatesFanOutOnce(t *testing.T) {
	f := newFixture(t, threeRecipients)
	ctx := context.Background()

	var wg sync.WaitGroup
	results := make([]newsletterdomain.PublishResult, 2)
	errs := make([]error, 2)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = f.svc.Publish(ctx, "42", command("abc-123"))
		}(i)
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.Equal(t, results[0].Response, results[1].Response)
	assert.NotEqual(t, results[0].Replayed, results[1].Replayed)
	assert.Equal(t, int64(1), f.count(t, &newsletterdomain.Issue{}))
	assert.Equal(t, int64(3), f.count(t, &newsletterdomain.DeliveryTask{}))
}

func TestPublish_SameKeyDifferentUsersPublishTwice(t *testing.T) {
	f := newFixture(t, threeRecipients)
	ctx := context.Background()

	a, err := f.svc.Publish(ctx, "1", command("shared"))
	require.NoError(t, err)
	b, err := f.svc.Publish(ctx, "2", command("shared"))
	require.NoError(t, err)

	assert.False(t, b.Replayed)
	idA, _ := a.Response.Header(HeaderIssueID)
	idB, _ := b.Response.Header(HeaderIssueID)
	assert.NotEqual(t, idA, idB)
	assert.Equal(t, int64(6), f.count(t, &newsletterdomain.DeliveryTask{}))
}

func TestPublish_ValidationHappensBeforeStorage(t *testing.T) {
	f := newFixture(t, threeRecipients)
	ctx := context.Background()

	_, err := f.svc.Publish(ctx, "42", command(""))
	assert.ErrorIs(t, err, idempotencydomain.ErrInvalidKey)

	_, err = f.svc.Publish(ctx, "42", command("has space"))
	assert.ErrorIs(t, err, idempotencydomain.ErrInvalidKey)

	cmd := command("valid-key")
	cmd.Title = "   "
	_, err = f.svc.Publish(ctx, "42", cmd)
	assert.ErrorIs(t, err, newsletterdomain.ErrInvalidTitle)

	cmd = command("valid-key")
	cmd.HTMLContent = ""
	_, err = f.svc.Publish(ctx, "42", cmd)
	assert.ErrorIs(t, err, newsletterdomain.ErrInvalidContent)

	assert.Zero(t, f.count(t, &idempotencydomain.Record{}))
	assert.Zero(t, f.count(t, &newsletterdomain.Issue{}))
}

func TestPublish_FailedFanOutLeavesNothingBehind(t *testing.T) {
	f := newFixture(t, failingRecipients{})
	ctx := context.Background()

	_, err := f.svc.Publish(ctx, "42", command("abc-123"))
	require.Error(t, err)

	assert.Zero(t, f.count(t, &newsletterdomain.Issue{}))
	assert.Zero(t, f.count(t, &newsletterdomain.DeliveryTask{}))
	assert.Zero(t, f.count(t, &idempotencydomain.Record{}))
}

func TestPublish_RetryAfterFailureStartsOver(t *testing.T) {
	recipients := &switchableRecipients{fail: true, emails: threeRecipients}
	f := newFixture(t, recipients)
	ctx := context.Background()

	_, err := f.svc.Publish(ctx, "42", command("abc-123"))
	require.Error(t, err)

	recipients.fail = false
	result, err := f.svc.Publish(ctx, "42", command("abc-123"))
	require.NoError(t, err)
	assert.False(t, result.Replayed)
	assert.Equal(t, int64(3), f.count(t, &newsletterdomain.DeliveryTask{}))
}

type switchableRecipients struct {
	fail   bool
	emails []string
}

func (r *switchableRecipients) ConfirmedEmails(context.Context, *gorm.DB) ([]string, error) {
	if r.fail {
		return nil, errors.New("boom")
	}
	return r.emails, nil
}

func TestRecordIssueAndEnqueue_DuplicateRecipientIsStorageError(t *testing.T) {
	f := newFixture(t, staticRecipients{"a@example.com", "a@example.com"})
	ctx := context.Background()

	tx := f.conn.Begin()
	require.NoError(t, tx.Error)
	_, err := f.svc.RecordIssueAndEnqueue(ctx, tx, "t", "text", "<p>html</p>")
	require.Error(t, err)
	assert.True(t, db.IsDuplicateKeyErr(err))
	tx.Rollback()

	assert.Zero(t, f.count(t, &newsletterdomain.Issue{}))
	assert.Zero(t, f.count(t, &newsletterdomain.DeliveryTask{}))
}

func TestRecordIssueAndEnqueue_NoRecipients(t *testing.T) {
	f := newFixture(t, staticRecipients{})
	ctx := context.Background()

	tx := f.conn.Begin()
	result, err := f.svc.RecordIssueAndEnqueue(ctx, tx, "t", "text", "<p>html</p>")
	require.NoError(t, err)
	require.NoError(t, tx.Commit().Error)

	assert.Zero(t, result.Recipients)
	_, err = ulid.ParseStrict(result.IssueID)
	assert.NoError(t, err)
	assert.Equal(t, int64(1), f.count(t, &newsletterdomain.Issue{}))
}

func TestGetIssue_Errors(t *testing.T) {
	f := newFixture(t, threeRecipients)
	ctx := context.Background()

	_, err := f.svc.GetIssue(ctx, "not-a-ulid")
	assert.ErrorIs(t, err, newsletterdomain.ErrInvalidIssueID)

	_, err = f.svc.GetIssue(ctx, ulid.Make().String())
	assert.ErrorIs(t, err, newsletterdomain.ErrIssueNotFound)
}

func TestListIssues_NewestFirstWithCursor(t *testing.T) {
	f := newFixture(t, threeRecipients)
	ctx := context.Background()

	var ids []string
	for _, key := range []string{"k1", "k2", "k3"} {
		res, err := f.svc.Publish(ctx, "42", command(key))
		require.NoError(t, err)
		id, _ := res.Response.Header(HeaderIssueID)
		ids = append(ids, id)
		f.clock.Advance(time.Minute)
	}

	page, err := f.svc.ListIssues(ctx, newsletterdomain.ListIssuesRequest{
		Pagination: pagination.Pagination{PageSize: 2},
	})
	require.NoError(t, err)
	require.Len(t, page.Issues, 2)
	assert.Equal(t, ids[2], page.Issues[0].ID)
	assert.Equal(t, ids[1], page.Issues[1].ID)
	require.True(t, page.PageInfo.HasMore)

	next, err := f.svc.ListIssues(ctx, newsletterdomain.ListIssuesRequest{
		Pagination: pagination.Pagination{PageSize: 2, PageToken: page.PageInfo.NextPageToken},
	})
	require.NoError(t, err)
	require.Len(t, next.Issues, 1)
	assert.Equal(t, ids[0], next.Issues[0].ID)
	assert.False(t, next.PageInfo.HasMore)

	_, err = f.svc.ListIssues(ctx, newsletterdomain.ListIssuesRequest{
		Pagination: pagination.Pagination{PageToken: "!!"},
	})
	assert.ErrorIs(t, err, newsletterdomain.ErrInvalidPageToken)
}

func TestPublish_ReplayDoesNotChargeThrottle(t *testing.T) {
	throttle := &countingThrottle{budget: 1}
	f := newThrottledFixture(t, threeRecipients, throttle)
	ctx := context.Background()

	first, err := f.svc.Publish(ctx, "42", command("abc-123"))
	require.NoError(t, err)

	second, err := f.svc.Publish(ctx, "42", command("abc-123"))
	require.NoError(t, err)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.Response, second.Response)
	assert.Equal(t, 1, throttle.calls)
}

func TestPublish_ThrottledAttemptLeavesKeyReusable(t *testing.T) {
	throttle := &countingThrottle{budget: 1}
	f := newThrottledFixture(t, threeRecipients, throttle)
	ctx := context.Background()

	_, err := f.svc.Publish(ctx, "42", command("abc-123"))
	require.NoError(t, err)

	_, err = f.svc.Publish(ctx, "42", command("def-456"))
	require.ErrorIs(t, err, ratelimit.ErrLimitExceeded)
	assert.Equal(t, int64(1), f.count(t, &idempotencydomain.Record{}))
	assert.Equal(t, int64(1), f.count(t, &newsletterdomain.Issue{}))

	throttle.budget = 3
	third, err := f.svc.Publish(ctx, "42", command("def-456"))
	require.NoError(t, err)
	assert.False(t, third.Replayed)
	assert.Equal(t, int64(2), f.count(t, &newsletterdomain.Issue{}))
}
