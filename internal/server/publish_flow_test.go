package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/smallbiznis/newsletter/internal/config"
	"github.com/smallbiznis/newsletter/internal/delivery"
	newsletterdomain "github.com/smallbiznis/newsletter/internal/newsletter/domain"
	newsletterrepo "github.com/smallbiznis/newsletter/internal/newsletter/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestPublishFlow_ConcurrentSubmitsDeliverOnce(t *testing.T) {
	h := newHarness(t, nil)
	h.addConfirmed(t, "a@example.com", "b@example.com", "c@example.com")

	const submits = 5
	recs := make([]*httptest.ResponseRecorder, submits)
	var wg sync.WaitGroup
	for i := 0; i < submits; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			recs[i] = h.do(publishRequest("double-click"))
		}(i)
	}
	wg.Wait()

	issueIDs := map[string]struct{}{}
	for _, rec := range recs {
		require.Equal(t, http.StatusSeeOther, rec.Code)
		issueIDs[rec.Header().Get("X-Issue-Id")] = struct{}{}
	}
	assert.Len(t, issueIDs, 1)
	assert.Equal(t, int64(1), h.count(t, &newsletterdomain.Issue{}))
	assert.Equal(t, int64(3), h.count(t, &newsletterdomain.DeliveryTask{}))

	provider := &recordingProvider{}
	worker := delivery.New(delivery.Params{
		DB:     h.conn,
		Log:    zap.NewNop(),
		Clock:  h.clock,
		Config: config.NewStaticDeliveryConfigHolder(config.DefaultDeliveryConfig()),
		Queue:  delivery.ProvideQueue(),
		Issues: newsletterrepo.Provide(),
		Email:  provider,
	})

	executed, err := worker.DrainQueue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, executed)

	recipients := map[string]int{}
	for _, msg := range provider.messages() {
		recipients[msg.to]++
		assert.Equal(t, "March issue", msg.subject)
		assert.Equal(t, "Plain text body", msg.text)
	}
	assert.Equal(t, map[string]int{"a@example.com": 1, "b@example.com": 1, "c@example.com": 1}, recipients)

	executed, err = worker.DrainQueue(context.Background())
	require.NoError(t, err)
	assert.Zero(t, executed)
	assert.Zero(t, h.count(t, &newsletterdomain.DeliveryTask{}))
}
