package tracing

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	obscontext "github.com/smallbiznis/newsletter/internal/observability/context"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func recordSpans(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	gin.SetMode(gin.TestMode)

	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(provider)
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		_ = provider.Shutdown(context.Background())
	})
	return recorder
}

func attributeMap(attrs []attribute.KeyValue) map[attribute.Key]attribute.Value {
	out := make(map[attribute.Key]attribute.Value, len(attrs))
	for _, attr := range attrs {
		out[attr.Key] = attr.Value
	}
	return out
}

func publishEngine(cfg MiddlewareConfig, handler gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	r.Use(GinMiddleware(cfg))
	r.Use(func(c *gin.Context) {
		c.Request = c.Request.WithContext(obscontext.WithActor(c.Request.Context(), obscontext.ActorTypeUser, "42"))
		c.Next()
	})
	r.POST("/admin/newsletters", handler)
	return r
}

func TestGinMiddleware_TagsReplayedPublish(t *testing.T) {
	recorder := recordSpans(t)
	r := publishEngine(MiddlewareConfig{RecordActor: true}, func(c *gin.Context) {
		c.Set(obscontext.GinKeyIdempotentReplay, true)
		c.Header(obscontext.HeaderIssueID, "01HZX3J8Q4V7")
		c.Status(http.StatusSeeOther)
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/admin/newsletters", nil))
	require.Equal(t, http.StatusSeeOther, rec.Code)

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "HTTP POST /admin/newsletters", spans[0].Name())

	attrs := attributeMap(spans[0].Attributes())
	assert.True(t, attrs["idempotency.replayed"].AsBool())
	assert.Equal(t, "01HZX3J8Q4V7", attrs["issue_id"].AsString())
	assert.Equal(t, "user", attrs["actor.type"].AsString())
	assert.Equal(t, "42", attrs["actor.id"].AsString())
	assert.Equal(t, int64(http.StatusSeeOther), attrs["http.status_code"].AsInt64())
	assert.Equal(t, codes.Unset, spans[0].Status().Code)
}

func TestGinMiddleware_ActorOmittedWhenDisabled(t *testing.T) {
	recorder := recordSpans(t)
	r := publishEngine(MiddlewareConfig{}, func(c *gin.Context) {
		c.Status(http.StatusSeeOther)
	})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/admin/newsletters", nil))

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	attrs := attributeMap(spans[0].Attributes())
	assert.NotContains(t, attrs, attribute.Key("actor.id"))
	assert.NotContains(t, attrs, attribute.Key("idempotency.replayed"))
}

func TestGinMiddleware_RateLimitedAndFailedRequests(t *testing.T) {
	recorder := recordSpans(t)
	r := publishEngine(MiddlewareConfig{}, func(c *gin.Context) {
		if c.Query("fail") != "" {
			_ = c.Error(errors.New("send to ursula@example.com failed"))
			c.Status(http.StatusInternalServerError)
			return
		}
		c.Header(obscontext.HeaderRateLimitedReason, "user-rate")
		c.Status(http.StatusTooManyRequests)
	})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/admin/newsletters", nil))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/admin/newsletters?fail=1", nil))

	spans := recorder.Ended()
	require.Len(t, spans, 2)

	limited := spans[0]
	assert.Equal(t, "user-rate", attributeMap(limited.Attributes())["rate_limit.reason"].AsString())
	require.Len(t, limited.Events(), 1)
	assert.Equal(t, "publish.rate_limited", limited.Events()[0].Name)

	failed := spans[1]
	assert.Equal(t, codes.Error, failed.Status().Code)
	require.NotEmpty(t, failed.Events())
	for _, attr := range failed.Events()[0].Attributes {
		assert.NotContains(t, attr.Value.Emit(), "ursula@")
	}
}
