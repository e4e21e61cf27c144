package tracing

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	obscontext "github.com/smallbiznis/newsletter/internal/observability/context"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/baggage"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "newsletter/http"

type MiddlewareConfig struct {
	// RecordActor adds actor.type and actor.id once authentication ran.
	RecordActor bool
}

// GinMiddleware opens a server span per request. After the handler chain
// returns it is tagged with the acting publisher, the published issue and
// whether the response was replayed from the idempotency store.
func GinMiddleware(cfg MiddlewareConfig) gin.HandlerFunc {
	tracer := otel.Tracer(tracerName)
	return func(c *gin.Context) {
		method := strings.ToUpper(c.Request.Method)
		ctx := ExtractContext(c.Request.Context(), propagation.HeaderCarrier(c.Request.Header))
		ctx, span := tracer.Start(ctx, "HTTP "+method, trace.WithSpanKind(trace.SpanKindServer))
		defer span.End()

		if requestID := obscontext.RequestIDFromContext(ctx); requestID != "" {
			ctx = withRequestIDBaggage(ctx, requestID)
			span.SetAttributes(attribute.String("request_id", requestID))
		}

		c.Request = c.Request.WithContext(ctx)
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unknown"
		}
		span.SetName("HTTP " + method + " " + route)
		span.SetAttributes(SafeAttributes(requestAttributes(c, cfg, route, time.Since(start))...)...)
		markOutcome(span, c)
	}
}

func withRequestIDBaggage(ctx context.Context, requestID string) context.Context {
	member, err := baggage.NewMember("request_id", requestID)
	if err != nil {
		return ctx
	}
	bag, err := baggage.New(member)
	if err != nil {
		return ctx
	}
	return baggage.ContextWithBaggage(ctx, bag)
}

func requestAttributes(c *gin.Context, cfg MiddlewareConfig, route string, elapsed time.Duration) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String("http.method", c.Request.Method),
		attribute.String("http.route", route),
		attribute.Int("http.status_code", c.Writer.Status()),
		attribute.Int64("http.server_duration_ms", elapsed.Milliseconds()),
	}

	// Basic auth swaps the request context, so the actor is only visible here.
	if cfg.RecordActor {
		if actorType, actorID := obscontext.ActorFromContext(c.Request.Context()); actorType != "" {
			attrs = append(attrs,
				attribute.String("actor.type", actorType),
				attribute.String("actor.id", actorID),
			)
		}
	}

	header := c.Writer.Header()
	issueID := strings.TrimSpace(header.Get(obscontext.HeaderIssueID))
	if issueID != "" {
		attrs = append(attrs, attribute.String("issue_id", issueID))
	}
	if replayed, ok := c.Get(obscontext.GinKeyIdempotentReplay); ok || issueID != "" {
		flag, _ := replayed.(bool)
		attrs = append(attrs, attribute.Bool("idempotency.replayed", flag))
	}
	if reason := strings.TrimSpace(header.Get(obscontext.HeaderRateLimitedReason)); reason != "" {
		attrs = append(attrs, attribute.String("rate_limit.reason", reason))
	}
	return attrs
}

func markOutcome(span trace.Span, c *gin.Context) {
	status := c.Writer.Status()
	switch {
	case status >= http.StatusInternalServerError:
		if lastErr := c.Errors.Last(); lastErr != nil {
			if safeErr := SafeError(lastErr.Err); safeErr != nil {
				span.RecordError(safeErr)
			}
		}
		span.SetStatus(codes.Error, http.StatusText(status))
	case status == http.StatusTooManyRequests:
		span.AddEvent("publish.rate_limited")
	}
}
