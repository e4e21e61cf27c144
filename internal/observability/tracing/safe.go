package tracing

import (
	"context"
	"errors"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
)

var allowedAttributeKeys = map[attribute.Key]struct{}{
	"http.method":             {},
	"http.route":              {},
	"http.status_code":        {},
	"http.server_duration_ms": {},
	"request_id":              {},
	"issue_id":                {},
	"outcome":                 {},
	"actor.type":              {},
	"actor.id":                {},
	"idempotency.replayed":    {},
	"rate_limit.reason":       {},
}

// SafeAttributes drops attributes that could carry personal data.
func SafeAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	out := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedAttributeKeys[attr.Key]; ok {
			out = append(out, attr)
		}
	}
	return out
}

// SafeError returns an error whose message has e-mail addresses masked.
func SafeError(err error) error {
	if err == nil {
		return nil
	}
	return errors.New(maskEmails(err.Error()))
}

func ExtractContext(ctx context.Context, carrier propagation.TextMapCarrier) context.Context {
	return otel.GetTextMapPropagator().Extract(ctx, carrier)
}

func maskEmails(msg string) string {
	fields := strings.Fields(msg)
	for i, field := range fields {
		at := strings.Index(field, "@")
		if at <= 0 {
			continue
		}
		fields[i] = "***" + field[at:]
	}
	return strings.Join(fields, " ")
}
