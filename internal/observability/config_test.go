package observability

import (
	"testing"

	"github.com/smallbiznis/newsletter/internal/config"
	"github.com/stretchr/testify/assert"
)

func clearTelemetryEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"DEPLOYMENT_ENV", "SERVICE_VERSION", "LOG_LEVEL", "LOG_FORMAT", "LOG_PROBE_REQUESTS",
		"OTEL_ENABLED", "OTEL_EXPORTER_OTLP_ENDPOINT", "OTEL_EXPORTER_OTLP_PROTOCOL",
		"OTEL_EXPORTER_OTLP_TRACES_PROTOCOL", "OTEL_SAMPLING_RATIO", "OTEL_TRACE_ACTORS",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadConfig_DefaultsFromAppConfig(t *testing.T) {
	clearTelemetryEnv(t)
	cfg := LoadConfig(config.Config{
		AppName:      "newsletter-api",
		AppVersion:   "1.2.0",
		Environment:  "production",
		OTLPEndpoint: "collector:4317",
	})

	assert.Equal(t, "newsletter-api", cfg.ServiceName)
	assert.Equal(t, "1.2.0", cfg.Version)
	assert.Equal(t, "collector:4317", cfg.OtelExporterEndpoint)
	assert.Equal(t, "grpc", cfg.OtelExporterProtocol)
	assert.True(t, cfg.TraceActors)
	assert.False(t, cfg.LogProbeRequests)
	assert.True(t, cfg.Production())
	assert.False(t, cfg.Debug())
}

func TestLoadConfig_EnvironmentOverrides(t *testing.T) {
	clearTelemetryEnv(t)
	t.Setenv("OTEL_EXPORTER_OTLP_PROTOCOL", "HTTP")
	t.Setenv("OTEL_SAMPLING_RATIO", "3")
	t.Setenv("OTEL_TRACE_ACTORS", "off")
	t.Setenv("LOG_PROBE_REQUESTS", "yes")
	t.Setenv("LOG_LEVEL", "DEBUG")

	cfg := LoadConfig(config.Config{Environment: "production"})

	assert.Equal(t, "newsletter", cfg.ServiceName)
	assert.Equal(t, "http", cfg.OtelExporterProtocol)
	assert.Equal(t, 1.0, cfg.OtelSamplingRatio)
	assert.False(t, cfg.TraceActors)
	assert.True(t, cfg.LogProbeRequests)
	assert.True(t, cfg.Debug())
}

func TestLoadConfig_TracesProtocolWins(t *testing.T) {
	clearTelemetryEnv(t)
	t.Setenv("OTEL_EXPORTER_OTLP_PROTOCOL", "grpc")
	t.Setenv("OTEL_EXPORTER_OTLP_TRACES_PROTOCOL", "http/protobuf")

	assert.Equal(t, "http/protobuf", LoadConfig(config.Config{}).OtelExporterProtocol)
}
