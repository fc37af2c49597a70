package observability

import (
	"testing"

	"github.com/smallbiznis/purchaseledger/internal/config"
	"github.com/stretchr/testify/assert"
)

func TestLoadConfigPrefersEnvironment(t *testing.T) {
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("OTEL_ENABLED", "true")
	t.Setenv("OTEL_SAMPLING_RATIO", "0.5")

	cfg := LoadConfig(config.Config{AppVersion: "1.2.3", Environment: "production"})
	assert.Equal(t, "purchaseledger", cfg.ServiceName)
	assert.Equal(t, "1.2.3", cfg.Version)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.True(t, cfg.OtelEnabled)
	assert.Equal(t, 0.5, cfg.OtelSamplingRatio)
	assert.True(t, cfg.Debug())
}

func TestDebugFollowsEnvironment(t *testing.T) {
	assert.True(t, Config{Environment: "local", LogLevel: "info"}.Debug())
	assert.False(t, Config{Environment: "production", LogLevel: "info"}.Debug())
}

func TestConfigDerivesComponentSettings(t *testing.T) {
	cfg := Config{
		ServiceName:          "ledger",
		Environment:          "production",
		Version:              "2.0.0",
		LogLevel:             "warn",
		LogFormat:            "console",
		OtelEnabled:          true,
		OtelExporterEndpoint: "collector:4317",
		OtelExporterProtocol: "grpc",
		OtelSamplingRatio:    0.25,
	}

	logCfg := cfg.LoggerConfig()
	assert.Equal(t, "warn", logCfg.Level)
	assert.Equal(t, "console", logCfg.Format)
	assert.False(t, logCfg.Debug)
	assert.False(t, logCfg.IncludeStackOnError)

	traceCfg := cfg.TracingConfig()
	assert.True(t, traceCfg.Enabled)
	assert.Equal(t, "2.0.0", traceCfg.ServiceVersion)
	assert.Equal(t, 0.25, traceCfg.SamplingRatio)

	metricsCfg := cfg.MetricsConfig()
	assert.Equal(t, "collector:4317", metricsCfg.ExporterEndpoint)
	assert.Equal(t, "ledger", metricsCfg.ServiceName)
}
