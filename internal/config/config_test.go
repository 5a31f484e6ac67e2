package config

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadManager(t *testing.T) *Config {
	t.Helper()
	mgr := NewManager("/nonexistent/config.yaml")
	require.NoError(t, mgr.Load(context.Background()))
	require.NoError(t, mgr.Validate(context.Background()))
	return mgr.Get(context.Background())
}

func TestDefaults(t *testing.T) {
	cfg := loadManager(t)

	assert.True(t, cfg.Pipeline.EnableThreatDetection)
	assert.Equal(t, 3.0, cfg.Thresholds.CostZThreshold)
	assert.Equal(t, 0.7, cfg.Thresholds.QualityMinOverall)
	assert.Equal(t, 1000, cfg.Window.Capacity)
	assert.Equal(t, 30, cfg.Window.MinSamplesForStat)
	assert.Equal(t, 24*time.Hour, cfg.Window.SampleHorizon)
	assert.Equal(t, 64*1024, cfg.Normalizer.MaxContentBytes)
	assert.Equal(t, 10000, cfg.Normalizer.DedupCapacity)
	assert.Equal(t, "guardianai", cfg.Emitter.Namespace)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("GUARDIAN_THRESHOLDS_COST_Z_THRESHOLD", "4.5")
	t.Setenv("GUARDIAN_PIPELINE_ENABLE_QUALITY_ANALYSIS", "false")
	t.Setenv("GUARDIAN_WINDOW_MIN_SAMPLES_FOR_STAT", "10")
	t.Setenv("GUARDIAN_AI_PER_CALL_TIMEOUT", "10s")

	cfg := loadManager(t)

	assert.Equal(t, 4.5, cfg.Thresholds.CostZThreshold)
	assert.False(t, cfg.Pipeline.EnableQualityAnalysis)
	assert.Equal(t, 10, cfg.Window.MinSamplesForStat)
	assert.Equal(t, 10*time.Second, cfg.AI.PerCallTimeout)
}

func TestNonNumericValueFailsLoad(t *testing.T) {
	t.Setenv("GUARDIAN_THRESHOLDS_COST_Z_THRESHOLD", "not-a-number")

	mgr := NewManager("/nonexistent/config.yaml")
	err := mgr.Load(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cost_z_threshold")
}

func TestOutOfRangeProbabilityFailsValidation(t *testing.T) {
	t.Setenv("GUARDIAN_THRESHOLDS_THREAT_MIN_CONFIDENCE", "1.5")

	mgr := NewManager("/nonexistent/config.yaml")
	require.NoError(t, mgr.Load(context.Background()))
	err := mgr.Validate(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "threat_min_confidence")
}

func TestValidateCollectsAllErrors(t *testing.T) {
	cfg := Default()
	cfg.Server.Port = 0
	cfg.Concurrency.BatchSize = 0
	cfg.Emitter.Sink = "pigeon"

	errs := cfg.Validate()
	assert.Len(t, errs, 3)
}

func TestDatadogSinkRequiresAPIKey(t *testing.T) {
	cfg := Default()
	cfg.Emitter.Sink = "datadog"
	cfg.Emitter.DatadogAPIKey = ""

	errs := cfg.Validate()
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error(), "datadog_api_key")
}
