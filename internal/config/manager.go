package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// viperManager implements Manager using Viper.
type viperManager struct {
	configPath string
	config     *Config
	viper      *viper.Viper
	watchChan  chan Config
}

// Load loads configuration from all sources.
func (m *viperManager) Load(ctx context.Context) error {
	m.viper = viper.New()
	m.viper.SetConfigFile(m.configPath)
	m.viper.SetConfigType("yaml")

	m.viper.SetEnvPrefix("GUARDIAN")
	m.viper.AutomaticEnv()
	m.viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	m.setDefaults()

	// The config file is optional; defaults + env vars suffice.
	if err := m.viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	// Viper coerces unparseable values to zero; reject them loudly
	// instead so the pipeline never runs on a half-read configuration.
	if err := m.checkNumerics(); err != nil {
		return err
	}

	if err := m.unmarshalConfig(); err != nil {
		return fmt.Errorf("error unmarshaling config: %w", err)
	}

	m.applyEnvOverrides()
	return nil
}

var (
	floatKeys = []string{
		"thresholds.cost_anomaly_usd_per_day", "thresholds.cost_z_threshold",
		"thresholds.latency_abs_ms", "thresholds.latency_p95_ms",
		"thresholds.quality_min_overall", "thresholds.quality_min_coherence",
		"thresholds.quality_min_relevance", "thresholds.quality_min_completeness",
		"thresholds.error_rate_max", "thresholds.threat_min_confidence",
		"thresholds.toxicity_min", "ai.temperature", "ai.top_p",
	}
	intKeys = []string{
		"server.port", "concurrency.max_concurrent_analyses", "concurrency.batch_size",
		"ai.top_k", "ai.max_output_tokens", "ai.max_retries",
		"window.capacity", "window.min_samples_for_stat",
		"normalizer.max_content_bytes", "normalizer.dedup_capacity",
		"logging.max_size_mb", "logging.max_backups", "logging.max_age_days",
	}
	durationKeys = []string{
		"concurrency.batch_timeout", "ai.per_call_timeout", "window.sample_horizon",
	}
)

// checkNumerics verifies that every numeric option parses as a number.
func (m *viperManager) checkNumerics() error {
	for _, key := range floatKeys {
		raw := m.viper.GetString(key)
		if _, err := strconv.ParseFloat(raw, 64); err != nil {
			return fmt.Errorf("config %s: expected number, got %q", key, raw)
		}
	}
	for _, key := range intKeys {
		raw := m.viper.GetString(key)
		if _, err := strconv.Atoi(raw); err != nil {
			return fmt.Errorf("config %s: expected integer, got %q", key, raw)
		}
	}
	for _, key := range durationKeys {
		raw := m.viper.GetString(key)
		if _, err := time.ParseDuration(raw); err != nil {
			if _, ierr := strconv.Atoi(raw); ierr != nil {
				return fmt.Errorf("config %s: expected duration, got %q", key, raw)
			}
		}
	}
	return nil
}

// Get returns the current configuration.
func (m *viperManager) Get(ctx context.Context) *Config {
	return m.config
}

// Validate validates configuration is correct and complete.
func (m *viperManager) Validate(ctx context.Context) error {
	errs := m.config.Validate()
	if len(errs) > 0 {
		var msgs []string
		for _, err := range errs {
			msgs = append(msgs, err.Error())
		}
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(msgs, "\n  - "))
	}
	return nil
}

// Watch watches for configuration file changes.
func (m *viperManager) Watch(ctx context.Context) <-chan Config {
	m.viper.WatchConfig()
	m.viper.OnConfigChange(func(e fsnotify.Event) {
		if err := m.unmarshalConfig(); err != nil {
			return
		}
		select {
		case m.watchChan <- *m.config:
		default:
			// Channel full, skip this update.
		}
	})
	return m.watchChan
}

// setDefaults sets default values in viper.
func (m *viperManager) setDefaults() {
	d := Default()

	m.viper.SetDefault("server.host", d.Server.Host)
	m.viper.SetDefault("server.port", d.Server.Port)
	m.viper.SetDefault("server.allowed_origins", d.Server.AllowedOrigins)

	m.viper.SetDefault("pipeline.enable_threat_detection", d.Pipeline.EnableThreatDetection)
	m.viper.SetDefault("pipeline.enable_anomaly_detection", d.Pipeline.EnableAnomalyDetection)
	m.viper.SetDefault("pipeline.enable_quality_analysis", d.Pipeline.EnableQualityAnalysis)
	m.viper.SetDefault("pipeline.enable_incident_emission", d.Pipeline.EnableIncidentEmission)

	m.viper.SetDefault("thresholds.cost_anomaly_usd_per_day", d.Thresholds.CostAnomalyUSDPerDay)
	m.viper.SetDefault("thresholds.cost_z_threshold", d.Thresholds.CostZThreshold)
	m.viper.SetDefault("thresholds.latency_abs_ms", d.Thresholds.LatencyAbsMS)
	m.viper.SetDefault("thresholds.latency_p95_ms", d.Thresholds.LatencyP95MS)
	m.viper.SetDefault("thresholds.quality_min_overall", d.Thresholds.QualityMinOverall)
	m.viper.SetDefault("thresholds.quality_min_coherence", d.Thresholds.QualityMinCoherence)
	m.viper.SetDefault("thresholds.quality_min_relevance", d.Thresholds.QualityMinRelevance)
	m.viper.SetDefault("thresholds.quality_min_completeness", d.Thresholds.QualityMinCompleteness)
	m.viper.SetDefault("thresholds.error_rate_max", d.Thresholds.ErrorRateMax)
	m.viper.SetDefault("thresholds.threat_min_confidence", d.Thresholds.ThreatMinConfidence)
	m.viper.SetDefault("thresholds.toxicity_min", d.Thresholds.ToxicityMin)

	m.viper.SetDefault("concurrency.max_concurrent_analyses", d.Concurrency.MaxConcurrentAnalyses)
	m.viper.SetDefault("concurrency.batch_size", d.Concurrency.BatchSize)
	m.viper.SetDefault("concurrency.batch_timeout", d.Concurrency.BatchTimeout)

	m.viper.SetDefault("ai.provider", d.AI.Provider)
	m.viper.SetDefault("ai.model_name", d.AI.ModelName)
	m.viper.SetDefault("ai.temperature", d.AI.Temperature)
	m.viper.SetDefault("ai.top_p", d.AI.TopP)
	m.viper.SetDefault("ai.top_k", d.AI.TopK)
	m.viper.SetDefault("ai.max_output_tokens", d.AI.MaxOutputTokens)
	m.viper.SetDefault("ai.max_retries", d.AI.MaxRetries)
	m.viper.SetDefault("ai.per_call_timeout", d.AI.PerCallTimeout)
	m.viper.SetDefault("ai.require_on_startup", d.AI.RequireOnStartup)

	m.viper.SetDefault("window.capacity", d.Window.Capacity)
	m.viper.SetDefault("window.min_samples_for_stat", d.Window.MinSamplesForStat)
	m.viper.SetDefault("window.sample_horizon", d.Window.SampleHorizon)

	m.viper.SetDefault("normalizer.max_content_bytes", d.Normalizer.MaxContentBytes)
	m.viper.SetDefault("normalizer.dedup_capacity", d.Normalizer.DedupCapacity)

	m.viper.SetDefault("store.database_path", d.Store.DatabasePath)

	m.viper.SetDefault("emitter.namespace", d.Emitter.Namespace)
	m.viper.SetDefault("emitter.sink", d.Emitter.Sink)
	m.viper.SetDefault("emitter.datadog_site", d.Emitter.DatadogSite)

	m.viper.SetDefault("intake.redis_addr", d.Intake.RedisAddr)
	m.viper.SetDefault("intake.redis_channel", d.Intake.RedisChannel)

	m.viper.SetDefault("logging.level", d.Logging.Level)
	m.viper.SetDefault("logging.file_path", d.Logging.FilePath)
	m.viper.SetDefault("logging.max_size_mb", d.Logging.MaxSizeMB)
	m.viper.SetDefault("logging.max_backups", d.Logging.MaxBackups)
	m.viper.SetDefault("logging.max_age_days", d.Logging.MaxAgeDays)
}

// unmarshalConfig unmarshals viper config into the Config struct.
func (m *viperManager) unmarshalConfig() error {
	cfg := &Config{}

	cfg.Server.Host = m.viper.GetString("server.host")
	cfg.Server.Port = m.viper.GetInt("server.port")
	cfg.Server.AllowedOrigins = m.viper.GetStringSlice("server.allowed_origins")

	cfg.Pipeline.EnableThreatDetection = m.viper.GetBool("pipeline.enable_threat_detection")
	cfg.Pipeline.EnableAnomalyDetection = m.viper.GetBool("pipeline.enable_anomaly_detection")
	cfg.Pipeline.EnableQualityAnalysis = m.viper.GetBool("pipeline.enable_quality_analysis")
	cfg.Pipeline.EnableIncidentEmission = m.viper.GetBool("pipeline.enable_incident_emission")

	cfg.Thresholds.CostAnomalyUSDPerDay = m.viper.GetFloat64("thresholds.cost_anomaly_usd_per_day")
	cfg.Thresholds.CostZThreshold = m.viper.GetFloat64("thresholds.cost_z_threshold")
	cfg.Thresholds.LatencyAbsMS = m.viper.GetFloat64("thresholds.latency_abs_ms")
	cfg.Thresholds.LatencyP95MS = m.viper.GetFloat64("thresholds.latency_p95_ms")
	cfg.Thresholds.QualityMinOverall = m.viper.GetFloat64("thresholds.quality_min_overall")
	cfg.Thresholds.QualityMinCoherence = m.viper.GetFloat64("thresholds.quality_min_coherence")
	cfg.Thresholds.QualityMinRelevance = m.viper.GetFloat64("thresholds.quality_min_relevance")
	cfg.Thresholds.QualityMinCompleteness = m.viper.GetFloat64("thresholds.quality_min_completeness")
	cfg.Thresholds.ErrorRateMax = m.viper.GetFloat64("thresholds.error_rate_max")
	cfg.Thresholds.ThreatMinConfidence = m.viper.GetFloat64("thresholds.threat_min_confidence")
	cfg.Thresholds.ToxicityMin = m.viper.GetFloat64("thresholds.toxicity_min")

	cfg.Concurrency.MaxConcurrentAnalyses = m.viper.GetInt("concurrency.max_concurrent_analyses")
	cfg.Concurrency.BatchSize = m.viper.GetInt("concurrency.batch_size")
	cfg.Concurrency.BatchTimeout = m.viper.GetDuration("concurrency.batch_timeout")

	cfg.AI.Provider = m.viper.GetString("ai.provider")
	cfg.AI.APIKey = m.viper.GetString("ai.api_key")
	cfg.AI.ModelName = m.viper.GetString("ai.model_name")
	cfg.AI.Temperature = m.viper.GetFloat64("ai.temperature")
	cfg.AI.TopP = m.viper.GetFloat64("ai.top_p")
	cfg.AI.TopK = m.viper.GetInt("ai.top_k")
	cfg.AI.MaxOutputTokens = m.viper.GetInt("ai.max_output_tokens")
	cfg.AI.MaxRetries = m.viper.GetInt("ai.max_retries")
	cfg.AI.PerCallTimeout = m.viper.GetDuration("ai.per_call_timeout")
	cfg.AI.RequireOnStartup = m.viper.GetBool("ai.require_on_startup")

	cfg.Window.Capacity = m.viper.GetInt("window.capacity")
	cfg.Window.MinSamplesForStat = m.viper.GetInt("window.min_samples_for_stat")
	cfg.Window.SampleHorizon = m.viper.GetDuration("window.sample_horizon")

	cfg.Normalizer.MaxContentBytes = m.viper.GetInt("normalizer.max_content_bytes")
	cfg.Normalizer.DedupCapacity = m.viper.GetInt("normalizer.dedup_capacity")

	cfg.Store.DatabasePath = m.viper.GetString("store.database_path")

	cfg.Emitter.Namespace = m.viper.GetString("emitter.namespace")
	cfg.Emitter.Sink = m.viper.GetString("emitter.sink")
	cfg.Emitter.DatadogAPIKey = m.viper.GetString("emitter.datadog_api_key")
	cfg.Emitter.DatadogSite = m.viper.GetString("emitter.datadog_site")

	cfg.Intake.RedisAddr = m.viper.GetString("intake.redis_addr")
	cfg.Intake.RedisChannel = m.viper.GetString("intake.redis_channel")

	cfg.Logging.Level = m.viper.GetString("logging.level")
	cfg.Logging.FilePath = m.viper.GetString("logging.file_path")
	cfg.Logging.MaxSizeMB = m.viper.GetInt("logging.max_size_mb")
	cfg.Logging.MaxBackups = m.viper.GetInt("logging.max_backups")
	cfg.Logging.MaxAgeDays = m.viper.GetInt("logging.max_age_days")

	m.config = cfg
	return nil
}

// applyEnvOverrides applies environment variable overrides for sensitive
// data that lives outside the GUARDIAN_ namespace.
func (m *viperManager) applyEnvOverrides() {
	if apiKey := os.Getenv("GOOGLE_API_KEY"); apiKey != "" && m.config.AI.APIKey == "" {
		m.config.AI.APIKey = apiKey
	}
	if apiKey := os.Getenv("DD_API_KEY"); apiKey != "" && m.config.Emitter.DatadogAPIKey == "" {
		m.config.Emitter.DatadogAPIKey = apiKey
	}
}
