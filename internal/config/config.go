// Package config provides configuration management for the GuardianAI
// analysis pipeline.
//
// Configuration sources (priority order, high to low):
//  1. Environment variables (GUARDIAN_* prefix)
//  2. YAML config file (default: /etc/guardianai/config.yaml, optional)
//  3. Built-in defaults
//
// The resulting Config is loaded once at startup, validated as a whole,
// and shared read-only with every component. The pipeline never runs
// with a partially-valid configuration: any invalid value fails startup.
package config

import (
	"context"
	"time"
)

// Config contains all configuration fields.
type Config struct {
	// Server configuration.
	Server struct {
		Host           string
		Port           int
		AllowedOrigins []string
	}

	// Pipeline feature toggles.
	Pipeline struct {
		EnableThreatDetection  bool
		EnableAnomalyDetection bool
		EnableQualityAnalysis  bool
		EnableIncidentEmission bool
	}

	// Detection thresholds.
	Thresholds struct {
		CostAnomalyUSDPerDay   float64
		CostZThreshold         float64
		LatencyAbsMS           float64
		LatencyP95MS           float64
		QualityMinOverall      float64
		QualityMinCoherence    float64
		QualityMinRelevance    float64
		QualityMinCompleteness float64
		ErrorRateMax           float64
		ThreatMinConfidence    float64
		ToxicityMin            float64
	}

	// Concurrency limits for the worker pool.
	Concurrency struct {
		MaxConcurrentAnalyses int
		BatchSize             int
		BatchTimeout          time.Duration
	}

	// AI client configuration.
	AI struct {
		Provider         string // "gemini" | "stub"
		APIKey           string
		ModelName        string
		Temperature      float64
		TopP             float64
		TopK             int
		MaxOutputTokens  int
		MaxRetries       int
		PerCallTimeout   time.Duration
		RequireOnStartup bool
	}

	// Rolling-window parameters for the anomaly detector.
	Window struct {
		Capacity          int
		MinSamplesForStat int
		SampleHorizon     time.Duration
	}

	// Normalizer parameters.
	Normalizer struct {
		MaxContentBytes int
		DedupCapacity   int
	}

	// Record store configuration.
	Store struct {
		DatabasePath string
	}

	// Alert/metrics emitter configuration.
	Emitter struct {
		Namespace     string
		Sink          string // "datadog" | "log"
		DatadogAPIKey string
		DatadogSite   string
	}

	// Broker intake (optional; disabled when Addr is empty).
	Intake struct {
		RedisAddr    string
		RedisChannel string
	}

	// Logging configuration.
	Logging struct {
		Level      string
		FilePath   string
		MaxSizeMB  int
		MaxBackups int
		MaxAgeDays int
	}
}

// Manager defines the interface for configuration access.
type Manager interface {
	// Load loads configuration from all sources.
	Load(ctx context.Context) error

	// Get returns the current configuration.
	Get(ctx context.Context) *Config

	// Validate validates configuration is correct and complete.
	Validate(ctx context.Context) error

	// Watch surfaces config-file change events. Thresholds stay immutable
	// for a run; consumers use this only to log a restart hint.
	Watch(ctx context.Context) <-chan Config
}

// NewManager creates a configuration manager reading the given file path.
// The file is optional; defaults and GUARDIAN_* environment variables
// always apply.
func NewManager(configPath string) Manager {
	return &viperManager{
		configPath: configPath,
		config:     Default(),
		watchChan:  make(chan Config, 1),
	}
}
