package config

import "time"

// Default returns the built-in configuration defaults. Every threshold
// here has a GUARDIAN_* environment override.
func Default() *Config {
	cfg := &Config{}

	cfg.Server.Host = "0.0.0.0"
	cfg.Server.Port = 8080
	cfg.Server.AllowedOrigins = []string{"http://localhost:3000", "http://localhost:5173"}

	cfg.Pipeline.EnableThreatDetection = true
	cfg.Pipeline.EnableAnomalyDetection = true
	cfg.Pipeline.EnableQualityAnalysis = true
	cfg.Pipeline.EnableIncidentEmission = true

	cfg.Thresholds.CostAnomalyUSDPerDay = 100.0
	cfg.Thresholds.CostZThreshold = 3.0
	cfg.Thresholds.LatencyAbsMS = 5000
	cfg.Thresholds.LatencyP95MS = 5000
	cfg.Thresholds.QualityMinOverall = 0.7
	cfg.Thresholds.QualityMinCoherence = 0.5
	cfg.Thresholds.QualityMinRelevance = 0.5
	cfg.Thresholds.QualityMinCompleteness = 0.5
	cfg.Thresholds.ErrorRateMax = 0.05
	cfg.Thresholds.ThreatMinConfidence = 0.75
	cfg.Thresholds.ToxicityMin = 0.8

	cfg.Concurrency.MaxConcurrentAnalyses = 8
	cfg.Concurrency.BatchSize = 100
	cfg.Concurrency.BatchTimeout = 5 * time.Second

	cfg.AI.Provider = "gemini"
	cfg.AI.ModelName = "gemini-2.0-flash"
	cfg.AI.Temperature = 0.2
	cfg.AI.TopP = 0.95
	cfg.AI.TopK = 40
	cfg.AI.MaxOutputTokens = 1024
	cfg.AI.MaxRetries = 3
	cfg.AI.PerCallTimeout = 30 * time.Second
	cfg.AI.RequireOnStartup = false

	cfg.Window.Capacity = 1000
	cfg.Window.MinSamplesForStat = 30
	cfg.Window.SampleHorizon = 24 * time.Hour

	cfg.Normalizer.MaxContentBytes = 64 * 1024
	cfg.Normalizer.DedupCapacity = 10000

	cfg.Store.DatabasePath = "guardianai.db"

	cfg.Emitter.Namespace = "guardianai"
	cfg.Emitter.Sink = "log"
	cfg.Emitter.DatadogSite = "datadoghq.com"

	cfg.Intake.RedisChannel = "guardianai.telemetry"

	cfg.Logging.Level = "info"
	cfg.Logging.FilePath = "" // empty: stderr only
	cfg.Logging.MaxSizeMB = 100
	cfg.Logging.MaxBackups = 10
	cfg.Logging.MaxAgeDays = 30

	return cfg
}
