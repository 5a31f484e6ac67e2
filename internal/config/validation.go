package config

import "fmt"

// Validate checks the configuration as a whole and returns every problem
// found, not just the first. Startup fails when any error is present.
func (c *Config) Validate() []error {
	var errs []error

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port: invalid port %d", c.Server.Port))
	}

	probs := map[string]float64{
		"thresholds.quality_min_overall":      c.Thresholds.QualityMinOverall,
		"thresholds.quality_min_coherence":    c.Thresholds.QualityMinCoherence,
		"thresholds.quality_min_relevance":    c.Thresholds.QualityMinRelevance,
		"thresholds.quality_min_completeness": c.Thresholds.QualityMinCompleteness,
		"thresholds.error_rate_max":           c.Thresholds.ErrorRateMax,
		"thresholds.threat_min_confidence":    c.Thresholds.ThreatMinConfidence,
		"thresholds.toxicity_min":             c.Thresholds.ToxicityMin,
		"ai.top_p":                            c.AI.TopP,
	}
	for name, v := range probs {
		if v < 0 || v > 1 {
			errs = append(errs, fmt.Errorf("%s: %v out of range [0,1]", name, v))
		}
	}

	if c.Thresholds.CostAnomalyUSDPerDay < 0 {
		errs = append(errs, fmt.Errorf("thresholds.cost_anomaly_usd_per_day: must be >= 0"))
	}
	if c.Thresholds.CostZThreshold <= 0 {
		errs = append(errs, fmt.Errorf("thresholds.cost_z_threshold: must be > 0"))
	}
	if c.Thresholds.LatencyAbsMS < 0 {
		errs = append(errs, fmt.Errorf("thresholds.latency_abs_ms: must be >= 0"))
	}

	if c.Concurrency.MaxConcurrentAnalyses < 1 {
		errs = append(errs, fmt.Errorf("concurrency.max_concurrent_analyses: must be >= 1"))
	}
	if c.Concurrency.BatchSize < 1 {
		errs = append(errs, fmt.Errorf("concurrency.batch_size: must be >= 1"))
	}
	if c.Concurrency.BatchTimeout <= 0 {
		errs = append(errs, fmt.Errorf("concurrency.batch_timeout: must be > 0"))
	}

	switch c.AI.Provider {
	case "gemini", "stub":
	default:
		errs = append(errs, fmt.Errorf("ai.provider: unknown provider %q (valid: gemini, stub)", c.AI.Provider))
	}
	if c.AI.Temperature < 0 || c.AI.Temperature > 2 {
		errs = append(errs, fmt.Errorf("ai.temperature: %v out of range [0,2]", c.AI.Temperature))
	}
	if c.AI.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("ai.max_retries: must be >= 0"))
	}
	if c.AI.PerCallTimeout <= 0 {
		errs = append(errs, fmt.Errorf("ai.per_call_timeout: must be > 0"))
	}

	if c.Window.Capacity < 1 {
		errs = append(errs, fmt.Errorf("window.capacity: must be >= 1"))
	}
	if c.Window.MinSamplesForStat < 2 {
		errs = append(errs, fmt.Errorf("window.min_samples_for_stat: must be >= 2"))
	}
	if c.Window.SampleHorizon <= 0 {
		errs = append(errs, fmt.Errorf("window.sample_horizon: must be > 0"))
	}

	if c.Normalizer.MaxContentBytes < 1 {
		errs = append(errs, fmt.Errorf("normalizer.max_content_bytes: must be >= 1"))
	}
	if c.Normalizer.DedupCapacity < 1 {
		errs = append(errs, fmt.Errorf("normalizer.dedup_capacity: must be >= 1"))
	}

	switch c.Emitter.Sink {
	case "datadog", "log":
	default:
		errs = append(errs, fmt.Errorf("emitter.sink: unknown sink %q (valid: datadog, log)", c.Emitter.Sink))
	}
	if c.Emitter.Namespace == "" {
		errs = append(errs, fmt.Errorf("emitter.namespace: must not be empty"))
	}
	if c.Emitter.Sink == "datadog" && c.Emitter.DatadogAPIKey == "" {
		errs = append(errs, fmt.Errorf("emitter.datadog_api_key: required when emitter.sink=datadog"))
	}

	return errs
}
