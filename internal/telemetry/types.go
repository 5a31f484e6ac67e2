package telemetry

import (
	"fmt"
	"time"
)

// Package telemetry defines the entities that flow through the analysis
// pipeline: the telemetry record captured per LLM request, the enrichment
// artifacts produced by the analyzers, and the synthesized incident.
// All entities are immutable after construction except Incident.Status,
// which is advanced through the lifecycle state machine.

// Severity levels, ordered low < medium < high < critical.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

var severityRank = map[Severity]int{
	SeverityLow:      0,
	SeverityMedium:   1,
	SeverityHigh:     2,
	SeverityCritical: 3,
}

// Rank returns the ordering position of a severity (low=0 … critical=3).
// Unknown severities rank below low.
func (s Severity) Rank() int {
	if r, ok := severityRank[s]; ok {
		return r
	}
	return -1
}

// MaxSeverity returns the higher of two severities.
func MaxSeverity(a, b Severity) Severity {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

// ParseSeverity validates a severity string.
func ParseSeverity(s string) (Severity, error) {
	sev := Severity(s)
	if _, ok := severityRank[sev]; !ok {
		return "", fmt.Errorf("unknown severity %q", s)
	}
	return sev, nil
}

// ThreatKind identifies the class of a detected threat.
type ThreatKind string

const (
	ThreatNone            ThreatKind = "none"
	ThreatPromptInjection ThreatKind = "prompt_injection"
	ThreatJailbreak       ThreatKind = "jailbreak"
	ThreatPIILeak         ThreatKind = "pii_leak"
	ThreatToxicContent    ThreatKind = "toxic_content"
)

// ValidThreatKind reports whether k is a member of the sealed kind set.
func ValidThreatKind(k ThreatKind) bool {
	switch k {
	case ThreatNone, ThreatPromptInjection, ThreatJailbreak, ThreatPIILeak, ThreatToxicContent:
		return true
	}
	return false
}

// ThreatScope identifies which side of the exchange a verdict covers.
type ThreatScope string

const (
	ScopePrompt   ThreatScope = "prompt"
	ScopeResponse ThreatScope = "response"
)

// MetricName identifies the metric an anomaly was detected on.
type MetricName string

const (
	MetricCost        MetricName = "cost"
	MetricLatency     MetricName = "latency"
	MetricQuality     MetricName = "quality"
	MetricErrorRate   MetricName = "error_rate"
	MetricTokenRate   MetricName = "token_rate"
	MetricRequestRate MetricName = "request_rate"
)

// Trigger distinguishes fixed-threshold anomalies from statistical ones.
type Trigger string

const (
	TriggerAbsolute    Trigger = "absolute"
	TriggerStatistical Trigger = "statistical"
)

// IncidentStatus is the lifecycle state of an incident.
type IncidentStatus string

const (
	StatusOpen         IncidentStatus = "open"
	StatusAcknowledged IncidentStatus = "acknowledged"
	StatusResolved     IncidentStatus = "resolved"
)

// ValidStatus reports whether s is a member of the sealed status set.
func ValidStatus(s IncidentStatus) bool {
	switch s {
	case StatusOpen, StatusAcknowledged, StatusResolved:
		return true
	}
	return false
}

// CanTransition reports whether from -> to is a legal lifecycle step.
// Re-applying the current state is treated as a legal no-op by callers.
func CanTransition(from, to IncidentStatus) bool {
	switch {
	case from == StatusOpen && to == StatusAcknowledged:
		return true
	case from == StatusAcknowledged && to == StatusResolved:
		return true
	}
	return false
}

// Record is one captured LLM request/response plus timing and cost.
// Created by the normalizer and never mutated afterwards.
type Record struct {
	TraceID       string            `json:"trace_id"`
	IngestedAt    time.Time         `json:"ingested_at"`
	ModelID       string            `json:"model_id"`
	Prompt        string            `json:"prompt"`
	Response      string            `json:"response"`
	InputTokens   int64             `json:"input_tokens"`
	OutputTokens  int64             `json:"output_tokens"`
	LatencyMS     float64           `json:"latency_ms"`
	CostUSD       float64           `json:"cost_usd"`
	ErrorOccurred bool              `json:"error_occurred"`
	UserID        string            `json:"user_id"`
	SessionID     string            `json:"session_id,omitempty"`
	Tags          map[string]string `json:"tags"`
}

// Validate checks the record invariants. A violation here after
// normalization is a programmer error, not an input error.
func (r *Record) Validate() error {
	switch {
	case r.TraceID == "":
		return fmt.Errorf("record: empty trace_id")
	case r.InputTokens < 0:
		return fmt.Errorf("record %s: negative input_tokens", r.TraceID)
	case r.OutputTokens < 0:
		return fmt.Errorf("record %s: negative output_tokens", r.TraceID)
	case r.LatencyMS < 0:
		return fmt.Errorf("record %s: negative latency_ms", r.TraceID)
	case r.CostUSD < 0:
		return fmt.Errorf("record %s: negative cost_usd", r.TraceID)
	}
	return nil
}

// QualityScore is the quality classifier's assessment of a response.
// Overall is nil when the classifier failed terminally; downstream treats
// nil as "not contributing".
type QualityScore struct {
	Coherence    float64  `json:"coherence"`
	Relevance    float64  `json:"relevance"`
	Completeness float64  `json:"completeness"`
	Overall      *float64 `json:"overall"`
	Explanation  string   `json:"explanation"`

	// Skipped marks the sentinel score used when quality analysis is
	// disabled or the record has no response. It carries no signal and
	// must not feed statistical baselines.
	Skipped bool `json:"skipped,omitempty"`
}

// Quality sub-score weights. Overall = 0.4·coherence + 0.4·relevance +
// 0.2·completeness.
const (
	WeightCoherence    = 0.4
	WeightRelevance    = 0.4
	WeightCompleteness = 0.2
)

// WeightedOverall computes the overall score from the three sub-scores.
func WeightedOverall(coherence, relevance, completeness float64) float64 {
	return coherence*WeightCoherence + relevance*WeightRelevance + completeness*WeightCompleteness
}

// ThreatVerdict is the threat classifier's finding for one scope.
type ThreatVerdict struct {
	Kind       ThreatKind  `json:"kind"`
	Confidence float64     `json:"confidence"`
	Severity   Severity    `json:"severity"`
	Indicators []string    `json:"indicators"`
	Scope      ThreatScope `json:"scope"`
}

// Anomaly is one statistical or threshold finding by the anomaly detector.
// ZScore is nil for absolute-threshold triggers.
type Anomaly struct {
	Metric         MetricName `json:"metric"`
	Observed       float64    `json:"observed"`
	BaselineMean   float64    `json:"baseline_mean"`
	BaselineStddev float64    `json:"baseline_stddev"`
	ZScore         *float64   `json:"z_score"`
	Trigger        Trigger    `json:"trigger"`
	Severity       Severity   `json:"severity"`
}

// Enrichment bundles the analyzer outputs for one record. Partial is set
// when at least one analyzer failed terminally for the record.
type Enrichment struct {
	Quality   *QualityScore   `json:"quality,omitempty"`
	Threats   []ThreatVerdict `json:"threats,omitempty"`
	Anomalies []Anomaly       `json:"anomalies,omitempty"`
	Partial   bool            `json:"partial,omitempty"`

	// FailedAnalyzers names the analyzers that contributed nothing
	// because they failed terminally. Set iff Partial is true.
	FailedAnalyzers []string `json:"failed_analyzers,omitempty"`
}

// Incident is the synthesis artifact surfaced when enrichment findings
// warrant attention. It never exists without at least one contributor.
type Incident struct {
	ID        string          `json:"id"`
	TraceID   string          `json:"trace_id"`
	CreatedAt time.Time       `json:"created_at"`
	Severity  Severity        `json:"severity"`
	Status    IncidentStatus  `json:"status"`
	Threats   []ThreatVerdict `json:"threats"`
	Anomalies []Anomaly       `json:"anomalies"`
	Quality   *QualityScore   `json:"quality,omitempty"`
	Summary   string          `json:"summary"`
	Partial   bool            `json:"partial,omitempty"`
}
