// Package incident turns analyzer findings into incidents and manages
// their lifecycle.
package incident

import (
	crand "crypto/rand"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/RONNYKD/GUARDIAN-AI/internal/config"
	"github.com/RONNYKD/GUARDIAN-AI/internal/telemetry"
)

// summaryTopN caps how many contributors the summary names.
const summaryTopN = 3

// Synthesizer decides whether an enrichment warrants an incident.
type Synthesizer interface {
	// Synthesize returns the incident for the record's findings, or nil
	// when nothing warrants one. Pure apart from ID randomness: the same
	// inputs always yield the same severity and summary.
	Synthesize(rec *telemetry.Record, enr *telemetry.Enrichment) *telemetry.Incident
}

type synthesizer struct {
	cfg    *config.Config
	logger *zap.Logger
}

// New creates an incident synthesizer.
func New(cfg *config.Config, logger *zap.Logger) Synthesizer {
	return &synthesizer{cfg: cfg, logger: logger}
}

func (s *synthesizer) Synthesize(rec *telemetry.Record, enr *telemetry.Enrichment) *telemetry.Incident {
	threats := activeThreats(enr.Threats)
	qualityLow := enr.Quality != nil && enr.Quality.Overall != nil &&
		*enr.Quality.Overall < s.cfg.Thresholds.QualityMinOverall

	if len(threats) == 0 && len(enr.Anomalies) == 0 && !qualityLow {
		return nil
	}

	inc := &telemetry.Incident{
		ID:        newIncidentID(rec.IngestedAt),
		TraceID:   rec.TraceID,
		CreatedAt: rec.IngestedAt,
		Status:    telemetry.StatusOpen,
		Threats:   threats,
		Anomalies: enr.Anomalies,
		Severity:  severityOf(threats, enr.Anomalies, qualityLow),
		Summary:   buildSummary(threats, enr.Anomalies, enr.FailedAnalyzers),
		Partial:   enr.Partial,
	}
	if qualityLow {
		inc.Quality = enr.Quality
	}

	s.logger.Info("incident synthesized",
		zap.String("incident_id", inc.ID),
		zap.String("trace_id", inc.TraceID),
		zap.String("severity", string(inc.Severity)),
		zap.Int("threats", len(inc.Threats)),
		zap.Int("anomalies", len(inc.Anomalies)))
	return inc
}

func activeThreats(in []telemetry.ThreatVerdict) []telemetry.ThreatVerdict {
	var out []telemetry.ThreatVerdict
	for _, t := range in {
		if t.Kind != telemetry.ThreatNone {
			out = append(out, t)
		}
	}
	return out
}

// severityOf takes the contributor max and applies the promotion rules.
func severityOf(threats []telemetry.ThreatVerdict, anomalies []telemetry.Anomaly, qualityLow bool) telemetry.Severity {
	severity := telemetry.SeverityLow
	highCount := 0
	costAbsolute := false
	injection := false

	bump := func(s telemetry.Severity) {
		severity = telemetry.MaxSeverity(severity, s)
		if s.Rank() >= telemetry.SeverityHigh.Rank() {
			highCount++
		}
	}

	for _, t := range threats {
		bump(t.Severity)
		if t.Kind == telemetry.ThreatPromptInjection {
			injection = true
		}
	}
	for _, a := range anomalies {
		bump(a.Severity)
		if a.Metric == telemetry.MetricCost && a.Trigger == telemetry.TriggerAbsolute {
			costAbsolute = true
		}
	}
	if qualityLow {
		bump(telemetry.SeverityHigh)
	}

	if highCount >= 2 {
		severity = telemetry.SeverityCritical
	}
	if costAbsolute && injection {
		severity = telemetry.SeverityCritical
	}
	return severity
}

// buildSummary joins the top contributors in a deterministic order:
// threats sorted by kind, then anomalies sorted by metric. Failed
// analyzers are named so consumers can judge partial incidents.
func buildSummary(threats []telemetry.ThreatVerdict, anomalies []telemetry.Anomaly, failed []string) string {
	sortedThreats := append([]telemetry.ThreatVerdict(nil), threats...)
	sort.Slice(sortedThreats, func(i, j int) bool { return sortedThreats[i].Kind < sortedThreats[j].Kind })
	sortedAnomalies := append([]telemetry.Anomaly(nil), anomalies...)
	sort.Slice(sortedAnomalies, func(i, j int) bool { return sortedAnomalies[i].Metric < sortedAnomalies[j].Metric })

	var parts []string
	for _, t := range sortedThreats {
		if len(parts) == summaryTopN {
			break
		}
		desc := fmt.Sprintf("%s threat (%s, %s scope)", t.Kind, t.Severity, t.Scope)
		if len(t.Indicators) > 0 {
			desc += ": " + strings.Join(t.Indicators, "; ")
		}
		parts = append(parts, desc)
	}
	for _, a := range sortedAnomalies {
		if len(parts) == summaryTopN {
			break
		}
		parts = append(parts, fmt.Sprintf("%s anomaly (%s, %s): observed %g", a.Metric, a.Trigger, a.Severity, a.Observed))
	}
	summary := strings.Join(parts, " | ")
	if len(failed) > 0 {
		sorted := append([]string(nil), failed...)
		sort.Strings(sorted)
		summary += " | no data from: " + strings.Join(sorted, ", ")
	}
	return summary
}

// newIncidentID builds a UUIDv7-style identifier: the first 48 bits are
// the ingestion timestamp in milliseconds so IDs sort lexicographically
// by time, the rest is random.
func newIncidentID(at time.Time) string {
	var b [16]byte
	ms := uint64(at.UnixMilli())
	b[0] = byte(ms >> 40)
	b[1] = byte(ms >> 32)
	b[2] = byte(ms >> 24)
	b[3] = byte(ms >> 16)
	b[4] = byte(ms >> 8)
	b[5] = byte(ms)
	crand.Read(b[6:])
	b[6] = (b[6] & 0x0f) | 0x70
	b[8] = (b[8] & 0x3f) | 0x80
	return uuid.UUID(b).String()
}
