// Package anomaly maintains rolling statistics per metric and flags
// values that breach absolute thresholds or drift from the baseline.
package anomaly

import (
	"math"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/RONNYKD/GUARDIAN-AI/internal/config"
	"github.com/RONNYKD/GUARDIAN-AI/internal/telemetry"
)

// Detector folds each record into the rolling state and reports the
// anomalies it triggers. Purely statistical, no AI involved.
type Detector interface {
	// Observe updates the baselines with the record and returns any
	// anomalies, deduplicated by metric with the higher severity kept.
	Observe(rec *telemetry.Record, quality *telemetry.QualityScore) []telemetry.Anomaly
}

type detector struct {
	cfg    *config.Config
	logger *zap.Logger

	cost     *RollingWindow
	latency  *RollingWindow
	quality  *RollingWindow
	tokens   *RollingWindow
	requests *RollingWindow
	rates    *RateTracker
}

// New creates a detector with empty baselines.
func New(cfg *config.Config, logger *zap.Logger) Detector {
	return &detector{
		cfg:      cfg,
		logger:   logger,
		cost:     NewRollingWindow(cfg.Window.Capacity, cfg.Window.SampleHorizon),
		latency:  NewRollingWindow(cfg.Window.Capacity, cfg.Window.SampleHorizon),
		quality:  NewRollingWindow(cfg.Window.Capacity, cfg.Window.SampleHorizon),
		tokens:   NewRollingWindow(cfg.Window.Capacity, cfg.Window.SampleHorizon),
		requests: NewRollingWindow(cfg.Window.Capacity, cfg.Window.SampleHorizon),
		rates:    NewRateTracker(time.Hour),
	}
}

func (d *detector) Observe(rec *telemetry.Record, quality *telemetry.QualityScore) []telemetry.Anomaly {
	if !d.cfg.Pipeline.EnableAnomalyDetection {
		return nil
	}

	at := rec.IngestedAt
	tokensTotal := rec.InputTokens + rec.OutputTokens

	// Statistical checks compare against the baseline from before this
	// record, so capture z-scores first and append after.
	// Skipped sentinel scores carry no signal and stay out of the
	// quality series entirely.
	realQuality := quality != nil && quality.Overall != nil && !quality.Skipped

	found := map[telemetry.MetricName]telemetry.Anomaly{}
	d.statistical(found, telemetry.MetricCost, d.cost, rec.CostUSD)
	d.statistical(found, telemetry.MetricLatency, d.latency, rec.LatencyMS)
	if realQuality {
		d.statistical(found, telemetry.MetricQuality, d.quality, *quality.Overall)
	}
	d.statistical(found, telemetry.MetricTokenRate, d.tokens, float64(tokensTotal))

	d.cost.Append(at, rec.CostUSD)
	d.latency.Append(at, rec.LatencyMS)
	if realQuality {
		d.quality.Append(at, *quality.Overall)
	}
	d.tokens.Append(at, float64(tokensTotal))
	d.rates.Record(at, tokensTotal, rec.CostUSD, rec.ErrorOccurred)

	// The request rate is derived per record from the tracker, then
	// treated as one more statistically-baselined series.
	reqRate := d.rates.RequestsPerHour(at)
	d.statistical(found, telemetry.MetricRequestRate, d.requests, reqRate)
	d.requests.Append(at, reqRate)

	// Absolute thresholds win over statistical findings per metric.
	d.absolute(found, rec, quality, at)

	out := make([]telemetry.Anomaly, 0, len(found))
	for _, a := range found {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Metric < out[j].Metric })

	for _, a := range out {
		d.logger.Info("anomaly detected",
			zap.String("trace_id", rec.TraceID),
			zap.String("metric", string(a.Metric)),
			zap.String("trigger", string(a.Trigger)),
			zap.String("severity", string(a.Severity)),
			zap.Float64("observed", a.Observed))
	}
	return out
}

// absolute applies the fixed-threshold checks. First match wins per
// metric, and an absolute finding replaces a statistical one for the
// same metric unless the statistical one is more severe.
func (d *detector) absolute(found map[telemetry.MetricName]telemetry.Anomaly, rec *telemetry.Record, quality *telemetry.QualityScore, at time.Time) {
	th := d.cfg.Thresholds

	// 24h spend projection from the current hourly rate.
	projected := d.rates.CostPerHour(at) * 24
	if projected > th.CostAnomalyUSDPerDay {
		keep(found, telemetry.Anomaly{
			Metric:   telemetry.MetricCost,
			Observed: projected,
			Trigger:  telemetry.TriggerAbsolute,
			Severity: telemetry.SeverityCritical,
		})
	}
	if rec.LatencyMS > th.LatencyAbsMS {
		keep(found, telemetry.Anomaly{
			Metric:   telemetry.MetricLatency,
			Observed: rec.LatencyMS,
			Trigger:  telemetry.TriggerAbsolute,
			Severity: telemetry.SeverityHigh,
		})
	}
	if quality != nil && quality.Overall != nil && *quality.Overall < th.QualityMinOverall {
		keep(found, telemetry.Anomaly{
			Metric:   telemetry.MetricQuality,
			Observed: *quality.Overall,
			Trigger:  telemetry.TriggerAbsolute,
			Severity: telemetry.SeverityHigh,
		})
	}
	if errorRate := d.rates.ErrorRate(at); errorRate > th.ErrorRateMax {
		keep(found, telemetry.Anomaly{
			Metric:   telemetry.MetricErrorRate,
			Observed: errorRate,
			Trigger:  telemetry.TriggerAbsolute,
			Severity: telemetry.SeverityCritical,
		})
	}
}

// statistical runs the z-score check for one metric against its window.
func (d *detector) statistical(found map[telemetry.MetricName]telemetry.Anomaly, metric telemetry.MetricName, w *RollingWindow, v float64) {
	if w.Count() < d.cfg.Window.MinSamplesForStat {
		return
	}
	z := w.ZScore(v)
	if math.Abs(z) < d.cfg.Thresholds.CostZThreshold {
		return
	}
	mean, stddev := w.Stats()
	zCopy := z
	keep(found, telemetry.Anomaly{
		Metric:         metric,
		Observed:       v,
		BaselineMean:   mean,
		BaselineStddev: stddev,
		ZScore:         &zCopy,
		Trigger:        telemetry.TriggerStatistical,
		Severity:       zSeverity(math.Abs(z)),
	})
}

// keep inserts a, preferring the higher severity when the metric already
// has a finding.
func keep(found map[telemetry.MetricName]telemetry.Anomaly, a telemetry.Anomaly) {
	if prev, ok := found[a.Metric]; ok && prev.Severity.Rank() >= a.Severity.Rank() {
		return
	}
	found[a.Metric] = a
}

// zSeverity maps |z| to a severity band.
func zSeverity(absZ float64) telemetry.Severity {
	switch {
	case absZ >= 5:
		return telemetry.SeverityCritical
	case absZ >= 4:
		return telemetry.SeverityHigh
	case absZ >= 3.5:
		return telemetry.SeverityMedium
	default:
		return telemetry.SeverityLow
	}
}
