package anomaly

import (
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/RONNYKD/GUARDIAN-AI/internal/config"
	"github.com/RONNYKD/GUARDIAN-AI/internal/telemetry"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Window.MinSamplesForStat = 10
	return cfg
}

func baselineRecord(i int, at time.Time) *telemetry.Record {
	return &telemetry.Record{
		TraceID:      "base",
		IngestedAt:   at,
		LatencyMS:    400,
		CostUSD:      0.0005,
		InputTokens:  5,
		OutputTokens: 1,
	}
}

func seedBaseline(d Detector, n int, start time.Time) time.Time {
	at := start
	for i := 0; i < n; i++ {
		at = start.Add(time.Duration(i) * time.Second)
		d.Observe(baselineRecord(i, at), nil)
	}
	return at
}

func TestObserveCleanRecord(t *testing.T) {
	d := New(testConfig(), zap.NewNop())
	last := seedBaseline(d, 20, t0)

	anomalies := d.Observe(baselineRecord(21, last.Add(time.Second)), nil)
	if len(anomalies) != 0 {
		t.Errorf("expected no anomalies for a baseline record, got %+v", anomalies)
	}
}

func TestObserveDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.Pipeline.EnableAnomalyDetection = false
	d := New(cfg, zap.NewNop())

	rec := baselineRecord(0, t0)
	rec.LatencyMS = 99999
	if anomalies := d.Observe(rec, nil); anomalies != nil {
		t.Errorf("expected nil while disabled, got %+v", anomalies)
	}
}

func TestAbsoluteLatencyThreshold(t *testing.T) {
	d := New(testConfig(), zap.NewNop())

	rec := baselineRecord(0, t0)
	rec.LatencyMS = 7500
	anomalies := d.Observe(rec, nil)
	if len(anomalies) != 1 {
		t.Fatalf("expected 1 anomaly, got %+v", anomalies)
	}
	a := anomalies[0]
	if a.Metric != telemetry.MetricLatency || a.Trigger != telemetry.TriggerAbsolute {
		t.Errorf("anomaly = %+v", a)
	}
	if a.Severity != telemetry.SeverityHigh {
		t.Errorf("severity = %s, want high", a.Severity)
	}
	if a.ZScore != nil {
		t.Errorf("absolute trigger must carry nil z_score, got %v", *a.ZScore)
	}
}

func TestAbsoluteCostProjection(t *testing.T) {
	d := New(testConfig(), zap.NewNop())

	// 10 USD within the hour projects to 240 USD/day, past the 100 default.
	rec := baselineRecord(0, t0)
	rec.CostUSD = 10
	anomalies := d.Observe(rec, nil)
	if len(anomalies) != 1 {
		t.Fatalf("expected 1 anomaly, got %+v", anomalies)
	}
	a := anomalies[0]
	if a.Metric != telemetry.MetricCost || a.Severity != telemetry.SeverityCritical {
		t.Errorf("anomaly = %+v", a)
	}
	if a.Observed != 240 {
		t.Errorf("observed = %v, want the 24h projection 240", a.Observed)
	}
}

func TestCostProjectionBoundaryIsStrict(t *testing.T) {
	cfg := testConfig()
	cfg.Thresholds.CostAnomalyUSDPerDay = 240
	d := New(cfg, zap.NewNop())

	rec := baselineRecord(0, t0)
	rec.CostUSD = 10 // projects to exactly 240
	if anomalies := d.Observe(rec, nil); len(anomalies) != 0 {
		t.Errorf("projection equal to the threshold must not trigger, got %+v", anomalies)
	}
}

func TestAbsoluteQualityFloor(t *testing.T) {
	d := New(testConfig(), zap.NewNop())

	low := 0.42
	anomalies := d.Observe(baselineRecord(0, t0), &telemetry.QualityScore{Overall: &low})
	if len(anomalies) != 1 {
		t.Fatalf("expected 1 anomaly, got %+v", anomalies)
	}
	a := anomalies[0]
	if a.Metric != telemetry.MetricQuality || a.Severity != telemetry.SeverityHigh {
		t.Errorf("anomaly = %+v", a)
	}
}

func TestNilQualityOverallSkipsQualityChecks(t *testing.T) {
	d := New(testConfig(), zap.NewNop())

	anomalies := d.Observe(baselineRecord(0, t0), &telemetry.QualityScore{Overall: nil})
	if len(anomalies) != 0 {
		t.Errorf("nil overall must not contribute, got %+v", anomalies)
	}
}

func TestAbsoluteErrorRate(t *testing.T) {
	d := New(testConfig(), zap.NewNop())

	var anomalies []telemetry.Anomaly
	for i := 0; i < 4; i++ {
		rec := baselineRecord(i, t0.Add(time.Duration(i)*time.Second))
		rec.ErrorOccurred = true
		anomalies = d.Observe(rec, nil)
	}
	if len(anomalies) != 1 {
		t.Fatalf("expected 1 anomaly, got %+v", anomalies)
	}
	a := anomalies[0]
	if a.Metric != telemetry.MetricErrorRate || a.Severity != telemetry.SeverityCritical {
		t.Errorf("anomaly = %+v", a)
	}
}

func TestStatisticalLatencySpike(t *testing.T) {
	d := New(testConfig(), zap.NewNop())
	last := seedBaseline(d, 20, t0)

	// Flat baseline at 400ms; 900ms stays under the absolute threshold
	// but is far outside the distribution.
	rec := baselineRecord(21, last.Add(time.Second))
	rec.LatencyMS = 900
	anomalies := d.Observe(rec, nil)
	if len(anomalies) != 1 {
		t.Fatalf("expected 1 anomaly, got %+v", anomalies)
	}
	a := anomalies[0]
	if a.Metric != telemetry.MetricLatency || a.Trigger != telemetry.TriggerStatistical {
		t.Errorf("anomaly = %+v", a)
	}
	if a.ZScore == nil {
		t.Fatal("statistical trigger must carry a z_score")
	}
	if a.Severity != telemetry.SeverityCritical {
		t.Errorf("severity = %s, want critical for an extreme z", a.Severity)
	}
	if a.BaselineMean != 400 {
		t.Errorf("baseline mean = %v, want 400", a.BaselineMean)
	}
}

func TestStatisticalGatedByMinSamples(t *testing.T) {
	cfg := testConfig()
	cfg.Window.MinSamplesForStat = 50
	d := New(cfg, zap.NewNop())
	last := seedBaseline(d, 20, t0)

	rec := baselineRecord(21, last.Add(time.Second))
	rec.LatencyMS = 900
	if anomalies := d.Observe(rec, nil); len(anomalies) != 0 {
		t.Errorf("statistical check must wait for min samples, got %+v", anomalies)
	}
}

func TestDedupeByMetricKeepsHigherSeverity(t *testing.T) {
	d := New(testConfig(), zap.NewNop())
	last := seedBaseline(d, 20, t0)

	// 7500ms breaches the absolute threshold (high) and the flat
	// baseline (critical statistical z). One anomaly per metric, the
	// higher severity survives.
	rec := baselineRecord(21, last.Add(time.Second))
	rec.LatencyMS = 7500
	anomalies := d.Observe(rec, nil)
	if len(anomalies) != 1 {
		t.Fatalf("expected 1 anomaly after dedupe, got %+v", anomalies)
	}
	if anomalies[0].Severity != telemetry.SeverityCritical {
		t.Errorf("severity = %s, want the higher of the two findings", anomalies[0].Severity)
	}
}

func TestStatisticalTokenRateSpike(t *testing.T) {
	d := New(testConfig(), zap.NewNop())
	last := seedBaseline(d, 20, t0)

	// Baseline records carry 6 tokens each; a 50k-token request is far
	// outside the distribution.
	rec := baselineRecord(21, last.Add(time.Second))
	rec.InputTokens = 40000
	rec.OutputTokens = 10000
	anomalies := d.Observe(rec, nil)
	if len(anomalies) != 1 {
		t.Fatalf("expected 1 anomaly, got %+v", anomalies)
	}
	a := anomalies[0]
	if a.Metric != telemetry.MetricTokenRate || a.Trigger != telemetry.TriggerStatistical {
		t.Errorf("anomaly = %+v", a)
	}
	if a.Observed != 50000 {
		t.Errorf("observed = %v, want 50000", a.Observed)
	}
}

func TestSkippedQualityExcludedFromBaseline(t *testing.T) {
	d := New(testConfig(), zap.NewNop())

	// Records without a response get the synthetic 1.0 sentinel. If it
	// fed the window, a flat all-1.0 baseline would flag any real score
	// as a statistical outlier.
	sentinel := 1.0
	at := t0
	for i := 0; i < 20; i++ {
		at = t0.Add(time.Duration(i) * time.Second)
		d.Observe(baselineRecord(i, at), &telemetry.QualityScore{Overall: &sentinel, Skipped: true})
	}

	score := 0.9
	anomalies := d.Observe(baselineRecord(21, at.Add(time.Second)),
		&telemetry.QualityScore{Overall: &score})
	if len(anomalies) != 0 {
		t.Errorf("sentinel scores diluted the baseline, got %+v", anomalies)
	}
}

func TestZSeverityLadder(t *testing.T) {
	tests := []struct {
		z    float64
		want telemetry.Severity
	}{
		{3.0, telemetry.SeverityLow},
		{3.4, telemetry.SeverityLow},
		{3.5, telemetry.SeverityMedium},
		{4.0, telemetry.SeverityHigh},
		{4.9, telemetry.SeverityHigh},
		{5.0, telemetry.SeverityCritical},
		{12.0, telemetry.SeverityCritical},
	}
	for _, tt := range tests {
		if got := zSeverity(tt.z); got != tt.want {
			t.Errorf("zSeverity(%v) = %s, want %s", tt.z, got, tt.want)
		}
	}
}
