package emit

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/RONNYKD/GUARDIAN-AI/internal/telemetry"
)

// Emitter publishes the mandatory per-record metrics and per-incident
// events under a fixed namespace prefix.
type Emitter struct {
	namespace string
	sink      Sink
	logger    *zap.Logger
}

// NewEmitter creates an emitter writing to sink under the given
// namespace, for example "guardianai".
func NewEmitter(namespace string, sink Sink, logger *zap.Logger) *Emitter {
	return &Emitter{
		namespace: namespace,
		sink:      sink,
		logger:    logger,
	}
}

// RecordMetrics publishes the per-record metric set. Best-effort.
func (e *Emitter) RecordMetrics(ctx context.Context, rec *telemetry.Record, enr *telemetry.Enrichment) {
	tags := []string{"model_id:" + rec.ModelID}

	e.counter(ctx, "requests.total", 1, tags)
	if rec.ErrorOccurred {
		e.counter(ctx, "requests.errors", 1, tags)
	}
	e.histogram(ctx, "latency.response_time", rec.LatencyMS, tags)
	e.counter(ctx, "cost.total", rec.CostUSD, tags)

	if enr.Quality != nil && enr.Quality.Overall != nil {
		e.gauge(ctx, "quality.overall_score", *enr.Quality.Overall, tags)
	} else if enr.Quality != nil {
		e.counter(ctx, "quality.parse_failures", 1, tags)
	}

	for _, t := range enr.Threats {
		e.counter(ctx, "threats.detected", 1, []string{
			"kind:" + string(t.Kind),
			"severity:" + string(t.Severity),
			"scope:" + string(t.Scope),
		})
	}
	for _, a := range enr.Anomalies {
		e.counter(ctx, "anomalies.detected", 1, []string{
			"metric:" + string(a.Metric),
			"trigger:" + string(a.Trigger),
			"severity:" + string(a.Severity),
		})
	}
}

// IncidentCreated publishes the incident counter plus a sink event.
func (e *Emitter) IncidentCreated(ctx context.Context, inc *telemetry.Incident) {
	e.counter(ctx, "incidents.created", 1, []string{"severity:" + string(inc.Severity)})

	title := fmt.Sprintf("[%s] incident %s", inc.Severity, inc.ID)
	tags := []string{
		"trace_id:" + inc.TraceID,
		"severity:" + string(inc.Severity),
	}
	if err := e.sink.Event(ctx, title, inc.Summary, inc.Severity, tags); err != nil {
		e.logger.Warn("sink event failed", zap.String("incident_id", inc.ID), zap.Error(err))
	}
}

// IngressAccepted publishes the ingress acceptance counter.
func (e *Emitter) IngressAccepted(ctx context.Context) {
	e.counter(ctx, "ingress.accepted", 1, nil)
}

// IngressRejected publishes the ingress rejection counter with the
// rejection reason as a tag.
func (e *Emitter) IngressRejected(ctx context.Context, reason string) {
	e.counter(ctx, "ingress.rejected", 1, []string{"reason:" + reason})
}

// IngressDuplicate publishes the duplicate short-circuit counter.
func (e *Emitter) IngressDuplicate(ctx context.Context) {
	e.counter(ctx, "ingress.duplicates", 1, nil)
}

// StoreWriteFailure publishes the store failure counter.
func (e *Emitter) StoreWriteFailure(ctx context.Context) {
	e.counter(ctx, "store.write_failures", 1, nil)
}

func (e *Emitter) counter(ctx context.Context, name string, v float64, tags []string) {
	if err := e.sink.Counter(ctx, e.namespace+"."+name, v, tags); err != nil {
		e.logger.Warn("sink counter failed", zap.String("metric", name), zap.Error(err))
	}
}

func (e *Emitter) gauge(ctx context.Context, name string, v float64, tags []string) {
	if err := e.sink.Gauge(ctx, e.namespace+"."+name, v, tags); err != nil {
		e.logger.Warn("sink gauge failed", zap.String("metric", name), zap.Error(err))
	}
}

func (e *Emitter) histogram(ctx context.Context, name string, v float64, tags []string) {
	if err := e.sink.Histogram(ctx, e.namespace+"."+name, v, tags); err != nil {
		e.logger.Warn("sink histogram failed", zap.String("metric", name), zap.Error(err))
	}
}
