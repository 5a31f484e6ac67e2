// Package pipeline wires ingress, normalization, the three analyzers,
// incident synthesis, persistence, and emission into a worker pool.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/RONNYKD/GUARDIAN-AI/internal/analysis/anomaly"
	"github.com/RONNYKD/GUARDIAN-AI/internal/analysis/quality"
	"github.com/RONNYKD/GUARDIAN-AI/internal/analysis/threat"
	"github.com/RONNYKD/GUARDIAN-AI/internal/config"
	"github.com/RONNYKD/GUARDIAN-AI/internal/emit"
	"github.com/RONNYKD/GUARDIAN-AI/internal/incident"
	"github.com/RONNYKD/GUARDIAN-AI/internal/metrics"
	"github.com/RONNYKD/GUARDIAN-AI/internal/store"
	"github.com/RONNYKD/GUARDIAN-AI/internal/telemetry"
)

// ErrOverloaded signals the back-pressure limit: the queue is saturated
// beyond batch_size x 2 and the caller should retry with backoff.
var ErrOverloaded = errors.New("pipeline overloaded")

// deadlineOverhead is the fixed slack added to the per-record deadline.
const deadlineOverhead = 2 * time.Second

// SubmitResult reports the per-record outcome of one ingress call.
type SubmitResult struct {
	Accepted int         `json:"accepted"`
	Rejected []Rejection `json:"rejected"`
}

// Rejection names one record a batch submit refused and why.
type Rejection struct {
	Index  int    `json:"index"`
	Reason string `json:"reason"`
}

// Pipeline is the analysis engine: a bounded worker pool fed by Submit.
type Pipeline struct {
	cfg    *config.Config
	logger *zap.Logger

	quality quality.Classifier
	threat  threat.Classifier
	anomaly anomaly.Detector
	synth   incident.Synthesizer
	store   store.Store
	emitter *emit.Emitter

	normalizer *normalizer
	dedup      *dedupSet
	queue      chan *telemetry.Record

	// onIncident observers are notified after an incident is persisted.
	mu         sync.Mutex
	onIncident []func(*telemetry.Incident)

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// New assembles a pipeline from its components.
func New(cfg *config.Config, logger *zap.Logger, q quality.Classifier, t threat.Classifier, a anomaly.Detector, synth incident.Synthesizer, st store.Store, emitter *emit.Emitter) *Pipeline {
	return &Pipeline{
		cfg:        cfg,
		logger:     logger,
		quality:    q,
		threat:     t,
		anomaly:    a,
		synth:      synth,
		store:      st,
		emitter:    emitter,
		normalizer: newNormalizer(cfg),
		dedup:      newDedupSet(cfg.Normalizer.DedupCapacity),
		queue:      make(chan *telemetry.Record, cfg.Concurrency.BatchSize*2),
	}
}

// Start launches the worker pool.
func (p *Pipeline) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	for i := 0; i < p.cfg.Concurrency.MaxConcurrentAnalyses; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}
	p.logger.Info("pipeline started",
		zap.Int("workers", p.cfg.Concurrency.MaxConcurrentAnalyses),
		zap.Int("queue_capacity", cap(p.queue)))
}

// Stop drains in-flight work and returns when all workers have exited.
func (p *Pipeline) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
}

// OnIncident registers an observer for newly persisted incidents.
// Observers must not block.
func (p *Pipeline) OnIncident(fn func(*telemetry.Incident)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onIncident = append(p.onIncident, fn)
}

// Submit validates, normalizes, dedups, and enqueues a request body
// holding one record or a JSON array. A malformed or duplicate record
// rejects only itself. The error is ErrOverloaded when the queue cannot
// take more, or a decode error when the body itself is unparseable.
func (p *Pipeline) Submit(ctx context.Context, body []byte) (*SubmitResult, error) {
	raws, err := telemetry.DecodePayloads(body)
	if err != nil {
		return nil, err
	}

	res := &SubmitResult{}
	for i, raw := range raws {
		var payload telemetry.Payload
		if err := json.Unmarshal(raw, &payload); err != nil {
			p.reject(ctx, res, i, "malformed record: "+err.Error())
			continue
		}
		if _, err := payload.Validate(); err != nil {
			p.reject(ctx, res, i, "malformed record: "+err.Error())
			continue
		}

		rec := p.normalizer.normalize(&payload)
		fp := fingerprint(rec.TraceID)
		if p.dedup.seen(fp) {
			// Short-circuit: reported to the caller, no further work.
			metrics.IngressDuplicates.Inc()
			p.emitter.IngressDuplicate(ctx)
			res.Rejected = append(res.Rejected, Rejection{Index: i, Reason: "duplicate"})
			continue
		}

		select {
		case p.queue <- rec:
			metrics.IngressAccepted.Inc()
			p.emitter.IngressAccepted(ctx)
			metrics.QueueDepth.Set(float64(len(p.queue)))
			res.Accepted++
		default:
			// The record was never taken; forget the fingerprint so the
			// caller's retry is not misread as a duplicate.
			p.dedup.forget(fp)
			metrics.IngressRejected.WithLabelValues("overloaded").Inc()
			p.emitter.IngressRejected(ctx, "overloaded")
			return res, ErrOverloaded
		}
	}
	return res, nil
}

func (p *Pipeline) reject(ctx context.Context, res *SubmitResult, index int, reason string) {
	metrics.IngressRejected.WithLabelValues("malformed").Inc()
	p.emitter.IngressRejected(ctx, "malformed")
	res.Rejected = append(res.Rejected, Rejection{Index: index, Reason: reason})
}

func (p *Pipeline) worker(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case rec := <-p.queue:
			metrics.QueueDepth.Set(float64(len(p.queue)))
			p.process(ctx, rec)
		}
	}
}

// recordDeadline bounds one record end to end: per-call timeout times
// the retry budget times three analyzers, plus fixed overhead.
func (p *Pipeline) recordDeadline() time.Duration {
	perCall := p.cfg.AI.PerCallTimeout
	attempts := time.Duration(p.cfg.AI.MaxRetries + 1)
	return perCall*attempts*3 + deadlineOverhead
}

// process runs one record through analysis, synthesis, persistence, and
// emission. Errors never escape: a failed analyzer degrades the record
// to partial, failed persistence is counted, and the worker moves on.
func (p *Pipeline) process(ctx context.Context, rec *telemetry.Record) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, p.recordDeadline())
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			metrics.RecordsProcessed.WithLabelValues("panic").Inc()
			p.logger.Error("record processing panicked",
				zap.String("trace_id", rec.TraceID),
				zap.Any("panic", r),
				zap.Stack("stack"))
		}
	}()

	enr := p.analyze(ctx, rec)

	inc := p.synth.Synthesize(rec, enr)
	if inc != nil && p.cfg.Pipeline.EnableIncidentEmission {
		metrics.IncidentsCreated.WithLabelValues(string(inc.Severity)).Inc()
		p.store.PutIncident(ctx, inc)
		p.emitter.IncidentCreated(ctx, inc)
		p.notify(inc)
	}

	p.store.PutRecord(ctx, rec, enr)
	p.emitter.RecordMetrics(ctx, rec, enr)

	outcome := "complete"
	if enr.Partial {
		outcome = "partial"
	}
	metrics.RecordsProcessed.WithLabelValues(outcome).Inc()
	metrics.ProcessingDuration.Observe(time.Since(start).Seconds())
}

// analyze fans the record out to the analyzers. Quality and threat run
// concurrently since both call the AI; the anomaly pass is local math
// and runs after quality so the quality window sees this record's score.
func (p *Pipeline) analyze(ctx context.Context, rec *telemetry.Record) *telemetry.Enrichment {
	enr := &telemetry.Enrichment{}

	var wg sync.WaitGroup
	var qualityErr, threatErr error

	wg.Add(2)
	go func() {
		defer wg.Done()
		enr.Quality, qualityErr = p.quality.Analyze(ctx, rec)
	}()
	go func() {
		defer wg.Done()
		enr.Threats, threatErr = p.threat.Analyze(ctx, rec)
	}()
	wg.Wait()

	if qualityErr != nil {
		enr.Partial = true
		enr.FailedAnalyzers = append(enr.FailedAnalyzers, "quality")
	}
	if threatErr != nil {
		enr.Partial = true
		enr.FailedAnalyzers = append(enr.FailedAnalyzers, "threat")
	}

	enr.Anomalies = p.anomaly.Observe(rec, enr.Quality)
	return enr
}

func (p *Pipeline) notify(inc *telemetry.Incident) {
	p.mu.Lock()
	observers := make([]func(*telemetry.Incident), len(p.onIncident))
	copy(observers, p.onIncident)
	p.mu.Unlock()
	for _, fn := range observers {
		fn(inc)
	}
}

// Store exposes the persistence adapter for the query surface.
func (p *Pipeline) Store() store.Store { return p.store }
