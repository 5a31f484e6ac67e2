package store

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/RONNYKD/GUARDIAN-AI/internal/metrics"
	"github.com/RONNYKD/GUARDIAN-AI/internal/retry"
	"github.com/RONNYKD/GUARDIAN-AI/internal/telemetry"
)

// writeRetries is the fixed retry budget for pipeline writes.
const writeRetries = 3

// retryingStore decorates a Store with the pipeline write contract:
// record and incident writes are retried three times with exponential
// backoff, and exhaustion is counted and logged instead of propagating.
// Reads and status updates pass through untouched because their errors
// (ErrNotFound in particular) are meaningful to callers.
type retryingStore struct {
	inner  Store
	logger *zap.Logger
	cfg    retry.Config

	// onWriteFailure is invoked after a write exhausts its retries,
	// normally wired to the emitter's store.write_failures counter.
	onWriteFailure func(ctx context.Context)
}

// NewRetrying wraps inner with the write-retry policy. onWriteFailure
// may be nil.
func NewRetrying(inner Store, logger *zap.Logger, onWriteFailure func(ctx context.Context)) Store {
	cfg := retry.Default(writeRetries)
	cfg.BaseDelay = 100 * time.Millisecond
	return &retryingStore{
		inner:          inner,
		logger:         logger,
		cfg:            cfg,
		onWriteFailure: onWriteFailure,
	}
}

func (s *retryingStore) PutRecord(ctx context.Context, rec *telemetry.Record, enr *telemetry.Enrichment) error {
	err := retry.Do(ctx, s.cfg, func(ctx context.Context) error {
		return s.inner.PutRecord(ctx, rec, enr)
	})
	if err != nil {
		s.writeFailed(ctx, "record", rec.TraceID, err)
	}
	return nil
}

func (s *retryingStore) PutIncident(ctx context.Context, inc *telemetry.Incident) error {
	err := retry.Do(ctx, s.cfg, func(ctx context.Context) error {
		return s.inner.PutIncident(ctx, inc)
	})
	if err != nil {
		s.writeFailed(ctx, "incident", inc.ID, err)
	}
	return nil
}

// writeFailed absorbs a terminally failed write. The pipeline keeps
// going; the loss is visible in metrics and the error log.
func (s *retryingStore) writeFailed(ctx context.Context, kind, id string, err error) {
	if errors.Is(err, context.Canceled) {
		return
	}
	metrics.StoreWriteFailures.Inc()
	if s.onWriteFailure != nil {
		s.onWriteFailure(ctx)
	}
	s.logger.Error("store write failed after retries",
		zap.String("kind", kind),
		zap.String("id", id),
		zap.Error(err))
}

func (s *retryingStore) GetIncident(ctx context.Context, id string) (*telemetry.Incident, error) {
	return s.inner.GetIncident(ctx, id)
}

func (s *retryingStore) UpdateIncidentStatus(ctx context.Context, id string, status telemetry.IncidentStatus) error {
	return s.inner.UpdateIncidentStatus(ctx, id, status)
}

func (s *retryingStore) QueryIncidents(ctx context.Context, filter IncidentFilter) ([]*telemetry.Incident, error) {
	return s.inner.QueryIncidents(ctx, filter)
}

func (s *retryingStore) Close() error { return s.inner.Close() }

func (s *retryingStore) Ping(ctx context.Context) error { return s.inner.Ping(ctx) }
