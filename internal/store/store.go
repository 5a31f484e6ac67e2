// Package store persists enriched telemetry records and incidents.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/RONNYKD/GUARDIAN-AI/internal/telemetry"
)

// ErrNotFound is returned for lookups of unknown IDs.
var ErrNotFound = errors.New("not found")

// maxQueryLimit caps incident queries regardless of the requested limit.
const maxQueryLimit = 500

// IncidentFilter narrows a QueryIncidents call. Zero values match
// everything.
type IncidentFilter struct {
	Severity telemetry.Severity
	Status   telemetry.IncidentStatus
	TraceID  string
	Since    time.Time
	Limit    int
}

// Store is the persistence adapter. Writes are at-most-once: callers
// tolerate loss on a crash between enqueue and persist. Status updates
// are read-your-writes within the process.
type Store interface {
	// PutRecord persists a record with its enrichment.
	PutRecord(ctx context.Context, rec *telemetry.Record, enr *telemetry.Enrichment) error

	// PutIncident persists a new incident.
	PutIncident(ctx context.Context, inc *telemetry.Incident) error

	// GetIncident returns the incident with the given ID, or ErrNotFound.
	GetIncident(ctx context.Context, id string) (*telemetry.Incident, error)

	// UpdateIncidentStatus sets the status of an existing incident.
	UpdateIncidentStatus(ctx context.Context, id string, status telemetry.IncidentStatus) error

	// QueryIncidents returns incidents matching the filter, newest
	// first, capped at 500.
	QueryIncidents(ctx context.Context, filter IncidentFilter) ([]*telemetry.Incident, error)

	// Close releases database resources.
	Close() error

	// Ping verifies the connection is alive.
	Ping(ctx context.Context) error
}
