package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite" // pure-Go SQLite driver (no CGO required)

	"github.com/RONNYKD/GUARDIAN-AI/internal/telemetry"
)

// Schema versions are tracked in the schema_versions table. Records keep
// their enrichment as a JSON blob; incidents keep threats, anomalies,
// and quality the same way so the shapes can evolve without migrations.
var migrations = []struct {
	version int
	sql     string
}{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS records (
    trace_id       TEXT PRIMARY KEY,
    ingested_at    DATETIME NOT NULL,
    model_id       TEXT NOT NULL DEFAULT '',
    prompt         TEXT NOT NULL DEFAULT '',
    response       TEXT NOT NULL DEFAULT '',
    input_tokens   INTEGER NOT NULL DEFAULT 0,
    output_tokens  INTEGER NOT NULL DEFAULT 0,
    latency_ms     REAL NOT NULL DEFAULT 0.0,
    cost_usd       REAL NOT NULL DEFAULT 0.0,
    error_occurred BOOLEAN NOT NULL DEFAULT 0,
    user_id        TEXT NOT NULL DEFAULT 'anonymous',
    session_id     TEXT NOT NULL DEFAULT '',
    tags           TEXT NOT NULL DEFAULT '{}',
    enrichment     TEXT NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS idx_records_ingested_at ON records(ingested_at DESC);
CREATE INDEX IF NOT EXISTS idx_records_user ON records(user_id);

CREATE TABLE IF NOT EXISTS incidents (
    id         TEXT PRIMARY KEY,
    trace_id   TEXT NOT NULL,
    created_at DATETIME NOT NULL,
    severity   TEXT NOT NULL,
    status     TEXT NOT NULL DEFAULT 'open',
    threats    TEXT NOT NULL DEFAULT '[]',
    anomalies  TEXT NOT NULL DEFAULT '[]',
    quality    TEXT,
    summary    TEXT NOT NULL DEFAULT '',
    partial    BOOLEAN NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_incidents_created_at ON incidents(created_at DESC);
CREATE INDEX IF NOT EXISTS idx_incidents_severity ON incidents(severity);
CREATE INDEX IF NOT EXISTS idx_incidents_status ON incidents(status);
CREATE INDEX IF NOT EXISTS idx_incidents_trace ON incidents(trace_id);
`,
	},
}

// sqliteStore is the SQLite-backed implementation of Store.
type sqliteStore struct {
	db *sql.DB
}

// NewSQLite opens (or creates) a SQLite database at the given path and
// runs all pending schema migrations. Pass ":memory:" for an in-memory
// store.
func NewSQLite(path string) (Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", path, err)
	}

	// Enable WAL mode for better concurrency and performance.
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}

	s := &sqliteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// migrate applies any unapplied migrations in order.
func (s *sqliteStore) migrate() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_versions (
        version    INTEGER PRIMARY KEY,
        applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
    )`)
	if err != nil {
		return fmt.Errorf("create schema_versions: %w", err)
	}

	for _, m := range migrations {
		var count int
		err := s.db.QueryRow(`SELECT COUNT(*) FROM schema_versions WHERE version = ?`, m.version).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %d: %w", m.version, err)
		}
		if count > 0 {
			continue // already applied
		}

		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("apply migration %d: %w", m.version, err)
		}

		if _, err := s.db.Exec(`INSERT INTO schema_versions(version) VALUES(?)`, m.version); err != nil {
			return fmt.Errorf("record migration %d: %w", m.version, err)
		}
	}
	return nil
}

func (s *sqliteStore) Close() error { return s.db.Close() }

func (s *sqliteStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *sqliteStore) PutRecord(ctx context.Context, rec *telemetry.Record, enr *telemetry.Enrichment) error {
	tags, err := json.Marshal(rec.Tags)
	if err != nil {
		return fmt.Errorf("marshal tags: %w", err)
	}
	enrichment, err := json.Marshal(enr)
	if err != nil {
		return fmt.Errorf("marshal enrichment: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
        INSERT INTO records(trace_id, ingested_at, model_id, prompt, response,
            input_tokens, output_tokens, latency_ms, cost_usd, error_occurred,
            user_id, session_id, tags, enrichment)
        VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?)
        ON CONFLICT(trace_id) DO UPDATE SET
            enrichment = excluded.enrichment
    `,
		rec.TraceID, rec.IngestedAt.UTC(), rec.ModelID, rec.Prompt, rec.Response,
		rec.InputTokens, rec.OutputTokens, rec.LatencyMS, rec.CostUSD, rec.ErrorOccurred,
		rec.UserID, rec.SessionID, string(tags), string(enrichment),
	)
	if err != nil {
		return fmt.Errorf("insert record: %w", err)
	}
	return nil
}

func (s *sqliteStore) PutIncident(ctx context.Context, inc *telemetry.Incident) error {
	threats, err := json.Marshal(inc.Threats)
	if err != nil {
		return fmt.Errorf("marshal threats: %w", err)
	}
	anomalies, err := json.Marshal(inc.Anomalies)
	if err != nil {
		return fmt.Errorf("marshal anomalies: %w", err)
	}
	var quality sql.NullString
	if inc.Quality != nil {
		raw, err := json.Marshal(inc.Quality)
		if err != nil {
			return fmt.Errorf("marshal quality: %w", err)
		}
		quality = sql.NullString{String: string(raw), Valid: true}
	}

	_, err = s.db.ExecContext(ctx, `
        INSERT INTO incidents(id, trace_id, created_at, severity, status,
            threats, anomalies, quality, summary, partial)
        VALUES(?,?,?,?,?,?,?,?,?,?)
    `,
		inc.ID, inc.TraceID, inc.CreatedAt.UTC(), string(inc.Severity), string(inc.Status),
		string(threats), string(anomalies), quality, inc.Summary, inc.Partial,
	)
	if err != nil {
		return fmt.Errorf("insert incident: %w", err)
	}
	return nil
}

func (s *sqliteStore) GetIncident(ctx context.Context, id string) (*telemetry.Incident, error) {
	row := s.db.QueryRowContext(ctx, `
        SELECT id, trace_id, created_at, severity, status, threats, anomalies, quality, summary, partial
        FROM incidents WHERE id = ?
    `, id)
	inc, err := scanIncident(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("incident %s: %w", id, ErrNotFound)
	}
	return inc, err
}

func (s *sqliteStore) UpdateIncidentStatus(ctx context.Context, id string, status telemetry.IncidentStatus) error {
	res, err := s.db.ExecContext(ctx, `UPDATE incidents SET status = ? WHERE id = ?`, string(status), id)
	if err != nil {
		return fmt.Errorf("update incident status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("incident %s: %w", id, ErrNotFound)
	}
	return nil
}

func (s *sqliteStore) QueryIncidents(ctx context.Context, filter IncidentFilter) ([]*telemetry.Incident, error) {
	query := `SELECT id, trace_id, created_at, severity, status, threats, anomalies, quality, summary, partial FROM incidents`
	var clauses []string
	var args []any

	if filter.Severity != "" {
		clauses = append(clauses, "severity = ?")
		args = append(args, string(filter.Severity))
	}
	if filter.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.TraceID != "" {
		clauses = append(clauses, "trace_id = ?")
		args = append(args, filter.TraceID)
	}
	if !filter.Since.IsZero() {
		clauses = append(clauses, "created_at >= ?")
		args = append(args, filter.Since.UTC())
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}

	limit := filter.Limit
	if limit <= 0 || limit > maxQueryLimit {
		limit = maxQueryLimit
	}
	query += " ORDER BY created_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query incidents: %w", err)
	}
	defer rows.Close()

	var out []*telemetry.Incident
	for rows.Next() {
		inc, err := scanIncident(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inc)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanIncident(row rowScanner) (*telemetry.Incident, error) {
	var inc telemetry.Incident
	var createdAt time.Time
	var severity, status, threats, anomalies, summary string
	var quality sql.NullString
	var partial bool

	err := row.Scan(&inc.ID, &inc.TraceID, &createdAt, &severity, &status,
		&threats, &anomalies, &quality, &summary, &partial)
	if err != nil {
		return nil, err
	}

	inc.CreatedAt = createdAt.UTC()
	inc.Severity = telemetry.Severity(severity)
	inc.Status = telemetry.IncidentStatus(status)
	inc.Summary = summary
	inc.Partial = partial
	if err := json.Unmarshal([]byte(threats), &inc.Threats); err != nil {
		return nil, fmt.Errorf("unmarshal threats: %w", err)
	}
	if err := json.Unmarshal([]byte(anomalies), &inc.Anomalies); err != nil {
		return nil, fmt.Errorf("unmarshal anomalies: %w", err)
	}
	if quality.Valid {
		inc.Quality = &telemetry.QualityScore{}
		if err := json.Unmarshal([]byte(quality.String), inc.Quality); err != nil {
			return nil, fmt.Errorf("unmarshal quality: %w", err)
		}
	}
	return &inc, nil
}
