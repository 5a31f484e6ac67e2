package telemetry

import (
	"encoding/json"
	"fmt"
	"time"
)

// Payload is the ingestion wire format: field-for-field the record, plus
// opaque metadata and the demo flag, which the normalizer folds into tags.
// Required fields are pointers so a missing field is distinguishable from
// a zero value.
type Payload struct {
	TraceID       *string           `json:"trace_id"`
	IngestedAt    *string           `json:"ingested_at"` // ISO-8601 UTC
	ModelID       *string           `json:"model_id"`
	Prompt        *string           `json:"prompt"`
	Response      *string           `json:"response"`
	InputTokens   *int64            `json:"input_tokens"`
	OutputTokens  *int64            `json:"output_tokens"`
	LatencyMS     *float64          `json:"latency_ms"`
	CostUSD       *float64          `json:"cost_usd"`
	ErrorOccurred bool              `json:"error_occurred"`
	UserID        string            `json:"user_id,omitempty"`
	SessionID     string            `json:"session_id,omitempty"`
	Tags          map[string]string `json:"tags,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	DemoMode      bool              `json:"demo_mode,omitempty"`
}

// DecodePayloads parses a request body holding either a single payload
// object or a JSON array of them. The error is non-nil only when the body
// itself is unparseable.
func DecodePayloads(body []byte) ([]json.RawMessage, error) {
	var batch []json.RawMessage
	if err := json.Unmarshal(body, &batch); err == nil {
		return batch, nil
	}
	var single json.RawMessage
	if err := json.Unmarshal(body, &single); err != nil {
		return nil, fmt.Errorf("unparseable request body: %w", err)
	}
	return []json.RawMessage{single}, nil
}

// Validate checks the wire-level contract for one payload: required
// fields present, counters non-negative, timestamp parseable. It returns
// the parsed ingestion timestamp on success and a per-record rejection
// reason on failure.
func (p *Payload) Validate() (time.Time, error) {
	switch {
	case p.TraceID == nil || *p.TraceID == "":
		return time.Time{}, fmt.Errorf("missing trace_id")
	case p.ModelID == nil || *p.ModelID == "":
		return time.Time{}, fmt.Errorf("missing model_id")
	case p.Prompt == nil:
		return time.Time{}, fmt.Errorf("missing prompt")
	case p.Response == nil:
		return time.Time{}, fmt.Errorf("missing response")
	case p.InputTokens == nil:
		return time.Time{}, fmt.Errorf("missing input_tokens")
	case p.OutputTokens == nil:
		return time.Time{}, fmt.Errorf("missing output_tokens")
	case p.LatencyMS == nil:
		return time.Time{}, fmt.Errorf("missing latency_ms")
	case p.CostUSD == nil:
		return time.Time{}, fmt.Errorf("missing cost_usd")
	case p.IngestedAt == nil || *p.IngestedAt == "":
		return time.Time{}, fmt.Errorf("missing ingested_at")
	case *p.InputTokens < 0:
		return time.Time{}, fmt.Errorf("negative input_tokens")
	case *p.OutputTokens < 0:
		return time.Time{}, fmt.Errorf("negative output_tokens")
	case *p.LatencyMS < 0:
		return time.Time{}, fmt.Errorf("negative latency_ms")
	case *p.CostUSD < 0:
		return time.Time{}, fmt.Errorf("negative cost_usd")
	}

	ts, err := time.Parse(time.RFC3339, *p.IngestedAt)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid ingested_at: %v", err)
	}
	return ts.UTC(), nil
}
