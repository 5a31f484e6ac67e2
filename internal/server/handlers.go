package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/RONNYKD/GUARDIAN-AI/internal/incident"
	"github.com/RONNYKD/GUARDIAN-AI/internal/pipeline"
	"github.com/RONNYKD/GUARDIAN-AI/internal/store"
	"github.com/RONNYKD/GUARDIAN-AI/internal/telemetry"
)

// maxBodyBytes bounds one ingress request body.
const maxBodyBytes = 10 << 20 // 10 MiB

// handleTelemetry accepts one record or a JSON array of records.
//
// Responses:
//
//	202 the body parsed; the result lists per-record rejections
//	400 the body itself was unparseable
//	503 the queue is saturated; clients should back off and retry
func (s *Server) handleTelemetry(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, "failed to read request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	res, err := s.pipeline.Submit(r.Context(), body)
	switch {
	case errors.Is(err, pipeline.ErrOverloaded):
		w.Header().Set("Retry-After", "1")
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"error":    "pipeline overloaded",
			"accepted": res.Accepted,
		})
		return
	case err != nil:
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	// Per-record rejections (malformed, duplicate) still answer 202;
	// 400 is reserved for a body that never parsed.
	writeJSON(w, http.StatusAccepted, res)
}

// handleIncidentsList serves GET /incidents with optional status,
// severity, since, trace_id, and limit query parameters.
func (s *Server) handleIncidentsList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	filter, err := parseIncidentFilter(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	incidents, err := s.pipeline.Store().QueryIncidents(r.Context(), filter)
	if err != nil {
		s.logger.Error("incident query failed", zap.Error(err))
		http.Error(w, "query failed", http.StatusInternalServerError)
		return
	}
	if incidents == nil {
		incidents = []*telemetry.Incident{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"incidents": incidents,
		"count":     len(incidents),
	})
}

func parseIncidentFilter(r *http.Request) (store.IncidentFilter, error) {
	var filter store.IncidentFilter
	q := r.URL.Query()

	if v := q.Get("severity"); v != "" {
		sev, err := telemetry.ParseSeverity(v)
		if err != nil {
			return filter, err
		}
		filter.Severity = sev
	}
	if v := q.Get("status"); v != "" {
		st := telemetry.IncidentStatus(v)
		if !telemetry.ValidStatus(st) {
			return filter, errors.New("unknown status " + strconv.Quote(v))
		}
		filter.Status = st
	}
	if v := q.Get("since"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return filter, errors.New("invalid since: " + err.Error())
		}
		filter.Since = ts
	}
	if v := q.Get("trace_id"); v != "" {
		filter.TraceID = v
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return filter, errors.New("invalid limit " + strconv.Quote(v))
		}
		filter.Limit = n
	}
	return filter, nil
}

// handleIncidentByID routes GET /incidents/{id} and
// POST /incidents/{id}/transition.
func (s *Server) handleIncidentByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/incidents/")
	if rest == "" {
		http.NotFound(w, r)
		return
	}

	if id, ok := strings.CutSuffix(rest, "/transition"); ok {
		s.handleIncidentTransition(w, r, id)
		return
	}
	if strings.Contains(rest, "/") {
		http.NotFound(w, r)
		return
	}

	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	inc, err := s.pipeline.Store().GetIncident(r.Context(), rest)
	switch {
	case errors.Is(err, store.ErrNotFound):
		http.Error(w, "incident not found", http.StatusNotFound)
		return
	case err != nil:
		s.logger.Error("incident lookup failed", zap.Error(err))
		http.Error(w, "lookup failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, inc)
}

// TransitionRequest is the body of POST /incidents/{id}/transition.
type TransitionRequest struct {
	Status telemetry.IncidentStatus `json:"status"`
}

// handleIncidentTransition advances an incident through its lifecycle.
// An illegal step is a client error, answered with 409 and never logged
// as a server fault.
func (s *Server) handleIncidentTransition(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req TransitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request: "+err.Error(), http.StatusBadRequest)
		return
	}

	inc, err := s.pipeline.Store().GetIncident(r.Context(), id)
	switch {
	case errors.Is(err, store.ErrNotFound):
		http.Error(w, "incident not found", http.StatusNotFound)
		return
	case err != nil:
		s.logger.Error("incident lookup failed", zap.Error(err))
		http.Error(w, "lookup failed", http.StatusInternalServerError)
		return
	}

	changed, err := incident.Transition(inc, req.Status)
	if err != nil {
		writeJSON(w, http.StatusConflict, map[string]string{
			"error": err.Error(),
			"from":  string(inc.Status),
			"to":    string(req.Status),
		})
		return
	}

	if changed {
		if err := s.pipeline.Store().UpdateIncidentStatus(r.Context(), id, req.Status); err != nil {
			s.logger.Error("status update failed", zap.Error(err))
			http.Error(w, "update failed", http.StatusInternalServerError)
			return
		}
		s.hub.IncidentTransitioned(inc)
	}
	writeJSON(w, http.StatusOK, inc)
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
