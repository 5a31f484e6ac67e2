package emit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/RONNYKD/GUARDIAN-AI/internal/telemetry"
)

const (
	datadogDefaultSite = "datadoghq.com"
	datadogTimeout     = 10 * time.Second
)

// DatadogSink ships metrics through the v1 series API and events
// through the v1 events API, authenticated with an API key.
type DatadogSink struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	now        func() time.Time
}

// NewDatadogSink creates a sink for the given site ("datadoghq.com",
// "datadoghq.eu", ...). An empty site selects the US default.
func NewDatadogSink(apiKey, site string) (*DatadogSink, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("datadog sink requires an API key")
	}
	if site == "" {
		site = datadogDefaultSite
	}
	return &DatadogSink{
		apiKey:  apiKey,
		baseURL: "https://api." + site,
		httpClient: &http.Client{
			Timeout: datadogTimeout,
		},
		now: time.Now,
	}, nil
}

type ddSeries struct {
	Series []ddMetric `json:"series"`
}

type ddMetric struct {
	Metric string       `json:"metric"`
	Points [][2]float64 `json:"points"`
	Type   string       `json:"type"`
	Tags   []string     `json:"tags,omitempty"`
}

type ddEvent struct {
	Title     string   `json:"title"`
	Text      string   `json:"text"`
	AlertType string   `json:"alert_type"`
	Tags      []string `json:"tags,omitempty"`
}

func (s *DatadogSink) Counter(ctx context.Context, name string, value float64, tags []string) error {
	return s.submitSeries(ctx, name, value, "count", tags)
}

func (s *DatadogSink) Gauge(ctx context.Context, name string, value float64, tags []string) error {
	return s.submitSeries(ctx, name, value, "gauge", tags)
}

// Histogram submits as a gauge sample; server-side aggregation derives
// the distribution.
func (s *DatadogSink) Histogram(ctx context.Context, name string, value float64, tags []string) error {
	return s.submitSeries(ctx, name, value, "gauge", tags)
}

func (s *DatadogSink) Event(ctx context.Context, title, body string, severity telemetry.Severity, tags []string) error {
	return s.post(ctx, "/api/v1/events", ddEvent{
		Title:     title,
		Text:      body,
		AlertType: alertType(severity),
		Tags:      tags,
	})
}

func (s *DatadogSink) submitSeries(ctx context.Context, name string, value float64, kind string, tags []string) error {
	ts := float64(s.now().Unix())
	return s.post(ctx, "/api/v1/series", ddSeries{
		Series: []ddMetric{{
			Metric: name,
			Points: [][2]float64{{ts, value}},
			Type:   kind,
			Tags:   tags,
		}},
	})
}

func (s *DatadogSink) post(ctx context.Context, path string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("DD-API-KEY", s.apiKey)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("datadog API error %d: %s", resp.StatusCode, msg)
	}
	return nil
}

// alertType maps incident severity to Datadog's event alert types.
func alertType(severity telemetry.Severity) string {
	switch severity {
	case telemetry.SeverityCritical, telemetry.SeverityHigh:
		return "error"
	case telemetry.SeverityMedium:
		return "warning"
	default:
		return "info"
	}
}

// SetBaseURL overrides the API base URL. Used in tests.
func (s *DatadogSink) SetBaseURL(url string) { s.baseURL = url }
