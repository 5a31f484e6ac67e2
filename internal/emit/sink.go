// Package emit publishes per-record metrics and per-incident events to
// an injected telemetry sink. Emission is best-effort: sink failures are
// logged at warn and never surface to the pipeline.
package emit

import (
	"context"
	"sync"

	"github.com/RONNYKD/GUARDIAN-AI/internal/telemetry"
)

// Sink is the narrow wire interface the emitter publishes through.
type Sink interface {
	Counter(ctx context.Context, name string, value float64, tags []string) error
	Gauge(ctx context.Context, name string, value float64, tags []string) error
	Histogram(ctx context.Context, name string, value float64, tags []string) error
	Event(ctx context.Context, title, body string, severity telemetry.Severity, tags []string) error
}

// CaptureSink records every emission in memory. Used in tests.
type CaptureSink struct {
	mu     sync.Mutex
	points []CapturedPoint
	events []CapturedEvent
}

// CapturedPoint is one metric emission seen by a CaptureSink.
type CapturedPoint struct {
	Kind  string // counter/gauge/histogram
	Name  string
	Value float64
	Tags  []string
}

// CapturedEvent is one event emission seen by a CaptureSink.
type CapturedEvent struct {
	Title    string
	Body     string
	Severity telemetry.Severity
	Tags     []string
}

// NewCaptureSink creates an empty capture sink.
func NewCaptureSink() *CaptureSink { return &CaptureSink{} }

func (c *CaptureSink) Counter(ctx context.Context, name string, value float64, tags []string) error {
	return c.record("counter", name, value, tags)
}

func (c *CaptureSink) Gauge(ctx context.Context, name string, value float64, tags []string) error {
	return c.record("gauge", name, value, tags)
}

func (c *CaptureSink) Histogram(ctx context.Context, name string, value float64, tags []string) error {
	return c.record("histogram", name, value, tags)
}

func (c *CaptureSink) Event(ctx context.Context, title, body string, severity telemetry.Severity, tags []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, CapturedEvent{Title: title, Body: body, Severity: severity, Tags: tags})
	return nil
}

func (c *CaptureSink) record(kind, name string, value float64, tags []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.points = append(c.points, CapturedPoint{Kind: kind, Name: name, Value: value, Tags: tags})
	return nil
}

// Points returns a copy of the captured metric emissions.
func (c *CaptureSink) Points() []CapturedPoint {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]CapturedPoint(nil), c.points...)
}

// Events returns a copy of the captured event emissions.
func (c *CaptureSink) Events() []CapturedEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]CapturedEvent(nil), c.events...)
}

// PointsNamed returns the captured points with the given full name.
func (c *CaptureSink) PointsNamed(name string) []CapturedPoint {
	var out []CapturedPoint
	for _, p := range c.Points() {
		if p.Name == name {
			out = append(out, p)
		}
	}
	return out
}
