// Package llm defines the AI client consumed by the classifiers. The
// pipeline depends only on the Client interface; providers live in
// subpackages and tests substitute a scripted stub.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Options are the generation parameters for a single completion call.
type Options struct {
	Temperature     float64
	TopP            float64
	TopK            int
	MaxOutputTokens int
	Timeout         time.Duration
}

// Client is the narrow completion interface the classifiers consume.
type Client interface {
	// Complete sends a prompt and returns the raw model text. Failures
	// are returned as *Failure so callers can branch on the kind.
	Complete(ctx context.Context, prompt string, opts Options) (string, error)
}

// Prober is optionally implemented by providers that can verify
// connectivity at startup (require_on_startup).
type Prober interface {
	Probe(ctx context.Context) error
}

// FailureKind classifies an AI client failure.
type FailureKind string

const (
	FailTimeout         FailureKind = "timeout"
	FailRateLimited     FailureKind = "rate_limited"
	FailInvalidResponse FailureKind = "invalid_response"
	FailServiceError    FailureKind = "service_error"
)

// Failure is a classified AI client error. RetryAfter carries a
// server-provided hint for rate-limited responses, zero otherwise.
type Failure struct {
	Kind       FailureKind
	Err        error
	RetryAfter time.Duration
}

func (f *Failure) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("ai client %s: %v", f.Kind, f.Err)
	}
	return fmt.Sprintf("ai client %s", f.Kind)
}

func (f *Failure) Unwrap() error { return f.Err }

// RetryAfterHint implements retry.Hinter so rate-limit hints steer the
// backoff loop.
func (f *Failure) RetryAfterHint() time.Duration { return f.RetryAfter }

// AsFailure extracts a *Failure from an error chain.
func AsFailure(err error) (*Failure, bool) {
	var f *Failure
	if errors.As(err, &f) {
		return f, true
	}
	return nil, false
}

// ExtractJSON strips markdown code fences that models wrap around JSON
// payloads, returning the bare JSON text.
func ExtractJSON(s string) string {
	s = strings.TrimSpace(s)
	if idx := strings.Index(s, "```json"); idx >= 0 {
		s = s[idx+len("```json"):]
	} else if idx := strings.Index(s, "```"); idx >= 0 {
		s = s[idx+3:]
	} else {
		return s
	}
	if end := strings.Index(s, "```"); end >= 0 {
		s = s[:end]
	}
	return strings.TrimSpace(s)
}
