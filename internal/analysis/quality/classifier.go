// Package quality scores LLM responses for coherence, relevance, and
// completeness using the AI client.
package quality

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/RONNYKD/GUARDIAN-AI/internal/config"
	"github.com/RONNYKD/GUARDIAN-AI/internal/llm"
	"github.com/RONNYKD/GUARDIAN-AI/internal/metrics"
	"github.com/RONNYKD/GUARDIAN-AI/internal/retry"
	"github.com/RONNYKD/GUARDIAN-AI/internal/telemetry"
)

// MinResponseBytes is the response length below which the rubric caps
// completeness at 0.5. The instruction is embedded in the prompt so the
// judgment is reproducible across model versions.
const MinResponseBytes = 20

const shortResponseInstruction = "If the RESPONSE is shorter than 20 bytes, score completeness at 0.5 or lower."

// Classifier scores a record's response quality.
type Classifier interface {
	// Analyze returns the QualityScore for the record. When the AI call
	// fails terminally the returned score has a nil Overall and the error
	// is returned alongside it so the caller can mark the record partial.
	Analyze(ctx context.Context, rec *telemetry.Record) (*telemetry.QualityScore, error)
}

type classifier struct {
	client llm.Client
	cfg    *config.Config
	logger *zap.Logger
}

// New creates a quality classifier backed by the given AI client.
func New(client llm.Client, cfg *config.Config, logger *zap.Logger) Classifier {
	return &classifier{
		client: client,
		cfg:    cfg,
		logger: logger,
	}
}

// scorePayload is the strict JSON shape the rubric asks the model for.
// Pointer fields distinguish missing keys from zero scores.
type scorePayload struct {
	Coherence    *float64 `json:"coherence"`
	Relevance    *float64 `json:"relevance"`
	Completeness *float64 `json:"completeness"`
	Explanation  string   `json:"explanation"`
}

func (c *classifier) Analyze(ctx context.Context, rec *telemetry.Record) (*telemetry.QualityScore, error) {
	if !c.cfg.Pipeline.EnableQualityAnalysis || rec.Response == "" {
		return skippedScore(), nil
	}

	prompt := c.buildPrompt(rec)

	var parsed scorePayload
	start := time.Now()
	err := retry.Do(ctx, retry.Default(c.cfg.AI.MaxRetries), func(ctx context.Context) error {
		text, err := c.client.Complete(ctx, prompt, llm.Options{
			Temperature:     c.cfg.AI.Temperature,
			TopP:            c.cfg.AI.TopP,
			TopK:            c.cfg.AI.TopK,
			MaxOutputTokens: c.cfg.AI.MaxOutputTokens,
			Timeout:         c.cfg.AI.PerCallTimeout,
		})
		if err != nil {
			return err
		}
		return parseScore(text, &parsed)
	})
	metrics.AIRequestDuration.WithLabelValues("quality").Observe(time.Since(start).Seconds())

	if err != nil {
		metrics.AIRequestsTotal.WithLabelValues("quality", "error").Inc()
		metrics.QualityParseFailures.Inc()
		c.logger.Warn("quality analysis failed after retries",
			zap.String("trace_id", rec.TraceID),
			zap.Error(err))
		return &telemetry.QualityScore{
			Overall:     nil,
			Explanation: fmt.Sprintf("analysis failed: %v", err),
		}, err
	}
	metrics.AIRequestsTotal.WithLabelValues("quality", "success").Inc()

	coherence := clamp01(*parsed.Coherence)
	relevance := clamp01(*parsed.Relevance)
	completeness := clamp01(*parsed.Completeness)
	overall := telemetry.WeightedOverall(coherence, relevance, completeness)

	return &telemetry.QualityScore{
		Coherence:    coherence,
		Relevance:    relevance,
		Completeness: completeness,
		Overall:      &overall,
		Explanation:  parsed.Explanation,
	}, nil
}

func (c *classifier) buildPrompt(rec *telemetry.Record) string {
	return fmt.Sprintf(`Analyze the quality of this LLM response. Provide scores from 0.0 to 1.0 for each metric.

PROMPT: %s

RESPONSE: %s

Evaluate:
1. Coherence: How logically consistent and well-structured is the response?
2. Relevance: How well does it address the prompt?
3. Completeness: How thorough is the response? %s

Respond with only a JSON object, no other text:
{
    "coherence": 0.0-1.0,
    "relevance": 0.0-1.0,
    "completeness": 0.0-1.0,
    "explanation": "brief explanation"
}`, rec.Prompt, rec.Response, shortResponseInstruction)
}

// parseScore decodes the model text into parsed. A malformed or
// incomplete payload is an invalid_response failure so the retry loop
// re-prompts.
func parseScore(text string, parsed *scorePayload) error {
	raw := llm.ExtractJSON(text)
	if err := json.Unmarshal([]byte(raw), parsed); err != nil {
		return &llm.Failure{Kind: llm.FailInvalidResponse, Err: fmt.Errorf("parse quality score: %w", err)}
	}
	if parsed.Coherence == nil || parsed.Relevance == nil || parsed.Completeness == nil {
		return &llm.Failure{Kind: llm.FailInvalidResponse, Err: fmt.Errorf("quality score missing required keys")}
	}
	return nil
}

func skippedScore() *telemetry.QualityScore {
	overall := 1.0
	return &telemetry.QualityScore{
		Coherence:    1.0,
		Relevance:    1.0,
		Completeness: 1.0,
		Overall:      &overall,
		Explanation:  "skipped",
		Skipped:      true,
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
