package quality

import (
	"context"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/RONNYKD/GUARDIAN-AI/internal/config"
	"github.com/RONNYKD/GUARDIAN-AI/internal/llm"
	"github.com/RONNYKD/GUARDIAN-AI/internal/telemetry"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.AI.MaxRetries = 1
	return cfg
}

func testRecord() *telemetry.Record {
	return &telemetry.Record{
		TraceID:  "t1",
		Prompt:   "Capital of France?",
		Response: "Paris is the capital of France.",
	}
}

func TestAnalyzeParsesScores(t *testing.T) {
	stub := llm.NewStubClient(`{"coherence":0.9,"relevance":1.0,"completeness":0.8,"explanation":"good"}`)
	c := New(stub, testConfig(), zap.NewNop())

	score, err := c.Analyze(context.Background(), testRecord())
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if score.Overall == nil {
		t.Fatal("expected non-nil overall")
	}
	want := telemetry.WeightedOverall(0.9, 1.0, 0.8)
	if diff := *score.Overall - want; diff > 1e-6 || diff < -1e-6 {
		t.Errorf("overall = %v, want %v", *score.Overall, want)
	}
	if score.Explanation != "good" {
		t.Errorf("explanation = %q", score.Explanation)
	}
}

func TestAnalyzeStripsMarkdownFences(t *testing.T) {
	stub := llm.NewStubClient("```json\n{\"coherence\":0.5,\"relevance\":0.5,\"completeness\":0.5,\"explanation\":\"ok\"}\n```")
	c := New(stub, testConfig(), zap.NewNop())

	score, err := c.Analyze(context.Background(), testRecord())
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if score.Overall == nil || *score.Overall != 0.5 {
		t.Errorf("overall = %v, want 0.5", score.Overall)
	}
}

func TestAnalyzeClampsOutOfRangeScores(t *testing.T) {
	stub := llm.NewStubClient(`{"coherence":1.7,"relevance":-0.3,"completeness":0.5,"explanation":"odd"}`)
	c := New(stub, testConfig(), zap.NewNop())

	score, err := c.Analyze(context.Background(), testRecord())
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if score.Coherence != 1.0 || score.Relevance != 0.0 {
		t.Errorf("sub-scores not clamped: coherence=%v relevance=%v", score.Coherence, score.Relevance)
	}
}

func TestAnalyzeSkipsWhenDisabled(t *testing.T) {
	stub := llm.NewStubClient(`unused`)
	cfg := testConfig()
	cfg.Pipeline.EnableQualityAnalysis = false
	c := New(stub, cfg, zap.NewNop())

	score, err := c.Analyze(context.Background(), testRecord())
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if score.Overall == nil || *score.Overall != 1.0 || score.Explanation != "skipped" {
		t.Errorf("expected skipped sentinel, got %+v", score)
	}
	if stub.Calls() != 0 {
		t.Errorf("AI called %d times while disabled", stub.Calls())
	}
}

func TestAnalyzeSkipsEmptyResponse(t *testing.T) {
	stub := llm.NewStubClient(`unused`)
	c := New(stub, testConfig(), zap.NewNop())

	rec := testRecord()
	rec.Response = ""
	score, err := c.Analyze(context.Background(), rec)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if score.Explanation != "skipped" {
		t.Errorf("expected skipped sentinel, got %+v", score)
	}
	if stub.Calls() != 0 {
		t.Errorf("AI called %d times for empty response", stub.Calls())
	}
}

func TestAnalyzeRetriesParseFailureThenSucceeds(t *testing.T) {
	stub := llm.NewStubClient(
		"not json at all",
		`{"coherence":0.6,"relevance":0.6,"completeness":0.6,"explanation":"ok"}`,
	)
	cfg := testConfig()
	cfg.AI.MaxRetries = 2
	c := New(stub, cfg, zap.NewNop())

	score, err := c.Analyze(context.Background(), testRecord())
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if score.Overall == nil {
		t.Fatal("expected non-nil overall after retry")
	}
	if stub.Calls() != 2 {
		t.Errorf("expected 2 calls, got %d", stub.Calls())
	}
}

func TestAnalyzeTerminalFailureReturnsNullOverall(t *testing.T) {
	stub := llm.NewFailingStub(&llm.Failure{Kind: llm.FailServiceError})
	c := New(stub, testConfig(), zap.NewNop())

	score, err := c.Analyze(context.Background(), testRecord())
	if err == nil {
		t.Fatal("expected error on terminal failure")
	}
	if score == nil || score.Overall != nil {
		t.Errorf("expected score with nil overall, got %+v", score)
	}
	if stub.Calls() != 2 {
		t.Errorf("expected 1 + 1 retry = 2 calls, got %d", stub.Calls())
	}
}

func TestAnalyzeMissingKeyIsParseFailure(t *testing.T) {
	stub := llm.NewStubClient(`{"coherence":0.9,"explanation":"partial keys"}`)
	cfg := testConfig()
	cfg.AI.MaxRetries = 0
	c := New(stub, cfg, zap.NewNop())

	score, err := c.Analyze(context.Background(), testRecord())
	if err == nil {
		t.Fatal("expected error for missing keys")
	}
	if score.Overall != nil {
		t.Errorf("expected nil overall, got %v", *score.Overall)
	}
}

func TestPromptCarriesShortResponseInstruction(t *testing.T) {
	stub := llm.NewStubClient(`{"coherence":1,"relevance":1,"completeness":0.5,"explanation":"short"}`)
	c := New(stub, testConfig(), zap.NewNop())

	rec := testRecord()
	rec.Response = "Paris."
	if _, err := c.Analyze(context.Background(), rec); err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if len(stub.Prompts) != 1 {
		t.Fatalf("expected 1 prompt, got %d", len(stub.Prompts))
	}
	if !strings.Contains(stub.Prompts[0], shortResponseInstruction) {
		t.Error("rubric prompt missing the short-response instruction")
	}
}
