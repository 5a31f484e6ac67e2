package pipeline

import (
	"hash/fnv"
	"strconv"

	"github.com/RONNYKD/GUARDIAN-AI/internal/config"
	"github.com/RONNYKD/GUARDIAN-AI/internal/telemetry"
)

// normalizer produces the canonical record from a validated payload:
// defaults filled, content truncated, metadata folded into tags.
type normalizer struct {
	maxContentBytes int
}

func newNormalizer(cfg *config.Config) *normalizer {
	return &normalizer{maxContentBytes: cfg.Normalizer.MaxContentBytes}
}

func (n *normalizer) normalize(p *telemetry.Payload) *telemetry.Record {
	ingestedAt, _ := p.Validate() // caller validated already

	rec := &telemetry.Record{
		TraceID:       *p.TraceID,
		IngestedAt:    ingestedAt,
		ModelID:       *p.ModelID,
		Prompt:        truncate(*p.Prompt, n.maxContentBytes),
		Response:      truncate(*p.Response, n.maxContentBytes),
		InputTokens:   *p.InputTokens,
		OutputTokens:  *p.OutputTokens,
		LatencyMS:     *p.LatencyMS,
		CostUSD:       *p.CostUSD,
		ErrorOccurred: p.ErrorOccurred,
		UserID:        p.UserID,
		SessionID:     p.SessionID,
		Tags:          map[string]string{},
	}
	if rec.UserID == "" {
		rec.UserID = "anonymous"
	}
	for k, v := range p.Tags {
		rec.Tags[k] = v
	}
	// Opaque passthrough fields ride in tags.
	for k, v := range p.Metadata {
		rec.Tags["meta."+k] = v
	}
	if p.DemoMode {
		rec.Tags["demo_mode"] = strconv.FormatBool(p.DemoMode)
	}
	return rec
}

// truncate cuts s to at most max bytes without splitting a UTF-8 rune.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && s[cut]&0xC0 == 0x80 {
		cut--
	}
	return s[:cut]
}

// fingerprint is the stable dedup key for a trace_id.
func fingerprint(traceID string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(traceID))
	return h.Sum64()
}
