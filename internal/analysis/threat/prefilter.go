package threat

import (
	"regexp"

	"github.com/RONNYKD/GUARDIAN-AI/internal/telemetry"
)

// Cheap signature pre-filter run before the AI call. A hit marks the
// text suspected and records indicator strings; the AI verdict still
// decides the final kind unless it is low-confidence.

var injectionPatterns = compileAll(
	`ignore\s+(previous|all|above)\s+(instructions?|prompts?|rules?)`,
	`ignore\s+(all\s+)?previous\s+instructions`,
	`disregard\s+(your|the|all)\s+(instructions?|training|rules?)`,
	`forget\s+(everything|your|all)`,
	`do\s+not\s+follow\s+(?:your|any|the)`,
	`override\s+(?:your|all|the)`,
	`new\s+(?:instructions?|rules?|persona)`,
	`system:`,
)

var jailbreakPatterns = compileAll(
	`\bDAN\b\s*(?:mode)?`,
	`\bAIM\b`,
	`developer\s+mode`,
	`jailbreak`,
	`bypass\s+(?:content|safety|ethical)\s+(?:filters?|guidelines?|restrictions?)`,
	`enable\s+(?:unrestricted|uncensored|unfiltered)\s+mode`,
	`remove\s+(?:all\s+)?(?:restrictions?|limitations?|filters?)`,
	`no\s+(?:ethical|moral|safety)\s+(?:guidelines?|constraints?)`,
)

var piiPatterns = map[string]*regexp.Regexp{
	"SSN":         regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`),
	"credit_card": regexp.MustCompile(`\b(?:\d{4}[-\s]?){3}\d{4}\b|\b\d{13,19}\b`),
	"email":       regexp.MustCompile(`[^\s]+@[^\s]+\.[^\s]+`),
	"phone":       regexp.MustCompile(`\+?\d[\d\s().-]{7,}\d`),
	"api_key":     regexp.MustCompile(`(?i)\b(?:sk-|pk-|api[_-]?key[_-]?)[a-zA-Z0-9]{20,}\b`),
	"password":    regexp.MustCompile(`(?i)(?:password|passwd|pwd)\s*[:=]\s*['"]?[^\s'"]{6,}['"]?`),
}

var toxicPatterns = compileAll(
	`\b(?:kill|murder|harm|attack|destroy)\s+(?:you|them|everyone|people)`,
	`\b(?:hate|despise)\s+(?:all|every)\s+(?:\w+\s+)?(?:people|humans?)`,
	`(?:make|create|build)\s+(?:a\s+)?(?:bomb|weapon|explosive)`,
	`how\s+to\s+(?:hack|steal|fraud|scam)`,
)

func compileAll(patterns ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		out = append(out, regexp.MustCompile(`(?i)`+p))
	}
	return out
}

// evidenceMaxBytes caps indicator evidence so raw content never floods
// incident summaries or logs.
const evidenceMaxBytes = 100

// prefilterResult is the signature scan outcome for one scope's text.
type prefilterResult struct {
	Suspected  bool
	Kind       telemetry.ThreatKind // most specific matched category
	Indicators []string
}

// prefilter scans text against all signature sets. The reported Kind is
// the most specific match, in the order injection, jailbreak, PII, toxic.
func prefilter(text string) prefilterResult {
	var res prefilterResult

	if m := firstMatch(injectionPatterns, text); m != "" {
		res.Suspected = true
		res.Kind = telemetry.ThreatPromptInjection
		res.Indicators = append(res.Indicators, "injection_signature: "+truncateEvidence(m))
	}
	if m := firstMatch(jailbreakPatterns, text); m != "" {
		res.Suspected = true
		if res.Kind == "" {
			res.Kind = telemetry.ThreatJailbreak
		}
		res.Indicators = append(res.Indicators, "jailbreak_signature: "+truncateEvidence(m))
	}
	for _, name := range []string{"SSN", "credit_card", "email", "phone", "api_key", "password"} {
		pat := piiPatterns[name]
		m := pat.FindString(text)
		if m == "" {
			continue
		}
		if name == "credit_card" && !luhnValid(m) {
			continue
		}
		res.Suspected = true
		if res.Kind == "" {
			res.Kind = telemetry.ThreatPIILeak
		}
		// PII evidence is redacted: name the type, never the value.
		res.Indicators = append(res.Indicators, "pii_signature: "+name)
	}
	if m := firstMatch(toxicPatterns, text); m != "" {
		res.Suspected = true
		if res.Kind == "" {
			res.Kind = telemetry.ThreatToxicContent
		}
		res.Indicators = append(res.Indicators, "toxic_signature: "+truncateEvidence(m))
	}

	return res
}

func firstMatch(patterns []*regexp.Regexp, text string) string {
	for _, p := range patterns {
		if m := p.FindString(text); m != "" {
			return m
		}
	}
	return ""
}

func truncateEvidence(s string) string {
	if len(s) > evidenceMaxBytes {
		return s[:evidenceMaxBytes]
	}
	return s
}

// luhnValid checks the Luhn checksum over the digits of s, filtering
// the separators the card pattern allows.
func luhnValid(s string) bool {
	var digits []int
	for _, r := range s {
		if r >= '0' && r <= '9' {
			digits = append(digits, int(r-'0'))
		}
	}
	if len(digits) < 13 || len(digits) > 19 {
		return false
	}
	sum := 0
	double := false
	for i := len(digits) - 1; i >= 0; i-- {
		d := digits[i]
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return sum%10 == 0
}
