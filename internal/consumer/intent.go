package consumer

import (
	"regexp"
	"strings"
	"unicode"
)

const (
	unknownIntent       = "unknown"
	maxIntentLength     = 50
	minTextLenForIntent = 10
)

// fillerWords are the short interjections the SPEC_FULL.md open-question
// decision treats as "not worth classifying" alongside the character
// threshold (spec.md §4.4 step 4, and the open question in §9 about the
// exact rule). Broader than internal/asr's early-audio filler list since
// this gate gets to see the full transcript, not just the first utterance.
var fillerWords = map[string]bool{
	"um": true, "uh": true, "umm": true, "uhh": true,
	"hmm": true, "mhm": true, "yeah": true, "okay": true, "ok": true,
}

var (
	nonWordRunRe = regexp.MustCompile(`[^\w\s-]`)
	dashRunRe    = regexp.MustCompile(`[\s-]+`)
	repeatRunRe  = regexp.MustCompile(`_+`)
)

// isFillerOnly reports whether text, once trimmed and lowercased, is
// nothing but a filler word or punctuation.
func isFillerOnly(text string) bool {
	t := strings.ToLower(strings.TrimSpace(text))
	if t == "" {
		return true
	}
	t = strings.TrimFunc(t, unicode.IsPunct)
	if t == "" {
		return true
	}
	return fillerWords[t]
}

// shouldClassifyIntent implements the open-question decision recorded in
// SPEC_FULL.md: classify only when the transcript both exceeds the length
// threshold and is not filler-only. Short or filler-only text always gets
// intent=unknown, confidence=0, without spending an LLM call on it.
func shouldClassifyIntent(text string) bool {
	return len(strings.TrimSpace(text)) > minTextLenForIntent && !isFillerOnly(text)
}

// normalizeIntent implements spec.md §4.4 step b: lowercase, strip
// [^\w\s-], collapse whitespace/dashes to single underscores, collapse
// repeated underscores, truncate to 50 chars. Idempotent by construction —
// normalizeIntent(normalizeIntent(x)) == normalizeIntent(x) — since the
// output alphabet (lowercase word chars + single underscores, no leading/
// trailing underscore) is already a fixed point of every step.
func normalizeIntent(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return unknownIntent
	}
	s = nonWordRunRe.ReplaceAllString(s, "")
	s = dashRunRe.ReplaceAllString(s, "_")
	s = repeatRunRe.ReplaceAllString(s, "_")
	s = strings.Trim(s, "_")
	if s == "" {
		return unknownIntent
	}
	if len(s) > maxIntentLength {
		s = strings.Trim(s[:maxIntentLength], "_")
	}
	if s == "" {
		return unknownIntent
	}
	return s
}

// clampConfidence bounds an LLM-reported confidence to [0,1].
func clampConfidence(c float64) float64 {
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}
