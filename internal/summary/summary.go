// Package summary implements the end-of-call flow described in spec.md
// §4.5: assemble the stored transcript, ask the external LLM for a
// structured issue/resolution/next-steps/dispositions object, validate the
// reply shape, and map suggested dispositions onto a tenant's taxonomy —
// falling back to a degraded summary when the LLM's reply doesn't parse.
package summary

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rapidaai/exo-agent-assist/internal/llmprovider"
	"github.com/rapidaai/exo-agent-assist/internal/logging"
	"github.com/rapidaai/exo-agent-assist/internal/model"
)

// TranscriptSource loads a call's stored transcript lines, ordered by seq.
// Satisfied by internal/store.Store.LoadTranscripts.
type TranscriptSource interface {
	LoadTranscripts(ctx context.Context, callID string) ([]model.Transcript, error)
}

// LLM is the narrow slice this package needs.
type LLM interface {
	Complete(ctx context.Context, system, user string, temperature float64, timeout time.Duration) (string, error)
}

// TaxonomyEntry is one disposition code a tenant's dashboard can assign.
type TaxonomyEntry struct {
	Code  string
	Title string
}

// TaxonomyResolver returns the disposition taxonomy configured for a
// tenant, used to attach taxonomy ids to the LLM's freeform suggestions.
type TaxonomyResolver interface {
	Taxonomy(ctx context.Context, tenantID string) ([]TaxonomyEntry, error)
}

// Generator produces CallSummary values.
type Generator struct {
	logger   logging.Logger
	source   TranscriptSource
	llm      LLM
	taxonomy TaxonomyResolver
}

func NewGenerator(logger logging.Logger, source TranscriptSource, llm LLM, taxonomy TaxonomyResolver) *Generator {
	return &Generator{logger: logger, source: source, llm: llm, taxonomy: taxonomy}
}

const summarySystemPrompt = `You summarize a completed customer-service call transcript for an agent dashboard.
Reply with ONLY a JSON object of this exact shape, no other text:
{"issue": "...", "resolution": "...", "next_steps": "...", "dispositions": [{"code": "...", "title": "...", "score": 0.0-1.0}]}`

type llmSummaryReply struct {
	Issue        string              `json:"issue"`
	Resolution   string              `json:"resolution"`
	NextSteps    string              `json:"next_steps"`
	Dispositions []model.Disposition `json:"dispositions"`
}

// Generate assembles interactionID's full transcript, asks the LLM for a
// structured summary, and maps suggested dispositions onto tenantID's
// taxonomy. Summary generation is not idempotent across calls by design —
// LLM non-determinism means repeated invocations may produce different
// summaries, and callers accept this per spec.md §4.5.
func (g *Generator) Generate(ctx context.Context, interactionID, tenantID string) (model.CallSummary, error) {
	lines, err := g.source.LoadTranscripts(ctx, interactionID)
	if err != nil {
		return model.CallSummary{}, fmt.Errorf("summary: load transcript %s: %w", interactionID, err)
	}

	transcript := assembleTranscript(lines)
	raw, err := g.llm.Complete(ctx, summarySystemPrompt, transcript, 0.5, 15*time.Second)
	if err != nil {
		g.logger.Warnf("summary: llm call failed for %s: %v", interactionID, err)
		return g.fallback(interactionID, ""), nil
	}

	reply, valid := parseSummaryReply(raw)
	if !valid {
		g.logger.Warnf("summary: llm reply failed schema validation for %s", interactionID)
		return g.fallback(interactionID, raw), nil
	}

	dispositions := reply.Dispositions
	if g.taxonomy != nil {
		dispositions = g.mapTaxonomy(ctx, tenantID, dispositions)
	}

	confidence := averageScore(dispositions)
	return model.CallSummary{
		InteractionID: interactionID,
		Issue:         reply.Issue,
		Resolution:    reply.Resolution,
		NextSteps:     reply.NextSteps,
		Dispositions:  dispositions,
		Confidence:    confidence,
		UsedFallback:  false,
	}, nil
}

// fallback builds the degraded summary spec.md §4.5 step 4 describes: the
// raw LLM output (or a generic note if there was no LLM output at all)
// under Resolution, UsedFallback set, zero confidence.
func (g *Generator) fallback(interactionID, rawLLMOutput string) model.CallSummary {
	resolution := rawLLMOutput
	if resolution == "" {
		resolution = "summary unavailable: the language model did not return a usable reply"
	}
	return model.CallSummary{
		InteractionID: interactionID,
		Resolution:    resolution,
		UsedFallback:  true,
	}
}

// parseSummaryReply extracts and validates the LLM's JSON reply against
// the shape spec.md §4.5 step 2 requires. A reply missing "issue" (the
// condition spec.md's Scenario 6 specifically exercises) is invalid.
func parseSummaryReply(raw string) (llmSummaryReply, bool) {
	obj, err := llmprovider.ExtractFirstJSONObject(raw)
	if err != nil {
		return llmSummaryReply{}, false
	}

	var reply llmSummaryReply
	if err := json.Unmarshal([]byte(obj), &reply); err != nil {
		return llmSummaryReply{}, false
	}
	if strings.TrimSpace(reply.Issue) == "" {
		return llmSummaryReply{}, false
	}
	return reply, true
}

// mapTaxonomy attaches taxonomy entries to suggested dispositions: a
// case-insensitive match by code first, else a fuzzy title match (case-insensitive
// substring either direction), else the suggestion passes through
// unmatched with its LLM-provided code/title kept as-is.
func (g *Generator) mapTaxonomy(ctx context.Context, tenantID string, suggested []model.Disposition) []model.Disposition {
	entries, err := g.taxonomy.Taxonomy(ctx, tenantID)
	if err != nil || len(entries) == 0 {
		return suggested
	}

	out := make([]model.Disposition, len(suggested))
	for i, s := range suggested {
		out[i] = matchTaxonomy(s, entries)
	}
	return out
}

func matchTaxonomy(s model.Disposition, entries []TaxonomyEntry) model.Disposition {
	for _, e := range entries {
		if strings.EqualFold(e.Code, s.Code) {
			return model.Disposition{Code: e.Code, Title: e.Title, Score: s.Score}
		}
	}

	lowerTitle := strings.ToLower(s.Title)
	for _, e := range entries {
		lowerEntry := strings.ToLower(e.Title)
		if lowerTitle != "" && (strings.Contains(lowerEntry, lowerTitle) || strings.Contains(lowerTitle, lowerEntry)) {
			return model.Disposition{Code: e.Code, Title: e.Title, Score: s.Score}
		}
	}

	return s
}

func assembleTranscript(lines []model.Transcript) string {
	var sb strings.Builder
	for _, l := range lines {
		text := strings.TrimSpace(l.Text)
		if text == "" {
			continue
		}
		speaker := string(l.Speaker)
		if speaker == "" {
			speaker = "unknown"
		}
		sb.WriteString(speaker)
		sb.WriteString(": ")
		sb.WriteString(text)
		sb.WriteString("\n")
	}
	return sb.String()
}

func averageScore(ds []model.Disposition) float64 {
	if len(ds) == 0 {
		return 0
	}
	var sum float64
	for _, d := range ds {
		sum += d.Score
	}
	return sum / float64(len(ds))
}
