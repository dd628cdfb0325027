package summary

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rapidaai/exo-agent-assist/internal/logging"
	"github.com/rapidaai/exo-agent-assist/internal/model"
)

type fakeSource struct {
	lines []model.Transcript
}

func (s fakeSource) LoadTranscripts(ctx context.Context, callID string) ([]model.Transcript, error) {
	return s.lines, nil
}

type fakeLLM struct {
	reply string
	err   error
}

func (l fakeLLM) Complete(ctx context.Context, system, user string, temperature float64, timeout time.Duration) (string, error) {
	return l.reply, l.err
}

type fakeTaxonomy struct {
	entries []TaxonomyEntry
}

func (t fakeTaxonomy) Taxonomy(ctx context.Context, tenantID string) ([]TaxonomyEntry, error) {
	return t.entries, nil
}

func sampleLines() []model.Transcript {
	return []model.Transcript{
		{Seq: 1, Speaker: model.SpeakerCustomer, Text: "I need to reset my password"},
		{Seq: 2, Speaker: model.SpeakerAgent, Text: "Sure, I can help with that"},
	}
}

func TestGenerate_ValidReply(t *testing.T) {
	llm := fakeLLM{reply: `{"issue":"password reset","resolution":"reset via portal","next_steps":"none","dispositions":[{"code":"pw_reset","title":"Password Reset","score":0.9}]}`}
	g := NewGenerator(logging.NewNop(), fakeSource{lines: sampleLines()}, llm, nil)

	out, err := g.Generate(context.Background(), "call-1", "tenant-a")
	require.NoError(t, err)
	assert.False(t, out.UsedFallback)
	assert.Equal(t, "password reset", out.Issue)
	assert.Len(t, out.Dispositions, 1)
	assert.InDelta(t, 0.9, out.Confidence, 0.0001)
}

// TestGenerate_MalformedReplyFallsBack exercises spec.md Scenario 6: the
// LLM returns a payload missing "issue"; the result must fall back, keep
// the raw text under Resolution, and mark UsedFallback.
func TestGenerate_MalformedReplyFallsBack(t *testing.T) {
	llm := fakeLLM{reply: `{"resolution":"did something","next_steps":"none"}`}
	g := NewGenerator(logging.NewNop(), fakeSource{lines: sampleLines()}, llm, nil)

	out, err := g.Generate(context.Background(), "call-2", "tenant-a")
	require.NoError(t, err)
	assert.True(t, out.UsedFallback)
	assert.Contains(t, out.Resolution, "did something")
}

func TestGenerate_LLMErrorFallsBack(t *testing.T) {
	llm := fakeLLM{err: assertError{}}
	g := NewGenerator(logging.NewNop(), fakeSource{lines: sampleLines()}, llm, nil)

	out, err := g.Generate(context.Background(), "call-3", "tenant-a")
	require.NoError(t, err)
	assert.True(t, out.UsedFallback)
}

func TestMapTaxonomy_ExactCodeMatch(t *testing.T) {
	llm := fakeLLM{reply: `{"issue":"x","resolution":"y","next_steps":"z","dispositions":[{"code":"PW_RESET","title":"whatever","score":0.8}]}`}
	tax := fakeTaxonomy{entries: []TaxonomyEntry{{Code: "pw_reset", Title: "Password Reset"}}}
	g := NewGenerator(logging.NewNop(), fakeSource{lines: sampleLines()}, llm, tax)

	out, err := g.Generate(context.Background(), "call-4", "tenant-a")
	require.NoError(t, err)
	require.Len(t, out.Dispositions, 1)
	assert.Equal(t, "pw_reset", out.Dispositions[0].Code)
	assert.Equal(t, "Password Reset", out.Dispositions[0].Title)
}

func TestMapTaxonomy_FuzzyTitleMatch(t *testing.T) {
	llm := fakeLLM{reply: `{"issue":"x","resolution":"y","next_steps":"z","dispositions":[{"code":"unknown_code","title":"password reset","score":0.7}]}`}
	tax := fakeTaxonomy{entries: []TaxonomyEntry{{Code: "pw_reset", Title: "Customer Password Reset Request"}}}
	g := NewGenerator(logging.NewNop(), fakeSource{lines: sampleLines()}, llm, tax)

	out, err := g.Generate(context.Background(), "call-5", "tenant-a")
	require.NoError(t, err)
	require.Len(t, out.Dispositions, 1)
	assert.Equal(t, "pw_reset", out.Dispositions[0].Code)
}

type assertError struct{}

func (assertError) Error() string { return "llm unavailable" }
