package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rapidaai/exo-agent-assist/internal/model"
)

type fakeConsumer struct {
	ingested []model.Transcript
	cached   []model.Transcript
}

func (f *fakeConsumer) IngestTranscript(callID, tenantID string, t model.Transcript) {
	f.ingested = append(f.ingested, t)
}
func (f *fakeConsumer) CachedLines(callID string) []model.Transcript { return f.cached }

type fakeRegistry struct{}

func (fakeRegistry) Register(ctx context.Context, e model.CallRegistryEntry) error { return nil }
func (fakeRegistry) Touch(ctx context.Context, id string) error                    { return nil }
func (fakeRegistry) MarkEnded(ctx context.Context, id string) error                { return nil }
func (fakeRegistry) Get(ctx context.Context, id string) (*model.CallRegistryEntry, error) {
	return nil, nil
}
func (fakeRegistry) ListActive(ctx context.Context, limit int) ([]model.CallRegistryEntry, error) {
	return []model.CallRegistryEntry{{InteractionID: "call-1", Status: model.CallActive}}, nil
}

type fakeStore struct{ saved []model.Disposition }

func (s *fakeStore) LoadTranscripts(ctx context.Context, callID string) ([]model.Transcript, error) {
	return nil, nil
}
func (s *fakeStore) SaveDisposition(ctx context.Context, callID string, d model.Disposition, issue, resolution, nextSteps string) error {
	s.saved = append(s.saved, d)
	return nil
}

type fakeSummary struct{}

func (fakeSummary) Generate(ctx context.Context, interactionID, tenantID string) (model.CallSummary, error) {
	return model.CallSummary{InteractionID: interactionID, Issue: "x"}, nil
}

func newTestEngine() (*gin.Engine, *fakeConsumer, *fakeStore) {
	gin.SetMode(gin.TestMode)
	consumer := &fakeConsumer{}
	store := &fakeStore{}
	api := New(consumer, fakeRegistry{}, store, fakeSummary{})
	engine := gin.New()
	api.Register(engine)
	return engine, consumer, store
}

func TestIngestTranscript_CallsConsumerDirectly(t *testing.T) {
	engine, consumer, _ := newTestEngine()

	body, _ := json.Marshal(map[string]any{"callId": "call-1", "seq": 1, "text": "hello there"})
	req := httptest.NewRequest(http.MethodPost, "/calls/ingest-transcript", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, consumer.ingested, 1)
	assert.Equal(t, "hello there", consumer.ingested[0].Text)
}

func TestListActive(t *testing.T) {
	engine, _, _ := newTestEngine()

	req := httptest.NewRequest(http.MethodGet, "/calls/active?limit=10", nil)
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "call-1")
}

func TestPostDisposition(t *testing.T) {
	engine, _, store := newTestEngine()

	body, _ := json.Marshal(map[string]any{"code": "resolved", "title": "Resolved", "score": 0.9})
	req := httptest.NewRequest(http.MethodPost, "/calls/call-9/disposition", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, store.saved, 1)
	assert.Equal(t, "resolved", store.saved[0].Code)
}

func TestPostSummary(t *testing.T) {
	engine, _, _ := newTestEngine()

	body, _ := json.Marshal(map[string]any{"callId": "call-1"})
	req := httptest.NewRequest(http.MethodPost, "/calls/summary", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"issue":"x"`)
}
