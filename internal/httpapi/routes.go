// Package httpapi implements the HTTP surface the dashboard consumes:
// transcript ingestion (a direct function call into the consumer core,
// not a bus round-trip — see internal/consumer.IngestTranscript), active
// call listing, transcript read-back, summary generation, and disposition
// save. Grounded on the teacher's small-constructor gin route registration
// shape (router/healthcheck.go, router/assistant.go).
package httpapi

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/rapidaai/exo-agent-assist/internal/model"
	"github.com/rapidaai/exo-agent-assist/internal/registry"
)

// Consumer is the narrow slice of internal/consumer.Consumer this package
// calls into directly.
type Consumer interface {
	IngestTranscript(callID, tenantID string, t model.Transcript)
	CachedLines(callID string) []model.Transcript
}

// TranscriptStore is the narrow slice of internal/store.Store this package
// reads from (the transcript-read and disposition-save routes).
type TranscriptStore interface {
	LoadTranscripts(ctx context.Context, callID string) ([]model.Transcript, error)
	SaveDisposition(ctx context.Context, callID string, d model.Disposition, issue, resolution, nextSteps string) error
}

// SummaryGenerator is the narrow slice of internal/summary.Generator this
// package calls.
type SummaryGenerator interface {
	Generate(ctx context.Context, interactionID, tenantID string) (model.CallSummary, error)
}

// API bundles the dependencies every route needs.
type API struct {
	consumer Consumer
	registry registry.Registry
	store    TranscriptStore
	summary  SummaryGenerator
}

func New(consumer Consumer, reg registry.Registry, store TranscriptStore, summary SummaryGenerator) *API {
	return &API{consumer: consumer, registry: reg, store: store, summary: summary}
}

// Register wires every route named in spec.md §6's "HTTP APIs" section
// onto engine.
func (a *API) Register(engine *gin.Engine) {
	engine.POST("/calls/ingest-transcript", a.ingestTranscript)
	engine.GET("/calls/active", a.listActive)
	engine.GET("/calls/:id/transcript", a.getTranscript)
	engine.POST("/calls/summary", a.postSummary)
	engine.POST("/calls/:id/disposition", a.postDisposition)
}

type ingestTranscriptRequest struct {
	CallID  string `json:"callId" binding:"required"`
	Seq     uint64 `json:"seq"`
	Ts      int64  `json:"ts"`
	Text    string `json:"text" binding:"required"`
	Speaker string `json:"speaker"`
}

func (a *API) ingestTranscript(c *gin.Context) {
	var req ingestTranscriptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ts := time.Now()
	if req.Ts > 0 {
		ts = time.UnixMilli(req.Ts)
	}
	speaker := model.Speaker(req.Speaker)
	if speaker == "" {
		speaker = model.SpeakerUnknown
	}

	a.consumer.IngestTranscript(req.CallID, c.Query("tenantId"), model.Transcript{
		InteractionID: req.CallID,
		Seq:           req.Seq,
		Ts:            ts,
		Text:          req.Text,
		Kind:          model.TranscriptFinal,
		Speaker:       speaker,
	})
	c.JSON(http.StatusAccepted, gin.H{"ok": true})
}

func (a *API) listActive(c *gin.Context) {
	limit := 50
	if q := c.Query("limit"); q != "" {
		if parsed, err := strconv.Atoi(q); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	entries, err := a.registry.ListActive(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"calls": entries})
}

// getTranscript prefers the in-memory cache (fresher, cheaper) and falls
// back to the write-through store when the cache has nothing — e.g. after
// a process restart, or once the call's TTL has rolled the cache entry off.
func (a *API) getTranscript(c *gin.Context) {
	callID := c.Param("id")

	lines := a.consumer.CachedLines(callID)
	if len(lines) == 0 {
		stored, err := a.store.LoadTranscripts(c.Request.Context(), callID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		lines = stored
	}
	c.JSON(http.StatusOK, gin.H{"callId": callID, "transcript": lines})
}

type summaryRequest struct {
	CallID   string `json:"callId" binding:"required"`
	TenantID string `json:"tenantId"`
}

// postSummary generates a summary and returns it to the caller. Per
// spec.md §4.5 step 5 and the open-question decision in SPEC_FULL.md, it
// does not persist the summary — persistence is the dashboard's explicit
// disposition-save step (postDisposition).
func (a *API) postSummary(c *gin.Context) {
	var req summaryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := a.summary.Generate(c.Request.Context(), req.CallID, req.TenantID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, result)
}

type dispositionRequest struct {
	Code       string  `json:"code" binding:"required"`
	Title      string  `json:"title"`
	Score      float64 `json:"score"`
	Issue      string  `json:"issue"`
	Resolution string  `json:"resolution"`
	NextSteps  string  `json:"nextSteps"`
}

func (a *API) postDisposition(c *gin.Context) {
	callID := c.Param("id")
	var req dispositionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	d := model.Disposition{Code: req.Code, Title: req.Title, Score: req.Score}
	if err := a.store.SaveDisposition(c.Request.Context(), callID, d, req.Issue, req.Resolution, req.NextSteps); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}
