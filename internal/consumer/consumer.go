// Package consumer bridges the internal pub/sub world to the browser
// world: it normalises and caches transcripts, write-throughs them to
// storage, classifies intent via the external LLM, looks up KB articles,
// and broadcasts SSE events — all without letting a slow enrichment step
// block the transcript_line event that triggered it.
package consumer

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/rapidaai/exo-agent-assist/internal/fanout"
	"github.com/rapidaai/exo-agent-assist/internal/kb"
	"github.com/rapidaai/exo-agent-assist/internal/llmprovider"
	"github.com/rapidaai/exo-agent-assist/internal/logging"
	"github.com/rapidaai/exo-agent-assist/internal/model"
	"github.com/rapidaai/exo-agent-assist/internal/pubsub"
)

// Store is the narrow write-through slice this package needs; satisfied by
// internal/store.Store.
type Store interface {
	SaveTranscript(ctx context.Context, callID string, t model.Transcript) error
	SaveIntent(ctx context.Context, callID string, v model.IntentVerdict) error
}

// LLM is the narrow LLM slice this package needs; satisfied by
// internal/llmprovider.Client.
type LLM interface {
	Complete(ctx context.Context, system, user string, temperature float64, timeout time.Duration) (string, error)
}

// KBResolver resolves the KB adapter and max-article count configured for
// a tenant. Implemented against internal/config.TenantConfigStore +
// internal/kb.Select by the caller that wires a Consumer together, so this
// package stays free of a direct gorm/config dependency.
type KBResolver interface {
	AdapterFor(ctx context.Context, tenantID string) (kb.Adapter, int)
}

// Consumer implements the transcript consumer & fan-out described in
// spec.md §4.4.
type Consumer struct {
	logger      logging.Logger
	bus         pubsub.Bus
	store       Store
	llm         LLM
	kbResolver  KBResolver
	broadcaster *fanout.Broadcaster
	cache       *transcriptCache
	queue       *perCallQueue
}

func New(logger logging.Logger, bus pubsub.Bus, store Store, llm LLM, kbResolver KBResolver, broadcaster *fanout.Broadcaster) *Consumer {
	return &Consumer{
		logger:      logger,
		bus:         bus,
		store:       store,
		llm:         llm,
		kbResolver:  kbResolver,
		broadcaster: broadcaster,
		cache:       newTranscriptCache(),
		queue:       newPerCallQueue(),
	}
}

// CachedLines satisfies fanout.CachedLinesReader, letting a newly connected
// SSE client catch up on a call already in progress.
func (c *Consumer) CachedLines(callID string) []model.Transcript {
	return c.cache.CachedLines(callID)
}

// HandleTranscript is the Subscribe handler for the shared transcript topic
// (pubsub.TranscriptTopic); the call id comes from the envelope. It
// submits the actual work onto that call's ordered queue so per-call
// broadcast order is preserved even though handler invocations for
// different calls run concurrently.
func (c *Consumer) HandleTranscript(ctx context.Context, msg pubsub.Message) error {
	var t model.Transcript
	if err := json.Unmarshal(msg.Envelope.Payload, &t); err != nil {
		c.logger.Warnf("consumer: undecodable transcript payload on %s: %v", msg.Envelope.InteractionID, err)
		return nil // protocol-kind failure: drop, don't redeliver forever
	}

	// Empty transcripts never reach the cache, store, or broadcast — the
	// producer (ASR worker) already filters these, but a crossed wire or a
	// future producer must not be trusted blindly.
	if strings.TrimSpace(t.Text) == "" {
		return nil
	}

	callID := msg.Envelope.InteractionID
	tenantID := msg.Envelope.TenantID
	c.queue.Submit(callID, func() {
		c.processTranscript(callID, tenantID, t)
	})
	return nil
}

// IngestTranscript runs the same enrichment pipeline as HandleTranscript,
// called directly by the HTTP route (POST /calls/ingest-transcript)
// instead of round-tripping through the bus. Per spec.md §9's "implicit
// call-graph reentrancy" redesign flag, a cross-process hop is for
// cross-process boundaries only — an HTTP handler inside the same process
// that owns this Consumer calls straight into it.
func (c *Consumer) IngestTranscript(callID, tenantID string, t model.Transcript) {
	if strings.TrimSpace(t.Text) == "" {
		return
	}
	c.queue.Submit(callID, func() {
		c.processTranscript(callID, tenantID, t)
	})
}

func (c *Consumer) processTranscript(callID, tenantID string, t model.Transcript) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// 1. Cache.
	c.cache.Append(callID, t)

	// 2. Write-through store. Failure here does not block the broadcast.
	if err := c.store.SaveTranscript(ctx, callID, t); err != nil {
		c.logger.Warnf("consumer: save transcript %s/%d: %v", callID, t.Seq, err)
	}

	// 3. Broadcast transcript_line.
	c.broadcaster.Broadcast(fanout.TranscriptLineEvent(callID, t.Seq, t.Ts, t.Text, string(t.Speaker)))

	// 4. Intent classification, only when the text clears the threshold.
	intent, confidence := unknownIntent, 0.0
	if shouldClassifyIntent(t.Text) {
		intent, confidence = c.classifyIntent(ctx, t.Text)
	}
	verdict := model.IntentVerdict{InteractionID: callID, Seq: t.Seq, Intent: intent, Confidence: confidence, Ts: time.Now()}
	if err := c.store.SaveIntent(ctx, callID, verdict); err != nil {
		c.logger.Warnf("consumer: save intent %s/%d: %v", callID, t.Seq, err)
	}

	// 5. KB lookup, only when intent classification actually fired.
	var articles []model.KBArticle
	if intent != unknownIntent {
		articles = c.lookupKB(ctx, tenantID, intent, t.Text)
	}

	// 6. Broadcast intent_update.
	c.broadcaster.Broadcast(fanout.IntentUpdateEvent(callID, t.Seq, intent, confidence, articlesToMaps(articles)))
}

// classifyIntent invokes the external LLM with a low-temperature prompt
// and degrades to unknown/0 on any failure, per spec.md §4.4 step d —
// intent classification must never block transcript delivery.
func (c *Consumer) classifyIntent(ctx context.Context, text string) (string, float64) {
	system := "You classify a single customer-service call transcript line into a short intent label. " +
		"Reply with ONLY a JSON object of the form {\"intent\": \"snake_case_label\", \"confidence\": 0.0-1.0}. " +
		"No other text."
	raw, err := c.llm.Complete(ctx, system, text, 0.2, 5*time.Second)
	if err != nil {
		c.logger.Warnf("consumer: intent classification failed: %v", err)
		return unknownIntent, 0
	}

	obj, err := llmprovider.ExtractFirstJSONObject(raw)
	if err != nil {
		c.logger.Warnf("consumer: intent reply had no JSON object: %v", err)
		return unknownIntent, 0
	}

	var parsed struct {
		Intent     string  `json:"intent"`
		Confidence float64 `json:"confidence"`
	}
	if err := json.Unmarshal([]byte(obj), &parsed); err != nil {
		c.logger.Warnf("consumer: intent reply JSON malformed: %v", err)
		return unknownIntent, 0
	}

	return normalizeIntent(parsed.Intent), clampConfidence(parsed.Confidence)
}

// lookupKB queries the tenant's configured KB adapter; an adapter error
// degrades to an empty result rather than propagating, per §4.4 step 5.
func (c *Consumer) lookupKB(ctx context.Context, tenantID, intent, queryContext string) []model.KBArticle {
	if c.kbResolver == nil {
		return nil
	}
	adapter, max := c.kbResolver.AdapterFor(ctx, tenantID)
	if adapter == nil {
		return nil
	}

	articles, err := adapter.Search(ctx, kb.Query{
		Text:     strings.ReplaceAll(intent, "_", " "),
		TenantID: tenantID,
		Max:      max,
		Context:  queryContext,
	})
	if err != nil {
		c.logger.Warnf("consumer: kb search for tenant %s intent %s: %v", tenantID, intent, err)
		return nil
	}
	return articles
}

// HandleCallEnd is the Subscribe handler for the shared call_end topic. It
// broadcasts call_end and tears down the call's ordered-queue worker. The
// broadcast goes through the same per-call queue as transcript processing
// so a client never sees call_end ahead of a transcript_line still queued
// for that call. It does not generate a summary, and nothing else does on
// call_end: a summary is produced only when POST /calls/summary is called.
func (c *Consumer) HandleCallEnd(ctx context.Context, msg pubsub.Message) error {
	var payload struct {
		Reason string `json:"reason"`
	}
	_ = json.Unmarshal(msg.Envelope.Payload, &payload)

	callID := msg.Envelope.InteractionID
	c.queue.Submit(callID, func() {
		c.broadcaster.Broadcast(fanout.CallEndEvent(callID, payload.Reason))
		c.queue.Remove(callID)
		c.cache.Forget(callID)
	})
	return nil
}

func articlesToMaps(articles []model.KBArticle) []map[string]any {
	out := make([]map[string]any, 0, len(articles))
	for _, a := range articles {
		out = append(out, map[string]any{
			"id":         a.ID,
			"title":      a.Title,
			"snippet":    a.Snippet,
			"url":        a.URL,
			"tags":       a.Tags,
			"source":     a.Source,
			"confidence": a.Confidence,
		})
	}
	return out
}
