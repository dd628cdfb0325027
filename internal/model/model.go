// Package model holds the data types shared across ingest, transport, ASR,
// consumer, fan-out and registry components.
package model

import (
	"encoding/json"
	"time"
)

// Encoding identifies the wire encoding of an AudioFrame's payload. Only
// pcm16 is currently produced.
type Encoding string

const EncodingPCM16 Encoding = "pcm16"

// AudioFrame is produced by Ingest and consumed by the ASR worker. Seq is
// strictly increasing and gapless from the producer's perspective; a
// consumer must not assume gaplessness after transport (messages may be
// redelivered or, in rare failure modes, dropped by an intermediate hop).
type AudioFrame struct {
	TenantID      string   `json:"tenant_id"`
	InteractionID string   `json:"interaction_id"`
	Seq           uint64   `json:"seq"`
	TimestampMs   int64    `json:"timestamp_ms"`
	SampleRate    int      `json:"sample_rate"`
	Encoding      Encoding `json:"encoding"`
	Audio         []byte   `json:"audio"`
	TraceID       string   `json:"trace_id,omitempty"`
}

// TranscriptKind distinguishes revisable partial results from committed
// final results.
type TranscriptKind string

const (
	TranscriptPartial TranscriptKind = "partial"
	TranscriptFinal   TranscriptKind = "final"
)

// Speaker identifies which party an STT provider (or heuristic) attributed
// a transcript line to.
type Speaker string

const (
	SpeakerAgent    Speaker = "agent"
	SpeakerCustomer Speaker = "customer"
	SpeakerUnknown  Speaker = "unknown"
)

// Transcript is produced by the ASR worker and consumed by the fan-out and
// the write-through store. Text is guaranteed non-empty after filtering by
// the producer; nothing downstream should re-validate that, but nothing
// downstream should trust it blindly either — see the strings.TrimSpace
// check in consumer.HandleTranscript and consumer.IngestTranscript.
type Transcript struct {
	InteractionID string         `json:"interaction_id"`
	Seq           uint64         `json:"seq"`
	Ts            time.Time      `json:"ts"`
	Text          string         `json:"text"`
	Kind          TranscriptKind `json:"kind"`
	Speaker       Speaker        `json:"speaker"`
	Confidence    *float64       `json:"confidence,omitempty"`
}

// IntentVerdict is the outcome of classifying a single transcript line.
type IntentVerdict struct {
	InteractionID string    `json:"interaction_id"`
	Seq           uint64    `json:"seq"`
	Intent        string    `json:"intent"`
	Confidence    float64   `json:"confidence"`
	Ts            time.Time `json:"ts"`
}

// KBArticle is a retrieval-only result from a KB adapter; the core never
// writes KB articles.
type KBArticle struct {
	ID         string   `json:"id"`
	Title      string   `json:"title"`
	Snippet    string   `json:"snippet"`
	URL        string   `json:"url,omitempty"`
	Tags       []string `json:"tags,omitempty"`
	Source     string   `json:"source"`
	Confidence float64  `json:"confidence"`
}

// CallStatus is the lifecycle state of a CallRegistryEntry.
type CallStatus string

const (
	CallActive CallStatus = "active"
	CallEnded  CallStatus = "ended"
)

// CallRegistryEntry is created at the `start` event, touched on every
// inbound frame, and marked ended on `stop`. It is shared-read,
// single-writer: only the ingest connection that started the call writes
// to it.
type CallRegistryEntry struct {
	InteractionID  string            `json:"interaction_id"`
	TenantID       string            `json:"tenant_id"`
	AgentID        string            `json:"agent_id,omitempty"`
	StartedAt      time.Time         `json:"started_at"`
	LastActivityAt time.Time         `json:"last_activity_at"`
	Status         CallStatus        `json:"status"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// Disposition is a categorical outcome code an agent records for a call.
type Disposition struct {
	Code  string  `json:"code"`
	Title string  `json:"title"`
	Score float64 `json:"score"`
}

// CallSummary is produced once per call at end. UsedFallback is set when
// the LLM's reply did not match the expected schema.
type CallSummary struct {
	InteractionID string        `json:"interaction_id"`
	Issue         string        `json:"issue"`
	Resolution    string        `json:"resolution"`
	NextSteps     string        `json:"next_steps"`
	Dispositions  []Disposition `json:"dispositions"`
	Confidence    float64       `json:"confidence"`
	UsedFallback  bool          `json:"used_fallback"`
}

// Envelope is the standard wrapper every bus message carries, regardless of
// backing. Payload is the component-specific body, carried as raw JSON so
// that backings that only deal in bytes (Kafka, Redis Streams) don't need
// to know about every payload type, and so callers can unmarshal it into
// whatever concrete type the topic implies.
type Envelope struct {
	TraceID       string          `json:"trace_id,omitempty"`
	InteractionID string          `json:"interaction_id"`
	TenantID      string          `json:"tenant_id,omitempty"`
	TimestampMs   int64           `json:"timestamp_ms"`
	Payload       json.RawMessage `json:"payload"`
}
