package asr

import (
	"sort"
	"sync"
	"sync/atomic"
)

const latencySampleCap = 512

// Metrics tracks the counters named in spec.md §4.3. All fields are safe
// for concurrent use.
type Metrics struct {
	ConnectionsCreated          atomic.Int64
	ConnectionsReused           atomic.Int64
	DuplicateConnectionAttempts atomic.Int64
	ChunksSent                  atomic.Int64
	TranscriptsReceived         atomic.Int64
	SilenceSkipped              atomic.Int64
	EmptyTranscripts            atomic.Int64
	IdleCloses                  atomic.Int64
	ProviderErrors              atomic.Int64
	PublishFailures             atomic.Int64

	latencyMu      sync.Mutex
	latencySamples []float64 // first-partial latencies in ms, ring-capped
}

// RecordFirstPartialLatency adds one first-frame-to-first-transcript sample.
// Samples are capped; once full, the oldest is evicted so percentiles track
// recent behaviour rather than process-lifetime history.
func (m *Metrics) RecordFirstPartialLatency(ms float64) {
	m.latencyMu.Lock()
	defer m.latencyMu.Unlock()
	if len(m.latencySamples) >= latencySampleCap {
		m.latencySamples = m.latencySamples[1:]
	}
	m.latencySamples = append(m.latencySamples, ms)
}

// Snapshot is a point-in-time read of Metrics for the health endpoint.
type Snapshot struct {
	ConnectionsCreated          int64   `json:"connections_created"`
	ConnectionsReused           int64   `json:"connections_reused"`
	DuplicateConnectionAttempts int64   `json:"duplicate_connection_attempts"`
	ChunksSent                  int64   `json:"chunks_sent"`
	TranscriptsReceived         int64   `json:"transcripts_received"`
	SilenceSkipped              int64   `json:"silence_skipped"`
	EmptyTranscripts            int64   `json:"empty_transcript_count"`
	EmptyTranscriptRate         float64 `json:"empty_transcript_rate"`
	IdleCloses                  int64   `json:"idle_closes"`
	ProviderErrors              int64   `json:"provider_errors"`
	PublishFailures             int64   `json:"publish_failures"`
	FirstPartialLatencyP50Ms    float64 `json:"first_partial_latency_ms_p50"`
	FirstPartialLatencyP95Ms    float64 `json:"first_partial_latency_ms_p95"`
	AverageLatencyMs            float64 `json:"average_latency_ms"`
}

func (m *Metrics) Snapshot() Snapshot {
	p50, p95, avg := m.latencyQuantiles()
	var emptyRate float64
	if received := m.TranscriptsReceived.Load(); received > 0 {
		emptyRate = float64(m.EmptyTranscripts.Load()) / float64(received)
	}
	return Snapshot{
		ConnectionsCreated:          m.ConnectionsCreated.Load(),
		ConnectionsReused:           m.ConnectionsReused.Load(),
		DuplicateConnectionAttempts: m.DuplicateConnectionAttempts.Load(),
		ChunksSent:                  m.ChunksSent.Load(),
		TranscriptsReceived:         m.TranscriptsReceived.Load(),
		SilenceSkipped:              m.SilenceSkipped.Load(),
		EmptyTranscripts:            m.EmptyTranscripts.Load(),
		EmptyTranscriptRate:         emptyRate,
		IdleCloses:                  m.IdleCloses.Load(),
		ProviderErrors:              m.ProviderErrors.Load(),
		PublishFailures:             m.PublishFailures.Load(),
		FirstPartialLatencyP50Ms:    p50,
		FirstPartialLatencyP95Ms:    p95,
		AverageLatencyMs:            avg,
	}
}

func (m *Metrics) latencyQuantiles() (p50, p95, avg float64) {
	m.latencyMu.Lock()
	samples := append([]float64(nil), m.latencySamples...)
	m.latencyMu.Unlock()
	if len(samples) == 0 {
		return 0, 0, 0
	}

	sort.Float64s(samples)
	var sum float64
	for _, s := range samples {
		sum += s
	}
	return quantile(samples, 0.50), quantile(samples, 0.95), sum / float64(len(samples))
}

// quantile reads the element at index floor(q*(n-1)) of an already-sorted
// slice (the lower of the two neighbours; no interpolation).
func quantile(sorted []float64, q float64) float64 {
	idx := int(q * float64(len(sorted)-1))
	return sorted[idx]
}
