// Package asr implements the per-interaction ASR worker: it buffers audio
// frames, maintains exactly one streaming-STT connection per interaction,
// filters early-audio noise, enforces idle timeouts, and republishes
// transcripts.
package asr

import (
	"sync"
	"time"

	"github.com/rapidaai/exo-agent-assist/internal/sttprovider"
)

// InteractionState is owned exclusively by the ASR worker handling that
// interaction. stateMu guards every field except the STT send path: the
// send itself is issued under sendMu (a separate, narrower lock) so new
// frames can keep enqueueing into buffer while a send to the provider is
// in flight — see spec.md §5.
type InteractionState struct {
	InteractionID string
	TenantID      string

	stateMu sync.Mutex

	sampleRate     int
	sampleRateSet  bool
	buffer         []byte
	lastChunkAt    time.Time
	lastSendAt     time.Time
	warmedUp       bool
	speechDetected bool
	firstFrameAt   time.Time
	firstPartialAt time.Time
	traceID        string
	seq            uint64

	sendMu sync.Mutex
	conn   sttprovider.Connection

	closed bool
}

func newInteractionState(interactionID, tenantID string) *InteractionState {
	now := time.Now()
	return &InteractionState{
		InteractionID: interactionID,
		TenantID:      tenantID,
		firstFrameAt:  now,
		lastChunkAt:   now,
		lastSendAt:    now,
	}
}

// acceptSampleRate fixes the sample rate on first frame and rejects a
// later frame with a different rate, per the InteractionState invariant.
func (s *InteractionState) acceptSampleRate(rate int) bool {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	if !s.sampleRateSet {
		s.sampleRate = rate
		s.sampleRateSet = true
		return true
	}
	return s.sampleRate == rate
}

// appendAudio appends pcm16 to the buffer and returns whether the combined
// buffer+timing state currently calls for a send, per the buffering policy
// in buffering.go.
func (s *InteractionState) appendAudio(pcm16 []byte) (shouldSend bool) {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()

	now := time.Now()
	gapSinceLastFrame := now.Sub(s.lastChunkAt)
	s.buffer = append(s.buffer, pcm16...)
	s.lastChunkAt = now

	return evaluateSendTriggerLocked(s, now, gapSinceLastFrame)
}

// takeBufferLocked must be called with stateMu held; it drains and returns
// the current buffer, resetting lastSendAt.
func (s *InteractionState) takeBufferLocked(now time.Time) []byte {
	out := s.buffer
	s.buffer = nil
	s.lastSendAt = now
	s.warmedUp = true
	return out
}

func (s *InteractionState) setConn(c sttprovider.Connection) {
	s.sendMu.Lock()
	s.conn = c
	s.sendMu.Unlock()
}

func (s *InteractionState) getConn() sttprovider.Connection {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	return s.conn
}

// clearConn removes old from the state only if it is still the current
// handle, so a stale consumer goroutine finishing up never wipes a newer
// connection created after a reopen.
func (s *InteractionState) clearConn(old sttprovider.Connection) {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if s.conn == old {
		s.conn = nil
	}
}

func (s *InteractionState) nextSeq() uint64 {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	s.seq++
	return s.seq
}

func (s *InteractionState) idleFor(now time.Time, threshold time.Duration) bool {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return now.Sub(s.lastChunkAt) >= threshold
}

// markFirstPartial records when the first transcript for this interaction
// arrived and returns the latency from first frame to that transcript.
// Returns false on every call after the first.
func (s *InteractionState) markFirstPartial(now time.Time) (time.Duration, bool) {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	if !s.firstPartialAt.IsZero() {
		return 0, false
	}
	s.firstPartialAt = now
	return now.Sub(s.firstFrameAt), true
}

func (s *InteractionState) setTraceID(id string) {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	if s.traceID == "" {
		s.traceID = id
	}
}

func (s *InteractionState) getTraceID() string {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.traceID
}
