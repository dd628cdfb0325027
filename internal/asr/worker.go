package asr

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/rapidaai/exo-agent-assist/internal/apperr"
	"github.com/rapidaai/exo-agent-assist/internal/logging"
	"github.com/rapidaai/exo-agent-assist/internal/model"
	"github.com/rapidaai/exo-agent-assist/internal/pubsub"
	"github.com/rapidaai/exo-agent-assist/internal/sttprovider"
)

// Config parametrizes a Worker; all durations/flags mirror the EXO_* env
// vars described in spec.md §6, resolved by the caller from AppConfig.
type Config struct {
	IdleClose        time.Duration
	EarlyAudioFilter bool
	Language         string
	Model            string
}

// Worker turns audio frames from many concurrent interactions into
// transcripts, maintaining exactly one streaming-STT connection per
// interaction via a per-interaction creation-future map.
type Worker struct {
	logger   logging.Logger
	bus      pubsub.Bus
	provider sttprovider.Provider
	cfg      Config
	Metrics  *Metrics

	mu           sync.Mutex
	interactions map[string]*InteractionState

	creationGroup singleflight.Group
}

func NewWorker(logger logging.Logger, bus pubsub.Bus, provider sttprovider.Provider, cfg Config) *Worker {
	return &Worker{
		logger:       logger,
		bus:          bus,
		provider:     provider,
		cfg:          cfg,
		Metrics:      &Metrics{},
		interactions: make(map[string]*InteractionState),
	}
}

// SendAudioChunk is the entrypoint for one AudioFrame. It is safe to call
// concurrently for the same interaction_id — see getOrCreateConnection.
func (w *Worker) SendAudioChunk(ctx context.Context, frame model.AudioFrame) error {
	state := w.getOrCreateState(frame.InteractionID, frame.TenantID)
	if frame.TraceID != "" {
		state.setTraceID(frame.TraceID)
	}

	if !state.acceptSampleRate(frame.SampleRate) {
		w.logger.Warnf("asr: sample rate mismatch mid-stream for %s, closing", frame.InteractionID)
		w.closeInteraction(frame.InteractionID, state)
		return apperr.New(apperr.Contract, "asr.sample_rate_mismatch", fmt.Errorf("interaction %s", frame.InteractionID))
	}

	conn, err := w.getOrCreateConnection(ctx, state, frame.SampleRate)
	if err != nil {
		// Provider-kind failure: drop this frame. There is no cool-down:
		// the next frame for this interaction re-enters creation at once.
		w.logger.Warnf("asr: stt connection unavailable for %s: %v", frame.InteractionID, err)
		return nil
	}

	rms, peak := chunkEnergy(frame.Audio)
	w.logger.Debugf("asr: chunk %s/%d rms=%.1f peak=%d", frame.InteractionID, frame.Seq, rms, peak)
	if rms < silenceRMSThreshold {
		w.Metrics.SilenceSkipped.Add(1)
	}

	shouldSend := state.appendAudio(frame.Audio)
	if !shouldSend {
		return nil
	}

	state.stateMu.Lock()
	chunk := state.takeBufferLocked(time.Now())
	state.stateMu.Unlock()

	if len(chunk) == 0 {
		return nil
	}

	state.sendMu.Lock()
	sendErr := conn.SendAudio(ctx, chunk)
	state.sendMu.Unlock()

	if sendErr != nil {
		w.logger.Warnf("asr: send to stt failed for %s: %v", frame.InteractionID, sendErr)
		return nil
	}
	w.Metrics.ChunksSent.Add(1)
	return nil
}

func (w *Worker) getOrCreateState(interactionID, tenantID string) *InteractionState {
	w.mu.Lock()
	defer w.mu.Unlock()
	if s, ok := w.interactions[interactionID]; ok {
		return s
	}
	s := newInteractionState(interactionID, tenantID)
	w.interactions[interactionID] = s
	go w.idleWatchdog(interactionID, s)
	return s
}

// getOrCreateConnection implements the load-bearing concurrency contract:
// at most one STT connection exists per interaction_id at any time. The
// fast path (connection already set) avoids the singleflight group
// entirely; the slow path uses singleflight.Do as the creation-future map
// — concurrent callers for the same key block on the in-flight creation
// and receive its result, rather than each racing to create their own.
func (w *Worker) getOrCreateConnection(ctx context.Context, state *InteractionState, sampleRate int) (sttprovider.Connection, error) {
	if c := state.getConn(); c != nil {
		w.Metrics.ConnectionsReused.Add(1)
		return c, nil
	}

	result, err, shared := w.creationGroup.Do(state.InteractionID, func() (any, error) {
		if c := state.getConn(); c != nil {
			return c, nil
		}
		conn, err := w.provider.Open(ctx, sttprovider.ConnectOptions{
			InteractionID:  state.InteractionID,
			TenantID:       state.TenantID,
			SampleRate:     sampleRate,
			Language:       w.cfg.Language,
			Model:          w.cfg.Model,
			ConnectTimeout: 10 * time.Second,
		})
		if err != nil {
			return nil, err
		}
		state.setConn(conn)
		w.Metrics.ConnectionsCreated.Add(1)
		go w.consumeEvents(state, conn)
		return conn, nil
	})
	if shared {
		w.Metrics.DuplicateConnectionAttempts.Add(1)
	}
	if err != nil {
		return nil, err
	}
	return result.(sttprovider.Connection), nil
}

// consumeEvents drains one connection's events for its whole lifetime,
// translating transcripts into bus publications. It returns (and the
// connection is considered gone) when the provider closes the channel.
func (w *Worker) consumeEvents(state *InteractionState, conn sttprovider.Connection) {
	for ev := range conn.Events() {
		switch ev.Type {
		case sttprovider.EventTranscript:
			w.handleTranscript(state, ev)
		case sttprovider.EventError:
			// Provider error mid-stream: force-close so audio stops flowing
			// into a dead session. The handle is removed before the close so
			// the next SendAudioChunk re-enters creation immediately.
			w.logger.Warnf("asr: provider error for %s, force-closing: %s", state.InteractionID, ev.Text)
			w.Metrics.ProviderErrors.Add(1)
			state.clearConn(conn)
			_ = conn.Close()
		case sttprovider.EventClosed:
			w.logger.Infof("asr: provider closed connection for %s", state.InteractionID)
		}
	}
	// Mid-stream disconnect or explicit close: remove the handle so the
	// next SendAudioChunk cleanly re-enters creation.
	state.clearConn(conn)
}

func (w *Worker) handleTranscript(state *InteractionState, ev sttprovider.Event) {
	w.Metrics.TranscriptsReceived.Add(1)
	if latency, first := state.markFirstPartial(time.Now()); first {
		w.Metrics.RecordFirstPartialLatency(float64(latency.Milliseconds()))
	}

	text := strings.TrimSpace(ev.Text)
	if text == "" {
		w.Metrics.EmptyTranscripts.Add(1)
		return
	}

	if w.cfg.EarlyAudioFilter && state.shouldSuppressEarlyAudio(text, time.Now()) {
		return
	}

	kind := model.TranscriptPartial
	if ev.IsFinal {
		kind = model.TranscriptFinal
	}
	speaker := model.SpeakerUnknown
	switch ev.Speaker {
	case "agent":
		speaker = model.SpeakerAgent
	case "customer":
		speaker = model.SpeakerCustomer
	}

	t := model.Transcript{
		InteractionID: state.InteractionID,
		Seq:           state.nextSeq(),
		Ts:            time.Now(),
		Text:          text,
		Kind:          kind,
		Speaker:       speaker,
		Confidence:    ev.Confidence,
	}

	payload, err := json.Marshal(t)
	if err != nil {
		w.logger.Errorf("asr: marshal transcript for %s: %v", state.InteractionID, err)
		return
	}

	env := model.Envelope{
		TraceID:       state.getTraceID(),
		InteractionID: state.InteractionID,
		TenantID:      state.TenantID,
		TimestampMs:   t.Ts.UnixMilli(),
		Payload:       payload,
	}

	// Bounded-backoff best-effort publish: transcripts are dropped after
	// the last attempt fails, and audio flow continues regardless.
	topic := pubsub.TranscriptTopic(state.InteractionID)
	for attempt := 0; attempt < transcriptPublishAttempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_, err := w.bus.Publish(ctx, topic, env)
		cancel()
		if err == nil {
			return
		}
		w.logger.Warnf("asr: publish transcript for %s failed (attempt %d): %v", state.InteractionID, attempt+1, err)
		time.Sleep(time.Duration(attempt+1) * 100 * time.Millisecond)
	}
	w.Metrics.PublishFailures.Add(1)
}

const transcriptPublishAttempts = 3

func (w *Worker) idleWatchdog(interactionID string, state *InteractionState) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	idleAfter := w.cfg.IdleClose
	if idleAfter <= 0 {
		idleAfter = 10 * time.Second
	}
	for range ticker.C {
		state.stateMu.Lock()
		closed := state.closed
		state.stateMu.Unlock()
		if closed {
			return
		}
		if state.idleFor(time.Now(), idleAfter) {
			w.Metrics.IdleCloses.Add(1)
			w.closeInteraction(interactionID, state)
			return
		}
	}
}

func (w *Worker) closeInteraction(interactionID string, state *InteractionState) {
	state.stateMu.Lock()
	state.closed = true
	state.stateMu.Unlock()

	if conn := state.getConn(); conn != nil {
		_ = conn.Close()
		state.setConn(nil)
	}

	w.mu.Lock()
	delete(w.interactions, interactionID)
	w.mu.Unlock()
}

// silenceRMSThreshold is the mean-square amplitude below which a chunk
// counts as near-silence for the silence_skipped metric. The audio is
// still sent — dropping it would break seq continuity.
const silenceRMSThreshold = 200.0 * 200.0

// chunkEnergy computes the mean-square amplitude and peak absolute sample
// of a little-endian PCM16 chunk.
func chunkEnergy(pcm16 []byte) (rms float64, peak int32) {
	samples := len(pcm16) / 2
	if samples == 0 {
		return 0, 0
	}
	var sumSquares float64
	for i := 0; i < samples; i++ {
		s := int32(int16(uint16(pcm16[2*i]) | uint16(pcm16[2*i+1])<<8))
		sumSquares += float64(s) * float64(s)
		if s < 0 {
			s = -s
		}
		if s > peak {
			peak = s
		}
	}
	return sumSquares / float64(samples), peak
}
