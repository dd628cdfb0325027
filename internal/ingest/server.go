package ingest

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/rapidaai/exo-agent-assist/internal/logging"
	"github.com/rapidaai/exo-agent-assist/internal/model"
	"github.com/rapidaai/exo-agent-assist/internal/pubsub"
	"github.com/rapidaai/exo-agent-assist/internal/registry"
)

// Config parametrizes Server; mirrors the EXO_* env vars in spec.md §6.
type Config struct {
	MaxBufferMs   int           // EXO_MAX_BUFFER_MS, default 500
	IdleClose     time.Duration // EXO_IDLE_CLOSE_S, default 10s
	MaxDropsClose int           // per-connection buffer_drops before the socket is closed, default 250
}

func (c Config) withDefaults() Config {
	if c.MaxBufferMs <= 0 {
		c.MaxBufferMs = 500
	}
	if c.IdleClose <= 0 {
		c.IdleClose = 10 * time.Second
	}
	if c.MaxDropsClose <= 0 {
		c.MaxDropsClose = 250
	}
	return c
}

// Server terminates the telephony provider's WebSocket and publishes
// AudioFrames to the Bus. One Server handles any number of concurrent
// connections, each running its own readLoop/idle-watchdog pair.
type Server struct {
	logger   logging.Logger
	bus      pubsub.Bus
	registry registry.Registry
	cfg      Config
	Metrics  *Metrics
	upgrader websocket.Upgrader
}

func NewServer(logger logging.Logger, bus pubsub.Bus, reg registry.Registry, cfg Config) *Server {
	return &Server{
		logger:   logger,
		bus:      bus,
		registry: reg,
		cfg:      cfg.withDefaults(),
		Metrics:  &Metrics{},
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Handler upgrades the request and runs the connection's lifecycle to
// completion; it returns only once the connection has closed. Auth policy
// (allow-list / JWT) is external — by the time this handler runs, the
// caller (e.g. gin middleware) has already accepted or rejected the
// connection per spec.md §4.1's AcceptConnection contract.
func (s *Server) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			s.logger.Warnf("ingest: websocket upgrade failed: %v", err)
			return
		}
		s.serveConnection(c.Request.Context(), conn)
	}
}

// connState is per-connection state: which interaction this socket belongs
// to, the monotonic frame seq it assigns, and the bounded fallback buffer
// it falls back to when the bus is unreachable.
type connState struct {
	mu            sync.Mutex
	traceID       string
	interactionID string
	tenantID      string
	sampleRate    int
	seq           uint64
	drops         int
	idleResetAt   time.Time
	ended         bool
}

func (s *Server) serveConnection(ctx context.Context, wsConn *websocket.Conn) {
	s.Metrics.ActiveConnections.Add(1)
	defer s.Metrics.ActiveConnections.Add(-1)
	defer wsConn.Close()

	state := &connState{traceID: uuid.NewString(), idleResetAt: time.Now()}
	logger := s.logger.With("trace_id", state.traceID)
	buffer := newBoundedBuffer(time.Duration(s.cfg.MaxBufferMs) * time.Millisecond)
	defer func() { s.Metrics.BufferDepth.Add(-int64(buffer.depth())) }()

	watchdogCtx, cancelWatchdog := context.WithCancel(ctx)
	defer cancelWatchdog()
	go s.idleWatchdog(watchdogCtx, wsConn, state)

	for {
		_, raw, err := wsConn.ReadMessage()
		if err != nil {
			s.onDisconnect(ctx, state, "connection_closed")
			return
		}

		eventType, err := decodeEventType(raw)
		if err != nil {
			logger.Warnf("ingest: malformed JSON, dropping: %v", err)
			continue
		}

		switch eventType {
		case "connected":
			// Opening handshake: acknowledge only, nothing to do.
		case "start":
			s.handleStart(ctx, state, raw)
		case "media":
			state.mu.Lock()
			state.idleResetAt = time.Now()
			state.mu.Unlock()
			s.handleMedia(ctx, state, buffer, raw)

			state.mu.Lock()
			drops := state.drops
			interactionID := state.interactionID
			state.mu.Unlock()
			if drops >= s.cfg.MaxDropsClose {
				logger.Warnf("ingest: %d buffer drops on %s, bus persistently unreachable, closing", drops, interactionID)
				_ = wsConn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "publish backlog exceeded"),
					time.Now().Add(time.Second))
				s.onDisconnect(ctx, state, "publish_backlog")
				return
			}
		case "stop":
			s.handleStop(ctx, state, raw)
			return
		default:
			logger.Warnf("ingest: unknown event type %q, ignoring", eventType)
		}
	}
}

func (s *Server) handleStart(ctx context.Context, state *connState, raw []byte) {
	var ev startEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		s.logger.Warnf("ingest: malformed start event, dropping: %v", err)
		return
	}

	state.mu.Lock()
	state.interactionID = ev.CallSid
	state.tenantID = ev.AccountSid
	state.sampleRate = ev.MediaFormat.SampleRate
	state.mu.Unlock()

	entry := model.CallRegistryEntry{
		InteractionID:  ev.CallSid,
		TenantID:       ev.AccountSid,
		StartedAt:      time.Now(),
		LastActivityAt: time.Now(),
		Status:         model.CallActive,
		Metadata: map[string]string{
			"stream_sid": ev.StreamSid,
			"from":       ev.From,
			"to":         ev.To,
		},
	}
	if err := s.registry.Register(ctx, entry); err != nil {
		s.logger.Warnf("ingest: register call %s: %v", ev.CallSid, err)
	}
}

func (s *Server) handleMedia(ctx context.Context, state *connState, buffer *boundedBuffer, raw []byte) {
	var ev mediaEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		s.logger.Warnf("ingest: malformed media event, dropping: %v", err)
		return
	}

	audio, err := base64.StdEncoding.DecodeString(ev.Media.Payload)
	if err != nil {
		s.logger.Warnf("ingest: base64 decode failed, dropping frame: %v", err)
		return
	}

	state.mu.Lock()
	sampleRate := state.sampleRate
	interactionID := state.interactionID
	tenantID := state.tenantID
	traceID := state.traceID
	state.mu.Unlock()

	if sampleRate == 0 {
		sampleRate = 8000
	}
	if !withinTolerance(len(audio), sampleRate) {
		s.logger.Warnf("ingest: media payload length %d inconsistent with %dHz/20ms, dropping", len(audio), sampleRate)
		return
	}

	s.Metrics.FramesIn.Add(1)
	s.Metrics.BytesIn.Add(int64(len(audio)))

	state.mu.Lock()
	state.seq++
	seq := state.seq
	state.mu.Unlock()

	frame := model.AudioFrame{
		TenantID:      tenantID,
		InteractionID: interactionID,
		Seq:           seq,
		TimestampMs:   time.Now().UnixMilli(),
		SampleRate:    sampleRate,
		Encoding:      model.EncodingPCM16,
		Audio:         audio,
		TraceID:       traceID,
	}

	if s.registry != nil && interactionID != "" {
		if err := s.registry.Touch(ctx, interactionID); err != nil {
			s.logger.Warnf("ingest: touch registry %s: %v", interactionID, err)
		}
	}

	s.publishWithFallback(ctx, frame, buffer, state)
}

// publishWithFallback implements spec.md §4.1: try to publish; on failure,
// fall back to the bounded buffer and attempt to drain its existing
// backlog oldest-first. Driven by frame arrival rather than a background
// timer, since frames already arrive on a ~20ms cadence — no separate
// scheduling loop is needed to keep the buffer draining promptly.
func (s *Server) publishWithFallback(ctx context.Context, frame model.AudioFrame, buffer *boundedBuffer, state *connState) {
	depthBefore := buffer.depth()
	defer func() { s.Metrics.BufferDepth.Add(int64(buffer.depth() - depthBefore)) }()

	dropped := buffer.evictStale()
	if dropped > 0 {
		s.Metrics.BufferDrops.Add(int64(dropped))
		state.mu.Lock()
		state.drops += dropped
		state.mu.Unlock()
	}

	// Shared audio topic: the ASR worker holds one long-lived subscription
	// and demuxes by interaction, the same shape the transcript and intent
	// topics use. Per-tenant audio sharding would require the worker to
	// discover tenants and open a subscription per tenant.
	topic := pubsub.AudioTopic("")

	if buffer.depth() == 0 {
		if err := s.tryPublish(ctx, topic, frame); err == nil {
			return
		}
	}

	buffer.push(frame)
	s.drainBuffer(ctx, topic, buffer)
}

func (s *Server) drainBuffer(ctx context.Context, topic string, buffer *boundedBuffer) {
	for {
		oldest, ok := buffer.peekOldest()
		if !ok {
			return
		}
		if err := s.tryPublish(ctx, topic, oldest); err != nil {
			return
		}
		buffer.popOldest()
	}
}

func (s *Server) tryPublish(ctx context.Context, topic string, frame model.AudioFrame) error {
	payload, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	publishCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	env := model.Envelope{
		InteractionID: frame.InteractionID,
		TenantID:      frame.TenantID,
		TimestampMs:   frame.TimestampMs,
		Payload:       payload,
	}
	if _, err := s.bus.Publish(publishCtx, topic, env); err != nil {
		s.Metrics.PublishFailures.Add(1)
		return err
	}
	return nil
}

func (s *Server) handleStop(ctx context.Context, state *connState, raw []byte) {
	var ev stopEvent
	_ = json.Unmarshal(raw, &ev)
	s.onDisconnect(ctx, state, ev.Reason)
}

func (s *Server) onDisconnect(ctx context.Context, state *connState, reason string) {
	state.mu.Lock()
	if state.ended {
		state.mu.Unlock()
		return
	}
	state.ended = true
	interactionID := state.interactionID
	state.mu.Unlock()

	if interactionID == "" {
		return
	}
	if err := s.registry.MarkEnded(ctx, interactionID); err != nil {
		s.logger.Warnf("ingest: mark ended %s: %v", interactionID, err)
	}

	payload, _ := json.Marshal(map[string]string{"interaction_id": interactionID, "reason": reason})
	env := model.Envelope{InteractionID: interactionID, TimestampMs: time.Now().UnixMilli(), Payload: payload}
	publishCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := s.bus.Publish(publishCtx, pubsub.CallEndTopic, env); err != nil {
		s.logger.Warnf("ingest: publish call_end for %s: %v", interactionID, err)
	}
}

// idleWatchdog resets on every media frame (via state.idleResetAt) and, on
// expiry, closes the connection with a normal status code and synthesizes
// a stop so the call is torn down cleanly even when the telephony provider
// never sends an explicit stop. While the connection is quiet but not yet
// expired, it pings the peer so intermediaries keep the socket alive.
func (s *Server) idleWatchdog(ctx context.Context, wsConn *websocket.Conn, state *connState) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	pingAfter := s.cfg.IdleClose * 2 / 3
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			state.mu.Lock()
			idleFor := time.Since(state.idleResetAt)
			ended := state.ended
			state.mu.Unlock()
			if ended {
				return
			}
			if idleFor >= pingAfter && idleFor < s.cfg.IdleClose {
				_ = wsConn.WriteControl(websocket.PingMessage, nil, time.Now().Add(time.Second))
			}
			if idleFor >= s.cfg.IdleClose {
				s.logger.Infof("ingest: idle watchdog closing connection after %s", idleFor)
				_ = wsConn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "idle timeout"),
					time.Now().Add(time.Second))
				s.onDisconnect(context.Background(), state, "idle_timeout")
				return
			}
		}
	}
}

// withinTolerance checks a decoded PCM16 payload against the expected
// length for 20ms of mono audio at sampleRate, with a ±10% tolerance per
// spec.md §4.1.
func withinTolerance(byteLen, sampleRate int) bool {
	expected := float64(sampleRate) * 0.02 * 2 // samples/sec * 20ms * 2 bytes/sample
	low := expected * 0.9
	high := expected * 1.1
	return float64(byteLen) >= low && float64(byteLen) <= math.Ceil(high)
}
