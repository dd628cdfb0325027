package ingest

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"math"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/rapidaai/exo-agent-assist/internal/logging"
	"github.com/rapidaai/exo-agent-assist/internal/model"
	"github.com/rapidaai/exo-agent-assist/internal/pubsub"
)

type fakeRegistry struct {
	mu      sync.Mutex
	entries map[string]*model.CallRegistryEntry
	events  []string
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{entries: make(map[string]*model.CallRegistryEntry)}
}

func (r *fakeRegistry) Register(ctx context.Context, e model.CallRegistryEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := e
	r.entries[e.InteractionID] = &cp
	r.events = append(r.events, "register:"+e.InteractionID)
	return nil
}

func (r *fakeRegistry) Touch(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[id]; ok {
		e.LastActivityAt = time.Now()
	}
	return nil
}

func (r *fakeRegistry) MarkEnded(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[id]; ok {
		e.Status = model.CallEnded
	}
	r.events = append(r.events, "ended:"+id)
	return nil
}

func (r *fakeRegistry) Get(ctx context.Context, id string) (*model.CallRegistryEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.entries[id], nil
}

func (r *fakeRegistry) ListActive(ctx context.Context, limit int) ([]model.CallRegistryEntry, error) {
	return nil, nil
}

// flakyBus wraps a MemoryBus and can be told to fail every Publish call
// for a while, to simulate a bus outage.
type flakyBus struct {
	*pubsub.MemoryBus
	failing atomic.Bool
}

func (b *flakyBus) Publish(ctx context.Context, topic string, env model.Envelope) (string, error) {
	if b.failing.Load() {
		return "", context.DeadlineExceeded
	}
	return b.MemoryBus.Publish(ctx, topic, env)
}

func sinePCM16(frames int, sampleRate int) [][]byte {
	const freq = 440.0
	samplesPerFrame := sampleRate / 50 // 20ms
	out := make([][]byte, frames)
	total := 0
	for f := 0; f < frames; f++ {
		buf := make([]byte, samplesPerFrame*2)
		for i := 0; i < samplesPerFrame; i++ {
			t := float64(total+i) / float64(sampleRate)
			v := int16(16000 * math.Sin(2*math.Pi*freq*t))
			buf[2*i] = byte(uint16(v))
			buf[2*i+1] = byte(uint16(v) >> 8)
		}
		total += samplesPerFrame
		out[f] = buf
	}
	return out
}

func newTestServer(t *testing.T, bus pubsub.Bus, reg *fakeRegistry) (*Server, *httptest.Server) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	srv := NewServer(logging.NewNop(), bus, reg, Config{MaxBufferMs: 500, IdleClose: 30 * time.Second})
	engine := gin.New()
	engine.GET("/ws", srv.Handler())
	ts := httptest.NewServer(engine)
	return srv, ts
}

func dialWS(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	return conn
}

// TestIngest_HappyPath exercises spec.md's Scenario 1: 250 frames of 20ms
// audio at 8kHz are ingested, the registry transitions active->ended, and
// frames_in/buffer_drops land on their expected values.
func TestIngest_HappyPath(t *testing.T) {
	bus := pubsub.NewMemoryBus()
	defer bus.Close()
	reg := newFakeRegistry()
	srv, ts := newTestServer(t, bus, reg)
	defer ts.Close()

	var received atomic.Int64
	_, err := bus.Subscribe(context.Background(), pubsub.AudioTopic(""), "test", func(ctx context.Context, msg pubsub.Message) error {
		received.Add(1)
		return nil
	})
	require.NoError(t, err)

	conn := dialWS(t, ts)
	defer conn.Close()

	// A real Exotel start always carries account_sid; frames must still
	// land on the shared audio topic the worker subscribes to.
	start := startEvent{Event: "start", CallSid: "call-1", AccountSid: "tenant-a", MediaFormat: mediaFormat{Encoding: "pcm16", SampleRate: 8000}}
	require.NoError(t, conn.WriteJSON(start))

	frames := sinePCM16(250, 8000)
	for i, f := range frames {
		media := mediaEvent{Event: "media", Media: mediaPayload{Chunk: int64(i + 1), Payload: base64.StdEncoding.EncodeToString(f)}}
		require.NoError(t, conn.WriteJSON(media))
	}

	stop := stopEvent{Event: "stop", Reason: "stopped"}
	require.NoError(t, conn.WriteJSON(stop))

	deadline := time.Now().Add(2 * time.Second)
	for received.Load() < 250 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	require.Equal(t, int64(250), srv.Metrics.FramesIn.Load())
	require.Equal(t, int64(0), srv.Metrics.BufferDrops.Load())
	require.Equal(t, int64(250), received.Load())

	time.Sleep(20 * time.Millisecond)
	reg.mu.Lock()
	entry := reg.entries["call-1"]
	reg.mu.Unlock()
	require.NotNil(t, entry)
	require.Equal(t, model.CallEnded, entry.Status)
}

// TestIngest_BusOutageBuffersAndRecovers exercises spec.md's Scenario 3: a
// bus outage causes frames to buffer, and once the outage ends the
// buffered frames drain oldest-first with no more than the expected
// number dropped.
func TestIngest_BusOutageBuffersAndRecovers(t *testing.T) {
	bus := &flakyBus{MemoryBus: pubsub.NewMemoryBus()}
	defer bus.Close()
	reg := newFakeRegistry()
	srv, ts := newTestServer(t, bus, reg)
	defer ts.Close()

	var receivedSeqs []uint64
	var mu sync.Mutex
	_, err := bus.Subscribe(context.Background(), pubsub.AudioTopic(""), "test", func(ctx context.Context, msg pubsub.Message) error {
		var f model.AudioFrame
		if jsonErr := json.Unmarshal(msg.Envelope.Payload, &f); jsonErr == nil {
			mu.Lock()
			receivedSeqs = append(receivedSeqs, f.Seq)
			mu.Unlock()
		}
		return nil
	})
	require.NoError(t, err)

	conn := dialWS(t, ts)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(startEvent{Event: "start", CallSid: "call-2", MediaFormat: mediaFormat{SampleRate: 8000}}))

	frames := sinePCM16(30, 8000)
	bus.failing.Store(true)
	for i := 0; i < 20; i++ {
		media := mediaEvent{Event: "media", Media: mediaPayload{Chunk: int64(i + 1), Payload: base64.StdEncoding.EncodeToString(frames[i])}}
		require.NoError(t, conn.WriteJSON(media))
		time.Sleep(20 * time.Millisecond)
	}
	bus.failing.Store(false)
	for i := 20; i < 30; i++ {
		media := mediaEvent{Event: "media", Media: mediaPayload{Chunk: int64(i + 1), Payload: base64.StdEncoding.EncodeToString(frames[i])}}
		require.NoError(t, conn.WriteJSON(media))
		time.Sleep(20 * time.Millisecond)
	}

	deadline := time.Now().Add(2 * time.Second)
	for srv.Metrics.FramesIn.Load() < 30 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	require.Equal(t, int64(30), srv.Metrics.FramesIn.Load())
	require.LessOrEqual(t, srv.Metrics.BufferDrops.Load(), int64(20), "only frames sent during the outage may be dropped")

	mu.Lock()
	defer mu.Unlock()
	for i := 1; i < len(receivedSeqs); i++ {
		require.Greater(t, receivedSeqs[i], receivedSeqs[i-1], "published frames must drain oldest-first")
	}
}
