package ingest

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rapidaai/exo-agent-assist/internal/asr"
	"github.com/rapidaai/exo-agent-assist/internal/logging"
	"github.com/rapidaai/exo-agent-assist/internal/model"
	"github.com/rapidaai/exo-agent-assist/internal/pubsub"
	"github.com/rapidaai/exo-agent-assist/internal/sttprovider"
)

// pipelineSTTProvider emits one transcript for every audio chunk the
// worker sends, so the test can follow a frame all the way to the
// transcript topic.
type pipelineSTTProvider struct{}

func (pipelineSTTProvider) Open(ctx context.Context, opts sttprovider.ConnectOptions) (sttprovider.Connection, error) {
	c := &pipelineSTTConn{events: make(chan sttprovider.Event, 8)}
	c.events <- sttprovider.Event{Type: sttprovider.EventSessionStarted}
	return c, nil
}

type pipelineSTTConn struct {
	events chan sttprovider.Event
	once   sync.Once
}

func (c *pipelineSTTConn) SendAudio(ctx context.Context, pcm16 []byte) error {
	c.events <- sttprovider.Event{Type: sttprovider.EventTranscript, Text: "I need to reset my password", IsFinal: true}
	return nil
}
func (c *pipelineSTTConn) Events() <-chan sttprovider.Event { return c.events }
func (c *pipelineSTTConn) Close() error {
	c.once.Do(func() { close(c.events) })
	return nil
}

// TestPipeline_IngestToWorkerToTranscript wires ingest and the ASR worker
// onto one bus the way the deployed binaries do: the worker holds a single
// subscription on the shared audio topic, and a tenant-scoped start event
// must still reach it. Audio published anywhere the worker isn't
// subscribed would make this test time out.
func TestPipeline_IngestToWorkerToTranscript(t *testing.T) {
	bus := pubsub.NewMemoryBus()
	defer bus.Close()
	reg := newFakeRegistry()
	_, ts := newTestServer(t, bus, reg)
	defer ts.Close()

	worker := asr.NewWorker(logging.NewNop(), bus, pipelineSTTProvider{}, asr.Config{IdleClose: time.Hour})
	_, err := bus.Subscribe(context.Background(), pubsub.AudioTopic(""), "asrworker", func(ctx context.Context, msg pubsub.Message) error {
		var frame model.AudioFrame
		if decodeErr := json.Unmarshal(msg.Envelope.Payload, &frame); decodeErr != nil {
			return nil
		}
		return worker.SendAudioChunk(ctx, frame)
	})
	require.NoError(t, err)

	var mu sync.Mutex
	var transcripts []model.Transcript
	_, err = bus.Subscribe(context.Background(), pubsub.TranscriptTopic("call-6"), "consumer", func(ctx context.Context, msg pubsub.Message) error {
		var tr model.Transcript
		if decodeErr := json.Unmarshal(msg.Envelope.Payload, &tr); decodeErr == nil {
			mu.Lock()
			transcripts = append(transcripts, tr)
			mu.Unlock()
		}
		return nil
	})
	require.NoError(t, err)

	conn := dialWS(t, ts)
	defer conn.Close()

	start := startEvent{Event: "start", CallSid: "call-6", AccountSid: "tenant-b", MediaFormat: mediaFormat{Encoding: "pcm16", SampleRate: 8000}}
	require.NoError(t, conn.WriteJSON(start))

	// 30 frames = 600ms of audio, past the worker's 500ms warm-up trigger.
	for i, f := range sinePCM16(30, 8000) {
		media := mediaEvent{Event: "media", Media: mediaPayload{Chunk: int64(i + 1), Payload: base64.StdEncoding.EncodeToString(f)}}
		require.NoError(t, conn.WriteJSON(media))
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(transcripts)
		mu.Unlock()
		if n > 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, transcripts, "a tenant-scoped call's audio must reach the worker's shared-topic subscription")
	require.Equal(t, "call-6", transcripts[0].InteractionID)
	require.Equal(t, "I need to reset my password", transcripts[0].Text)
	require.Equal(t, int64(1), worker.Metrics.ConnectionsCreated.Load())
}
