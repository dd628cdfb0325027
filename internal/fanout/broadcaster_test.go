package fanout

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rapidaai/exo-agent-assist/internal/logging"
)

func TestEventFrame_WireFormat(t *testing.T) {
	frame, err := TranscriptLineEvent("call-1", 3, time.Now(), "hello", "customer").frame()
	require.NoError(t, err)

	s := string(frame)
	require.True(t, strings.HasPrefix(s, "event: transcript_line\ndata: "))
	require.True(t, strings.HasSuffix(s, "\n\n"))

	dataLine := strings.TrimSuffix(strings.TrimPrefix(s, "event: transcript_line\ndata: "), "\n\n")
	var body map[string]any
	require.NoError(t, json.Unmarshal([]byte(dataLine), &body))
	assert.Equal(t, "transcript_line", body["type"])
	assert.Equal(t, "call-1", body["callId"])
	assert.Equal(t, "hello", body["text"])
	assert.Equal(t, float64(3), body["seq"])
}

func TestBroadcast_MatchesCallIDAndGlobalBucket(t *testing.T) {
	b := NewBroadcaster(logging.NewNop())

	matching := b.Register("call-1")
	other := b.Register("call-2")
	global := b.Register("")
	defer b.Unregister(matching)
	defer b.Unregister(other)
	defer b.Unregister(global)

	b.Broadcast(CallEndEvent("call-1", "stopped"))

	assert.Len(t, matching.frames, 1, "client subscribed to the event's call receives it")
	assert.Len(t, global.frames, 1, "global-bucket client receives every event")
	assert.Len(t, other.frames, 0, "client subscribed to a different call does not")
}

func TestBroadcast_SlowClientIsRemoved(t *testing.T) {
	b := NewBroadcaster(logging.NewNop())

	slow := b.Register("call-1")
	for i := 0; i < clientSendBuffer; i++ {
		require.True(t, slow.enqueue([]byte("x")))
	}

	b.Broadcast(CallEndEvent("call-1", "stopped"))

	b.mu.RLock()
	_, stillRegistered := b.clients[slow.id]
	b.mu.RUnlock()
	assert.False(t, stillRegistered, "a client with a full send buffer is dropped")
	assert.True(t, slow.closed.Load())
}
