package asr

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEvaluateSendTrigger_WarmUpRequiresFullThreshold(t *testing.T) {
	s := newInteractionState("call-1", "tenant-a")
	s.sampleRate = 8000
	s.sampleRateSet = true

	now := time.Now()
	s.buffer = make([]byte, int(bytesPerMs(8000)*400)) // 400ms < 500ms warm-up
	assert.False(t, evaluateSendTriggerLocked(s, now, 20*time.Millisecond))

	s.buffer = make([]byte, int(bytesPerMs(8000)*500))
	assert.True(t, evaluateSendTriggerLocked(s, now, 20*time.Millisecond))
}

func TestEvaluateSendTrigger_SteadyStateAccumulatedAudio(t *testing.T) {
	s := newInteractionState("call-1", "tenant-a")
	s.sampleRate = 8000
	s.sampleRateSet = true
	s.warmedUp = true
	s.lastSendAt = time.Now()

	now := s.lastSendAt.Add(50 * time.Millisecond)
	s.buffer = make([]byte, int(bytesPerMs(8000)*200)) // hits the 200ms accumulated trigger
	assert.True(t, evaluateSendTriggerLocked(s, now, 20*time.Millisecond))
}

func TestEvaluateSendTrigger_SteadyStateTimeSinceLastSend(t *testing.T) {
	s := newInteractionState("call-1", "tenant-a")
	s.sampleRate = 8000
	s.sampleRateSet = true
	s.warmedUp = true
	s.lastSendAt = time.Now().Add(-600 * time.Millisecond)

	// Buffer is tiny (well under the 200ms accumulated trigger) and the
	// inter-frame gap is small, but time-since-last-send alone must still
	// fire — this is the condition the spec calls out as easy to forget.
	s.buffer = make([]byte, 10)
	assert.True(t, evaluateSendTriggerLocked(s, time.Now(), 20*time.Millisecond))
}

func TestEvaluateSendTrigger_SteadyStateNoTriggerYet(t *testing.T) {
	s := newInteractionState("call-1", "tenant-a")
	s.sampleRate = 8000
	s.sampleRateSet = true
	s.warmedUp = true
	s.lastSendAt = time.Now()

	s.buffer = make([]byte, 10)
	assert.False(t, evaluateSendTriggerLocked(s, time.Now(), 20*time.Millisecond))
}

func TestEvaluateSendTrigger_IdleGapTriggersImmediateFlush(t *testing.T) {
	s := newInteractionState("call-1", "tenant-a")
	s.sampleRate = 8000
	s.sampleRateSet = true
	s.warmedUp = true
	s.lastSendAt = time.Now()

	s.buffer = make([]byte, 10)
	assert.True(t, evaluateSendTriggerLocked(s, time.Now(), 600*time.Millisecond))
}
