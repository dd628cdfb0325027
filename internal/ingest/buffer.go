package ingest

import (
	"sync"
	"time"

	"github.com/rapidaai/exo-agent-assist/internal/model"
)

type bufferedFrame struct {
	frame      model.AudioFrame
	bufferedAt time.Time
}

// boundedBuffer is the per-connection bounded buffer spec.md §4.1
// describes: sized by wall-clock duration (maxAge), not frame count.
// Frames are held oldest-first; once the oldest frame's age exceeds
// maxAge it is dropped rather than published late, since a transcript
// built from stale audio is worse than a gap.
type boundedBuffer struct {
	mu     sync.Mutex
	frames []bufferedFrame
	maxAge time.Duration
	now    func() time.Time
}

func newBoundedBuffer(maxAge time.Duration) *boundedBuffer {
	return &boundedBuffer{maxAge: maxAge, now: time.Now}
}

// evictStale drops every frame whose age exceeds maxAge and returns how
// many were dropped, so the caller can attribute them to buffer_drops.
func (b *boundedBuffer) evictStale() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	i := 0
	for i < len(b.frames) && now.Sub(b.frames[i].bufferedAt) > b.maxAge {
		i++
	}
	b.frames = b.frames[i:]
	return i
}

func (b *boundedBuffer) push(frame model.AudioFrame) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.frames = append(b.frames, bufferedFrame{frame: frame, bufferedAt: b.now()})
}

// peekOldest returns the oldest buffered frame without removing it.
func (b *boundedBuffer) peekOldest() (model.AudioFrame, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.frames) == 0 {
		return model.AudioFrame{}, false
	}
	return b.frames[0].frame, true
}

// popOldest removes the oldest buffered frame; called once it has been
// successfully published.
func (b *boundedBuffer) popOldest() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.frames) == 0 {
		return
	}
	b.frames = b.frames[1:]
}

func (b *boundedBuffer) depth() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.frames)
}
