package ingest

import (
	"testing"
	"time"

	"github.com/rapidaai/exo-agent-assist/internal/model"
)

func TestBoundedBuffer_EvictsFramesOlderThanMaxAge(t *testing.T) {
	b := newBoundedBuffer(50 * time.Millisecond)
	fakeNow := time.Now()
	b.now = func() time.Time { return fakeNow }

	b.push(model.AudioFrame{Seq: 1})
	fakeNow = fakeNow.Add(20 * time.Millisecond)
	b.push(model.AudioFrame{Seq: 2})
	fakeNow = fakeNow.Add(40 * time.Millisecond) // frame 1 now 60ms old, frame 2 40ms old

	dropped := b.evictStale()
	if dropped != 1 {
		t.Fatalf("evictStale dropped %d, want 1", dropped)
	}
	if b.depth() != 1 {
		t.Fatalf("depth after eviction = %d, want 1", b.depth())
	}
	oldest, ok := b.peekOldest()
	if !ok || oldest.Seq != 2 {
		t.Fatalf("surviving frame = %+v, want seq 2", oldest)
	}
}

func TestBoundedBuffer_DrainsOldestFirst(t *testing.T) {
	b := newBoundedBuffer(time.Second)
	b.push(model.AudioFrame{Seq: 1})
	b.push(model.AudioFrame{Seq: 2})
	b.push(model.AudioFrame{Seq: 3})

	var order []uint64
	for b.depth() > 0 {
		f, ok := b.peekOldest()
		if !ok {
			break
		}
		order = append(order, f.Seq)
		b.popOldest()
	}
	want := []uint64{1, 2, 3}
	if len(order) != len(want) {
		t.Fatalf("drain order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("drain order = %v, want %v", order, want)
		}
	}
}
