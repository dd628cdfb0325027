package pubsub

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rapidaai/exo-agent-assist/internal/model"
)

// MemoryBus delivers messages synchronously, in-process. It exists for
// tests and for the in-memory Transport backing named in the spec; ack is a
// no-op since there is nothing to redeliver from.
type MemoryBus struct {
	mu   sync.RWMutex
	subs map[string][]*memorySub
	seq  atomic.Uint64

	closing atomic.Bool
	wg      sync.WaitGroup
}

type memorySub struct {
	group   string
	handler Handler
	closed  atomic.Bool
}

func NewMemoryBus() *MemoryBus {
	return &MemoryBus{subs: make(map[string][]*memorySub)}
}

func (b *MemoryBus) Publish(ctx context.Context, topic string, env model.Envelope) (string, error) {
	if b.closing.Load() {
		return "", fmt.Errorf("memory bus: publish after close")
	}
	id := fmt.Sprintf("mem-%d", b.seq.Add(1))

	b.mu.RLock()
	subs := append([]*memorySub(nil), b.subs[topic]...)
	b.mu.RUnlock()

	// Deliver once per distinct consumer group, to the first non-closed
	// subscriber in that group — mirroring "handler invoked once per
	// message; consumer-group semantics when supported".
	delivered := map[string]bool{}
	for _, s := range subs {
		if s.closed.Load() {
			continue
		}
		if s.group != "" && delivered[s.group] {
			continue
		}
		delivered[s.group] = true

		b.wg.Add(1)
		func() {
			defer b.wg.Done()
			_ = s.handler(ctx, Message{ID: id, Envelope: env})
		}()
	}
	return id, nil
}

func (b *MemoryBus) Subscribe(ctx context.Context, topic, group string, handler Handler) (Subscription, error) {
	sub := &memorySub{group: group, handler: handler}
	b.mu.Lock()
	b.subs[topic] = append(b.subs[topic], sub)
	b.mu.Unlock()
	return &memorySubscription{bus: b, topic: topic, sub: sub}, nil
}

func (b *MemoryBus) Ack(ctx context.Context, topic, group, msgID string) error { return nil }

func (b *MemoryBus) Close() error {
	b.closing.Store(true)
	b.wg.Wait()
	return nil
}

type memorySubscription struct {
	bus   *MemoryBus
	topic string
	sub   *memorySub
}

func (s *memorySubscription) Close() error {
	s.sub.closed.Store(true)
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	list := s.bus.subs[s.topic]
	for i, candidate := range list {
		if candidate == s.sub {
			s.bus.subs[s.topic] = append(list[:i], list[i+1:]...)
			break
		}
	}
	return nil
}
