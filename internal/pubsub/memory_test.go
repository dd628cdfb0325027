package pubsub

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rapidaai/exo-agent-assist/internal/model"
)

func TestMemoryBus_DeliversToEachGroupOnce(t *testing.T) {
	bus := NewMemoryBus()
	defer bus.Close()

	var mu sync.Mutex
	var groupACount, groupBCount int

	_, err := bus.Subscribe(context.Background(), "topic.x", "group-a", func(ctx context.Context, msg Message) error {
		mu.Lock()
		groupACount++
		mu.Unlock()
		return nil
	})
	require.NoError(t, err)

	_, err = bus.Subscribe(context.Background(), "topic.x", "group-b", func(ctx context.Context, msg Message) error {
		mu.Lock()
		groupBCount++
		mu.Unlock()
		return nil
	})
	require.NoError(t, err)

	_, err = bus.Publish(context.Background(), "topic.x", model.Envelope{InteractionID: "call-1"})
	require.NoError(t, err)

	assert.Equal(t, 1, groupACount)
	assert.Equal(t, 1, groupBCount)
}

func TestMemoryBus_UnsubscribeStopsDelivery(t *testing.T) {
	bus := NewMemoryBus()
	defer bus.Close()

	calls := 0
	sub, err := bus.Subscribe(context.Background(), "topic.y", "g", func(ctx context.Context, msg Message) error {
		calls++
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, sub.Close())

	_, err = bus.Publish(context.Background(), "topic.y", model.Envelope{InteractionID: "call-2"})
	require.NoError(t, err)

	assert.Equal(t, 0, calls)
}
