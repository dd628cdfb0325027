package registry

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/rapidaai/exo-agent-assist/internal/model"
)

// TestTouch_IdempotentKeepsStartedAt covers invariant #4: Touch advances
// last_activity_at on every call while started_at never moves, and the
// key's TTL is refreshed each time. The registry's clock is overridden so
// every timestamp involved is exact and the Redis expectations can assert
// on concrete values instead of wildcards.
func TestTouch_IdempotentKeepsStartedAt(t *testing.T) {
	client, mock := redismock.NewClientMock()
	r := NewRedisRegistry(client)

	started := time.Date(2026, 7, 31, 10, 0, 0, 0, time.UTC)
	ticks := []time.Time{
		started.Add(1 * time.Minute),
		started.Add(3 * time.Minute),
		started.Add(9 * time.Minute),
	}

	stored := model.CallRegistryEntry{
		InteractionID:  "call-1",
		TenantID:       "tenant-a",
		StartedAt:      started,
		LastActivityAt: started,
		Status:         model.CallActive,
	}

	for _, tick := range ticks {
		tick := tick
		r.now = func() time.Time { return tick }

		payload, err := json.Marshal(stored)
		require.NoError(t, err)
		mock.ExpectGet(entryKey("call-1")).SetVal(string(payload))

		want := stored
		want.LastActivityAt = tick
		wantPayload, err := json.Marshal(want)
		require.NoError(t, err)

		mock.ExpectTxPipeline()
		mock.ExpectSet(entryKey("call-1"), wantPayload, defaultTTL).SetVal("OK")
		mock.ExpectZAdd(activeIndexKey, redis.Z{Score: float64(tick.Unix()), Member: "call-1"}).SetVal(1)
		mock.ExpectTxPipelineExec()

		require.NoError(t, r.Touch(context.Background(), "call-1"))

		stored.LastActivityAt = tick
	}

	require.Equal(t, started, stored.StartedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRegister_SeedsEntryAndActiveIndex(t *testing.T) {
	client, mock := redismock.NewClientMock()
	r := NewRedisRegistry(client)
	fixed := time.Date(2026, 7, 31, 9, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return fixed }

	entry := model.CallRegistryEntry{
		InteractionID:  "call-2",
		TenantID:       "tenant-b",
		StartedAt:      fixed,
		LastActivityAt: fixed,
	}
	want := entry
	want.Status = model.CallActive
	wantPayload, err := json.Marshal(want)
	require.NoError(t, err)

	mock.ExpectTxPipeline()
	mock.ExpectSet(entryKey("call-2"), wantPayload, defaultTTL).SetVal("OK")
	mock.ExpectZAdd(activeIndexKey, redis.Z{Score: float64(fixed.Unix()), Member: "call-2"}).SetVal(1)
	mock.ExpectTxPipelineExec()

	require.NoError(t, r.Register(context.Background(), entry))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGet_MissingKeyReturnsNilWithoutError(t *testing.T) {
	client, mock := redismock.NewClientMock()
	r := NewRedisRegistry(client)

	mock.ExpectGet(entryKey("ghost")).RedisNil()

	got, err := r.Get(context.Background(), "ghost")
	require.NoError(t, err)
	require.Nil(t, got)
	require.NoError(t, mock.ExpectationsWereMet())
}
