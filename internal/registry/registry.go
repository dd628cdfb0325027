// Package registry implements the Call Registry: a key-value store with
// TTL keyed by interaction_id, backing the dashboard's auto-discovery
// poll. Built on go-redis/v9, following the key-builder + pipelined-write
// conventions used for conversation state storage in the retrieval pack
// (AltairaLabs-PromptKit's runtime/statestore/redis.go), adapted from
// conversation state to call lifecycle entries and from a set-based index
// to a sorted set so ListActive can return entries ordered by recency
// without a separate fetch-then-sort pass.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rapidaai/exo-agent-assist/internal/model"
)

const defaultTTL = time.Hour

// Registry is the interface the ingest and HTTP API program against.
type Registry interface {
	Register(ctx context.Context, entry model.CallRegistryEntry) error
	Touch(ctx context.Context, id string) error
	MarkEnded(ctx context.Context, id string) error
	Get(ctx context.Context, id string) (*model.CallRegistryEntry, error)
	ListActive(ctx context.Context, limit int) ([]model.CallRegistryEntry, error)
}

// RedisRegistry is the primary implementation.
type RedisRegistry struct {
	client *redis.Client
	ttl    time.Duration
	now    func() time.Time
}

func NewRedisRegistry(client *redis.Client) *RedisRegistry {
	return &RedisRegistry{client: client, ttl: defaultTTL, now: time.Now}
}

const activeIndexKey = "call_registry:active"

func entryKey(id string) string { return "call_registry:entry:" + id }

func (r *RedisRegistry) Register(ctx context.Context, entry model.CallRegistryEntry) error {
	entry.Status = model.CallActive
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("registry: marshal entry %s: %w", entry.InteractionID, err)
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, entryKey(entry.InteractionID), payload, r.ttl)
	pipe.ZAdd(ctx, activeIndexKey, redis.Z{Score: float64(entry.LastActivityAt.Unix()), Member: entry.InteractionID})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("registry: register %s: %w", entry.InteractionID, err)
	}
	return nil
}

// Touch updates last_activity_at to now and resets the key's TTL, without
// modifying started_at. Idempotent: calling it K times in a row leaves
// started_at untouched and last_activity_at at the most recent call's
// time (invariant tested in registry_test.go).
func (r *RedisRegistry) Touch(ctx context.Context, id string) error {
	entry, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	if entry == nil {
		return fmt.Errorf("registry: touch %s: not found", id)
	}

	entry.LastActivityAt = r.now()
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("registry: marshal entry %s: %w", id, err)
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, entryKey(id), payload, r.ttl)
	if entry.Status == model.CallActive {
		pipe.ZAdd(ctx, activeIndexKey, redis.Z{Score: float64(entry.LastActivityAt.Unix()), Member: id})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("registry: touch %s: %w", id, err)
	}
	return nil
}

func (r *RedisRegistry) MarkEnded(ctx context.Context, id string) error {
	entry, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	if entry == nil {
		return fmt.Errorf("registry: mark ended %s: not found", id)
	}

	entry.Status = model.CallEnded
	entry.LastActivityAt = r.now()
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("registry: marshal entry %s: %w", id, err)
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, entryKey(id), payload, r.ttl)
	pipe.ZRem(ctx, activeIndexKey, id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("registry: mark ended %s: %w", id, err)
	}
	return nil
}

func (r *RedisRegistry) Get(ctx context.Context, id string) (*model.CallRegistryEntry, error) {
	payload, err := r.client.Get(ctx, entryKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("registry: get %s: %w", id, err)
	}

	var entry model.CallRegistryEntry
	if err := json.Unmarshal(payload, &entry); err != nil {
		return nil, fmt.Errorf("registry: unmarshal %s: %w", id, err)
	}
	return &entry, nil
}

// ListActive returns active entries ordered by last_activity_at
// descending, via the sorted set index plus a pipelined fan-out GET —
// the same pipelined-read-for-sorting shape used for conversation listing
// in the donor Redis store.
func (r *RedisRegistry) ListActive(ctx context.Context, limit int) ([]model.CallRegistryEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	ids, err := r.client.ZRevRange(ctx, activeIndexKey, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("registry: list active index: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	pipe := r.client.Pipeline()
	cmds := make([]*redis.StringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.Get(ctx, entryKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("registry: list active fetch: %w", err)
	}

	out := make([]model.CallRegistryEntry, 0, len(ids))
	for i, cmd := range cmds {
		payload, err := cmd.Bytes()
		if err != nil {
			// Entry expired between the ZREVRANGE read and this GET, or
			// was concurrently removed — drop it from the index and skip.
			r.client.ZRem(ctx, activeIndexKey, ids[i])
			continue
		}
		var entry model.CallRegistryEntry
		if err := json.Unmarshal(payload, &entry); err != nil {
			continue
		}
		out = append(out, entry)
	}
	return out, nil
}
