package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rapidaai/exo-agent-assist/internal/logging"
	"github.com/rapidaai/exo-agent-assist/internal/model"
)

const streamField = "envelope"

// StreamsBus is the primary Transport backing: one Redis Stream per topic,
// consumer groups for at-least-once delivery, pending-entries list for
// unacked messages, automatic group creation on first subscribe.
type StreamsBus struct {
	client *redis.Client
	logger logging.Logger
	consumerName string

	mu   sync.Mutex
	subs []*streamSubscription
}

// NewStreamsBus wires a Bus on top of an existing redis client, following
// the client-construction convention used across the pack (client injected,
// not dialed inside the bus).
func NewStreamsBus(client *redis.Client, logger logging.Logger, consumerName string) *StreamsBus {
	return &StreamsBus{client: client, logger: logger, consumerName: consumerName}
}

func (b *StreamsBus) Publish(ctx context.Context, topic string, env model.Envelope) (string, error) {
	payload, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("streams bus: marshal envelope: %w", err)
	}
	id, err := b.client.XAdd(ctx, &redis.XAddArgs{
		Stream: topic,
		Values: map[string]any{streamField: payload},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("streams bus: xadd %s: %w", topic, err)
	}
	return id, nil
}

func (b *StreamsBus) Subscribe(ctx context.Context, topic, group string, handler Handler) (Subscription, error) {
	if err := b.ensureGroup(ctx, topic, group); err != nil {
		return nil, err
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &streamSubscription{bus: b, topic: topic, group: group, cancel: cancel, done: make(chan struct{})}

	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()

	go b.consumeLoop(subCtx, topic, group, handler, sub)
	return sub, nil
}

func (b *StreamsBus) ensureGroup(ctx context.Context, topic, group string) error {
	err := b.client.XGroupCreateMkStream(ctx, topic, group, "0").Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		// BUSYGROUP means the group already exists — not an error for us.
		if !isBusyGroup(err) {
			return fmt.Errorf("streams bus: create group %s/%s: %w", topic, group, err)
		}
	}
	return nil
}

func isBusyGroup(err error) bool {
	return err != nil && len(err.Error()) >= 9 && err.Error()[:9] == "BUSYGROUP"
}

func (b *StreamsBus) consumeLoop(ctx context.Context, topic, group string, handler Handler, sub *streamSubscription) {
	defer close(sub.done)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		res, err := b.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    group,
			Consumer: b.consumerName,
			Streams:  []string{topic, ">"},
			Count:    50,
			Block:    2 * time.Second,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) || errors.Is(ctx.Err(), context.Canceled) {
				continue
			}
			b.logger.Warnf("streams bus: xreadgroup %s/%s: %v", topic, group, err)
			time.Sleep(200 * time.Millisecond)
			continue
		}

		for _, stream := range res {
			for _, msg := range stream.Messages {
				b.handleOne(ctx, topic, group, handler, msg)
			}
		}
	}
}

func (b *StreamsBus) handleOne(ctx context.Context, topic, group string, handler Handler, msg redis.XMessage) {
	raw, _ := msg.Values[streamField].(string)
	var env model.Envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		b.logger.Warnf("streams bus: undecodable message %s on %s, dropping", msg.ID, topic)
		// Protocol-kind failure: drop (ack so it isn't redelivered forever)
		// and count via the log line above.
		_ = b.client.XAck(ctx, topic, group, msg.ID).Err()
		return
	}

	if err := handler(ctx, Message{ID: msg.ID, Envelope: env}); err != nil {
		b.logger.Warnf("streams bus: handler error on %s/%s msg %s: %v", topic, group, msg.ID, err)
		// Do not ack: the message stays in the pending-entries list and is
		// redelivered to the group (possibly by another consumer).
		return
	}

	if err := b.client.XAck(ctx, topic, group, msg.ID).Err(); err != nil {
		b.logger.Warnf("streams bus: ack failed %s/%s msg %s: %v", topic, group, msg.ID, err)
	}
}

func (b *StreamsBus) Ack(ctx context.Context, topic, group, msgID string) error {
	return b.client.XAck(ctx, topic, group, msgID).Err()
}

func (b *StreamsBus) Close() error {
	b.mu.Lock()
	subs := append([]*streamSubscription(nil), b.subs...)
	b.mu.Unlock()

	for _, s := range subs {
		_ = s.Close()
	}
	return b.client.Close()
}

type streamSubscription struct {
	bus    *StreamsBus
	topic  string
	group  string
	cancel context.CancelFunc
	done   chan struct{}
}

// Close cancels the consume loop and blocks until its current XReadGroup
// call and any in-flight handler invocation have returned, per the Bus
// contract that Close() drains in-flight handlers.
func (s *streamSubscription) Close() error {
	s.cancel()
	<-s.done
	return nil
}
