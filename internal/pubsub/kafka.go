package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	kafka "github.com/segmentio/kafka-go"

	"github.com/rapidaai/exo-agent-assist/internal/logging"
	"github.com/rapidaai/exo-agent-assist/internal/model"
)

// KafkaBus is the partitioned-log Transport backing: consumer group,
// auto-commit after the handler returns without error.
type KafkaBus struct {
	brokers []string
	logger  logging.Logger

	writersMu sync.Mutex
	writers   map[string]*kafka.Writer

	mu   sync.Mutex
	subs []*kafkaSubscription
}

func NewKafkaBus(brokers []string, logger logging.Logger) *KafkaBus {
	return &KafkaBus{brokers: brokers, logger: logger, writers: make(map[string]*kafka.Writer)}
}

func (b *KafkaBus) writerFor(topic string) *kafka.Writer {
	b.writersMu.Lock()
	defer b.writersMu.Unlock()
	if w, ok := b.writers[topic]; ok {
		return w
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(b.brokers...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: kafka.RequireOne,
	}
	b.writers[topic] = w
	return w
}

func (b *KafkaBus) Publish(ctx context.Context, topic string, env model.Envelope) (string, error) {
	payload, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("kafka bus: marshal envelope: %w", err)
	}
	key := []byte(env.InteractionID)
	msg := kafka.Message{Key: key, Value: payload}
	if err := b.writerFor(topic).WriteMessages(ctx, msg); err != nil {
		return "", fmt.Errorf("kafka bus: write %s: %w", topic, err)
	}
	// Kafka has no single-message id concept the way Streams does; the
	// (topic, partition, key) triple plus at-least-once idempotent
	// consumers covers the spec's ack-ability requirement without one.
	return env.InteractionID, nil
}

func (b *KafkaBus) Subscribe(ctx context.Context, topic, group string, handler Handler) (Subscription, error) {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers: b.brokers,
		Topic:   topic,
		GroupID: group,
	})

	subCtx, cancel := context.WithCancel(ctx)
	sub := &kafkaSubscription{reader: reader, cancel: cancel, done: make(chan struct{})}

	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()

	go b.consumeLoop(subCtx, topic, handler, sub)
	return sub, nil
}

func (b *KafkaBus) consumeLoop(ctx context.Context, topic string, handler Handler, sub *kafkaSubscription) {
	defer close(sub.done)
	for {
		msg, err := sub.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			b.logger.Warnf("kafka bus: fetch %s: %v", topic, err)
			continue
		}

		var env model.Envelope
		if err := json.Unmarshal(msg.Value, &env); err != nil {
			b.logger.Warnf("kafka bus: undecodable message on %s, skipping offset %d", topic, msg.Offset)
			_ = sub.reader.CommitMessages(ctx, msg)
			continue
		}

		msgID := fmt.Sprintf("%s-%d-%d", topic, msg.Partition, msg.Offset)
		if err := handler(ctx, Message{ID: msgID, Envelope: env}); err != nil {
			b.logger.Warnf("kafka bus: handler error on %s offset %d: %v", topic, msg.Offset, err)
			// Auto-commit semantics: do not commit on handler error, the
			// message is re-fetched on the next FetchMessage of this
			// partition after a rebalance or restart.
			continue
		}

		if err := sub.reader.CommitMessages(ctx, msg); err != nil {
			b.logger.Warnf("kafka bus: commit %s offset %d: %v", topic, msg.Offset, err)
		}
	}
}

// Ack is a no-op: Kafka's delivery unit commits automatically after a
// successful handler return inside consumeLoop.
func (b *KafkaBus) Ack(ctx context.Context, topic, group, msgID string) error { return nil }

func (b *KafkaBus) Close() error {
	b.mu.Lock()
	subs := append([]*kafkaSubscription(nil), b.subs...)
	b.mu.Unlock()
	for _, s := range subs {
		_ = s.Close()
	}

	b.writersMu.Lock()
	defer b.writersMu.Unlock()
	for _, w := range b.writers {
		_ = w.Close()
	}
	return nil
}

type kafkaSubscription struct {
	reader *kafka.Reader
	cancel context.CancelFunc
	done   chan struct{}
}

func (s *kafkaSubscription) Close() error {
	s.cancel()
	<-s.done
	return s.reader.Close()
}
