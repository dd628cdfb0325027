// Package pubsub provides a typed publish/subscribe abstraction over three
// interchangeable backings: Redis Streams (consumer groups, at-least-once,
// explicit ack), Kafka (consumer groups, auto-commit), and an in-memory
// backing for tests. All three speak the same Bus interface so components
// never know which one they're talking to.
package pubsub

import (
	"context"

	"github.com/rapidaai/exo-agent-assist/internal/model"
)

// Handler processes one Envelope delivered on a subscription. A non-nil
// return means "do not ack" — the message is redelivered per the backing's
// retry semantics.
type Handler func(ctx context.Context, msg Message) error

// Message pairs a delivered Envelope with its backing-specific id, so a
// caller can Ack it independently of processing.
type Message struct {
	ID       string
	Envelope model.Envelope
}

// Subscription is returned by Subscribe; Close stops delivery. The Redis
// Streams and Kafka subscriptions' Close also blocks until any in-flight
// handler invocation has returned; the memory subscription's Close does
// not wait for in-flight handlers.
type Subscription interface {
	Close() error
}

// Bus is the pluggable pub/sub interface every component programs against.
type Bus interface {
	// Publish appends msg to topic and returns a backing-assigned message id.
	Publish(ctx context.Context, topic string, env model.Envelope) (string, error)

	// Subscribe registers handler to be invoked once per message delivered
	// on topic, as part of consumer group group (the memory backing
	// delivers each message once per distinct group on the topic).
	Subscribe(ctx context.Context, topic, group string, handler Handler) (Subscription, error)

	// Ack acknowledges a message previously delivered to a handler as
	// processed. Backings without explicit ack (Kafka auto-commit, memory)
	// treat this as a no-op.
	Ack(ctx context.Context, topic, group, msgID string) error

	// Close releases the backing's connections. Implementations must drain
	// in-flight handlers before returning.
	Close() error
}

// Topic name helpers, kept centralized so every component agrees on the
// exact string shape.
func AudioTopic(tenantID string) string {
	if tenantID == "" {
		return "audio_stream"
	}
	return "audio." + tenantID
}

// TranscriptTopic is a single shared topic across every call: the consumer
// process subscribes to it once and demuxes by Envelope.InteractionID,
// rather than opening one stream/partition per call. interactionID is
// accepted (and ignored) so call sites read the same way as AudioTopic and
// can move to per-tenant sharding later without changing their call shape.
func TranscriptTopic(interactionID string) string {
	return "transcript_stream"
}

func IntentTopic(interactionID string) string {
	return "intent_stream"
}

const CallEndTopic = "call_end"
