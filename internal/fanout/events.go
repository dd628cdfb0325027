// Package fanout implements the browser-facing Server-Sent-Events layer:
// a per-call (or global) client registry, a broadcaster with snapshot-then-
// send semantics, and a gin handler for the long-lived stream endpoint.
//
// Grounded on the WebSocket connection manager in
// codeready-toolchain-tarsy's pkg/events/manager.go: the register/
// unregister-under-lock, snapshot-connections-before-sending-outside-the-
// lock broadcast shape, and the single-writer-per-connection invariant
// carry over directly. This package differs from that donor in two ways
// the domain requires: transport is SSE over one-way HTTP rather than a
// bidirectional WebSocket (so there is no client->server message loop,
// subscribe/unsubscribe confirmation, or LISTEN/UNLISTEN bridging), and
// catch-up replays the in-process transcript cache instead of querying a
// Postgres NOTIFY backlog table.
package fanout

import (
	"encoding/json"
	"time"
)

// EventType names the SSE event kinds this package emits.
type EventType string

const (
	EventConnection     EventType = "connection"
	EventTranscriptLine EventType = "transcript_line"
	EventIntentUpdate   EventType = "intent_update"
	EventCallEnd        EventType = "call_end"
)

// Event is the payload handed to Broadcast. CallID selects which clients
// receive it: clients registered under the empty (global) bucket receive
// every event; clients registered under a specific callId receive only
// events whose CallID matches.
type Event struct {
	Type    EventType
	CallID  string
	Payload map[string]any
}

// frame renders the SSE wire format: "event: <type>\ndata: <json>\n\n".
func (e Event) frame() ([]byte, error) {
	body := make(map[string]any, len(e.Payload)+1)
	for k, v := range e.Payload {
		body[k] = v
	}
	body["type"] = string(e.Type)
	body["callId"] = e.CallID

	data, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, len(data)+len(e.Type)+16)
	out = append(out, "event: "...)
	out = append(out, e.Type...)
	out = append(out, "\ndata: "...)
	out = append(out, data...)
	out = append(out, "\n\n"...)
	return out, nil
}

// ConnectionEvent builds the opening "connection" event sent immediately
// on every new subscription.
func ConnectionEvent(callID string) Event {
	return Event{
		Type:   EventConnection,
		CallID: callID,
		Payload: map[string]any{
			"message":   "connected",
			"timestamp": time.Now().UnixMilli(),
		},
	}
}

// TranscriptLineEvent builds a transcript_line event from cached fields.
func TranscriptLineEvent(callID string, seq uint64, ts time.Time, text, speaker string) Event {
	return Event{
		Type:   EventTranscriptLine,
		CallID: callID,
		Payload: map[string]any{
			"seq":     seq,
			"ts":      ts.UnixMilli(),
			"text":    text,
			"speaker": speaker,
		},
	}
}

// IntentUpdateEvent builds an intent_update event.
func IntentUpdateEvent(callID string, seq uint64, intent string, confidence float64, articles []map[string]any) Event {
	return Event{
		Type:   EventIntentUpdate,
		CallID: callID,
		Payload: map[string]any{
			"seq":        seq,
			"intent":     intent,
			"confidence": confidence,
			"articles":   articles,
		},
	}
}

// CallEndEvent builds a call_end event.
func CallEndEvent(callID, reason string) Event {
	return Event{
		Type:   EventCallEnd,
		CallID: callID,
		Payload: map[string]any{
			"reason": reason,
		},
	}
}
