// Package ingest terminates the telephony provider's WebSocket, speaks its
// Exotel-shaped JSON event protocol, decodes base64 PCM16 payloads, and
// publishes AudioFrames to the bus. Grounded on the Exotel/Twilio Media
// Streams JSON shapes seen in two other_examples/ files (the Lexiq-AI
// stream manager and a troikatech-style Exotel voicebot handler) and on
// the teacher's functional-options channel/telephony/internal/base
// package for config shape.
package ingest

import "encoding/json"

// wireEvent is the envelope every inbound message shares: only the Event
// field is guaranteed present; the rest is parsed per event type.
type wireEvent struct {
	Event string `json:"event"`
}

// mediaFormat describes the declared audio shape on a start event.
type mediaFormat struct {
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sample_rate"`
}

// startEvent opens a stream: the provider's call_sid becomes this
// system's interaction_id for every downstream component.
type startEvent struct {
	Event       string      `json:"event"`
	StreamSid   string      `json:"stream_sid"`
	CallSid     string      `json:"call_sid"`
	AccountSid  string      `json:"account_sid"`
	From        string      `json:"from"`
	To          string      `json:"to"`
	MediaFormat mediaFormat `json:"media_format"`
}

// mediaPayload carries one ~20ms base64 PCM16 chunk.
type mediaPayload struct {
	Chunk     int64  `json:"chunk"`
	Timestamp string `json:"timestamp"`
	Payload   string `json:"payload"`
}

type mediaEvent struct {
	Event     string       `json:"event"`
	StreamSid string       `json:"stream_sid"`
	Media     mediaPayload `json:"media"`
}

// stopEvent closes a stream; Reason is "stopped" or "callended".
type stopEvent struct {
	Event     string `json:"event"`
	StreamSid string `json:"stream_sid"`
	Reason    string `json:"reason"`
}

func decodeEventType(raw []byte) (string, error) {
	var e wireEvent
	if err := json.Unmarshal(raw, &e); err != nil {
		return "", err
	}
	return e.Event, nil
}
