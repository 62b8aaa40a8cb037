// Package message defines the application schema carried inside DATA
// frames: chat text, heartbeats, and heartbeat acknowledgements.
//
// Envelopes are JSON with a type tag and a nested payload:
//
//	{"type": "chat",          "payload": {"text": "hello"}}
//	{"type": "heartbeat",     "payload": {"timestamp": 1756100000.25}}
//	{"type": "heartbeat_ack", "payload": {"orig_timestamp": ..., "server_timestamp": ...}}
//
// Timestamps are Unix seconds as float64 so heartbeat round-trip times can
// be measured at sub-second resolution. Connection teardown is not an
// application message; it is the CLOSE frame one layer down.
package message

import (
	"encoding/json"
	"fmt"
	"time"

	qerrors "github.com/mokkunsuzuki-code/stage106/internal/errors"
)

// Kind tags an envelope with its application meaning.
type Kind string

const (
	KindChat         Kind = "chat"
	KindHeartbeat    Kind = "heartbeat"
	KindHeartbeatAck Kind = "heartbeat_ack"
)

// IsValid reports whether the kind is part of the application schema.
func (k Kind) IsValid() bool {
	switch k {
	case KindChat, KindHeartbeat, KindHeartbeatAck:
		return true
	}
	return false
}

// Envelope is one application message.
type Envelope struct {
	Type    Kind    `json:"type"`
	Payload Payload `json:"payload"`
}

// Payload carries the kind-specific fields. Unused fields are omitted from
// the wire encoding.
type Payload struct {
	Text            string  `json:"text,omitempty"`
	Timestamp       float64 `json:"timestamp,omitempty"`
	OrigTimestamp   float64 `json:"orig_timestamp,omitempty"`
	ServerTimestamp float64 `json:"server_timestamp,omitempty"`
}

// NewChat builds a chat envelope.
func NewChat(text string) *Envelope {
	return &Envelope{
		Type:    KindChat,
		Payload: Payload{Text: text},
	}
}

// NewHeartbeat builds a heartbeat stamped with the sender's clock.
func NewHeartbeat(now time.Time) *Envelope {
	return &Envelope{
		Type:    KindHeartbeat,
		Payload: Payload{Timestamp: unixSeconds(now)},
	}
}

// NewHeartbeatAck answers a heartbeat, echoing the original timestamp so
// the sender can compute the round-trip time against its own clock.
func NewHeartbeatAck(heartbeat *Envelope, now time.Time) *Envelope {
	return &Envelope{
		Type: KindHeartbeatAck,
		Payload: Payload{
			OrigTimestamp:   heartbeat.Payload.Timestamp,
			ServerTimestamp: unixSeconds(now),
		},
	}
}

// Encode serializes the envelope for transport.
func (e *Envelope) Encode() ([]byte, error) {
	if !e.Type.IsValid() {
		return nil, fmt.Errorf("%w: %q", qerrors.ErrUnknownMessageKind, e.Type)
	}
	return json.Marshal(e)
}

// Decode parses an envelope and validates its kind.
func Decode(data []byte) (*Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("message: decode: %w", err)
	}
	if !e.Type.IsValid() {
		return nil, fmt.Errorf("%w: %q", qerrors.ErrUnknownMessageKind, e.Type)
	}
	return &e, nil
}

// RTT computes the heartbeat round-trip time from an acknowledgement,
// measured against the caller's clock. It is meaningful only on envelopes
// of kind heartbeat_ack whose orig_timestamp was set by this endpoint.
func (e *Envelope) RTT(now time.Time) time.Duration {
	elapsed := unixSeconds(now) - e.Payload.OrigTimestamp
	return time.Duration(elapsed * float64(time.Second))
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}
