// Package protocol implements the application message codec for the call
// data channel.
//
// Outbound messages form a closed tagged union serialized as single JSON
// text frames. Inbound payloads are either the bare readiness sentinel
// "listening" (which is not JSON) or a JSON object carrying a "type"
// discriminant. Malformed inbound frames are reported as decode errors and
// must be discarded by the caller; they never abort a session.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ListeningSentinel is the reserved non-JSON data channel payload signaling
// that the remote agent is ready. It never collides with a JSON-encoded
// payload because a bare identifier is not valid JSON.
const ListeningSentinel = "listening"

// Client message types.
const (
	TypeAddMessage = "add-message"
	TypeControl    = "control"
	TypeSay        = "say"
)

// Control message variants.
const (
	ControlMuteAssistant   = "mute-assistant"
	ControlUnmuteAssistant = "unmute-assistant"
	ControlSayFirstMessage = "say-first-message"
)

// Inbound message types the session controller inspects.
const (
	TypeStatusUpdate = "status-update"
	TypeSpeechUpdate = "speech-update"
)

// EndedReasonCustomerEndedCall is the synthesized ended reason used when
// the transport reports a leave without a prior terminal status message.
const EndedReasonCustomerEndedCall = "customer-ended-call"

// ErrMalformedMessage wraps inbound payloads that are neither the
// readiness sentinel nor valid JSON.
var ErrMalformedMessage = errors.New("malformed application message")

// ClientMessage is the sealed set of outbound application messages.
type ClientMessage interface {
	clientMessageType() string
}

// ChatMessage is a chat-style message appended to the live conversation.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// AddMessage injects a chat message into the agent's conversation.
type AddMessage struct {
	Type    string      `json:"type"`
	Message ChatMessage `json:"message"`
}

func (AddMessage) clientMessageType() string { return TypeAddMessage }

// NewAddMessage builds an add-message frame.
func NewAddMessage(msg ChatMessage) AddMessage {
	return AddMessage{Type: TypeAddMessage, Message: msg}
}

// Control instructs the agent to change behavior mid-call. The
// say-first-message variant carries the measured recording start delay so
// the agent can align its first utterance with recording availability.
type Control struct {
	Type                            string  `json:"type"`
	Control                         string  `json:"control"`
	VideoRecordingStartDelaySeconds float64 `json:"videoRecordingStartDelaySeconds,omitempty"`
}

func (Control) clientMessageType() string { return TypeControl }

// NewControl builds a control frame.
func NewControl(control string) Control {
	return Control{Type: TypeControl, Control: control}
}

// Say instructs the agent to speak a literal string.
type Say struct {
	Type                      string `json:"type"`
	Content                   string `json:"content"`
	EndCallAfterSpoken        *bool  `json:"endCallAfterSpoken,omitempty"`
	InterruptionsEnabled      *bool  `json:"interruptionsEnabled,omitempty"`
	InterruptAssistantEnabled *bool  `json:"interruptAssistantEnabled,omitempty"`
}

func (Say) clientMessageType() string { return TypeSay }

// Encode serializes an outbound message to a single JSON text frame.
func Encode(msg ClientMessage) ([]byte, error) {
	if msg == nil {
		return nil, errors.New("message cannot be nil")
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s message: %w", msg.clientMessageType(), err)
	}
	return data, nil
}

// InboundKind classifies a decoded inbound payload.
type InboundKind int

const (
	// KindListening is the readiness sentinel; it carries no payload.
	KindListening InboundKind = iota
	// KindMessage is a parsed JSON application message.
	KindMessage
)

// Inbound is the result of decoding one data channel payload.
type Inbound struct {
	Kind InboundKind
	// Type is the message's "type" discriminant; empty for the sentinel
	// or when the payload carries none.
	Type string
	// Payload holds the parsed JSON object for KindMessage.
	Payload map[string]any
}

// Decode parses one inbound data channel payload. The sentinel short
// circuits before any JSON parsing. Anything else must be valid JSON or
// Decode returns ErrMalformedMessage (wrapped); callers log and discard.
func Decode(data []byte) (Inbound, error) {
	if string(data) == ListeningSentinel {
		return Inbound{Kind: KindListening}, nil
	}

	var payload map[string]any
	if err := json.Unmarshal(data, &payload); err != nil {
		return Inbound{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}

	msg := Inbound{Kind: KindMessage, Payload: payload}
	if t, ok := payload["type"].(string); ok {
		msg.Type = t
	}
	return msg, nil
}

// IsEndedStatus reports whether a decoded message is a terminal
// status-update.
func (m Inbound) IsEndedStatus() bool {
	if m.Kind != KindMessage || m.Type != TypeStatusUpdate {
		return false
	}
	status, _ := m.Payload["status"].(string)
	return status == "ended"
}

// SpeechStatus extracts the status of a speech-update message. The second
// return is false when the message is not a speech-update.
func (m Inbound) SpeechStatus() (string, bool) {
	if m.Kind != KindMessage || m.Type != TypeSpeechUpdate {
		return "", false
	}
	status, ok := m.Payload["status"].(string)
	return status, ok
}

// SynthesizedEndedStatus builds the status-update emitted when the
// transport reports a leave that no terminal status message announced.
func SynthesizedEndedStatus() map[string]any {
	return map[string]any{
		"type":        TypeStatusUpdate,
		"status":      "ended",
		"endedReason": EndedReasonCustomerEndedCall,
	}
}
