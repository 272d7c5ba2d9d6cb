package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeListeningSentinel(t *testing.T) {
	msg, err := Decode([]byte("listening"))
	require.NoError(t, err)
	assert.Equal(t, KindListening, msg.Kind)
	assert.Empty(t, msg.Type)
	assert.Nil(t, msg.Payload)
}

func TestDecodeJSONMessage(t *testing.T) {
	msg, err := Decode([]byte(`{"type":"transcript","role":"assistant","transcript":"hello"}`))
	require.NoError(t, err)
	assert.Equal(t, KindMessage, msg.Kind)
	assert.Equal(t, "transcript", msg.Type)
	assert.Equal(t, "hello", msg.Payload["transcript"])
}

func TestDecodeMalformed(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"bare word", "garbage"},
		{"truncated json", `{"type":`},
		{"empty", ""},
		{"sentinel with whitespace", " listening"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.data))
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrMalformedMessage)
		})
	}
}

func TestDecodeMessageWithoutType(t *testing.T) {
	msg, err := Decode([]byte(`{"status":"ok"}`))
	require.NoError(t, err)
	assert.Equal(t, KindMessage, msg.Kind)
	assert.Empty(t, msg.Type)
}

func TestIsEndedStatus(t *testing.T) {
	tests := []struct {
		name     string
		data     string
		expected bool
	}{
		{"ended status", `{"type":"status-update","status":"ended"}`, true},
		{"in-progress status", `{"type":"status-update","status":"in-progress"}`, false},
		{"other type", `{"type":"speech-update","status":"ended"}`, false},
		{"missing status", `{"type":"status-update"}`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := Decode([]byte(tt.data))
			require.NoError(t, err)
			assert.Equal(t, tt.expected, msg.IsEndedStatus())
		})
	}
}

func TestSpeechStatus(t *testing.T) {
	msg, err := Decode([]byte(`{"type":"speech-update","status":"started","role":"assistant"}`))
	require.NoError(t, err)
	status, ok := msg.SpeechStatus()
	require.True(t, ok)
	assert.Equal(t, "started", status)

	msg, err = Decode([]byte(`{"type":"status-update","status":"ended"}`))
	require.NoError(t, err)
	_, ok = msg.SpeechStatus()
	assert.False(t, ok)
}

func TestEncodeAddMessage(t *testing.T) {
	data, err := Encode(NewAddMessage(ChatMessage{Role: "user", Content: "hi"}))
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "add-message", decoded["type"])
	message, ok := decoded["message"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "user", message["role"])
	assert.Equal(t, "hi", message["content"])
}

func TestEncodeControlOmitsZeroDelay(t *testing.T) {
	data, err := Encode(NewControl(ControlMuteAssistant))
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "control", decoded["type"])
	assert.Equal(t, "mute-assistant", decoded["control"])
	assert.NotContains(t, decoded, "videoRecordingStartDelaySeconds")
}

func TestEncodeSayFirstMessageCarriesDelay(t *testing.T) {
	msg := NewControl(ControlSayFirstMessage)
	msg.VideoRecordingStartDelaySeconds = 1.25

	data, err := Encode(msg)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "say-first-message", decoded["control"])
	assert.Equal(t, 1.25, decoded["videoRecordingStartDelaySeconds"])
}

func TestEncodeSayOptionalFlags(t *testing.T) {
	enabled := true
	data, err := Encode(Say{Type: TypeSay, Content: "goodbye", EndCallAfterSpoken: &enabled})
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "say", decoded["type"])
	assert.Equal(t, "goodbye", decoded["content"])
	assert.Equal(t, true, decoded["endCallAfterSpoken"])
	assert.NotContains(t, decoded, "interruptionsEnabled")
}

func TestEncodeNil(t *testing.T) {
	_, err := Encode(nil)
	assert.Error(t, err)
}

func TestSynthesizedEndedStatus(t *testing.T) {
	payload := SynthesizedEndedStatus()
	assert.Equal(t, TypeStatusUpdate, payload["type"])
	assert.Equal(t, "ended", payload["status"])
	assert.Equal(t, EndedReasonCustomerEndedCall, payload["endedReason"])
}
