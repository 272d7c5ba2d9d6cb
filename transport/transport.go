// Package transport defines the media transport boundary for callbridge.
//
// The session controller drives a call exclusively through the Transport
// interface: joining a room, exchanging application data frames, selecting
// devices, and receiving low-level call events. Implementations own
// connection establishment, media capture, and encoding; callbridge only
// orchestrates them.
//
// A reference implementation over a websocket signaling channel is provided
// in this package (see WebSocketTransport). Production deployments typically
// supply an adapter around a full media stack instead.
package transport

import (
	"context"
	"time"
)

// MeetingState reports where the transport currently is in the call
// lifecycle. Values follow the conventional meeting-state vocabulary used
// by hosted call providers.
type MeetingState string

const (
	MeetingStateNew     MeetingState = "new"
	MeetingStateJoining MeetingState = "joining-meeting"
	MeetingStateJoined  MeetingState = "joined-meeting"
	MeetingStateLeft    MeetingState = "left-meeting"
	MeetingStateError   MeetingState = "error"
)

// Device kinds as reported by device enumeration.
const (
	DeviceKindVideoInput = "videoinput"
	DeviceKindAudio      = "audio"
)

// DeviceInfo describes one enumerable media device.
type DeviceInfo struct {
	ID    string `json:"deviceId"`
	Label string `json:"label"`
	Kind  string `json:"kind"`
}

// Participant describes one member of the joined room.
type Participant struct {
	ID       string `json:"id"`
	UserName string `json:"userName"`
	Local    bool   `json:"local"`
}

// TrackKind identifies the media carried by a track.
const (
	TrackKindAudio       = "audio"
	TrackKindVideo       = "video"
	TrackKindScreenVideo = "screenVideo"
)

// TrackInfo describes a media track that started playing.
type TrackInfo struct {
	ParticipantID string `json:"participantId"`
	UserName      string `json:"userName"`
	Local         bool   `json:"local"`
	Kind          string `json:"kind"`
}

// NetworkQuality is a coarse connection quality report.
type NetworkQuality struct {
	Quality   string `json:"quality"`
	Threshold string `json:"threshold"`
}

// CallOptions configure transport construction.
type CallOptions struct {
	// AudioSource enables local microphone capture.
	AudioSource bool
	// VideoSource enables local camera capture.
	VideoSource bool
}

// SubscriptionSettings select which remote tracks to receive for one
// participant. Tracks not listed are not subscribed, saving bandwidth.
type SubscriptionSettings struct {
	Audio       bool
	Video       bool
	ScreenVideo bool
}

// RecordingOptions configure a recording start request.
type RecordingOptions struct {
	Width  int    `json:"width"`
	Height int    `json:"height"`
	FPS    int    `json:"fps"`
	Layout string `json:"layout"`
}

// Handlers is the event routing table a consumer registers before joining.
// Nil entries are simply not invoked. All callbacks are delivered from the
// transport's event dispatch; consumers must not block inside them.
type Handlers struct {
	OnAppMessage              func(data []byte, fromID string)
	OnAvailableDevicesUpdated func(devices []DeviceInfo)
	OnTrackStarted            func(track TrackInfo)
	OnParticipantJoined       func(p Participant)
	OnParticipantUpdated      func(p Participant)
	OnParticipantLeft         func(p Participant)
	OnMeetingStateChanged     func(state MeetingState)
	OnRemoteAudioLevels       func(levels map[string]float64)
	OnRecordingStarted        func()
	OnError                   func(err error)
	OnNonFatalError           func(err error)
	OnCameraError             func(err error)
	OnNetworkQualityChanged   func(q NetworkQuality)
	OnNetworkConnection       func(event string)
}

// Transport is the minimal media transport surface callbridge requires.
//
// Implementations must be safe for concurrent use. Event handler
// registration happens before Join and deregistration before Destroy; the
// controller relies on that ordering to avoid re-entrant callbacks during
// teardown.
type Transport interface {
	// RegisterHandlers installs the event routing table. Replaces any
	// previously registered table.
	RegisterHandlers(h Handlers)

	// UnregisterHandlers removes the routing table. After it returns no
	// further callbacks are delivered.
	UnregisterHandlers()

	// Join connects to the room identified by roomURL. When autoSubscribe
	// is false no remote tracks are received until explicitly subscribed.
	Join(ctx context.Context, roomURL string, autoSubscribe bool) error

	// Leave exits the room without tearing the transport down.
	Leave() error

	// Destroy releases all transport resources. The transport is unusable
	// afterwards.
	Destroy() error

	// MeetingState reports the current lifecycle state.
	MeetingState() MeetingState

	// StartRemoteAudioLevelObserver begins periodic sampling of remote
	// participant audio levels at the given interval. Samples arrive via
	// Handlers.OnRemoteAudioLevels.
	StartRemoteAudioLevelObserver(interval time.Duration) error

	// SendAppMessage sends one opaque data frame over the application
	// data channel.
	SendAppMessage(data []byte) error

	// Participants lists the current room members.
	Participants() []Participant

	// UpdateParticipantSubscription adjusts which of one participant's
	// tracks are received.
	UpdateParticipantSubscription(participantID string, s SubscriptionSettings) error

	// EnumerateDevices lists available media devices.
	EnumerateDevices() ([]DeviceInfo, error)

	// InputDevices reports the camera and audio device currently in use.
	InputDevices() (camera DeviceInfo, audio DeviceInfo, err error)

	// SetCamera selects the camera device by id.
	SetCamera(deviceID string) error

	// SetAudioDevice selects the audio device by id.
	SetAudioDevice(deviceID string) error

	// CycleCamera switches to the next available camera.
	CycleCamera() error

	SetLocalAudio(enabled bool) error
	LocalAudio() bool
	SetLocalVideo(enabled bool) error
	LocalVideo() bool

	StartScreenShare() error
	StopScreenShare() error

	StartRecording(opts RecordingOptions) error
	StopRecording() error

	// UpdateSendSettings and UpdateReceiveSettings pass provider-specific
	// media settings through unchanged.
	UpdateSendSettings(settings map[string]any) error
	UpdateReceiveSettings(settings map[string]any) error
}
