package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const defaultDialTimeout = 15 * time.Second

// Signaling frame types exchanged with the room server.
const (
	frameJoin               = "join"
	frameLeave              = "leave"
	frameAppMessage         = "app-message"
	frameMeetingState       = "meeting-state"
	frameParticipantJoined  = "participant-joined"
	frameParticipantUpdated = "participant-updated"
	frameParticipantLeft    = "participant-left"
	frameDevicesUpdated     = "available-devices-updated"
	frameSelectDevice       = "select-device"
	frameTrackStarted       = "track-started"
	frameAudioLevels        = "remote-audio-levels"
	frameObserveLevels      = "observe-audio-levels"
	frameSubscription       = "update-subscription"
	frameLocalMedia         = "local-media"
	frameScreenShare        = "screen-share"
	frameRecording          = "recording"
	frameRecordingStarted   = "recording-started"
	frameSendSettings       = "send-settings"
	frameReceiveSettings    = "receive-settings"
	frameNetworkQuality     = "network-quality"
	frameNetworkConnection  = "network-connection"
	frameError              = "error"
	frameNonFatalError      = "nonfatal-error"
	frameCameraError        = "camera-error"
)

// signalFrame is the single envelope for every signaling frame. Only the
// fields relevant to a given Type are populated.
type signalFrame struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId,omitempty"`

	Room          string `json:"room,omitempty"`
	AutoSubscribe *bool  `json:"autoSubscribe,omitempty"`

	Data   json.RawMessage `json:"data,omitempty"`
	FromID string          `json:"fromId,omitempty"`

	State string `json:"state,omitempty"`

	Participant *Participant `json:"participant,omitempty"`
	Devices     []DeviceInfo `json:"devices,omitempty"`
	Track       *TrackInfo   `json:"track,omitempty"`

	Levels     map[string]float64 `json:"levels,omitempty"`
	IntervalMS int64              `json:"intervalMs,omitempty"`

	DeviceKind string `json:"deviceKind,omitempty"`
	DeviceID   string `json:"deviceId,omitempty"`

	ParticipantID string                `json:"participantId,omitempty"`
	Subscription  *SubscriptionSettings `json:"subscription,omitempty"`

	Media   string `json:"media,omitempty"`
	Enabled *bool  `json:"enabled,omitempty"`
	Action  string `json:"action,omitempty"`

	Recording *RecordingOptions `json:"recording,omitempty"`
	Settings  map[string]any    `json:"settings,omitempty"`

	Quality   string `json:"quality,omitempty"`
	Threshold string `json:"threshold,omitempty"`
	Event     string `json:"event,omitempty"`
	Message   string `json:"message,omitempty"`
}

// WebSocketTransport implements Transport over a websocket signaling
// channel. Media itself runs elsewhere (a thin-client deployment); this
// transport carries room lifecycle, the application data channel, device
// bookkeeping, and audio level samples.
type WebSocketTransport struct {
	sessionID string

	mu       sync.RWMutex
	handlers Handlers
	state    MeetingState

	conn    *websocket.Conn
	writeMu sync.Mutex

	participants map[string]Participant
	devices      []DeviceInfo
	cameraID     string
	audioID      string
	localAudio   bool
	localVideo   bool

	closeOnce sync.Once
	done      chan struct{}

	dialer *websocket.Dialer
}

// NewWebSocketTransport constructs a websocket transport with the given
// call options. Local audio/video start enabled according to the options,
// mirroring source flags on native call objects.
func NewWebSocketTransport(opts CallOptions) *WebSocketTransport {
	return &WebSocketTransport{
		sessionID:    uuid.NewString(),
		state:        MeetingStateNew,
		participants: make(map[string]Participant),
		localAudio:   opts.AudioSource,
		localVideo:   opts.VideoSource,
		done:         make(chan struct{}),
		dialer:       websocket.DefaultDialer,
	}
}

// RegisterHandlers installs the event routing table.
func (t *WebSocketTransport) RegisterHandlers(h Handlers) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handlers = h
}

// UnregisterHandlers removes the routing table.
func (t *WebSocketTransport) UnregisterHandlers() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handlers = Handlers{}
}

func (t *WebSocketTransport) snapshotHandlers() Handlers {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.handlers
}

// MeetingState reports the current lifecycle state.
func (t *WebSocketTransport) MeetingState() MeetingState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state
}

func (t *WebSocketTransport) setState(state MeetingState) {
	t.mu.Lock()
	t.state = state
	t.mu.Unlock()
}

// Join dials the room's websocket endpoint and sends the join frame.
func (t *WebSocketTransport) Join(ctx context.Context, roomURL string, autoSubscribe bool) error {
	wsURL, err := websocketURL(roomURL)
	if err != nil {
		return err
	}

	logrus.WithFields(logrus.Fields{
		"function":   "Join",
		"session_id": t.sessionID,
		"room_url":   wsURL,
	}).Info("Joining room over websocket signaling")

	dialCtx := ctx
	var cancel context.CancelFunc
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		dialCtx, cancel = context.WithTimeout(ctx, defaultDialTimeout)
		defer cancel()
	}

	conn, _, err := t.dialer.DialContext(dialCtx, wsURL, nil)
	if err != nil {
		t.setState(MeetingStateError)
		return fmt.Errorf("failed to dial room: %w", err)
	}

	t.mu.Lock()
	t.conn = conn
	t.state = MeetingStateJoining
	t.mu.Unlock()

	join := signalFrame{
		Type:          frameJoin,
		SessionID:     t.sessionID,
		Room:          roomURL,
		AutoSubscribe: &autoSubscribe,
	}
	if err := t.writeFrame(join); err != nil {
		_ = conn.Close()
		t.setState(MeetingStateError)
		return fmt.Errorf("failed to send join frame: %w", err)
	}

	go t.readLoop(conn)
	return nil
}

// websocketURL converts an http(s) room URL to its ws(s) equivalent.
func websocketURL(roomURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(roomURL))
	if err != nil {
		return "", fmt.Errorf("invalid room URL: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
		// already a websocket scheme
	default:
		return "", fmt.Errorf("room URL must use http(s) or ws(s), got %q", u.Scheme)
	}
	return u.String(), nil
}

func (t *WebSocketTransport) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				t.dispatchState(MeetingStateLeft)
				return
			}
			select {
			case <-t.done:
				// Destroyed locally; the read error is expected.
				return
			default:
			}
			logrus.WithFields(logrus.Fields{
				"function":   "readLoop",
				"session_id": t.sessionID,
				"error":      err.Error(),
			}).Warn("Signaling connection read failed")
			t.setState(MeetingStateError)
			if h := t.snapshotHandlers(); h.OnError != nil {
				h.OnError(fmt.Errorf("signaling connection failed: %w", err))
			}
			t.dispatchStateEvent(MeetingStateError)
			return
		}

		var frame signalFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			logrus.WithFields(logrus.Fields{
				"function":   "readLoop",
				"session_id": t.sessionID,
				"error":      err.Error(),
			}).Warn("Discarding malformed signaling frame")
			continue
		}
		t.handleFrame(frame)
	}
}

func (t *WebSocketTransport) handleFrame(frame signalFrame) {
	h := t.snapshotHandlers()

	switch frame.Type {
	case frameMeetingState:
		t.dispatchState(MeetingState(frame.State))

	case frameAppMessage:
		if h.OnAppMessage != nil {
			h.OnAppMessage(appMessagePayload(frame.Data), frame.FromID)
		}

	case frameParticipantJoined:
		if frame.Participant != nil {
			t.mu.Lock()
			t.participants[frame.Participant.ID] = *frame.Participant
			t.mu.Unlock()
			if h.OnParticipantJoined != nil {
				h.OnParticipantJoined(*frame.Participant)
			}
		}

	case frameParticipantUpdated:
		if frame.Participant != nil {
			t.mu.Lock()
			t.participants[frame.Participant.ID] = *frame.Participant
			t.mu.Unlock()
			if h.OnParticipantUpdated != nil {
				h.OnParticipantUpdated(*frame.Participant)
			}
		}

	case frameParticipantLeft:
		if frame.Participant != nil {
			t.mu.Lock()
			delete(t.participants, frame.Participant.ID)
			t.mu.Unlock()
			if h.OnParticipantLeft != nil {
				h.OnParticipantLeft(*frame.Participant)
			}
		}

	case frameDevicesUpdated:
		t.mu.Lock()
		t.devices = frame.Devices
		t.mu.Unlock()
		if h.OnAvailableDevicesUpdated != nil {
			h.OnAvailableDevicesUpdated(frame.Devices)
		}

	case frameTrackStarted:
		if frame.Track != nil && h.OnTrackStarted != nil {
			h.OnTrackStarted(*frame.Track)
		}

	case frameAudioLevels:
		if h.OnRemoteAudioLevels != nil {
			h.OnRemoteAudioLevels(frame.Levels)
		}

	case frameRecordingStarted:
		if h.OnRecordingStarted != nil {
			h.OnRecordingStarted()
		}

	case frameNetworkQuality:
		if h.OnNetworkQualityChanged != nil {
			h.OnNetworkQualityChanged(NetworkQuality{Quality: frame.Quality, Threshold: frame.Threshold})
		}

	case frameNetworkConnection:
		if h.OnNetworkConnection != nil {
			h.OnNetworkConnection(frame.Event)
		}

	case frameError:
		t.setState(MeetingStateError)
		if h.OnError != nil {
			h.OnError(errors.New(frame.Message))
		}
		t.dispatchStateEvent(MeetingStateError)

	case frameNonFatalError:
		if h.OnNonFatalError != nil {
			h.OnNonFatalError(errors.New(frame.Message))
		}

	case frameCameraError:
		if h.OnCameraError != nil {
			h.OnCameraError(errors.New(frame.Message))
		}

	default:
		logrus.WithFields(logrus.Fields{
			"function":   "handleFrame",
			"session_id": t.sessionID,
			"frame_type": frame.Type,
		}).Debug("Ignoring unknown signaling frame")
	}
}

// appMessagePayload unwraps the data channel payload. Servers send either a
// JSON value or a bare string (the readiness sentinel travels as a JSON
// string); bare strings are unquoted so consumers see the raw text.
func appMessagePayload(raw json.RawMessage) []byte {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return []byte(s)
	}
	return []byte(raw)
}

func (t *WebSocketTransport) dispatchState(state MeetingState) {
	t.setState(state)
	t.dispatchStateEvent(state)
}

func (t *WebSocketTransport) dispatchStateEvent(state MeetingState) {
	if h := t.snapshotHandlers(); h.OnMeetingStateChanged != nil {
		h.OnMeetingStateChanged(state)
	}
}

func (t *WebSocketTransport) writeFrame(frame signalFrame) error {
	t.mu.RLock()
	conn := t.conn
	t.mu.RUnlock()
	if conn == nil {
		return errors.New("transport is not joined")
	}
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	return conn.WriteJSON(frame)
}

// StartRemoteAudioLevelObserver asks the server to push level samples at
// the given interval.
func (t *WebSocketTransport) StartRemoteAudioLevelObserver(interval time.Duration) error {
	return t.writeFrame(signalFrame{
		Type:       frameObserveLevels,
		SessionID:  t.sessionID,
		IntervalMS: interval.Milliseconds(),
	})
}

// SendAppMessage sends one data channel frame.
func (t *WebSocketTransport) SendAppMessage(data []byte) error {
	payload, err := json.Marshal(string(data))
	if err != nil {
		return fmt.Errorf("failed to encode app message: %w", err)
	}
	return t.writeFrame(signalFrame{
		Type:      frameAppMessage,
		SessionID: t.sessionID,
		Data:      payload,
	})
}

// Participants lists the current room members.
func (t *WebSocketTransport) Participants() []Participant {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Participant, 0, len(t.participants))
	for _, p := range t.participants {
		out = append(out, p)
	}
	return out
}

// UpdateParticipantSubscription adjusts received tracks for one participant.
func (t *WebSocketTransport) UpdateParticipantSubscription(participantID string, s SubscriptionSettings) error {
	sub := s
	return t.writeFrame(signalFrame{
		Type:          frameSubscription,
		SessionID:     t.sessionID,
		ParticipantID: participantID,
		Subscription:  &sub,
	})
}

// EnumerateDevices returns the last device list pushed by the server.
func (t *WebSocketTransport) EnumerateDevices() ([]DeviceInfo, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]DeviceInfo(nil), t.devices...), nil
}

// InputDevices reports the devices currently selected.
func (t *WebSocketTransport) InputDevices() (DeviceInfo, DeviceInfo, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var camera, audio DeviceInfo
	for _, d := range t.devices {
		if d.ID == t.cameraID && d.Kind == DeviceKindVideoInput {
			camera = d
		}
		if d.ID == t.audioID && d.Kind == DeviceKindAudio {
			audio = d
		}
	}
	return camera, audio, nil
}

// SetCamera selects the camera device by id.
func (t *WebSocketTransport) SetCamera(deviceID string) error {
	t.mu.Lock()
	t.cameraID = deviceID
	t.mu.Unlock()
	return t.writeFrame(signalFrame{
		Type:       frameSelectDevice,
		SessionID:  t.sessionID,
		DeviceKind: DeviceKindVideoInput,
		DeviceID:   deviceID,
	})
}

// SetAudioDevice selects the audio device by id.
func (t *WebSocketTransport) SetAudioDevice(deviceID string) error {
	t.mu.Lock()
	t.audioID = deviceID
	t.mu.Unlock()
	return t.writeFrame(signalFrame{
		Type:       frameSelectDevice,
		SessionID:  t.sessionID,
		DeviceKind: DeviceKindAudio,
		DeviceID:   deviceID,
	})
}

// CycleCamera switches to the next camera in the device list.
func (t *WebSocketTransport) CycleCamera() error {
	t.mu.Lock()
	var cameras []DeviceInfo
	for _, d := range t.devices {
		if d.Kind == DeviceKindVideoInput {
			cameras = append(cameras, d)
		}
	}
	if len(cameras) == 0 {
		t.mu.Unlock()
		return errors.New("no camera devices available")
	}
	next := cameras[0]
	for i, d := range cameras {
		if d.ID == t.cameraID {
			next = cameras[(i+1)%len(cameras)]
			break
		}
	}
	t.cameraID = next.ID
	t.mu.Unlock()

	return t.writeFrame(signalFrame{
		Type:       frameSelectDevice,
		SessionID:  t.sessionID,
		DeviceKind: DeviceKindVideoInput,
		DeviceID:   next.ID,
	})
}

// SetLocalAudio enables or disables local microphone transmission.
func (t *WebSocketTransport) SetLocalAudio(enabled bool) error {
	t.mu.Lock()
	t.localAudio = enabled
	t.mu.Unlock()
	e := enabled
	return t.writeFrame(signalFrame{
		Type:      frameLocalMedia,
		SessionID: t.sessionID,
		Media:     TrackKindAudio,
		Enabled:   &e,
	})
}

// LocalAudio reports whether local audio is enabled.
func (t *WebSocketTransport) LocalAudio() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.localAudio
}

// SetLocalVideo enables or disables local camera transmission.
func (t *WebSocketTransport) SetLocalVideo(enabled bool) error {
	t.mu.Lock()
	t.localVideo = enabled
	t.mu.Unlock()
	e := enabled
	return t.writeFrame(signalFrame{
		Type:      frameLocalMedia,
		SessionID: t.sessionID,
		Media:     TrackKindVideo,
		Enabled:   &e,
	})
}

// LocalVideo reports whether local video is enabled.
func (t *WebSocketTransport) LocalVideo() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.localVideo
}

// StartScreenShare begins sharing the local screen.
func (t *WebSocketTransport) StartScreenShare() error {
	return t.writeFrame(signalFrame{Type: frameScreenShare, SessionID: t.sessionID, Action: "start"})
}

// StopScreenShare stops sharing the local screen.
func (t *WebSocketTransport) StopScreenShare() error {
	return t.writeFrame(signalFrame{Type: frameScreenShare, SessionID: t.sessionID, Action: "stop"})
}

// StartRecording requests a server-side recording with the given layout.
func (t *WebSocketTransport) StartRecording(opts RecordingOptions) error {
	rec := opts
	return t.writeFrame(signalFrame{
		Type:      frameRecording,
		SessionID: t.sessionID,
		Action:    "start",
		Recording: &rec,
	})
}

// StopRecording stops a server-side recording.
func (t *WebSocketTransport) StopRecording() error {
	return t.writeFrame(signalFrame{Type: frameRecording, SessionID: t.sessionID, Action: "stop"})
}

// UpdateSendSettings passes provider-specific send settings through.
func (t *WebSocketTransport) UpdateSendSettings(settings map[string]any) error {
	return t.writeFrame(signalFrame{Type: frameSendSettings, SessionID: t.sessionID, Settings: settings})
}

// UpdateReceiveSettings passes provider-specific receive settings through.
func (t *WebSocketTransport) UpdateReceiveSettings(settings map[string]any) error {
	return t.writeFrame(signalFrame{Type: frameReceiveSettings, SessionID: t.sessionID, Settings: settings})
}

// Leave exits the room without destroying the transport.
func (t *WebSocketTransport) Leave() error {
	err := t.writeFrame(signalFrame{Type: frameLeave, SessionID: t.sessionID})
	t.dispatchState(MeetingStateLeft)
	return err
}

// Destroy closes the signaling connection and releases resources.
func (t *WebSocketTransport) Destroy() error {
	t.closeOnce.Do(func() {
		close(t.done)
		t.mu.Lock()
		conn := t.conn
		t.conn = nil
		t.mu.Unlock()
		if conn != nil {
			t.writeMu.Lock()
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(2*time.Second))
			t.writeMu.Unlock()
			_ = conn.Close()
		}
		logrus.WithFields(logrus.Fields{
			"function":   "Destroy",
			"session_id": t.sessionID,
		}).Debug("Websocket transport destroyed")
	})
	return nil
}
