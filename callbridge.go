package callbridge

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/callbridge/audio"
	"github.com/opd-ai/callbridge/device"
	"github.com/opd-ai/callbridge/progress"
	"github.com/opd-ai/callbridge/protocol"
	"github.com/opd-ai/callbridge/registry"
	"github.com/opd-ai/callbridge/transport"
)

// RemoteAudioLevelInterval is the fixed sampling interval for the remote
// audio level feed.
const RemoteAudioLevelInterval = 100 * time.Millisecond

// AgentSpeakerName is the participant user name the hosted agent joins
// rooms with. The client replies "playable" on the data channel when this
// participant's audio track starts.
const AgentSpeakerName = "Vapi Speaker"

// Startup stage names used in progress telemetry.
const (
	StageCreateWebCall   = "create-web-call"
	StageCreateTransport = "create-transport"
	StageJoinRoom        = "join-room"
	StageStartRecording  = "start-recording"
)

// Recording layout requested when the backend expects a video recording.
var defaultRecordingOptions = transport.RecordingOptions{
	Width:  1280,
	Height: 720,
	FPS:    30,
	Layout: "single-participant",
}

// TransportFactory constructs a media transport for one session.
type TransportFactory func(opts transport.CallOptions) (transport.Transport, error)

// Config configures a Client.
type Config struct {
	// APIToken authenticates against the call registry service.
	APIToken string
	// BaseURL overrides the registry endpoint. Empty selects the
	// production endpoint.
	BaseURL string
	// TransportFactory overrides transport construction. Nil selects the
	// websocket signaling transport.
	TransportFactory TransportFactory
	// Metrics enables Prometheus instrumentation of startup telemetry.
	// Nil disables it.
	Metrics *progress.Metrics
	// Registry overrides the registry client entirely; used by tests.
	// When set, APIToken and BaseURL are ignored.
	Registry *registry.Client
}

// Client is the session controller: it owns at most one live call session,
// drives the staged startup sequence, routes transport events into the
// semantic event surface, and exposes the public command set.
//
// All commands are safe for concurrent use. Event listeners are invoked
// synchronously from transport dispatch and must not block.
type Client struct {
	emitter

	registry     *registry.Client
	newTransport TransportFactory
	metrics      *progress.Metrics

	devices  *device.Manager
	detector *audio.Detector

	mu      sync.Mutex
	started bool
	session *Session
	trans   transport.Transport

	levelFeedActive      bool
	recordingRequestedAt time.Time

	now func() time.Time
}

// New creates a client authenticated with the given configuration.
func New(cfg Config) (*Client, error) {
	logrus.WithFields(logrus.Fields{
		"function": "New",
		"base_url": cfg.BaseURL,
	}).Debug("Creating callbridge client")

	reg := cfg.Registry
	if reg == nil {
		if cfg.APIToken == "" {
			return nil, ErrMissingAPIToken
		}
		var opts []registry.Option
		if cfg.BaseURL != "" {
			opts = append(opts, registry.WithBaseURL(cfg.BaseURL))
		}
		reg = registry.NewClient(cfg.APIToken, opts...)
	}

	factory := cfg.TransportFactory
	if factory == nil {
		factory = func(opts transport.CallOptions) (transport.Transport, error) {
			return transport.NewWebSocketTransport(opts), nil
		}
	}

	c := &Client{
		registry:     reg,
		newTransport: factory,
		metrics:      cfg.Metrics,
		devices:      device.NewManager(),
		now:          time.Now,
	}
	c.detector = audio.NewDetector(audio.Callbacks{
		OnSpeechStart: func() { c.emit(Event{Type: EventSpeechStart}) },
		OnSpeechEnd:   func() { c.emit(Event{Type: EventSpeechEnd}) },
		OnVolumeLevel: func(level float64) { c.emit(Event{Type: EventVolumeLevel, Volume: level}) },
	})
	return c, nil
}

// Start creates a call record, joins the room, and brings the session up.
//
// Exactly one of the target's assistant, squad, or workflow references
// must be supplied; violating that is the only condition under which Start
// returns an error, before any side effect. Every later failure is
// converted into call-start-failed telemetry, tears down whatever was
// constructed, and resolves to a nil record. Calling Start while a session
// is already active returns nil without side effects.
func (c *Client) Start(ctx context.Context, target registry.Target) (*registry.WebCall, error) {
	if err := target.Validate(); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Start",
			"error":    err.Error(),
		}).Error("Call target validation failed")
		c.emit(Event{Type: EventError, Err: err})
		return nil, err
	}

	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		logrus.WithFields(logrus.Fields{
			"function": "Start",
		}).Warn("Start ignored: session already active")
		return nil, nil
	}
	c.started = true
	session := newSession(c.now())
	c.session = session
	c.mu.Unlock()

	c.metrics.SessionStarted()

	logrus.WithFields(logrus.Fields{
		"function":    "Start",
		"target_kind": target.Kind(),
	}).Info("Starting call session")

	tracker := progress.NewTracker(func(event progress.StageEvent) {
		c.emit(Event{Type: EventCallStartProgress, Progress: &event})
	}, c.metrics)

	failureContext := map[string]any{
		"assistant": target.Kind() == "assistant",
		"squad":     target.Kind() == "squad",
		"workflow":  target.Kind() == "workflow",
	}
	fail := func(stage string, err error) {
		tracker.StageFail(stage, err)
		failure := tracker.Fail(stage, err, failureContext)
		session.setState(StateFailed)
		c.emit(Event{Type: EventCallStartFailed, Failure: &failure})
		c.emit(Event{Type: EventError, Err: err})
		c.cleanup()
	}

	// Stage 1: create the call record.
	tracker.StageStart(StageCreateWebCall, map[string]any{"targetKind": target.Kind()})
	webCall, err := c.registry.CreateWebCall(ctx, target)
	if err != nil {
		fail(StageCreateWebCall, fmt.Errorf("failed to create web call: %w", err))
		return nil, nil
	}
	if webCall.WebCallURL == "" {
		fail(StageCreateWebCall, registry.ErrMissingWebCallURL)
		return nil, nil
	}
	tracker.StageComplete(StageCreateWebCall, map[string]any{"callId": webCall.ID})

	needVideo := webCall.VideoRecordingEnabled() || webCall.HasVideoVoiceProvider()
	session.setWebCall(webCall.ID, webCall.WebCallURL, webCall.VideoRecordingEnabled(), needVideo)

	// Stage 2: construct the transport and wire the routing table before
	// anything can emit.
	tracker.StageStart(StageCreateTransport, nil)
	trans, err := c.newTransport(transport.CallOptions{AudioSource: true, VideoSource: needVideo})
	if err != nil {
		fail(StageCreateTransport, fmt.Errorf("failed to create transport: %w", err))
		return nil, nil
	}

	c.mu.Lock()
	c.trans = trans
	c.mu.Unlock()
	c.devices.Attach(trans)
	trans.RegisterHandlers(c.routingTable())

	if err := trans.StartRemoteAudioLevelObserver(RemoteAudioLevelInterval); err != nil {
		// Without the level feed, speech activity falls back to the
		// agent's own speech-update messages.
		logrus.WithFields(logrus.Fields{
			"function": "Start",
			"error":    err.Error(),
		}).Warn("Remote audio level observer unavailable")
	} else {
		c.mu.Lock()
		c.levelFeedActive = true
		c.mu.Unlock()
	}
	tracker.StageComplete(StageCreateTransport, map[string]any{"videoSource": needVideo})
	session.setState(StateTransportJoining)

	// Stage 3: join the room. Tracks are not auto-subscribed; each remote
	// participant is subscribed individually as they join.
	tracker.StageStart(StageJoinRoom, nil)
	if err := trans.Join(ctx, webCall.WebCallURL, false); err != nil {
		fail(StageJoinRoom, fmt.Errorf("failed to join room: %w", err))
		return nil, nil
	}
	tracker.StageComplete(StageJoinRoom, nil)
	session.setState(StateJoined)

	// Stage 4: request recording. Failures here are non-fatal; the call
	// proceeds without a recording.
	if webCall.VideoRecordingEnabled() {
		tracker.StageStart(StageStartRecording, nil)
		c.mu.Lock()
		c.recordingRequestedAt = c.now()
		c.mu.Unlock()
		if err := trans.StartRecording(defaultRecordingOptions); err != nil {
			tracker.StageFail(StageStartRecording, err)
		} else {
			tracker.StageComplete(StageStartRecording, nil)
		}
	}

	success := tracker.Succeed(webCall.ID)
	c.emit(Event{Type: EventCallStartSuccess, Success: &success})
	return webCall, nil
}

// Stop tears the session down. It is safe to call with no active session.
// Stopping during an in-flight Start tears down whatever has been
// constructed but does not abort outstanding network operations.
func (c *Client) Stop() {
	logrus.WithFields(logrus.Fields{
		"function": "Stop",
	}).Debug("Stop requested")
	c.cleanup()
}

// routingTable builds the transport event routing table. It is registered
// before Join and unregistered before Destroy.
func (c *Client) routingTable() transport.Handlers {
	return transport.Handlers{
		OnAppMessage: c.handleAppMessage,
		OnAvailableDevicesUpdated: func(devices []transport.DeviceInfo) {
			c.devices.UpdateAvailable(devices)
		},
		OnTrackStarted:        c.handleTrackStarted,
		OnParticipantJoined:   c.handleParticipantJoined,
		OnParticipantUpdated:  c.handleParticipantUpdated,
		OnParticipantLeft:     c.handleParticipantLeft,
		OnMeetingStateChanged: c.handleMeetingState,
		OnRemoteAudioLevels:   c.handleRemoteAudioLevels,
		OnRecordingStarted:    c.handleRecordingStarted,
		OnError: func(err error) {
			c.emit(Event{Type: EventError, Err: err})
		},
		OnNonFatalError: func(err error) {
			logrus.WithFields(logrus.Fields{
				"function": "routingTable",
				"error":    err.Error(),
			}).Warn("Recoverable transport error")
			c.emit(Event{Type: EventError, Err: err})
		},
		OnCameraError: func(err error) {
			c.emit(Event{Type: EventCameraError, Err: err})
		},
		OnNetworkQualityChanged: func(q transport.NetworkQuality) {
			quality := q
			c.emit(Event{Type: EventNetworkQualityChange, Quality: &quality})
		},
		OnNetworkConnection: func(event string) {
			c.emit(Event{Type: EventNetworkConnection, Connection: event})
		},
	}
}

// handleMeetingState inspects the transport's current meeting state on
// every state-changing event and dispatches accordingly.
func (c *Client) handleMeetingState(transport.MeetingState) {
	trans := c.activeTransport()
	if trans == nil {
		return
	}

	state := trans.MeetingState()
	logrus.WithFields(logrus.Fields{
		"function":      "handleMeetingState",
		"meeting_state": state,
	}).Debug("Meeting state changed")

	switch state {
	case transport.MeetingStateJoined:
		c.onJoined(trans)
	case transport.MeetingStateLeft:
		c.cleanup()
	case transport.MeetingStateError:
		c.cleanup()
	}
}

// onJoined enumerates devices and announces the call start once the
// transport reports a successful join.
func (c *Client) onJoined(trans transport.Transport) {
	devices, err := trans.EnumerateDevices()
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "onJoined",
			"error":    err.Error(),
		}).Warn("Device enumeration failed after join")
	} else {
		c.devices.UpdateAvailable(devices)
	}
	c.emit(Event{Type: EventCallStart})
}

func (c *Client) handleAppMessage(data []byte, fromID string) {
	msg, err := protocol.Decode(data)
	if err != nil {
		// Malformed frames must never crash the session.
		logrus.WithFields(logrus.Fields{
			"function": "handleAppMessage",
			"from_id":  fromID,
			"error":    err.Error(),
		}).Warn("Discarding malformed application message")
		return
	}

	if msg.Kind == protocol.KindListening {
		logrus.WithFields(logrus.Fields{
			"function": "handleAppMessage",
		}).Info("Remote agent signaled readiness")
		c.emit(Event{Type: EventCallStart})
		return
	}

	if msg.IsEndedStatus() {
		if session := c.activeSession(); session != nil {
			session.markEndedStatusSeen()
		}
	}

	if status, ok := msg.SpeechStatus(); ok && !c.levelFeedEnabled() {
		switch status {
		case "started":
			c.emit(Event{Type: EventSpeechStart})
		case "stopped":
			c.emit(Event{Type: EventSpeechEnd})
		default:
			logrus.WithFields(logrus.Fields{
				"function": "handleAppMessage",
				"status":   status,
			}).Debug("Unhandled speech-update status")
		}
	}

	c.emit(Event{Type: EventMessage, Message: msg.Payload})
}

func (c *Client) handleTrackStarted(track transport.TrackInfo) {
	if track.Local {
		return
	}
	switch track.Kind {
	case transport.TrackKindAudio:
		if track.UserName != AgentSpeakerName {
			return
		}
		trans := c.activeTransport()
		if trans == nil {
			return
		}
		if err := trans.SendAppMessage([]byte("playable")); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "handleTrackStarted",
				"error":    err.Error(),
			}).Warn("Failed to acknowledge agent audio track")
		}
	case transport.TrackKindVideo, transport.TrackKindScreenVideo:
		t := track
		c.emit(Event{Type: EventVideo, Track: &t})
	}
}

// handleParticipantJoined subscribes each newly joined remote participant
// to audio always, and to video only when recording or video mode is
// enabled, avoiding unnecessary bandwidth.
func (c *Client) handleParticipantJoined(p transport.Participant) {
	if p.Local {
		return
	}
	trans := c.activeTransport()
	session := c.activeSession()
	if trans == nil || session == nil {
		return
	}

	wantVideo := session.VideoRecordingEnabled() || session.VideoEnabled()
	err := trans.UpdateParticipantSubscription(p.ID, transport.SubscriptionSettings{
		Audio:       true,
		Video:       wantVideo,
		ScreenVideo: wantVideo,
	})
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function":       "handleParticipantJoined",
			"participant_id": p.ID,
			"error":          err.Error(),
		}).Warn("Failed to subscribe participant tracks")
	}
}

func (c *Client) handleParticipantUpdated(p transport.Participant) {
	participant := p
	c.emit(Event{Type: EventRemoteParticipantUpdated, Participant: &participant})
}

func (c *Client) handleParticipantLeft(p transport.Participant) {
	if p.Local {
		return
	}
	logrus.WithFields(logrus.Fields{
		"function":       "handleParticipantLeft",
		"participant_id": p.ID,
	}).Info("Remote participant left, tearing down session")
	c.cleanup()
}

func (c *Client) handleRemoteAudioLevels(levels map[string]float64) {
	c.detector.Sample(levels)
}

// handleRecordingStarted aligns the agent's first utterance with recording
// availability: the measured delay between the recording request and its
// confirmation travels in a say-first-message control frame.
func (c *Client) handleRecordingStarted() {
	c.mu.Lock()
	requestedAt := c.recordingRequestedAt
	c.mu.Unlock()

	session := c.activeSession()
	if session == nil {
		return
	}
	session.setState(StateActive)

	delay := time.Duration(0)
	if !requestedAt.IsZero() {
		delay = c.now().Sub(requestedAt)
	}

	msg := protocol.NewControl(protocol.ControlSayFirstMessage)
	msg.VideoRecordingStartDelaySeconds = delay.Seconds()
	if err := c.Send(msg); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "handleRecordingStarted",
			"error":    err.Error(),
		}).Warn("Failed to send say-first-message control")
		return
	}

	logrus.WithFields(logrus.Fields{
		"function":      "handleRecordingStarted",
		"delay_seconds": delay.Seconds(),
	}).Info("Recording confirmed, session active")
}

// cleanup tears the session down. It is idempotent and a no-op when no
// session exists. Event subscriptions are removed before the transport is
// destroyed so no callback can re-enter during teardown.
func (c *Client) cleanup() {
	c.mu.Lock()
	trans := c.trans
	session := c.session
	if trans == nil && session == nil && !c.started {
		c.mu.Unlock()
		return
	}
	c.trans = nil
	c.session = nil
	c.started = false
	c.levelFeedActive = false
	c.recordingRequestedAt = time.Time{}
	c.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function": "cleanup",
	}).Info("Tearing down session")

	if trans != nil {
		trans.UnregisterHandlers()
	}
	c.devices.Detach()
	c.detector.Reset()
	if trans != nil {
		_ = trans.Destroy()
	}

	if session == nil {
		return
	}
	if trans != nil {
		// Downstream consumers always observe a terminal status message
		// exactly once, regardless of which side closed the connection.
		if !session.endedStatusObserved() {
			session.markEndedStatusSeen()
			c.emit(Event{Type: EventMessage, Message: protocol.SynthesizedEndedStatus()})
		}
		if session.markEndEmitted() {
			c.emit(Event{Type: EventCallEnd})
		}
	}
	if session.State() != StateFailed {
		session.setState(StateEnded)
	}
	c.metrics.SessionEnded()
}

func (c *Client) activeTransport() transport.Transport {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.trans
}

func (c *Client) activeSession() *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

func (c *Client) levelFeedEnabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.levelFeedActive
}

// Session returns the current session record, or nil when idle.
func (c *Client) Session() *Session {
	return c.activeSession()
}

// Send serializes an application message and sends it over the data
// channel.
func (c *Client) Send(msg protocol.ClientMessage) error {
	trans := c.activeTransport()
	if trans == nil {
		return ErrNoActiveSession
	}
	data, err := protocol.Encode(msg)
	if err != nil {
		return err
	}
	return trans.SendAppMessage(data)
}

// Say instructs the agent to speak the given content. The optional flags
// control whether the call ends after speaking and whether the utterance
// may be interrupted; nil leaves the agent's defaults in place.
func (c *Client) Say(content string, endCallAfterSpoken, interruptionsEnabled, interruptAssistantEnabled *bool) error {
	return c.Send(protocol.Say{
		Type:                      protocol.TypeSay,
		Content:                   content,
		EndCallAfterSpoken:        endCallAfterSpoken,
		InterruptionsEnabled:      interruptionsEnabled,
		InterruptAssistantEnabled: interruptAssistantEnabled,
	})
}

// SetMuted enables or disables local microphone transmission.
func (c *Client) SetMuted(muted bool) error {
	trans := c.activeTransport()
	if trans == nil {
		return ErrNoActiveSession
	}
	return trans.SetLocalAudio(!muted)
}

// IsMuted reports whether local audio is muted. With no active session it
// reports false.
func (c *Client) IsMuted() bool {
	trans := c.activeTransport()
	if trans == nil {
		return false
	}
	return !trans.LocalAudio()
}

// SetLocalVideo enables or disables local camera transmission.
func (c *Client) SetLocalVideo(enabled bool) error {
	trans := c.activeTransport()
	if trans == nil {
		return ErrNoActiveSession
	}
	if session := c.activeSession(); session != nil {
		session.setVideoEnabled(enabled)
	}
	return trans.SetLocalVideo(enabled)
}

// IsVideoEnabled reports whether local video is currently transmitted.
func (c *Client) IsVideoEnabled() bool {
	trans := c.activeTransport()
	if trans == nil {
		return false
	}
	return trans.LocalVideo()
}

// StartCamera starts local camera capture.
func (c *Client) StartCamera() error {
	return c.SetLocalVideo(true)
}

// CycleCamera switches to the next available camera device.
func (c *Client) CycleCamera() error {
	trans := c.activeTransport()
	if trans == nil {
		return ErrNoActiveSession
	}
	return trans.CycleCamera()
}

// CameraDevices returns the current camera candidate list.
func (c *Client) CameraDevices() []device.Item {
	return c.devices.Cameras()
}

// AudioDevices returns the current audio device candidate list.
func (c *Client) AudioDevices() []device.Item {
	return c.devices.AudioDevices()
}

// SelectedCamera returns the id of the selected camera.
func (c *Client) SelectedCamera() string {
	return c.devices.SelectedCamera()
}

// SelectedAudioDevice returns the id of the selected audio device.
func (c *Client) SelectedAudioDevice() string {
	return c.devices.SelectedAudioDevice()
}

// SetCamera selects the camera device by id.
func (c *Client) SetCamera(deviceID string) error {
	return c.devices.SetCamera(deviceID)
}

// SetAudioDevice selects the audio device by id.
func (c *Client) SetAudioDevice(deviceID string) error {
	return c.devices.SetAudioDevice(deviceID)
}

// StartScreenShare begins sharing the local screen.
func (c *Client) StartScreenShare() error {
	trans := c.activeTransport()
	if trans == nil {
		return ErrNoActiveSession
	}
	return trans.StartScreenShare()
}

// StopScreenShare stops sharing the local screen.
func (c *Client) StopScreenShare() error {
	trans := c.activeTransport()
	if trans == nil {
		return ErrNoActiveSession
	}
	return trans.StopScreenShare()
}

// Participants lists the current room members.
func (c *Client) Participants() ([]transport.Participant, error) {
	trans := c.activeTransport()
	if trans == nil {
		return nil, ErrNoActiveSession
	}
	return trans.Participants(), nil
}

// UpdateSendSettings passes provider-specific send settings through to the
// transport.
func (c *Client) UpdateSendSettings(settings map[string]any) error {
	trans := c.activeTransport()
	if trans == nil {
		return ErrNoActiveSession
	}
	return trans.UpdateSendSettings(settings)
}

// UpdateReceiveSettings passes provider-specific receive settings through
// to the transport.
func (c *Client) UpdateReceiveSettings(settings map[string]any) error {
	trans := c.activeTransport()
	if trans == nil {
		return ErrNoActiveSession
	}
	return trans.UpdateReceiveSettings(settings)
}
