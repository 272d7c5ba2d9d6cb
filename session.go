package callbridge

import (
	"sync"
	"time"
)

// SessionState tracks where a session is in its lifecycle.
type SessionState uint32

const (
	// StateIdle indicates no session exists.
	StateIdle SessionState = iota
	// StateInitializing indicates a startup attempt is underway.
	StateInitializing
	// StateWebCallCreated indicates the registry issued a call record.
	StateWebCallCreated
	// StateTransportJoining indicates the transport is connecting.
	StateTransportJoining
	// StateJoined indicates the transport joined the room.
	StateJoined
	// StateActive indicates recording is confirmed and the call is fully
	// established.
	StateActive
	// StateEnded indicates the session ended normally.
	StateEnded
	// StateFailed indicates the session was aborted by a fatal error.
	StateFailed
)

// String returns a human-readable state name.
func (s SessionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateInitializing:
		return "initializing"
	case StateWebCallCreated:
		return "web-call-created"
	case StateTransportJoining:
		return "transport-joining"
	case StateJoined:
		return "joined"
	case StateActive:
		return "active"
	case StateEnded:
		return "ended"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Session is the record of one live call, owned exclusively by the client.
// At most one Session exists per client at any time.
type Session struct {
	mu sync.RWMutex

	state     SessionState
	startedAt time.Time
	roomURL   string
	callID    string

	videoRecordingEnabled bool
	videoEnabled          bool

	endedStatusSeen bool
	endEmitted      bool
}

func newSession(now time.Time) *Session {
	return &Session{
		state:     StateInitializing,
		startedAt: now,
	}
}

// State returns the current session state.
func (s *Session) State() SessionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Session) setState(state SessionState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
}

// StartedAt returns when the startup attempt began.
func (s *Session) StartedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.startedAt
}

// CallID returns the registry-issued call identifier.
func (s *Session) CallID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.callID
}

// RoomURL returns the joinable room reference.
func (s *Session) RoomURL() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.roomURL
}

func (s *Session) setWebCall(callID, roomURL string, videoRecording, video bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.callID = callID
	s.roomURL = roomURL
	s.videoRecordingEnabled = videoRecording
	s.videoEnabled = video
	s.state = StateWebCallCreated
}

// VideoRecordingEnabled reports whether the backend expects a recording.
func (s *Session) VideoRecordingEnabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.videoRecordingEnabled
}

// VideoEnabled reports whether the session runs with video capture.
func (s *Session) VideoEnabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.videoEnabled
}

func (s *Session) setVideoEnabled(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.videoEnabled = enabled
}

// markEndedStatusSeen records that a terminal status-update arrived over
// the data channel, so teardown does not synthesize a duplicate.
func (s *Session) markEndedStatusSeen() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.endedStatusSeen = true
}

func (s *Session) endedStatusObserved() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.endedStatusSeen
}

// markEndEmitted flips the once-only call-end guard. It returns true on
// the first call and false afterwards.
func (s *Session) markEndEmitted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.endEmitted {
		return false
	}
	s.endEmitted = true
	return true
}
