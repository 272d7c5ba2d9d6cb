package callbridge

import (
	"sync"

	"github.com/opd-ai/callbridge/progress"
	"github.com/opd-ai/callbridge/transport"
)

// EventType names one of the client's semantic events. The set is closed;
// registering a listener for an unknown name simply never fires.
type EventType string

const (
	// EventCallStart fires when the transport reports a successful join
	// or the remote agent signals readiness.
	EventCallStart EventType = "call-start"
	// EventCallEnd fires exactly once when the session tears down.
	EventCallEnd EventType = "call-end"
	// EventSpeechStart fires on the rising edge of remote speech.
	EventSpeechStart EventType = "speech-start"
	// EventSpeechEnd fires once the debounce window elapses after the
	// last above-threshold audio sample.
	EventSpeechEnd EventType = "speech-end"
	// EventVolumeLevel carries the normalized remote volume per sample.
	EventVolumeLevel EventType = "volume-level"
	// EventMessage carries a parsed inbound application message.
	EventMessage EventType = "message"
	// EventError carries validation, startup, and transport errors.
	EventError EventType = "error"
	// EventVideo fires when a remote video track starts.
	EventVideo EventType = "video"
	// EventCameraError carries camera failures from the transport.
	EventCameraError EventType = "camera-error"
	// EventNetworkQualityChange carries connection quality reports.
	EventNetworkQualityChange EventType = "network-quality-change"
	// EventNetworkConnection carries connection lifecycle reports.
	EventNetworkConnection EventType = "network-connection"
	// EventRemoteParticipantUpdated fires when a remote participant's
	// state changes.
	EventRemoteParticipantUpdated EventType = "remote-participant-updated"
	// EventCallStartProgress carries one startup stage transition.
	EventCallStartProgress EventType = "call-start-progress"
	// EventCallStartSuccess carries the terminal startup success record.
	EventCallStartSuccess EventType = "call-start-success"
	// EventCallStartFailed carries the terminal startup failure record.
	EventCallStartFailed EventType = "call-start-failed"
)

// Event is the tagged union delivered to listeners. Type selects which of
// the payload fields is populated.
type Event struct {
	Type EventType

	// Message holds the parsed payload for EventMessage.
	Message map[string]any
	// Err holds the error for EventError and EventCameraError.
	Err error
	// Volume holds the normalized level for EventVolumeLevel.
	Volume float64
	// Participant holds the subject of EventRemoteParticipantUpdated.
	Participant *transport.Participant
	// Track holds the started track for EventVideo.
	Track *transport.TrackInfo
	// Quality holds the report for EventNetworkQualityChange.
	Quality *transport.NetworkQuality
	// Connection holds the report for EventNetworkConnection.
	Connection string
	// Progress holds the record for EventCallStartProgress.
	Progress *progress.StageEvent
	// Success holds the record for EventCallStartSuccess.
	Success *progress.Success
	// Failure holds the record for EventCallStartFailed.
	Failure *progress.Failure
}

// Listener receives events of the type it was registered for.
type Listener func(Event)

// emitter is the client's publish/subscribe core. Listeners for a given
// event type are invoked in registration order, synchronously with the
// emitting dispatch.
type emitter struct {
	mu        sync.RWMutex
	nextID    int
	listeners map[EventType][]registration
}

type registration struct {
	id int
	fn Listener
}

// On registers a listener for one event type and returns a function that
// removes it.
func (e *emitter) On(eventType EventType, listener Listener) (remove func()) {
	e.mu.Lock()
	if e.listeners == nil {
		e.listeners = make(map[EventType][]registration)
	}
	e.nextID++
	id := e.nextID
	e.listeners[eventType] = append(e.listeners[eventType], registration{id: id, fn: listener})
	e.mu.Unlock()

	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		regs := e.listeners[eventType]
		for i, reg := range regs {
			if reg.id == id {
				e.listeners[eventType] = append(regs[:i:i], regs[i+1:]...)
				return
			}
		}
	}
}

// RemoveAllListeners drops every registered listener.
func (e *emitter) RemoveAllListeners() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listeners = nil
}

func (e *emitter) emit(event Event) {
	e.mu.RLock()
	regs := append([]registration(nil), e.listeners[event.Type]...)
	e.mu.RUnlock()
	for _, reg := range regs {
		reg.fn(event)
	}
}
