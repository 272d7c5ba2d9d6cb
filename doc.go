// Package callbridge implements a client-side session controller for
// realtime voice and video agent calls.
//
// A Client owns at most one live call session at a time. Starting a call
// runs a staged sequence: the call registry service issues a call record,
// a media transport is constructed and wired, the transport joins the
// room named by the record, and, when the backend expects one, a recording
// is requested. Each stage emits progress telemetry; the attempt resolves
// to exactly one success or failure record.
//
// # Getting Started
//
// Create a client with an API token and subscribe to events before
// starting a call:
//
//	client, err := callbridge.New(callbridge.Config{APIToken: token})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	client.On(callbridge.EventCallStart, func(callbridge.Event) {
//	    fmt.Println("call is live")
//	})
//	client.On(callbridge.EventMessage, func(e callbridge.Event) {
//	    fmt.Printf("agent message: %v\n", e.Message)
//	})
//	client.On(callbridge.EventCallEnd, func(callbridge.Event) {
//	    fmt.Println("call ended")
//	})
//
//	call, err := client.Start(ctx, registry.Target{AssistantID: assistantID})
//	if err != nil {
//	    log.Fatal(err) // only invalid targets return an error
//	}
//	if call == nil {
//	    return // startup failed; details arrived via EventCallStartFailed
//	}
//	defer client.Stop()
//
// # Core Types
//
// The package defines several core types:
//
//   - [Client]: Session controller integrating registry, transport,
//     devices, speech detection, and startup telemetry
//   - [Config]: Configuration options for creating a new Client
//   - [Session]: Record of one live call and its lifecycle state
//   - [Event]: Tagged union delivered to registered listeners
//
// # Error Semantics
//
// Start returns an error only when the call target fails validation,
// before any side effect. Every later failure is converted into an
// EventCallStartFailed record plus an EventError, the partial session is
// torn down, and Start resolves to a nil call record. Commands issued
// with no active session return [ErrNoActiveSession].
//
// # Speech Activity
//
// When the transport supports remote audio level observation the client
// derives EventSpeechStart, EventSpeechEnd, and EventVolumeLevel from the
// level feed (see the audio package). Otherwise the agent's own
// speech-update messages drive the speech events.
package callbridge
