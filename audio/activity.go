// Package audio derives discrete speech activity from continuous remote
// audio level samples.
//
// The detector consumes the periodic per-participant level feed exposed by
// the media transport and turns it into three semantic signals: a
// normalized volume level on every sample, a speech-start on the first
// sample above the speaking threshold after silence, and a single
// speech-end once no above-threshold sample has arrived for the debounce
// window.
package audio

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	// SpeakingThreshold is the aggregate level above which the remote
	// side is classified as speaking.
	SpeakingThreshold = 0.01

	// VolumeNormalizationCap divides the aggregate level to produce the
	// public volume value; one participant at a typical speaking level
	// reaches ~1.0.
	VolumeNormalizationCap = 0.15

	// SpeechEndDebounce is how long after the last above-threshold sample
	// speech is considered ended.
	SpeechEndDebounce = 1000 * time.Millisecond
)

// Callbacks receive the detector's semantic signals. Nil entries are not
// invoked.
type Callbacks struct {
	OnSpeechStart func()
	OnSpeechEnd   func()
	OnVolumeLevel func(level float64)
}

// Detector classifies remote speech activity with threshold and debounce
// logic. It is safe for concurrent use, though samples normally arrive
// from a single transport dispatch.
type Detector struct {
	callbacks Callbacks

	mu        sync.Mutex
	speaking  bool
	cancelEnd func() bool

	// schedule is replaceable for deterministic tests. It must return a
	// cancel function reporting whether the timer was stopped in time.
	schedule func(d time.Duration, fn func()) func() bool
}

// NewDetector creates a detector emitting into the given callbacks.
func NewDetector(callbacks Callbacks) *Detector {
	return &Detector{
		callbacks: callbacks,
		schedule: func(d time.Duration, fn func()) func() bool {
			timer := time.AfterFunc(d, fn)
			return timer.Stop
		},
	}
}

// Sample processes one periodic level sample. Levels are instantaneous
// per-participant values in [0, 1]; they are summed into an aggregate
// speech level before classification.
func (d *Detector) Sample(levels map[string]float64) {
	var speechLevel float64
	for _, level := range levels {
		speechLevel += level
	}

	if d.callbacks.OnVolumeLevel != nil {
		volume := speechLevel / VolumeNormalizationCap
		if volume > 1 {
			volume = 1
		}
		d.callbacks.OnVolumeLevel(volume)
	}

	if speechLevel <= SpeakingThreshold {
		return
	}

	d.mu.Lock()
	risingEdge := d.cancelEnd == nil
	if !risingEdge {
		// Still speaking; the pending end timer is stale.
		d.cancelEnd()
	}
	d.speaking = true
	d.cancelEnd = d.schedule(SpeechEndDebounce, d.fireSpeechEnd)
	d.mu.Unlock()

	if risingEdge {
		logrus.WithFields(logrus.Fields{
			"function":     "Sample",
			"speech_level": speechLevel,
		}).Debug("Speech activity started")
		if d.callbacks.OnSpeechStart != nil {
			d.callbacks.OnSpeechStart()
		}
	}
}

func (d *Detector) fireSpeechEnd() {
	d.mu.Lock()
	if d.cancelEnd == nil {
		// Reset raced the timer; the session is gone.
		d.mu.Unlock()
		return
	}
	d.cancelEnd = nil
	d.speaking = false
	d.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function": "fireSpeechEnd",
	}).Debug("Speech activity ended")
	if d.callbacks.OnSpeechEnd != nil {
		d.callbacks.OnSpeechEnd()
	}
}

// IsSpeaking reports whether the remote side is currently classified as
// speaking.
func (d *Detector) IsSpeaking() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.speaking
}

// Reset cancels any pending end timer without emitting speech-end and
// clears the speaking state. Called on session teardown so a stray timer
// cannot fire against a destroyed session.
func (d *Detector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cancelEnd != nil {
		d.cancelEnd()
		d.cancelEnd = nil
	}
	d.speaking = false
}

// setSchedule replaces the timer factory; tests use it to make the
// debounce deterministic.
func (d *Detector) setSchedule(schedule func(d time.Duration, fn func()) func() bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.schedule = schedule
}
