package audio

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeScheduler captures scheduled end timers so tests can fire or cancel
// them deterministically.
type fakeScheduler struct {
	pending   []func()
	cancelled int
}

func (s *fakeScheduler) schedule(_ time.Duration, fn func()) func() bool {
	s.pending = append(s.pending, fn)
	return func() bool {
		s.cancelled++
		return true
	}
}

// fireLast runs the most recently scheduled end timer.
func (s *fakeScheduler) fireLast() {
	if len(s.pending) == 0 {
		panic("no pending timer")
	}
	s.pending[len(s.pending)-1]()
}

type recorder struct {
	starts  int
	ends    int
	volumes []float64
}

func newTestDetector() (*Detector, *recorder, *fakeScheduler) {
	rec := &recorder{}
	d := NewDetector(Callbacks{
		OnSpeechStart: func() { rec.starts++ },
		OnSpeechEnd:   func() { rec.ends++ },
		OnVolumeLevel: func(level float64) { rec.volumes = append(rec.volumes, level) },
	})
	sched := &fakeScheduler{}
	d.setSchedule(sched.schedule)
	return d, rec, sched
}

func TestSampleRisingEdgeEmitsSpeechStart(t *testing.T) {
	d, rec, _ := newTestDetector()

	d.Sample(map[string]float64{"agent": 0.02})

	assert.Equal(t, 1, rec.starts)
	assert.Equal(t, 0, rec.ends)
	assert.True(t, d.IsSpeaking())
}

func TestSampleBelowThresholdEmitsVolumeOnly(t *testing.T) {
	d, rec, sched := newTestDetector()

	d.Sample(map[string]float64{"agent": 0.005})

	assert.Equal(t, 0, rec.starts)
	assert.Empty(t, sched.pending)
	require.Len(t, rec.volumes, 1)
	assert.InDelta(t, 0.005/VolumeNormalizationCap, rec.volumes[0], 1e-9)
	assert.False(t, d.IsSpeaking())
}

func TestContinuedSpeechDoesNotReEmitStart(t *testing.T) {
	d, rec, sched := newTestDetector()

	d.Sample(map[string]float64{"agent": 0.02})
	d.Sample(map[string]float64{"agent": 0.03})
	d.Sample(map[string]float64{"agent": 0.02})

	assert.Equal(t, 1, rec.starts, "speech-start fires only on the rising edge")
	assert.Equal(t, 0, rec.ends)
	// Each above-threshold sample replaces the pending end timer.
	assert.Equal(t, 3, len(sched.pending))
	assert.Equal(t, 2, sched.cancelled)
}

func TestDebounceEmitsSingleSpeechEnd(t *testing.T) {
	d, rec, sched := newTestDetector()

	d.Sample(map[string]float64{"agent": 0.02})
	sched.fireLast()

	assert.Equal(t, 1, rec.ends)
	assert.False(t, d.IsSpeaking())

	// A new utterance after silence is a fresh rising edge.
	d.Sample(map[string]float64{"agent": 0.02})
	assert.Equal(t, 2, rec.starts)
}

func TestVolumeNormalization(t *testing.T) {
	tests := []struct {
		name     string
		levels   map[string]float64
		expected float64
	}{
		{"mid level", map[string]float64{"a": 0.075}, 0.5},
		{"clamped at one", map[string]float64{"a": 0.2}, 1.0},
		{"summed across participants", map[string]float64{"a": 0.05, "b": 0.025}, 0.5},
		{"silence", map[string]float64{"a": 0}, 0},
		{"empty sample", nil, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, rec, _ := newTestDetector()
			d.Sample(tt.levels)
			require.Len(t, rec.volumes, 1)
			assert.InDelta(t, tt.expected, rec.volumes[0], 1e-9)
		})
	}
}

func TestResetCancelsPendingEndWithoutEmitting(t *testing.T) {
	d, rec, sched := newTestDetector()

	d.Sample(map[string]float64{"agent": 0.02})
	d.Reset()

	assert.Equal(t, 1, sched.cancelled)
	assert.Equal(t, 0, rec.ends)
	assert.False(t, d.IsSpeaking())

	// A timer that already escaped cancellation must not emit after Reset.
	sched.fireLast()
	assert.Equal(t, 0, rec.ends)
}

func TestDefaultScheduleUsesRealTimer(t *testing.T) {
	rec := &recorder{}
	d := NewDetector(Callbacks{
		OnSpeechEnd: func() { rec.ends++ },
	})

	d.Sample(map[string]float64{"agent": 0.02})
	d.Reset()
	assert.Equal(t, 0, rec.ends)
}
