package progress

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stepClock returns times advancing by a fixed step on every call.
func stepClock(start time.Time, step time.Duration) func() time.Time {
	current := start
	return func() time.Time {
		now := current
		current = current.Add(step)
		return now
	}
}

func TestStageLifecycleEmitsOrderedEvents(t *testing.T) {
	var events []StageEvent
	tracker := NewTracker(func(e StageEvent) { events = append(events, e) }, nil)
	tracker.now = stepClock(time.Unix(1000, 0), 100*time.Millisecond)

	tracker.StageStart("create-web-call", map[string]any{"targetKind": "assistant"})
	tracker.StageComplete("create-web-call", map[string]any{"callId": "call-1"})

	require.Len(t, events, 2)
	assert.Equal(t, "create-web-call", events[0].Stage)
	assert.Equal(t, StageStarted, events[0].Status)
	assert.Equal(t, "assistant", events[0].Metadata["targetKind"])
	assert.Zero(t, events[0].Duration)

	assert.Equal(t, StageCompleted, events[1].Status)
	assert.Equal(t, 100*time.Millisecond, events[1].Duration)
	assert.Equal(t, "call-1", events[1].Metadata["callId"])
}

func TestStageFailCarriesErrorMetadata(t *testing.T) {
	var events []StageEvent
	tracker := NewTracker(func(e StageEvent) { events = append(events, e) }, nil)
	tracker.now = stepClock(time.Unix(1000, 0), 50*time.Millisecond)

	tracker.StageStart("join-room", nil)
	tracker.StageFail("join-room", errors.New("room unreachable"))

	require.Len(t, events, 2)
	assert.Equal(t, StageFailed, events[1].Status)
	assert.Equal(t, 50*time.Millisecond, events[1].Duration)
	assert.Equal(t, "room unreachable", events[1].Metadata["error"])
}

func TestStageDurationUnknownStage(t *testing.T) {
	var events []StageEvent
	tracker := NewTracker(func(e StageEvent) { events = append(events, e) }, nil)

	// Completing a stage that never started records a zero duration
	// instead of panicking.
	tracker.StageComplete("never-started", nil)

	require.Len(t, events, 1)
	assert.Zero(t, events[0].Duration)
}

func TestSucceedProducesTerminalRecord(t *testing.T) {
	tracker := NewTracker(nil, nil)
	tracker.now = stepClock(time.Unix(1000, 0), time.Second)
	tracker.startedAt = tracker.now()

	outcome := tracker.Succeed("call-42")

	assert.Equal(t, "call-42", outcome.CallID)
	assert.Equal(t, time.Second, outcome.TotalDuration)
	assert.False(t, outcome.Timestamp.IsZero())
}

func TestFailProducesAttributedRecord(t *testing.T) {
	tracker := NewTracker(nil, nil)
	tracker.now = stepClock(time.Unix(1000, 0), 2*time.Second)
	tracker.startedAt = tracker.now()

	cause := errors.New("registry rejected request")
	outcome := tracker.Fail("create-web-call", cause, map[string]any{"assistant": true})

	assert.Equal(t, "create-web-call", outcome.Stage)
	assert.Equal(t, 2*time.Second, outcome.TotalDuration)
	assert.Equal(t, cause, outcome.Err)
	assert.Equal(t, cause.Error(), outcome.Error)
	assert.Equal(t, true, outcome.Context["assistant"])
}

func TestMetricsObserveStagesAndOutcomes(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics("callbridge_test", reg)

	tracker := NewTracker(nil, metrics)
	tracker.StageStart("join-room", nil)
	tracker.StageComplete("join-room", nil)
	tracker.Succeed("call-1")

	count := testutil.CollectAndCount(reg, "callbridge_test_startup_stage_events_total")
	assert.Equal(t, 2, count)

	outcomes := testutil.ToFloat64(metrics.StartupOutcome.WithLabelValues("success"))
	assert.Equal(t, 1.0, outcomes)
}

func TestSessionGaugeNilSafe(t *testing.T) {
	var metrics *Metrics
	assert.NotPanics(t, func() {
		metrics.SessionStarted()
		metrics.SessionEnded()
	})
}

func TestSessionGauge(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics("callbridge_test", reg)

	metrics.SessionStarted()
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.ActiveSessions))
	metrics.SessionEnded()
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.ActiveSessions))
}
