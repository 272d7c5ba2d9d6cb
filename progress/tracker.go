// Package progress records the staged startup sequence of a call session
// and emits observable, attributable telemetry for each stage and for the
// attempt as a whole.
//
// A Tracker is created per startup attempt. Stages run sequentially; each
// produces a started event followed by exactly one of completed or failed.
// After all stages resolve, exactly one terminal outcome (success or
// failure) is emitted.
package progress

import (
	"time"

	"github.com/sirupsen/logrus"
)

// StageStatus is the lifecycle of one startup stage.
type StageStatus string

const (
	StageStarted   StageStatus = "started"
	StageCompleted StageStatus = "completed"
	StageFailed    StageStatus = "failed"
)

// StageEvent is one progress record for a named startup stage.
type StageEvent struct {
	Stage     string         `json:"stage"`
	Status    StageStatus    `json:"status"`
	Duration  time.Duration  `json:"duration,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Success is the terminal record of a fully successful startup.
type Success struct {
	TotalDuration time.Duration `json:"totalDuration"`
	CallID        string        `json:"callId"`
	Timestamp     time.Time     `json:"timestamp"`
}

// Failure is the terminal record of an aborted startup, attributed to the
// stage that failed.
type Failure struct {
	Stage         string         `json:"stage"`
	TotalDuration time.Duration  `json:"totalDuration"`
	Err           error          `json:"-"`
	Error         string         `json:"error"`
	Timestamp     time.Time      `json:"timestamp"`
	Context       map[string]any `json:"context,omitempty"`
}

// Tracker times the stages of one startup attempt. It is not reused across
// attempts; the controller creates a fresh tracker per Start call.
type Tracker struct {
	emit    func(StageEvent)
	metrics *Metrics
	now     func() time.Time

	startedAt time.Time
	stages    map[string]time.Time
}

// NewTracker creates a tracker for one startup attempt. The emit callback
// receives every stage transition; metrics may be nil.
func NewTracker(emit func(StageEvent), metrics *Metrics) *Tracker {
	t := &Tracker{
		emit:    emit,
		metrics: metrics,
		now:     time.Now,
		stages:  make(map[string]time.Time),
	}
	t.startedAt = t.now()
	return t
}

// StageStart records that a named stage began.
func (t *Tracker) StageStart(stage string, metadata map[string]any) {
	now := t.now()
	t.stages[stage] = now

	logrus.WithFields(logrus.Fields{
		"function": "StageStart",
		"stage":    stage,
	}).Debug("Startup stage started")

	t.dispatch(StageEvent{
		Stage:     stage,
		Status:    StageStarted,
		Timestamp: now,
		Metadata:  metadata,
	})
}

// StageComplete records that a named stage finished successfully.
func (t *Tracker) StageComplete(stage string, metadata map[string]any) {
	now := t.now()
	duration := t.stageDuration(stage, now)

	logrus.WithFields(logrus.Fields{
		"function": "StageComplete",
		"stage":    stage,
		"duration": duration,
	}).Debug("Startup stage completed")

	t.dispatch(StageEvent{
		Stage:     stage,
		Status:    StageCompleted,
		Duration:  duration,
		Timestamp: now,
		Metadata:  metadata,
	})
}

// StageFail records that a named stage failed. Stage failure does not by
// itself terminate the attempt; the caller decides whether the failure is
// fatal and, if so, follows with Fail.
func (t *Tracker) StageFail(stage string, err error) {
	now := t.now()
	duration := t.stageDuration(stage, now)

	logrus.WithFields(logrus.Fields{
		"function": "StageFail",
		"stage":    stage,
		"duration": duration,
		"error":    err.Error(),
	}).Warn("Startup stage failed")

	t.dispatch(StageEvent{
		Stage:     stage,
		Status:    StageFailed,
		Duration:  duration,
		Timestamp: now,
		Metadata:  map[string]any{"error": err.Error()},
	})
}

// Succeed produces the terminal success record for the attempt.
func (t *Tracker) Succeed(callID string) Success {
	now := t.now()
	outcome := Success{
		TotalDuration: now.Sub(t.startedAt),
		CallID:        callID,
		Timestamp:     now,
	}

	logrus.WithFields(logrus.Fields{
		"function":       "Succeed",
		"call_id":        callID,
		"total_duration": outcome.TotalDuration,
	}).Info("Call startup succeeded")

	if t.metrics != nil {
		t.metrics.observeOutcome("success", outcome.TotalDuration)
	}
	return outcome
}

// Fail produces the terminal failure record attributed to the given stage.
func (t *Tracker) Fail(stage string, err error, context map[string]any) Failure {
	now := t.now()
	outcome := Failure{
		Stage:         stage,
		TotalDuration: now.Sub(t.startedAt),
		Err:           err,
		Error:         err.Error(),
		Timestamp:     now,
		Context:       context,
	}

	logrus.WithFields(logrus.Fields{
		"function":       "Fail",
		"stage":          stage,
		"total_duration": outcome.TotalDuration,
		"error":          err.Error(),
	}).Error("Call startup failed")

	if t.metrics != nil {
		t.metrics.observeOutcome("failure", outcome.TotalDuration)
	}
	return outcome
}

func (t *Tracker) stageDuration(stage string, now time.Time) time.Duration {
	startedAt, ok := t.stages[stage]
	if !ok {
		return 0
	}
	return now.Sub(startedAt)
}

func (t *Tracker) dispatch(event StageEvent) {
	if t.metrics != nil {
		t.metrics.observeStage(event)
	}
	if t.emit != nil {
		t.emit(event)
	}
}
