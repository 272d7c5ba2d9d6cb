// Package device tracks available and selected media devices for an
// active call session.
//
// The manager mirrors the transport's device enumeration: on every
// device-list-changed notification it replaces its candidate lists
// wholesale, then defensively re-applies the devices the transport reports
// as in use, since device ids can be reassigned by the OS when hardware is
// hot-swapped. Re-sync failures are logged and tolerated; explicit
// selection commands surface their errors.
package device

import (
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/callbridge/transport"
)

// ErrNoActiveSession indicates a device operation was attempted without an
// active call session.
var ErrNoActiveSession = errors.New("no active session")

// Item is one selectable device as exposed to applications.
type Item struct {
	Value         string               `json:"value"`
	Label         string               `json:"label"`
	OriginalValue transport.DeviceInfo `json:"originalValue"`
}

// Manager owns the camera and microphone candidate lists and the current
// selection for each.
type Manager struct {
	mu       sync.RWMutex
	trans    transport.Transport
	cameras  []Item
	audio    []Item
	cameraID string
	audioID  string
}

// NewManager creates an empty device manager.
func NewManager() *Manager {
	return &Manager{}
}

// Attach binds the manager to the transport of a newly constructed call.
func (m *Manager) Attach(t transport.Transport) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trans = t
}

// Detach releases the transport binding on session teardown. Candidate
// lists are cleared; selection ids persist so a rejoin can restore them.
func (m *Manager) Detach() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trans = nil
	m.cameras = nil
	m.audio = nil
}

// UpdateAvailable replaces both candidate lists from a device-list-changed
// notification and re-syncs the active selection.
func (m *Manager) UpdateAvailable(devices []transport.DeviceInfo) {
	var cameras, audio []Item
	for _, d := range devices {
		item := Item{Value: d.ID, Label: d.Label, OriginalValue: d}
		switch d.Kind {
		case transport.DeviceKindVideoInput:
			cameras = append(cameras, item)
		case transport.DeviceKindAudio:
			audio = append(audio, item)
		}
	}

	m.mu.Lock()
	m.cameras = cameras
	m.audio = audio
	m.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function":     "UpdateAvailable",
		"camera_count": len(cameras),
		"audio_count":  len(audio),
	}).Debug("Device candidate lists replaced")

	m.refreshSelected()
}

// refreshSelected queries the transport for the devices currently in use
// and re-applies them. Failures here are logged and ignored: a device that
// disappeared mid-call must not abort the session.
func (m *Manager) refreshSelected() {
	m.mu.RLock()
	trans := m.trans
	m.mu.RUnlock()
	if trans == nil {
		return
	}

	camera, audio, err := trans.InputDevices()
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "refreshSelected",
			"error":    err.Error(),
		}).Warn("Failed to query devices in use")
		return
	}

	if camera.ID != "" {
		m.mu.Lock()
		m.cameraID = camera.ID
		m.mu.Unlock()
		if err := trans.SetCamera(camera.ID); err != nil {
			logrus.WithFields(logrus.Fields{
				"function":  "refreshSelected",
				"device_id": camera.ID,
				"error":     err.Error(),
			}).Warn("Failed to re-apply camera device")
		}
	}

	if audio.ID != "" {
		m.mu.Lock()
		m.audioID = audio.ID
		m.mu.Unlock()
		if err := trans.SetAudioDevice(audio.ID); err != nil {
			logrus.WithFields(logrus.Fields{
				"function":  "refreshSelected",
				"device_id": audio.ID,
				"error":     err.Error(),
			}).Warn("Failed to re-apply audio device")
		}
	}
}

// Cameras returns the current camera candidate list.
func (m *Manager) Cameras() []Item {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Item(nil), m.cameras...)
}

// AudioDevices returns the current audio device candidate list.
func (m *Manager) AudioDevices() []Item {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Item(nil), m.audio...)
}

// SelectedCamera returns the id of the selected camera, if any.
func (m *Manager) SelectedCamera() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cameraID
}

// SelectedAudioDevice returns the id of the selected audio device, if any.
func (m *Manager) SelectedAudioDevice() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.audioID
}

// SetCamera selects a camera and forwards the selection to the transport.
func (m *Manager) SetCamera(deviceID string) error {
	m.mu.Lock()
	trans := m.trans
	if trans == nil {
		m.mu.Unlock()
		return ErrNoActiveSession
	}
	m.cameraID = deviceID
	m.mu.Unlock()

	if err := trans.SetCamera(deviceID); err != nil {
		return fmt.Errorf("failed to set camera device: %w", err)
	}
	return nil
}

// SetAudioDevice selects an audio device and forwards the selection to the
// transport.
func (m *Manager) SetAudioDevice(deviceID string) error {
	m.mu.Lock()
	trans := m.trans
	if trans == nil {
		m.mu.Unlock()
		return ErrNoActiveSession
	}
	m.audioID = deviceID
	m.mu.Unlock()

	if err := trans.SetAudioDevice(deviceID); err != nil {
		return fmt.Errorf("failed to set audio device: %w", err)
	}
	return nil
}
