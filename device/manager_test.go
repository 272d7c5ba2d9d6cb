package device

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/callbridge/transport"
)

// fakeTransport implements transport.Transport with just enough behavior
// for device manager tests.
type fakeTransport struct {
	transport.Transport

	inUseCamera transport.DeviceInfo
	inUseAudio  transport.DeviceInfo
	inUseErr    error

	setCameras []string
	setAudio   []string
	setErr     error
}

func (f *fakeTransport) InputDevices() (transport.DeviceInfo, transport.DeviceInfo, error) {
	return f.inUseCamera, f.inUseAudio, f.inUseErr
}

func (f *fakeTransport) SetCamera(deviceID string) error {
	f.setCameras = append(f.setCameras, deviceID)
	return f.setErr
}

func (f *fakeTransport) SetAudioDevice(deviceID string) error {
	f.setAudio = append(f.setAudio, deviceID)
	return f.setErr
}

func TestUpdateAvailablePartitionsByKind(t *testing.T) {
	m := NewManager()

	m.UpdateAvailable([]transport.DeviceInfo{
		{ID: "cam-1", Label: "Front Camera", Kind: transport.DeviceKindVideoInput},
		{ID: "cam-2", Label: "Back Camera", Kind: transport.DeviceKindVideoInput},
		{ID: "spk-1", Label: "Speakers", Kind: transport.DeviceKindAudio},
		{ID: "other", Label: "Ignored", Kind: "audioinput"},
	})

	cameras := m.Cameras()
	require.Len(t, cameras, 2)
	assert.Equal(t, "cam-1", cameras[0].Value)
	assert.Equal(t, "Front Camera", cameras[0].Label)
	assert.Equal(t, "cam-1", cameras[0].OriginalValue.ID)

	audio := m.AudioDevices()
	require.Len(t, audio, 1)
	assert.Equal(t, "spk-1", audio[0].Value)
}

func TestUpdateAvailableReplacesWholesale(t *testing.T) {
	m := NewManager()

	m.UpdateAvailable([]transport.DeviceInfo{
		{ID: "cam-1", Kind: transport.DeviceKindVideoInput},
	})
	m.UpdateAvailable([]transport.DeviceInfo{
		{ID: "cam-2", Kind: transport.DeviceKindVideoInput},
	})

	cameras := m.Cameras()
	require.Len(t, cameras, 1)
	assert.Equal(t, "cam-2", cameras[0].Value)
}

func TestUpdateAvailableReSyncsSelection(t *testing.T) {
	trans := &fakeTransport{
		inUseCamera: transport.DeviceInfo{ID: "cam-1", Kind: transport.DeviceKindVideoInput},
		inUseAudio:  transport.DeviceInfo{ID: "spk-1", Kind: transport.DeviceKindAudio},
	}
	m := NewManager()
	m.Attach(trans)

	m.UpdateAvailable([]transport.DeviceInfo{
		{ID: "cam-1", Kind: transport.DeviceKindVideoInput},
		{ID: "spk-1", Kind: transport.DeviceKindAudio},
	})

	assert.Equal(t, "cam-1", m.SelectedCamera())
	assert.Equal(t, "spk-1", m.SelectedAudioDevice())
	assert.Equal(t, []string{"cam-1"}, trans.setCameras)
	assert.Equal(t, []string{"spk-1"}, trans.setAudio)
}

func TestReSyncFailuresAreTolerated(t *testing.T) {
	trans := &fakeTransport{
		inUseCamera: transport.DeviceInfo{ID: "cam-1"},
		setErr:      errors.New("device vanished"),
	}
	m := NewManager()
	m.Attach(trans)

	// Must not panic or surface the error.
	m.UpdateAvailable([]transport.DeviceInfo{
		{ID: "cam-1", Kind: transport.DeviceKindVideoInput},
	})

	assert.Equal(t, "cam-1", m.SelectedCamera())
}

func TestReSyncQueryFailureLeavesSelectionUntouched(t *testing.T) {
	trans := &fakeTransport{inUseErr: errors.New("not joined yet")}
	m := NewManager()
	m.Attach(trans)

	m.UpdateAvailable([]transport.DeviceInfo{
		{ID: "cam-1", Kind: transport.DeviceKindVideoInput},
	})

	assert.Empty(t, m.SelectedCamera())
	assert.Empty(t, trans.setCameras)
}

func TestSetCameraRequiresSession(t *testing.T) {
	m := NewManager()
	err := m.SetCamera("cam-1")
	assert.ErrorIs(t, err, ErrNoActiveSession)

	err = m.SetAudioDevice("spk-1")
	assert.ErrorIs(t, err, ErrNoActiveSession)
}

func TestSetCameraForwardsToTransport(t *testing.T) {
	trans := &fakeTransport{}
	m := NewManager()
	m.Attach(trans)

	require.NoError(t, m.SetCamera("cam-2"))
	assert.Equal(t, "cam-2", m.SelectedCamera())
	assert.Equal(t, []string{"cam-2"}, trans.setCameras)
}

func TestSetCameraWrapsTransportError(t *testing.T) {
	trans := &fakeTransport{setErr: errors.New("busy")}
	m := NewManager()
	m.Attach(trans)

	err := m.SetCamera("cam-2")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to set camera device")
}

func TestDetachClearsListsButKeepsSelection(t *testing.T) {
	trans := &fakeTransport{}
	m := NewManager()
	m.Attach(trans)
	require.NoError(t, m.SetCamera("cam-1"))
	m.UpdateAvailable([]transport.DeviceInfo{
		{ID: "cam-1", Kind: transport.DeviceKindVideoInput},
	})

	m.Detach()

	assert.Empty(t, m.Cameras())
	assert.Empty(t, m.AudioDevices())
	assert.Equal(t, "cam-1", m.SelectedCamera())
	assert.ErrorIs(t, m.SetCamera("cam-2"), ErrNoActiveSession)
}
