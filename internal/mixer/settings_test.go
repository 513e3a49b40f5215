// ABOUTME: Tests for mixer settings
// ABOUTME: YAML overrides, validation failures and zone lookups
package mixer

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const zonedSettings = `
frame_interval: 20ms
pool_size: 4
desired_jitter_frames: 3
zones:
  - name: hall
    min: [-10, -10, -10]
    max: [0, 10, 10]
  - name: booth
    min: [0, -10, -10]
    max: [10, 10, 10]
zone_attenuations:
  - source: hall
    listener: booth
    coefficient: 0.9
reverb_zones:
  - zone: hall
    reverb_time: 1.8
    wet_level: 0.4
`

func writeSettings(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mixer.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaultSettingsValid(t *testing.T) {
	s := DefaultSettings()
	assert.NoError(t, s.Validate())
}

func TestLoadSettingsOverridesDefaults(t *testing.T) {
	s, err := LoadSettings(writeSettings(t, zonedSettings))
	require.NoError(t, err)

	assert.Equal(t, 20*time.Millisecond, s.FrameInterval)
	assert.Equal(t, 4, s.PoolSize)
	assert.Equal(t, 3, s.DesiredJitterFrames)
	assert.Equal(t, 100, s.ControllerWindowFrames)
	require.Len(t, s.Zones, 2)

	hall := mgl32.Vec3{-5, 0, 0}
	booth := mgl32.Vec3{5, 0, 0}
	assert.Equal(t, "hall", s.ZoneAt(hall))
	assert.Equal(t, "booth", s.ZoneAt(booth))
	assert.Equal(t, "", s.ZoneAt(mgl32.Vec3{50, 0, 0}))

	assert.InDelta(t, 0.9, s.AttenuationFor("hall", "booth"), 1e-6)
	assert.InDelta(t, 0.5, s.AttenuationFor("booth", "hall"), 1e-6)
	assert.InDelta(t, 0.5, s.AttenuationFor("", "booth"), 1e-6)

	rz, ok := s.ReverbAt("hall")
	require.True(t, ok)
	assert.InDelta(t, 1.8, rz.ReverbTime, 1e-6)
	_, ok = s.ReverbAt("booth")
	assert.False(t, ok)
}

func TestLoadSettingsRejectsInvalid(t *testing.T) {
	_, err := LoadSettings(writeSettings(t, `
pool_size: 0
zone_attenuations:
  - source: nowhere
    listener: elsewhere
    coefficient: 0.5
`))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidSettings))
	assert.Contains(t, err.Error(), "pool_size")
	assert.Contains(t, err.Error(), "nowhere")
}

func TestLoadSettingsMissingFile(t *testing.T) {
	_, err := LoadSettings(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestValidateThresholdOrder(t *testing.T) {
	s := DefaultSettings()
	s.StruggleThreshold, s.RecoveryThreshold = 0.3, 0.2
	assert.True(t, errors.Is(s.Validate(), ErrInvalidSettings))
}
