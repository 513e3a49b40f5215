// ABOUTME: Tests for the audibility cutoff controller
// ABOUTME: Warm start, windowed raises under load, capped cutoff, stepwise recovery
package mixer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestControllerIdleNeverRaises(t *testing.T) {
	s := DefaultSettings()
	c := NewControllerState()
	for i := 0; i < 1000; i++ {
		assert.Equal(t, CutoffUnchanged, c.Update(1, &s))
	}
	assert.Equal(t, float32(0), c.CutoffRatio)
	assert.InDelta(t, 1, c.TrailingSleepRatio, 1e-5)
}

func TestControllerWarmStartDelaysFirstRaise(t *testing.T) {
	s := DefaultSettings()
	c := NewControllerState()

	for i := 0; i < s.ControllerWindowFrames; i++ {
		require.Equal(t, CutoffUnchanged, c.Update(0, &s))
	}
	assert.Equal(t, float32(0), c.CutoffRatio)
	assert.InDelta(t, 0.366, c.TrailingSleepRatio, 1e-3)

	// the idle average decays as 0.99^n and first crosses 0.1 at frame 230
	first := 0
	for frame := s.ControllerWindowFrames + 1; frame <= 300 && first == 0; frame++ {
		if c.Update(0, &s) == CutoffRaised {
			first = frame
		}
	}
	assert.Equal(t, 230, first)
	assert.InDelta(t, s.CutoffStep, c.CutoffRatio, 1e-6)
}

func TestControllerRaisesOncePerWindow(t *testing.T) {
	s := DefaultSettings()
	c := ControllerState{}

	raises := 0
	for i := 0; i < 3*s.ControllerWindowFrames; i++ {
		if c.Update(0, &s) == CutoffRaised {
			raises++
		}
	}
	assert.Equal(t, 3, raises)
	assert.InDelta(t, 3*s.CutoffStep, c.CutoffRatio, 1e-6)
	assert.Equal(t, 0, c.FramesSinceCutoffEvent)
}

func TestControllerCapsCutoff(t *testing.T) {
	s := DefaultSettings()
	c := ControllerState{CutoffRatio: 0.97, FramesSinceCutoffEvent: s.ControllerWindowFrames - 1}

	require.Equal(t, CutoffRaised, c.Update(0, &s))
	assert.InDelta(t, 1-s.CutoffStep, c.CutoffRatio, 1e-6)

	c.FramesSinceCutoffEvent = s.ControllerWindowFrames - 1
	assert.Equal(t, CutoffUnchanged, c.Update(0, &s))
	assert.Less(t, c.CutoffRatio, float32(1))
}

func TestControllerRecovers(t *testing.T) {
	s := DefaultSettings()
	c := ControllerState{TrailingSleepRatio: 1, CutoffRatio: 0.04, FramesSinceCutoffEvent: s.ControllerWindowFrames - 1}

	require.Equal(t, CutoffLowered, c.Update(1, &s))
	assert.InDelta(t, 0.02, c.CutoffRatio, 1e-6)

	c.FramesSinceCutoffEvent = s.ControllerWindowFrames - 1
	require.Equal(t, CutoffLowered, c.Update(1, &s))
	assert.Equal(t, float32(0), c.CutoffRatio)

	c.FramesSinceCutoffEvent = s.ControllerWindowFrames - 1
	assert.Equal(t, CutoffUnchanged, c.Update(1, &s))
}

func TestControllerHoldsBetweenThresholds(t *testing.T) {
	s := DefaultSettings()
	c := ControllerState{TrailingSleepRatio: 0.15, CutoffRatio: 0.1}
	for i := 0; i < 5*s.ControllerWindowFrames; i++ {
		assert.Equal(t, CutoffUnchanged, c.Update(0.15, &s))
	}
	assert.InDelta(t, 0.1, c.CutoffRatio, 1e-6)
}

func TestAudibilityThreshold(t *testing.T) {
	assert.InDelta(t, 1e-4, ControllerState{}.AudibilityThreshold(1e-4), 1e-9)
	assert.InDelta(t, 2e-4, ControllerState{CutoffRatio: 0.5}.AudibilityThreshold(1e-4), 1e-9)
	assert.Equal(t, "raised", CutoffRaised.String())
}
