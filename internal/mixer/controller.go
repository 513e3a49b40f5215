// ABOUTME: Adaptive audibility cutoff controller
// ABOUTME: Sheds quiet and distant sources when the scheduler stops sleeping
package mixer

// CutoffEvent is the outcome of one controller update
type CutoffEvent int

const (
	CutoffUnchanged CutoffEvent = iota
	CutoffRaised
	CutoffLowered
)

func (e CutoffEvent) String() string {
	switch e {
	case CutoffRaised:
		return "raised"
	case CutoffLowered:
		return "lowered"
	default:
		return "unchanged"
	}
}

// ControllerState is owned by the scheduler and copied into each pass
type ControllerState struct {
	TrailingSleepRatio     float32
	CutoffRatio            float32
	FramesSinceCutoffEvent int
}

// NewControllerState starts as if the server had been fully idle
func NewControllerState() ControllerState {
	return ControllerState{TrailingSleepRatio: 1}
}

// Update folds one frame's sleep ratio into the trailing average and, once
// a full window has passed since the last change, adjusts the cutoff
func (c *ControllerState) Update(sleepRatio float32, s *Settings) CutoffEvent {
	window := float32(s.ControllerWindowFrames)
	c.TrailingSleepRatio = c.TrailingSleepRatio*(1-1/window) + sleepRatio/window
	c.FramesSinceCutoffEvent++

	if c.FramesSinceCutoffEvent < s.ControllerWindowFrames {
		return CutoffUnchanged
	}

	step := s.CutoffStep
	switch {
	case c.TrailingSleepRatio <= s.StruggleThreshold:
		next := min(c.CutoffRatio+step, 1-step)
		if next <= c.CutoffRatio {
			return CutoffUnchanged
		}
		c.CutoffRatio = next
		c.FramesSinceCutoffEvent = 0
		return CutoffRaised

	case c.TrailingSleepRatio >= s.RecoveryThreshold && c.CutoffRatio > 0:
		c.CutoffRatio -= step
		if c.CutoffRatio < step/2 {
			c.CutoffRatio = 0
		}
		c.FramesSinceCutoffEvent = 0
		return CutoffLowered
	}
	return CutoffUnchanged
}

// AudibilityThreshold is base / (1 - cutoff)
func (c ControllerState) AudibilityThreshold(base float32) float32 {
	return base / (1 - c.CutoffRatio)
}
