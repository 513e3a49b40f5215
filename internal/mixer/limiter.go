// ABOUTME: Stereo peak limiter from the float accumulator to int16 output
// ABOUTME: Instant attack with exponential release keeps sums from clipping
package mixer

import (
	"math"

	"github.com/Resonate-Protocol/resonate-mixer/pkg/audio"
)

const (
	limiterThreshold = 0.95
	limiterRelease   = 100e-3 // seconds
)

// Limiter holds the gain envelope for one listener
type Limiter struct {
	gain    float32
	release float32
}

// NewLimiter creates a limiter at unity gain
func NewLimiter() *Limiter {
	return &Limiter{
		gain:    1,
		release: float32(1 - math.Exp(-1/(limiterRelease*audio.SampleRate))),
	}
}

// Process limits interleaved stereo accumulator samples into out
func (l *Limiter) Process(in []float32, out []int16) {
	n := len(in) / 2
	if len(out)/2 < n {
		n = len(out) / 2
	}
	for i := 0; i < n; i++ {
		left, right := in[2*i], in[2*i+1]
		peak := max(abs32(left), abs32(right))

		target := float32(1)
		if peak > limiterThreshold {
			target = limiterThreshold / peak
		}
		if target < l.gain {
			l.gain = target
		} else {
			l.gain += (target - l.gain) * l.release
		}

		out[2*i] = audio.FloatToInt16(left * l.gain)
		out[2*i+1] = audio.FloatToInt16(right * l.gain)
	}
}

// Gain returns the current envelope gain
func (l *Limiter) Gain() float32 {
	return l.gain
}

func abs32(v float32) float32 {
	if v < 0 {
		return -v
	}
	return v
}
