// ABOUTME: Binaural spatializer for one listener/source pair
// ABOUTME: Applies interaural delay and head-shadow filtering with per-block interpolation
package hrtf

import (
	"math"

	"github.com/Resonate-Protocol/resonate-mixer/pkg/audio"
)

const (
	headRadius    = 0.0875 // meters
	speedOfSound  = 343.0  // meters per second
	delayLineSize = 64     // power of two, larger than the widest ITD

	// farEarMinGain is the far-ear level for a source fully to one side
	farEarMinGain = 0.5

	// shadowCoefficient is the far-ear one-pole coefficient at full shadow
	shadowCoefficient = 0.75

	// rearCoefficient is the extra lowpass applied to both ears for sources behind
	rearCoefficient = 0.35

	// airCoefficientPerDoubling adds high-frequency loss with distance
	airCoefficientPerDoubling = 0.04
	maxAirCoefficient         = 0.5
)

// maxITDSamples is the Woodworth interaural delay for a source at 90 degrees
var maxITDSamples = float32(headRadius / speedOfSound * (1 + math.Pi/2) * audio.SampleRate)

type params struct {
	itd    float32 // samples, positive delays the left ear
	gainL  float32
	gainR  float32
	coefL  float32
	coefR  float32
	volume float32
}

// Spatializer holds the filter memory for one pair. It is not safe for
// concurrent use; a listener's worker owns it for the duration of a pass.
type Spatializer struct {
	history [delayLineSize]float32
	pos     int

	lowL float32
	lowR float32

	prev   params
	primed bool

	ignorePenumbra bool
}

// New creates a spatializer with silent filter memory
func New() *Spatializer {
	return &Spatializer{}
}

// SetIgnorePenumbra turns off far-ear shadowing; the interaural delay is
// kept. The change ramps in over the next block.
func (s *Spatializer) SetIgnorePenumbra(ignore bool) {
	s.ignorePenumbra = ignore
}

// Render adds a binaural rendering of the mono block into the interleaved
// stereo accumulator. Parameters ramp from the previous call's values
// across the block.
func (s *Spatializer) Render(in []float32, out []float32, azimuth, distance, gain float32) {
	s.render(in, out, azimuth, distance, gain)
}

// RenderSilent advances the filter state without new signal. A nil block
// renders true silence so the delay line and filter tails decay; a non-nil
// block is a concealment repeat rendered at the given (faded) gain.
func (s *Spatializer) RenderSilent(in []float32, out []float32, azimuth, distance, gain float32) {
	s.render(in, out, azimuth, distance, gain)
}

func (s *Spatializer) render(in []float32, out []float32, azimuth, distance, gain float32) {
	n := len(out) / 2
	if in != nil && len(in) < n {
		n = len(in)
	}
	if n == 0 {
		return
	}

	next := computeParams(azimuth, distance, gain, s.ignorePenumbra)
	if !s.primed {
		s.prev = next
		s.primed = true
	}
	prev := s.prev
	step := 1 / float32(n)

	for i := 0; i < n; i++ {
		t := float32(i+1) * step
		p := lerpParams(prev, next, t)

		var x float32
		if in != nil {
			x = in[i]
		}
		s.history[s.pos] = x

		dl, dr := float32(0), float32(0)
		if p.itd > 0 {
			dl = p.itd
		} else {
			dr = -p.itd
		}
		xl := s.tap(dl)
		xr := s.tap(dr)
		s.pos = (s.pos + 1) & (delayLineSize - 1)

		s.lowL = (1-p.coefL)*xl + p.coefL*s.lowL
		s.lowR = (1-p.coefR)*xr + p.coefR*s.lowR

		out[2*i] += s.lowL * p.gainL * p.volume
		out[2*i+1] += s.lowR * p.gainR * p.volume
	}

	s.prev = next
	flushDenormal(&s.lowL)
	flushDenormal(&s.lowR)
}

// tap reads the delay line d samples behind the newest sample with linear interpolation
func (s *Spatializer) tap(d float32) float32 {
	whole := int(d)
	frac := d - float32(whole)
	a := s.history[(s.pos-whole)&(delayLineSize-1)]
	if frac == 0 {
		return a
	}
	b := s.history[(s.pos-whole-1)&(delayLineSize-1)]
	return a + (b-a)*frac
}

func computeParams(azimuth, distance, gain float32, ignorePenumbra bool) params {
	sin := float32(math.Sin(float64(azimuth)))
	cos := float32(math.Cos(float64(azimuth)))
	side := abs32(sin)

	farGain := 1 - (1-farEarMinGain)*side
	farCoef := shadowCoefficient * side
	if ignorePenumbra {
		farGain, farCoef = 1, 0
	}

	rear := float32(0)
	if cos < 0 {
		rear = -cos * rearCoefficient
	}

	air := float32(0)
	if distance > 1 {
		air = float32(math.Log2(float64(distance))) * airCoefficientPerDoubling
		if air > maxAirCoefficient {
			air = maxAirCoefficient
		}
	}

	p := params{
		itd:    maxITDSamples * sin,
		gainL:  1,
		gainR:  1,
		coefL:  combine(rear, air),
		coefR:  combine(rear, air),
		volume: gain,
	}
	if sin > 0 {
		p.gainL = farGain
		p.coefL = combine(p.coefL, farCoef)
	} else if sin < 0 {
		p.gainR = farGain
		p.coefR = combine(p.coefR, farCoef)
	}
	return p
}

// combine cascades two one-pole coefficients into one of equal DC gain
func combine(a, b float32) float32 {
	return 1 - (1-a)*(1-b)
}

func lerpParams(a, b params, t float32) params {
	return params{
		itd:    a.itd + (b.itd-a.itd)*t,
		gainL:  a.gainL + (b.gainL-a.gainL)*t,
		gainR:  a.gainR + (b.gainR-a.gainR)*t,
		coefL:  a.coefL + (b.coefL-a.coefL)*t,
		coefR:  a.coefR + (b.coefR-a.coefR)*t,
		volume: a.volume + (b.volume-a.volume)*t,
	}
}

func abs32(v float32) float32 {
	if v < 0 {
		return -v
	}
	return v
}

func flushDenormal(v *float32) {
	if abs32(*v) < 1e-15 {
		*v = 0
	}
}
