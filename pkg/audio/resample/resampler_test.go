// ABOUTME: Tests for the linear resampler
// ABOUTME: Verifies chunk continuity and output counts
package resample

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResampleIdentityIsContinuousAcrossChunks(t *testing.T) {
	r := New(24000, 24000, 1)

	ramp := make([]int16, 20)
	for i := range ramp {
		ramp[i] = int16(i * 100)
	}

	out := make([]int16, 32)
	n1 := r.Resample(ramp[:10], out)
	n2 := r.Resample(ramp[10:], out[n1:])

	got := out[:n1+n2]
	assert.Equal(t, ramp[:len(got)], got)
	assert.Equal(t, 19, len(got))
}

func TestResampleDownsampleHalves(t *testing.T) {
	r := New(48000, 24000, 2)

	in := make([]int16, 480*2)
	out := make([]int16, 480)

	assert.Equal(t, 480, r.Resample(in, out))
	assert.Equal(t, 480, r.Resample(in, out))
}

func TestResampleInterpolates(t *testing.T) {
	r := New(12000, 24000, 1)

	out := make([]int16, 8)
	n := r.Resample([]int16{0, 100, 200}, out)

	assert.Equal(t, []int16{0, 50, 100, 150}, out[:n])
}

func TestSampleCountHelpers(t *testing.T) {
	r := New(48000, 24000, 2)
	assert.Equal(t, 480, r.OutputSamplesNeeded(960))
	assert.Equal(t, 960, r.InputSamplesNeeded(480))
}

func TestReset(t *testing.T) {
	r := New(24000, 24000, 1)
	out := make([]int16, 4)
	r.Resample([]int16{1, 2, 3}, out)
	r.Reset()
	assert.Equal(t, 0.0, r.position)
	assert.False(t, r.primed)
}
