// ABOUTME: Tests for gain and azimuth computation
// ABOUTME: Distance falloff, off-axis cone, azimuth sign and concealment fade
package mixer

import (
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
)

func TestDistanceAttenuation(t *testing.T) {
	assert.Equal(t, float32(1), DistanceAttenuation(0.5, 0.5))
	assert.Equal(t, float32(1), DistanceAttenuation(1, 0.5))
	assert.InDelta(t, 0.5, DistanceAttenuation(2, 0.5), 1e-6)
	assert.InDelta(t, 0.25, DistanceAttenuation(4, 0.5), 1e-6)
	assert.Equal(t, float32(1), DistanceAttenuation(100, 0))

	prev := float32(1)
	for d := float32(1); d < 1000; d *= 1.3 {
		g := DistanceAttenuation(d, 0.3)
		assert.LessOrEqual(t, g, prev, "distance %f", d)
		assert.Greater(t, g, float32(0))
		prev = g
	}
}

func TestOffAxisAttenuation(t *testing.T) {
	cone, minGain := float32(math.Pi/8), float32(0.2)
	origin := mgl32.Vec3{}

	// source at -Z facing +Z looks straight at the origin
	front := OffAxisAttenuation(mgl32.Vec3{0, 0, -2}, facingPlusZ(), origin, cone, minGain)
	assert.InDelta(t, 1, front, 1e-5)

	// source at +Z facing +Z has its back to the origin
	behind := OffAxisAttenuation(mgl32.Vec3{0, 0, 2}, facingPlusZ(), origin, cone, minGain)
	assert.InDelta(t, 0.2, behind, 1e-4)

	// side is between the two
	side := OffAxisAttenuation(mgl32.Vec3{-2, 0, 0}, mgl32.QuatIdent(), origin, cone, minGain)
	assert.Greater(t, side, behind)
	assert.Less(t, side, front)

	assert.Equal(t, float32(1), OffAxisAttenuation(origin, mgl32.QuatIdent(), origin, cone, minGain))
}

func TestAzimuth(t *testing.T) {
	ident := mgl32.QuatIdent()
	origin := mgl32.Vec3{}

	assert.InDelta(t, 0, Azimuth(origin, ident, mgl32.Vec3{0, 0, -3}), 1e-6)
	assert.InDelta(t, math.Pi/2, Azimuth(origin, ident, mgl32.Vec3{1, 0, 0}), 1e-5)
	assert.InDelta(t, -math.Pi/2, Azimuth(origin, ident, mgl32.Vec3{-1, 0, 0}), 1e-5)
	assert.InDelta(t, math.Pi, math.Abs(float64(Azimuth(origin, ident, mgl32.Vec3{0, 0, 2}))), 1e-5)

	// elevation alone has no azimuth
	assert.Equal(t, float32(0), Azimuth(origin, ident, mgl32.Vec3{0, 5, 0}))

	// turning left by 90 degrees puts -X in front
	left := mgl32.QuatRotate(math.Pi/2, mgl32.Vec3{0, 1, 0})
	assert.InDelta(t, 0, Azimuth(origin, left, mgl32.Vec3{-1, 0, 0}), 1e-5)

	// a full turn changes nothing
	full := mgl32.QuatRotate(2*math.Pi, mgl32.Vec3{0, 1, 0})
	src := mgl32.Vec3{1, 0, -1}
	assert.InDelta(t, Azimuth(origin, ident, src), Azimuth(origin, full, src), 1e-5)
}

func TestFadeFactor(t *testing.T) {
	assert.Equal(t, float32(1), FadeFactor(0, 10))
	assert.InDelta(t, 10.0/11.0, FadeFactor(1, 10), 1e-6)
	assert.InDelta(t, 1.0/11.0, FadeFactor(10, 10), 1e-6)
	assert.Equal(t, float32(0), FadeFactor(11, 10))
	assert.Equal(t, float32(0), FadeFactor(1, 0))

	prev := float32(1)
	for k := 1; k <= 12; k++ {
		f := FadeFactor(k, 10)
		assert.Less(t, f, prev+1e-9)
		prev = f
	}
}
