// ABOUTME: Gain and azimuth computation for one source heard by one listener
// ABOUTME: Distance falloff, off-axis attenuation and listener-relative azimuth
package mixer

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

const (
	// minDistanceGain is the floor of the distance falloff
	minDistanceGain = 1e-5

	// azimuthEpsilon is the horizontal length below which azimuth is 0
	azimuthEpsilon = 1e-4
)

var forward = mgl32.Vec3{0, 0, -1}

// DistanceAttenuation returns falloff^log2(distance) for distances beyond
// one unit, where falloff is 1 - attenuationPerDoubling
func DistanceAttenuation(distance, attenuationPerDoubling float32) float32 {
	if distance <= 1 {
		return 1
	}
	falloff := 1 - attenuationPerDoubling
	if falloff >= 1 {
		return 1
	}
	if falloff <= 0 {
		return minDistanceGain
	}
	g := float32(math.Pow(float64(falloff), math.Log2(float64(distance))))
	return mgl32.Clamp(g, minDistanceGain, 1)
}

// OffAxisAttenuation is 1 while the listener is inside the source's forward
// cone and falls linearly to minGain directly behind the source
func OffAxisAttenuation(sourcePos mgl32.Vec3, sourceOrient mgl32.Quat, listenerPos mgl32.Vec3, cone, minGain float32) float32 {
	toListener := listenerPos.Sub(sourcePos)
	if toListener.Len() < azimuthEpsilon {
		return 1
	}
	local := sourceOrient.Inverse().Rotate(toListener).Normalize()
	angle := float32(math.Acos(float64(mgl32.Clamp(local.Dot(forward), -1, 1))))
	if angle <= cone {
		return 1
	}
	t := (angle - cone) / (math.Pi - cone)
	return 1 - (1-minGain)*mgl32.Clamp(t, 0, 1)
}

// Azimuth is the signed horizontal angle from listener forward to the
// source, positive to the listener's right
func Azimuth(listenerPos mgl32.Vec3, listenerOrient mgl32.Quat, sourcePos mgl32.Vec3) float32 {
	local := listenerOrient.Inverse().Rotate(sourcePos.Sub(listenerPos))
	x, z := local[0], local[2]
	if float32(math.Hypot(float64(x), float64(z))) < azimuthEpsilon {
		return 0
	}
	return float32(math.Atan2(float64(x), float64(-z)))
}

// FadeFactor is the gain applied to the k-th consecutive concealment repeat;
// it reaches 0 after maxRepeats
func FadeFactor(k, maxRepeats int) float32 {
	if k < 1 {
		return 1
	}
	if k > maxRepeats {
		return 0
	}
	return 1 - float32(k)/float32(maxRepeats+1)
}
