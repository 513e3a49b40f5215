// ABOUTME: Audio type definitions
// ABOUTME: Defines audio formats, frame geometry and sample conversions
package audio

import "time"

const (
	// SampleRate is the rate every stream is mixed at
	SampleRate = 24000

	// FrameSamplesPerChannel is one network frame (10ms) worth of samples per channel
	FrameSamplesPerChannel = SampleRate / 100

	// FrameInterval is the wall-clock duration of one network frame
	FrameInterval = 10 * time.Millisecond

	// StereoFrameSamples is the interleaved sample count of a stereo frame
	StereoFrameSamples = FrameSamplesPerChannel * 2
)

// Codec names negotiated with clients and carried in mix packets
const (
	CodecPCM  = "pcm"
	CodecOpus = "opus"
)

// Format describes audio stream format
type Format struct {
	Codec      string
	SampleRate int
	Channels   int
}

// FrameSamples returns the interleaved sample count of one frame in this format
func (f Format) FrameSamples() int {
	channels := f.Channels
	if channels <= 0 {
		channels = 1
	}
	return FrameSamplesPerChannel * channels
}

// Int16ToFloat converts int16 samples to float32 in [-1, 1)
func Int16ToFloat(in []int16, out []float32) {
	n := len(in)
	if len(out) < n {
		n = len(out)
	}
	for i := 0; i < n; i++ {
		out[i] = float32(in[i]) / 32768.0
	}
}

// FloatToInt16 converts a normalized float32 sample to int16 with saturation
func FloatToInt16(sample float32) int16 {
	v := sample * 32768.0
	if v >= 32767.0 {
		return 32767
	}
	if v <= -32768.0 {
		return -32768
	}
	return int16(v)
}

// Loudness returns the mean absolute normalized amplitude of the samples
func Loudness(samples []int16) float32 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		if s < 0 {
			sum -= float64(s)
		} else {
			sum += float64(s)
		}
	}
	return float32(sum / float64(len(samples)) / 32768.0)
}

// IsSilent reports whether every sample is zero
func IsSilent(samples []int16) bool {
	for _, s := range samples {
		if s != 0 {
			return false
		}
	}
	return true
}
