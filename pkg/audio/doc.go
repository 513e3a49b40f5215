// ABOUTME: Audio fundamentals package providing core types and utilities
// ABOUTME: Defines Format, mixer frame geometry and sample conversion functions
// Package audio provides fundamental audio types and utilities for the mixer.
//
// This package defines core types used throughout the mixer:
//   - Format: Describes audio stream format (codec, sample rate, channels)
//   - Frame geometry: the fixed 10ms network frame every stream is cut into
//
// It also provides utilities for converting between sample representations:
//   - int16 ↔ float32 (normalized to [-1, 1])
//   - float32 → int16 with saturation
//   - frame loudness
//
// Example:
//
//	format := audio.Format{
//	    Codec:      audio.CodecOpus,
//	    SampleRate: audio.SampleRate,
//	    Channels:   2,
//	}
//
//	mono := make([]float32, audio.FrameSamplesPerChannel)
//	audio.Int16ToFloat(samples, mono)
package audio
