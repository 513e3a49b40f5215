// ABOUTME: Audio encoder package for encoding mixed PCM to wire formats
// ABOUTME: Provides Encoder interface and implementations for PCM, Opus
// Package encode provides audio encoders for the codecs a listener can negotiate.
//
// Supports: PCM (16-bit little-endian), Opus
//
// All encoders accept interleaved int16 samples for exactly one mixer
// frame and return the payload carried in a MixedAudio packet.
//
// Example:
//
//	encoder, err := encode.New(format)
//	data, err := encoder.Encode(samples)
package encode
