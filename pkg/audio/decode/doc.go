// ABOUTME: Audio decoder package for inbound stream payloads
// ABOUTME: Provides Decoder interface and implementations for PCM, Opus
// Package decode provides audio decoders for inbound microphone and injector audio.
//
// Supports: PCM (16-bit little-endian), Opus
//
// All decoders implement the Decoder interface and output interleaved
// int16 samples ready to be written into a stream's jitter buffer.
//
// Example:
//
//	decoder, err := decode.New(format)
//	samples, err := decoder.Decode(payload)
package decode
