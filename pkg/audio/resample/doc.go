// ABOUTME: Sample rate conversion for injector sources
// ABOUTME: Linear interpolation that stays continuous across chunk boundaries
// Package resample converts interleaved int16 audio to the mixer rate.
//
// A Resampler keeps the last input frame and the fractional read position
// between calls, so a source can be fed in arbitrary chunks:
//
//	r := resample.New(44100, audio.SampleRate, 2)
//	out := make([]int16, r.OutputSamplesNeeded(len(chunk))+2*2)
//	n := r.Resample(chunk, out)
package resample
