// ABOUTME: Jitter-compensating ring buffer of int16 samples
// ABOUTME: Tracks fill level, overflow, starvation and per-frame loudness
package stream

import (
	"github.com/Resonate-Protocol/resonate-mixer/pkg/audio"
)

const (
	// DefaultCapacityFrames is the ring size used when none is configured
	DefaultCapacityFrames = 100

	trailingLoudnessFrames = 100
	loudnessFlushFloor     = 1e-4
)

// Buffer is a fixed-capacity ring of interleaved samples with monotonic
// write and read counters. It has a single writer and a single reader
// (the scheduler), so it carries no lock.
type Buffer struct {
	ring         []int16
	frameSamples int

	written uint64
	read    uint64

	overflowCount uint64
	starveCount   uint64
	framesPopped  uint64

	lastPopLoudness  float32
	trailingLoudness float32
	availableAverage float32

	scratch []int16
}

// NewBuffer creates a buffer holding capacityFrames frames of frameSamples each
func NewBuffer(frameSamples, capacityFrames int) *Buffer {
	if frameSamples <= 0 {
		frameSamples = audio.FrameSamplesPerChannel
	}
	if capacityFrames <= 0 {
		capacityFrames = DefaultCapacityFrames
	}
	return &Buffer{
		ring:         make([]int16, frameSamples*capacityFrames),
		frameSamples: frameSamples,
		scratch:      make([]int16, frameSamples),
	}
}

// FrameSamples returns the interleaved sample count of one frame
func (b *Buffer) FrameSamples() int {
	return b.frameSamples
}

// CapacityFrames returns the ring size in frames
func (b *Buffer) CapacityFrames() int {
	return len(b.ring) / b.frameSamples
}

// Write appends samples. When the ring would lap the read counter, whole
// frames are discarded from the oldest unread data and counted.
func (b *Buffer) Write(samples []int16) {
	if len(samples) == 0 {
		return
	}

	capacity := uint64(len(b.ring))
	unread := b.written - b.read
	need := unread + uint64(len(samples))
	if need > capacity {
		excess := need - capacity
		frames := (excess + uint64(b.frameSamples) - 1) / uint64(b.frameSamples)
		drop := frames * uint64(b.frameSamples)
		b.overflowCount += frames

		if drop <= unread {
			b.read += drop
		} else {
			// everything unread goes, plus the head of the new input
			skip := drop - unread
			b.read = b.written
			samples = samples[skip:]
			b.written += skip
			b.read += skip
		}
	}

	for len(samples) > 0 {
		pos := int(b.written % capacity)
		n := copy(b.ring[pos:], samples)
		samples = samples[n:]
		b.written += uint64(n)
	}
}

// WriteSilence appends n zero samples
func (b *Buffer) WriteSilence(n int) {
	if n <= 0 {
		return
	}
	zeros := make([]int16, n)
	b.Write(zeros)
}

// SamplesAvailable returns the number of unread samples
func (b *Buffer) SamplesAvailable() int {
	return int(b.written - b.read)
}

// FramesAvailable returns the number of whole unread frames
func (b *Buffer) FramesAvailable() int {
	return b.SamplesAvailable() / b.frameSamples
}

// ShouldMix reports whether at least desiredJitterFrames frames are buffered
func (b *Buffer) ShouldMix(desiredJitterFrames int) bool {
	if desiredJitterFrames < 1 {
		desiredJitterFrames = 1
	}
	return b.FramesAvailable() >= desiredJitterFrames
}

// IsEmpty reports whether no unread samples remain
func (b *Buffer) IsEmpty() bool {
	return b.written == b.read
}

// PeekFrame returns the next frame without advancing the read counter.
// The returned slice is reused by the next call. A failed peek counts as a
// starve and drives the trailing loudness toward zero.
func (b *Buffer) PeekFrame() ([]int16, bool) {
	b.availableAverage = b.availableAverage*(1-1.0/trailingLoudnessFrames) +
		float32(b.FramesAvailable())/trailingLoudnessFrames

	if b.SamplesAvailable() < b.frameSamples {
		b.Starve()
		return nil, false
	}

	capacity := uint64(len(b.ring))
	pos := int(b.read % capacity)
	n := copy(b.scratch, b.ring[pos:])
	if n < b.frameSamples {
		copy(b.scratch[n:], b.ring[:b.frameSamples-n])
	}

	b.updateLoudness(audio.Loudness(b.scratch))
	return b.scratch, true
}

// Starve records a frame for which no audio was taken
func (b *Buffer) Starve() {
	b.starveCount++
	b.updateLoudness(0)
}

// Advance moves the read counter forward by one frame
func (b *Buffer) Advance() {
	if b.SamplesAvailable() < b.frameSamples {
		return
	}
	b.read += uint64(b.frameSamples)
	b.framesPopped++
}

// PopFrame returns one frame and advances the read counter
func (b *Buffer) PopFrame() ([]int16, bool) {
	frame, ok := b.PeekFrame()
	if ok {
		b.Advance()
	}
	return frame, ok
}

// updateLoudness follows rises immediately and decays over the trailing window
func (b *Buffer) updateLoudness(loudness float32) {
	b.lastPopLoudness = loudness
	if loudness >= b.trailingLoudness {
		b.trailingLoudness = loudness
		return
	}
	const current = 1.0 / trailingLoudnessFrames
	b.trailingLoudness = b.trailingLoudness*(1-current) + loudness*current
	if b.trailingLoudness < loudnessFlushFloor {
		b.trailingLoudness = 0
	}
}

// LastPopLoudness is the mean absolute normalized sample of the last peeked frame
func (b *Buffer) LastPopLoudness() float32 {
	return b.lastPopLoudness
}

// TrailingLoudness is the smoothed loudness used for audibility decisions
func (b *Buffer) TrailingLoudness() float32 {
	return b.trailingLoudness
}

// OverflowCount is the number of frames discarded because the ring was full
func (b *Buffer) OverflowCount() uint64 {
	return b.overflowCount
}

// StarveCount is the number of peeks that found less than a frame
func (b *Buffer) StarveCount() uint64 {
	return b.starveCount
}

// FramesAvailableAverage is the smoothed fill level in frames
func (b *Buffer) FramesAvailableAverage() float32 {
	return b.availableAverage
}

// Reset drops all unread data
func (b *Buffer) Reset() {
	b.read = b.written
	b.lastPopLoudness = 0
}
