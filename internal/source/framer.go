// ABOUTME: Cuts a source into fixed mixer frames
// ABOUTME: Converts channel layout and resamples to the mixer rate
package source

import (
	"errors"
	"fmt"
	"io"

	"github.com/Resonate-Protocol/resonate-mixer/pkg/audio"
	"github.com/Resonate-Protocol/resonate-mixer/pkg/audio/resample"
)

// maxEmptyReads bounds consecutive reads that return no samples and no error
const maxEmptyReads = 8

// Framer turns a Source into 10ms frames at the mixer sample rate
type Framer struct {
	src       Source
	channels  int
	resampler *resample.Resampler

	raw       []int16
	converted []int16
	resampled []int16
	pending   []int16
	frame     []int16
	done      bool
}

// NewFramer wraps src, producing stereo frames when stereo is set and mono
// frames otherwise
func NewFramer(src Source, stereo bool) (*Framer, error) {
	if src.SampleRate() <= 0 || src.Channels() <= 0 {
		return nil, fmt.Errorf("invalid source format: %d Hz, %d channels", src.SampleRate(), src.Channels())
	}

	channels := 1
	if stereo {
		channels = 2
	}

	f := &Framer{
		src:      src,
		channels: channels,
		// one 10ms chunk at the source rate
		raw:   make([]int16, src.SampleRate()/100*src.Channels()),
		frame: make([]int16, audio.FrameSamplesPerChannel*channels),
	}
	if src.SampleRate() != audio.SampleRate {
		f.resampler = resample.New(src.SampleRate(), audio.SampleRate, channels)
	}
	return f, nil
}

// Channels returns the channel count of produced frames
func (f *Framer) Channels() int { return f.channels }

// Next returns the next frame. The frame is reused by the following call.
// A source that ends mid-frame yields one zero-padded frame, then io.EOF.
func (f *Framer) Next() ([]int16, error) {
	need := len(f.frame)
	empty := 0

	for len(f.pending) < need && !f.done {
		n, err := f.src.Read(f.raw)
		if n > 0 {
			empty = 0
			f.push(f.raw[:n])
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				return nil, err
			}
			f.done = true
			break
		}
		if n == 0 {
			empty++
			if empty >= maxEmptyReads {
				return nil, io.ErrNoProgress
			}
		}
	}

	if len(f.pending) == 0 {
		return nil, io.EOF
	}

	n := copy(f.frame, f.pending)
	clear(f.frame[n:])
	f.pending = append(f.pending[:0], f.pending[n:]...)
	return f.frame, nil
}

// push converts a chunk of source samples and appends it to pending
func (f *Framer) push(in []int16) {
	srcChannels := f.src.Channels()
	frames := len(in) / srcChannels

	f.converted = f.converted[:0]
	for i := 0; i < frames; i++ {
		base := i * srcChannels
		switch {
		case srcChannels == f.channels:
			f.converted = append(f.converted, in[base:base+srcChannels]...)
		case f.channels == 1:
			var sum int32
			for ch := 0; ch < srcChannels; ch++ {
				sum += int32(in[base+ch])
			}
			f.converted = append(f.converted, int16(sum/int32(srcChannels)))
		case srcChannels == 1:
			f.converted = append(f.converted, in[base], in[base])
		default:
			f.converted = append(f.converted, in[base], in[base+1])
		}
	}

	if f.resampler == nil {
		f.pending = append(f.pending, f.converted...)
		return
	}

	size := f.resampler.OutputSamplesNeeded(len(f.converted)) + 2*f.channels
	if cap(f.resampled) < size {
		f.resampled = make([]int16, size)
	}
	out := f.resampled[:size]
	n := f.resampler.Resample(f.converted, out)
	f.pending = append(f.pending, out[:n]...)
}
