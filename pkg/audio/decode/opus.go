// ABOUTME: Opus audio decoder
// ABOUTME: Decodes Opus audio to int16 samples
package decode

import (
	"fmt"

	"github.com/Resonate-Protocol/resonate-mixer/pkg/audio"
	"gopkg.in/hraban/opus.v2"
)

// maxOpusFrameSamples is 120ms at 48kHz, the largest frame Opus can carry
const maxOpusFrameSamples = 5760

// OpusDecoder decodes Opus audio
type OpusDecoder struct {
	decoder *opus.Decoder
	format  audio.Format
	pcm     []int16
}

// NewOpus creates a new Opus decoder
func NewOpus(format audio.Format) (Decoder, error) {
	if format.Codec != audio.CodecOpus {
		return nil, fmt.Errorf("invalid codec for Opus decoder: %s", format.Codec)
	}

	dec, err := opus.NewDecoder(format.SampleRate, format.Channels)
	if err != nil {
		return nil, fmt.Errorf("failed to create opus decoder: %w", err)
	}

	return &OpusDecoder{
		decoder: dec,
		format:  format,
		pcm:     make([]int16, maxOpusFrameSamples*format.Channels),
	}, nil
}

// Decode converts Opus bytes to int16 samples
func (d *OpusDecoder) Decode(data []byte) ([]int16, error) {
	n, err := d.decoder.Decode(data, d.pcm)
	if err != nil {
		return nil, fmt.Errorf("opus decode failed: %w", err)
	}

	out := make([]int16, n*d.format.Channels)
	copy(out, d.pcm)
	return out, nil
}

// Close releases decoder resources
func (d *OpusDecoder) Close() error {
	return nil
}
