// ABOUTME: Opus audio encoder
// ABOUTME: Wraps libopus to encode mixed frames to Opus packets
package encode

import (
	"fmt"

	"github.com/Resonate-Protocol/resonate-mixer/pkg/audio"
	"gopkg.in/hraban/opus.v2"
)

// maxOpusPacket is the largest packet libopus will emit for one frame
const maxOpusPacket = 4000

// OpusEncoder encodes Opus audio
type OpusEncoder struct {
	encoder    *opus.Encoder
	sampleRate int
	channels   int
	buf        []byte
}

// NewOpus creates a new Opus encoder
func NewOpus(format audio.Format) (Encoder, error) {
	if format.Codec != audio.CodecOpus {
		return nil, fmt.Errorf("invalid codec for Opus encoder: %s", format.Codec)
	}

	encoder, err := opus.NewEncoder(format.SampleRate, format.Channels, opus.AppVoIP)
	if err != nil {
		return nil, fmt.Errorf("failed to create opus encoder: %w", err)
	}

	// 32 kbps per channel is plenty for spatialized voice
	if err := encoder.SetBitrate(32000 * format.Channels); err != nil {
		return nil, fmt.Errorf("failed to set opus bitrate: %w", err)
	}

	return &OpusEncoder{
		encoder:    encoder,
		sampleRate: format.SampleRate,
		channels:   format.Channels,
		buf:        make([]byte, maxOpusPacket),
	}, nil
}

// Encode converts int16 samples to an Opus packet
func (e *OpusEncoder) Encode(samples []int16) ([]byte, error) {
	n, err := e.encoder.Encode(samples, e.buf)
	if err != nil {
		return nil, fmt.Errorf("opus encode error: %w", err)
	}

	out := make([]byte, n)
	copy(out, e.buf[:n])
	return out, nil
}

// Codec returns "opus"
func (e *OpusEncoder) Codec() string { return audio.CodecOpus }

// Close releases resources
func (e *OpusEncoder) Close() error {
	return nil
}
