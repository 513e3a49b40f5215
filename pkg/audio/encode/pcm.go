// ABOUTME: PCM audio encoder
// ABOUTME: Encodes int16 samples to 16-bit little-endian PCM bytes
package encode

import (
	"encoding/binary"
	"fmt"

	"github.com/Resonate-Protocol/resonate-mixer/pkg/audio"
)

// PCMEncoder encodes PCM audio
type PCMEncoder struct {
	channels int
}

// NewPCM creates a new PCM encoder
func NewPCM(format audio.Format) (Encoder, error) {
	if format.Codec != audio.CodecPCM {
		return nil, fmt.Errorf("invalid codec for PCM encoder: %s", format.Codec)
	}
	if format.Channels < 1 || format.Channels > 2 {
		return nil, fmt.Errorf("unsupported channel count: %d", format.Channels)
	}

	return &PCMEncoder{channels: format.Channels}, nil
}

// Encode converts int16 samples to PCM bytes
func (e *PCMEncoder) Encode(samples []int16) ([]byte, error) {
	output := make([]byte, len(samples)*2)
	for i, sample := range samples {
		binary.LittleEndian.PutUint16(output[i*2:], uint16(sample))
	}
	return output, nil
}

// Codec returns "pcm"
func (e *PCMEncoder) Codec() string { return audio.CodecPCM }

// Close releases resources
func (e *PCMEncoder) Close() error {
	return nil
}
