// ABOUTME: PCM audio decoder
// ABOUTME: Decodes 16-bit little-endian PCM audio to int16 samples
package decode

import (
	"encoding/binary"
	"fmt"

	"github.com/Resonate-Protocol/resonate-mixer/pkg/audio"
)

// PCMDecoder decodes PCM audio
type PCMDecoder struct{}

// NewPCM creates a new PCM decoder
func NewPCM(format audio.Format) (Decoder, error) {
	if format.Codec != audio.CodecPCM {
		return nil, fmt.Errorf("invalid codec for PCM decoder: %s", format.Codec)
	}
	return &PCMDecoder{}, nil
}

// Decode converts PCM bytes to int16 samples
func (d *PCMDecoder) Decode(data []byte) ([]int16, error) {
	if len(data)%2 != 0 {
		return nil, fmt.Errorf("invalid data length for 16-bit PCM: %d bytes", len(data))
	}

	samples := make([]int16, len(data)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return samples, nil
}

// Close releases decoder resources
func (d *PCMDecoder) Close() error {
	return nil
}
