// ABOUTME: Encoder interface definition
// ABOUTME: Common interface for all audio encoders and a codec factory
package encode

import (
	"fmt"

	"github.com/Resonate-Protocol/resonate-mixer/pkg/audio"
)

// Encoder encodes PCM int16 samples to a wire format
type Encoder interface {
	// Encode converts PCM samples to encoded audio data
	Encode(samples []int16) ([]byte, error)

	// Codec returns the codec name sent alongside encoded payloads
	Codec() string

	// Close releases encoder resources
	Close() error
}

// New creates the encoder matching format.Codec
func New(format audio.Format) (Encoder, error) {
	switch format.Codec {
	case audio.CodecPCM:
		return NewPCM(format)
	case audio.CodecOpus:
		return NewOpus(format)
	default:
		return nil, fmt.Errorf("unsupported codec: %q", format.Codec)
	}
}
