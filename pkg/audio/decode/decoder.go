// ABOUTME: Decoder interface definition
// ABOUTME: Common interface for all audio decoders and a codec factory
package decode

import (
	"fmt"

	"github.com/Resonate-Protocol/resonate-mixer/pkg/audio"
)

// Decoder decodes audio payloads to PCM int16 samples
type Decoder interface {
	// Decode converts encoded audio data to interleaved PCM samples
	Decode(data []byte) ([]int16, error)

	// Close releases decoder resources
	Close() error
}

// New creates the decoder matching format.Codec
func New(format audio.Format) (Decoder, error) {
	switch format.Codec {
	case audio.CodecPCM:
		return NewPCM(format)
	case audio.CodecOpus:
		return NewOpus(format)
	default:
		return nil, fmt.Errorf("unsupported codec: %q", format.Codec)
	}
}
