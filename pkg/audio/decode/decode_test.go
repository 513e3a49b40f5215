// ABOUTME: Tests for PCM and Opus decoders
// ABOUTME: Tests decoder creation, validation and an Opus round trip
package decode

import (
	"testing"

	"github.com/Resonate-Protocol/resonate-mixer/pkg/audio"
	"github.com/Resonate-Protocol/resonate-mixer/pkg/audio/encode"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPCMDecode(t *testing.T) {
	dec, err := NewPCM(audio.Format{Codec: audio.CodecPCM, Channels: 1})
	require.NoError(t, err)

	samples, err := dec.Decode([]byte{0x01, 0x00, 0xff, 0xff, 0x00, 0x80})
	require.NoError(t, err)
	assert.Equal(t, []int16{1, -1, -32768}, samples)
}

func TestPCMDecodeOddLength(t *testing.T) {
	dec, err := NewPCM(audio.Format{Codec: audio.CodecPCM, Channels: 1})
	require.NoError(t, err)

	_, err = dec.Decode([]byte{0x01, 0x00, 0x02})
	assert.Error(t, err)
}

func TestNewOpusInvalidCodec(t *testing.T) {
	dec, err := NewOpus(audio.Format{Codec: audio.CodecPCM, SampleRate: audio.SampleRate, Channels: 1})
	require.Error(t, err)
	assert.Nil(t, dec)
	assert.Equal(t, "invalid codec for Opus decoder: pcm", err.Error())
}

func TestNewFactory(t *testing.T) {
	_, err := New(audio.Format{Codec: "mp3", Channels: 1})
	assert.Error(t, err)

	dec, err := New(audio.Format{Codec: audio.CodecPCM, Channels: 1})
	require.NoError(t, err)
	assert.NoError(t, dec.Close())
}

func TestOpusRoundTripFrameSize(t *testing.T) {
	format := audio.Format{Codec: audio.CodecOpus, SampleRate: audio.SampleRate, Channels: 1}

	enc, err := encode.NewOpus(format)
	require.NoError(t, err)
	dec, err := NewOpus(format)
	require.NoError(t, err)

	pcm := make([]int16, audio.FrameSamplesPerChannel)
	for i := range pcm {
		pcm[i] = int16((i % 48) * 300)
	}

	packet, err := enc.Encode(pcm)
	require.NoError(t, err)

	decoded, err := dec.Decode(packet)
	require.NoError(t, err)
	assert.Len(t, decoded, audio.FrameSamplesPerChannel)
}
