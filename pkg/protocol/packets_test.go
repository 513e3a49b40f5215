// ABOUTME: Tests for binary packet codec
// ABOUTME: Covers framing, layout offsets, truncation and stats splitting
package protocol

import (
	"encoding/binary"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitFrame(t *testing.T) {
	data := Frame(PacketMixedAudio, []byte{1, 2, 3})
	require.Equal(t, byte(PacketMixedAudio), data[0])

	pt, payload, err := SplitFrame(data)
	require.NoError(t, err)
	assert.Equal(t, PacketMixedAudio, pt)
	assert.Equal(t, []byte{1, 2, 3}, payload)

	_, _, err = SplitFrame(nil)
	assert.True(t, errors.Is(err, ErrShortPacket))

	_, _, err = SplitFrame([]byte{0})
	assert.True(t, errors.Is(err, ErrUnknownPacketType))

	_, _, err = SplitFrame([]byte{200})
	assert.True(t, errors.Is(err, ErrUnknownPacketType))
}

func TestPacketTypeString(t *testing.T) {
	assert.Equal(t, "InjectAudio", PacketInjectAudio.String())
	assert.Equal(t, "PacketType(99)", PacketType(99).String())
}

func TestMicrophoneAudioLayout(t *testing.T) {
	p := MicrophoneAudio{
		Sequence:    0x0102,
		Stereo:      true,
		Position:    mgl32.Vec3{1, 2, 3},
		Orientation: mgl32.QuatIdent(),
		Samples:     []byte{9, 8},
	}
	data := p.Marshal()

	require.Len(t, data, 2+1+12+16+24+2)
	assert.Equal(t, uint16(0x0102), binary.LittleEndian.Uint16(data[0:2]))
	assert.Equal(t, byte(1), data[2])
	assert.Equal(t, float32(2), math.Float32frombits(binary.LittleEndian.Uint32(data[7:11])))
	// quaternion w comes last
	assert.Equal(t, float32(1), math.Float32frombits(binary.LittleEndian.Uint32(data[27:31])))

	got, err := UnmarshalMicrophoneAudio(data)
	require.NoError(t, err)
	assert.Equal(t, p.Position, got.Position)
	assert.Equal(t, p.Orientation, got.Orientation)
	assert.True(t, got.Stereo)
	assert.Equal(t, []byte{9, 8}, got.Samples)
}

func TestMicrophoneAudioTruncated(t *testing.T) {
	p := MicrophoneAudio{Orientation: mgl32.QuatIdent()}
	data := p.Marshal()

	_, err := UnmarshalMicrophoneAudio(data[:20])
	assert.True(t, errors.Is(err, ErrShortPacket))
}

func TestInjectAudio(t *testing.T) {
	id := uuid.New()
	p := InjectAudio{
		Sequence:       7,
		StreamID:       id,
		Loopback:       true,
		Position:       mgl32.Vec3{0, 0, -4},
		Orientation:    mgl32.QuatIdent(),
		Radius:         2.5,
		Attenuation:    255,
		IgnorePenumbra: true,
		Samples:        make([]byte, 480),
	}

	got, err := UnmarshalInjectAudio(p.Marshal())
	require.NoError(t, err)
	assert.Equal(t, id, got.StreamID)
	assert.True(t, got.Loopback)
	assert.False(t, got.Stereo)
	assert.Equal(t, float32(2.5), got.Radius)
	assert.Equal(t, float32(1), got.AttenuationRatio())
	assert.True(t, got.IgnorePenumbra)
	assert.Len(t, got.Samples, 480)
}

func TestMixedAudioCodecName(t *testing.T) {
	p := MixedAudio{Sequence: 65535, Codec: "opus", Payload: []byte{0xAA}}
	data, err := p.Marshal()
	require.NoError(t, err)
	assert.Equal(t, byte(4), data[2])
	assert.Equal(t, "opus", string(data[3:7]))

	got, err := UnmarshalMixedAudio(data)
	require.NoError(t, err)
	assert.Equal(t, p, got)

	long := MixedAudio{Codec: strings.Repeat("x", MaxCodecNameLength+1)}
	_, err = long.Marshal()
	assert.True(t, errors.Is(err, ErrCodecNameTooLong))

	bad := []byte{0, 0, 40}
	_, err = UnmarshalMixedAudio(bad)
	assert.True(t, errors.Is(err, ErrCodecNameTooLong))
}

func TestSilentMix(t *testing.T) {
	p := SilentMix{Sequence: 3, Codec: "pcm", SampleCount: 480}
	data, err := p.Marshal()
	require.NoError(t, err)
	require.Len(t, data, 2+1+3+2)

	got, err := UnmarshalSilentMix(data)
	require.NoError(t, err)
	assert.Equal(t, p, got)
}

func TestAudioEnvironment(t *testing.T) {
	off := AudioEnvironment{}
	assert.Equal(t, []byte{0}, off.Marshal())

	on := AudioEnvironment{HasReverb: true, ReverbTime: 1.5, WetLevel: 0.3}
	data := on.Marshal()
	require.Len(t, data, 9)

	got, err := UnmarshalAudioEnvironment(data)
	require.NoError(t, err)
	assert.Equal(t, on, got)

	_, err = UnmarshalAudioEnvironment(data[:5])
	assert.True(t, errors.Is(err, ErrShortPacket))
}

func TestAudioStreamStatsRecordSize(t *testing.T) {
	id := uuid.New()
	p := AudioStreamStats{Stats: []StreamStats{
		{StreamType: 1, DesiredJitterFrames: 1, PacketsReceived: 100, PacketsLost: 2},
		{StreamType: 3, StreamID: id, GapMaxUsec: 12000},
	}}
	data, err := p.Marshal()
	require.NoError(t, err)
	require.Len(t, data, 3+2*StreamStatsRecordSize)

	got, err := UnmarshalAudioStreamStats(data)
	require.NoError(t, err)
	require.Len(t, got.Stats, 2)
	assert.Equal(t, uint32(100), got.Stats[0].PacketsReceived)
	assert.Equal(t, id, got.Stats[1].StreamID)
	assert.Equal(t, uint32(12000), got.Stats[1].GapMaxUsec)

	_, err = UnmarshalAudioStreamStats(data[:40])
	assert.True(t, errors.Is(err, ErrShortPacket))
}

func TestSplitStreamStats(t *testing.T) {
	stats := make([]StreamStats, 50)
	packets := SplitStreamStats(stats)

	require.Len(t, packets, 3)
	assert.False(t, packets[0].Append)
	assert.True(t, packets[1].Append)
	assert.True(t, packets[2].Append)
	assert.Len(t, packets[0].Stats, MaxStatsPerPacket)
	assert.Len(t, packets[2].Stats, 50-2*MaxStatsPerPacket)

	empty := SplitStreamStats(nil)
	require.Len(t, empty, 1)
	assert.Empty(t, empty[0].Stats)
}

func TestIgnoreRadius(t *testing.T) {
	p := IgnoreRadius{Enabled: true, Radius: 1.25}
	got, err := UnmarshalIgnoreRadius(p.Marshal())
	require.NoError(t, err)
	assert.Equal(t, p, got)
}

func TestSilentFrame(t *testing.T) {
	p := SilentFrame{Sequence: 4, SampleCount: 240, Orientation: mgl32.QuatIdent()}
	got, err := UnmarshalSilentFrame(p.Marshal())
	require.NoError(t, err)
	assert.Equal(t, p, got)
}

func TestInjectStreamID(t *testing.T) {
	id := uuid.New()
	p := InjectAudio{StreamID: id, Orientation: mgl32.QuatIdent()}

	got, err := InjectStreamID(p.Marshal())
	require.NoError(t, err)
	assert.Equal(t, id, got)

	_, err = InjectStreamID([]byte{1, 2, 3})
	assert.True(t, errors.Is(err, ErrShortPacket))
}
