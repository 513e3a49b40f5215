// ABOUTME: Binary audio packet definitions and codec
// ABOUTME: Encodes and decodes the little-endian packets carried after the handshake
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/google/uuid"
)

// PacketType identifies the payload carried in a binary message
type PacketType uint8

const (
	PacketMicrophoneAudioNoEcho PacketType = iota + 1
	PacketMicrophoneAudioWithEcho
	PacketInjectAudio
	PacketSilentAudioFrame
	PacketMixedAudio
	PacketAudioEnvironment
	PacketAudioStreamStats
	PacketIgnoreRadius
)

func (t PacketType) String() string {
	switch t {
	case PacketMicrophoneAudioNoEcho:
		return "MicrophoneAudioNoEcho"
	case PacketMicrophoneAudioWithEcho:
		return "MicrophoneAudioWithEcho"
	case PacketInjectAudio:
		return "InjectAudio"
	case PacketSilentAudioFrame:
		return "SilentAudioFrame"
	case PacketMixedAudio:
		return "MixedAudio"
	case PacketAudioEnvironment:
		return "AudioEnvironment"
	case PacketAudioStreamStats:
		return "AudioStreamStats"
	case PacketIgnoreRadius:
		return "IgnoreRadius"
	default:
		return fmt.Sprintf("PacketType(%d)", uint8(t))
	}
}

const (
	// MaxCodecNameLength bounds the codec string in mix packets
	MaxCodecNameLength = 32

	// StreamStatsRecordSize is the fixed wire size of one StreamStats record
	StreamStatsRecordSize = 64

	// MaxStatsPerPacket keeps a stats packet under a typical MTU
	MaxStatsPerPacket = 21

	// EnvironmentHasReverb is bit 0 of the AudioEnvironment flags
	EnvironmentHasReverb = 1 << 0
)

var (
	ErrShortPacket        = errors.New("packet too short")
	ErrCodecNameTooLong   = errors.New("codec name too long")
	ErrUnknownPacketType  = errors.New("unknown packet type")
	ErrTooManyStreamStats = errors.New("too many stream stats records")
)

// Frame prefixes a payload with its packet type
func Frame(t PacketType, payload []byte) []byte {
	out := make([]byte, 1+len(payload))
	out[0] = byte(t)
	copy(out[1:], payload)
	return out
}

// SplitFrame separates the packet type from its payload
func SplitFrame(data []byte) (PacketType, []byte, error) {
	if len(data) < 1 {
		return 0, nil, ErrShortPacket
	}
	t := PacketType(data[0])
	if t < PacketMicrophoneAudioNoEcho || t > PacketIgnoreRadius {
		return 0, nil, fmt.Errorf("%w: %d", ErrUnknownPacketType, data[0])
	}
	return t, data[1:], nil
}

// MicrophoneAudio is a node's own voice stream
type MicrophoneAudio struct {
	Sequence    uint16
	Stereo      bool
	Position    mgl32.Vec3
	Orientation mgl32.Quat
	BoxCorner   mgl32.Vec3
	BoxScale    mgl32.Vec3
	Samples     []byte
}

// Marshal encodes the packet payload
func (p *MicrophoneAudio) Marshal() []byte {
	w := newWriter(2 + 1 + 12 + 16 + 24 + len(p.Samples))
	w.u16(p.Sequence)
	w.boolean(p.Stereo)
	w.vec3(p.Position)
	w.quat(p.Orientation)
	w.vec3(p.BoxCorner)
	w.vec3(p.BoxScale)
	w.raw(p.Samples)
	return w.buf
}

// UnmarshalMicrophoneAudio decodes a MicrophoneAudio payload
func UnmarshalMicrophoneAudio(data []byte) (MicrophoneAudio, error) {
	r := reader{buf: data}
	p := MicrophoneAudio{
		Sequence:    r.u16(),
		Stereo:      r.boolean(),
		Position:    r.vec3(),
		Orientation: r.quat(),
		BoxCorner:   r.vec3(),
		BoxScale:    r.vec3(),
	}
	p.Samples = r.rest()
	if r.err != nil {
		return MicrophoneAudio{}, fmt.Errorf("microphone audio: %w", r.err)
	}
	return p, nil
}

// SilentFrame is the inbound SilentAudioFrame: a gap of silence from a sender
type SilentFrame struct {
	Sequence    uint16
	SampleCount uint16
	Position    mgl32.Vec3
	Orientation mgl32.Quat
}

// Marshal encodes the packet payload
func (p *SilentFrame) Marshal() []byte {
	w := newWriter(4 + 12 + 16)
	w.u16(p.Sequence)
	w.u16(p.SampleCount)
	w.vec3(p.Position)
	w.quat(p.Orientation)
	return w.buf
}

// UnmarshalSilentFrame decodes an inbound SilentAudioFrame payload
func UnmarshalSilentFrame(data []byte) (SilentFrame, error) {
	r := reader{buf: data}
	p := SilentFrame{
		Sequence:    r.u16(),
		SampleCount: r.u16(),
		Position:    r.vec3(),
		Orientation: r.quat(),
	}
	if r.err != nil {
		return SilentFrame{}, fmt.Errorf("silent frame: %w", r.err)
	}
	return p, nil
}

// InjectAudio is a programmatically injected sound stream
type InjectAudio struct {
	Sequence       uint16
	StreamID       uuid.UUID
	Stereo         bool
	Loopback       bool
	Position       mgl32.Vec3
	Orientation    mgl32.Quat
	BoxCorner      mgl32.Vec3
	BoxScale       mgl32.Vec3
	Radius         float32
	Attenuation    uint8 // 0..255 maps to [0, 1]
	IgnorePenumbra bool
	Samples        []byte
}

// Marshal encodes the packet payload
func (p *InjectAudio) Marshal() []byte {
	w := newWriter(2 + 16 + 2 + 12 + 16 + 24 + 4 + 2 + len(p.Samples))
	w.u16(p.Sequence)
	w.raw(p.StreamID[:])
	w.boolean(p.Stereo)
	w.boolean(p.Loopback)
	w.vec3(p.Position)
	w.quat(p.Orientation)
	w.vec3(p.BoxCorner)
	w.vec3(p.BoxScale)
	w.f32(p.Radius)
	w.u8(p.Attenuation)
	w.boolean(p.IgnorePenumbra)
	w.raw(p.Samples)
	return w.buf
}

// UnmarshalInjectAudio decodes an InjectAudio payload
func UnmarshalInjectAudio(data []byte) (InjectAudio, error) {
	r := reader{buf: data}
	p := InjectAudio{Sequence: r.u16()}
	copy(p.StreamID[:], r.bytes(16))
	p.Stereo = r.boolean()
	p.Loopback = r.boolean()
	p.Position = r.vec3()
	p.Orientation = r.quat()
	p.BoxCorner = r.vec3()
	p.BoxScale = r.vec3()
	p.Radius = r.f32()
	p.Attenuation = r.u8()
	p.IgnorePenumbra = r.boolean()
	p.Samples = r.rest()
	if r.err != nil {
		return InjectAudio{}, fmt.Errorf("inject audio: %w", r.err)
	}
	return p, nil
}

// InjectStreamID reads the stream ID of an InjectAudio payload without
// decoding the rest
func InjectStreamID(data []byte) (uuid.UUID, error) {
	var id uuid.UUID
	if len(data) < 2+len(id) {
		return uuid.Nil, fmt.Errorf("inject audio: %w", ErrShortPacket)
	}
	copy(id[:], data[2:2+len(id)])
	return id, nil
}

// AttenuationRatio maps the attenuation byte onto [0, 1]
func (p *InjectAudio) AttenuationRatio() float32 {
	return float32(p.Attenuation) / 255.0
}

// IgnoreRadius enables or disables a node's mutual ignore radius
type IgnoreRadius struct {
	Enabled bool
	Radius  float32
}

// Marshal encodes the packet payload
func (p *IgnoreRadius) Marshal() []byte {
	w := newWriter(5)
	w.boolean(p.Enabled)
	w.f32(p.Radius)
	return w.buf
}

// UnmarshalIgnoreRadius decodes an IgnoreRadius payload
func UnmarshalIgnoreRadius(data []byte) (IgnoreRadius, error) {
	r := reader{buf: data}
	p := IgnoreRadius{Enabled: r.boolean(), Radius: r.f32()}
	if r.err != nil {
		return IgnoreRadius{}, fmt.Errorf("ignore radius: %w", r.err)
	}
	return p, nil
}

// MixedAudio carries one encoded stereo mix frame to a listener
type MixedAudio struct {
	Sequence uint16
	Codec    string
	Payload  []byte
}

// Marshal encodes the packet payload
func (p *MixedAudio) Marshal() ([]byte, error) {
	if len(p.Codec) > MaxCodecNameLength {
		return nil, fmt.Errorf("%w: %d bytes", ErrCodecNameTooLong, len(p.Codec))
	}
	w := newWriter(2 + 1 + len(p.Codec) + len(p.Payload))
	w.u16(p.Sequence)
	w.str(p.Codec)
	w.raw(p.Payload)
	return w.buf, nil
}

// UnmarshalMixedAudio decodes a MixedAudio payload
func UnmarshalMixedAudio(data []byte) (MixedAudio, error) {
	r := reader{buf: data}
	p := MixedAudio{Sequence: r.u16(), Codec: r.str()}
	p.Payload = r.rest()
	if r.err != nil {
		return MixedAudio{}, fmt.Errorf("mixed audio: %w", r.err)
	}
	return p, nil
}

// SilentMix is the outbound SilentAudioFrame sent when a listener's mix is silent
type SilentMix struct {
	Sequence    uint16
	Codec       string
	SampleCount uint16
}

// Marshal encodes the packet payload
func (p *SilentMix) Marshal() ([]byte, error) {
	if len(p.Codec) > MaxCodecNameLength {
		return nil, fmt.Errorf("%w: %d bytes", ErrCodecNameTooLong, len(p.Codec))
	}
	w := newWriter(2 + 1 + len(p.Codec) + 2)
	w.u16(p.Sequence)
	w.str(p.Codec)
	w.u16(p.SampleCount)
	return w.buf, nil
}

// UnmarshalSilentMix decodes an outbound SilentAudioFrame payload
func UnmarshalSilentMix(data []byte) (SilentMix, error) {
	r := reader{buf: data}
	p := SilentMix{Sequence: r.u16(), Codec: r.str(), SampleCount: r.u16()}
	if r.err != nil {
		return SilentMix{}, fmt.Errorf("silent mix: %w", r.err)
	}
	return p, nil
}

// AudioEnvironment tells a listener which reverb applies to it
type AudioEnvironment struct {
	HasReverb  bool
	ReverbTime float32
	WetLevel   float32
}

// Marshal encodes the packet payload
func (p *AudioEnvironment) Marshal() []byte {
	if !p.HasReverb {
		return []byte{0}
	}
	w := newWriter(9)
	w.u8(EnvironmentHasReverb)
	w.f32(p.ReverbTime)
	w.f32(p.WetLevel)
	return w.buf
}

// UnmarshalAudioEnvironment decodes an AudioEnvironment payload
func UnmarshalAudioEnvironment(data []byte) (AudioEnvironment, error) {
	r := reader{buf: data}
	flags := r.u8()
	p := AudioEnvironment{HasReverb: flags&EnvironmentHasReverb != 0}
	if p.HasReverb {
		p.ReverbTime = r.f32()
		p.WetLevel = r.f32()
	}
	if r.err != nil {
		return AudioEnvironment{}, fmt.Errorf("audio environment: %w", r.err)
	}
	return p, nil
}

// StreamStats is one fixed-size per-stream statistics record
type StreamStats struct {
	StreamType             uint8
	DesiredJitterFrames    uint16
	StreamID               uuid.UUID
	FramesAvailable        uint16
	FramesAvailableAverage uint16
	StarveCount            uint32
	ConsecutiveNotMixed    uint32
	OverflowCount          uint32
	FramesDropped          uint32
	PacketsReceived        uint32
	PacketsLost            uint32
	GapMinUsec             uint32
	GapMaxUsec             uint32
	GapAvgUsec             uint32
}

func (s *StreamStats) write(w *writer) {
	start := len(w.buf)
	w.u8(s.StreamType)
	w.u8(0)
	w.u16(s.DesiredJitterFrames)
	w.raw(s.StreamID[:])
	w.u16(s.FramesAvailable)
	w.u16(s.FramesAvailableAverage)
	w.u32(s.StarveCount)
	w.u32(s.ConsecutiveNotMixed)
	w.u32(s.OverflowCount)
	w.u32(s.FramesDropped)
	w.u32(s.PacketsReceived)
	w.u32(s.PacketsLost)
	w.u32(s.GapMinUsec)
	w.u32(s.GapMaxUsec)
	w.u32(s.GapAvgUsec)
	for len(w.buf)-start < StreamStatsRecordSize {
		w.u8(0)
	}
}

func readStreamStats(r *reader) StreamStats {
	rec := reader{buf: r.bytes(StreamStatsRecordSize)}
	if r.err != nil {
		return StreamStats{}
	}
	s := StreamStats{StreamType: rec.u8()}
	rec.u8()
	s.DesiredJitterFrames = rec.u16()
	copy(s.StreamID[:], rec.bytes(16))
	s.FramesAvailable = rec.u16()
	s.FramesAvailableAverage = rec.u16()
	s.StarveCount = rec.u32()
	s.ConsecutiveNotMixed = rec.u32()
	s.OverflowCount = rec.u32()
	s.FramesDropped = rec.u32()
	s.PacketsReceived = rec.u32()
	s.PacketsLost = rec.u32()
	s.GapMinUsec = rec.u32()
	s.GapMaxUsec = rec.u32()
	s.GapAvgUsec = rec.u32()
	return s
}

// AudioStreamStats carries stats records; Append marks continuation packets
type AudioStreamStats struct {
	Append bool
	Stats  []StreamStats
}

// Marshal encodes the packet payload
func (p *AudioStreamStats) Marshal() ([]byte, error) {
	if len(p.Stats) > math.MaxUint16 {
		return nil, fmt.Errorf("%w: %d", ErrTooManyStreamStats, len(p.Stats))
	}
	w := newWriter(3 + len(p.Stats)*StreamStatsRecordSize)
	w.boolean(p.Append)
	w.u16(uint16(len(p.Stats)))
	for i := range p.Stats {
		p.Stats[i].write(w)
	}
	return w.buf, nil
}

// UnmarshalAudioStreamStats decodes an AudioStreamStats payload
func UnmarshalAudioStreamStats(data []byte) (AudioStreamStats, error) {
	r := reader{buf: data}
	p := AudioStreamStats{Append: r.boolean()}
	count := int(r.u16())
	for i := 0; i < count && r.err == nil; i++ {
		s := readStreamStats(&r)
		if r.err == nil {
			p.Stats = append(p.Stats, s)
		}
	}
	if r.err != nil {
		return AudioStreamStats{}, fmt.Errorf("audio stream stats: %w", r.err)
	}
	return p, nil
}

// SplitStreamStats packs records into as many packets as needed,
// setting Append on every packet after the first
func SplitStreamStats(stats []StreamStats) []AudioStreamStats {
	if len(stats) == 0 {
		return []AudioStreamStats{{}}
	}
	var packets []AudioStreamStats
	for start := 0; start < len(stats); start += MaxStatsPerPacket {
		end := start + MaxStatsPerPacket
		if end > len(stats) {
			end = len(stats)
		}
		packets = append(packets, AudioStreamStats{
			Append: start > 0,
			Stats:  stats[start:end],
		})
	}
	return packets
}

type writer struct {
	buf []byte
}

func newWriter(capacity int) *writer {
	return &writer{buf: make([]byte, 0, capacity)}
}

func (w *writer) u8(v uint8)   { w.buf = append(w.buf, v) }
func (w *writer) u16(v uint16) { w.buf = binary.LittleEndian.AppendUint16(w.buf, v) }
func (w *writer) u32(v uint32) { w.buf = binary.LittleEndian.AppendUint32(w.buf, v) }
func (w *writer) f32(v float32) {
	w.buf = binary.LittleEndian.AppendUint32(w.buf, math.Float32bits(v))
}
func (w *writer) raw(b []byte) { w.buf = append(w.buf, b...) }

func (w *writer) boolean(v bool) {
	if v {
		w.u8(1)
	} else {
		w.u8(0)
	}
}

func (w *writer) str(s string) {
	w.u8(uint8(len(s)))
	w.buf = append(w.buf, s...)
}

func (w *writer) vec3(v mgl32.Vec3) {
	w.f32(v[0])
	w.f32(v[1])
	w.f32(v[2])
}

// quat is written x, y, z, w
func (w *writer) quat(q mgl32.Quat) {
	w.vec3(q.V)
	w.f32(q.W)
}

// reader consumes a payload front to back; the first short read sticks in err
type reader struct {
	buf []byte
	off int
	err error
}

func (r *reader) bytes(n int) []byte {
	if r.err != nil {
		return nil
	}
	if r.off+n > len(r.buf) {
		r.err = fmt.Errorf("%w: need %d bytes at offset %d, have %d", ErrShortPacket, n, r.off, len(r.buf))
		return nil
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b
}

func (r *reader) u8() uint8 {
	b := r.bytes(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *reader) u16() uint16 {
	b := r.bytes(2)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint16(b)
}

func (r *reader) u32() uint32 {
	b := r.bytes(4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

func (r *reader) f32() float32 { return math.Float32frombits(r.u32()) }

func (r *reader) boolean() bool { return r.u8() != 0 }

func (r *reader) str() string {
	n := int(r.u8())
	if n > MaxCodecNameLength && r.err == nil {
		r.err = fmt.Errorf("%w: %d bytes", ErrCodecNameTooLong, n)
		return ""
	}
	return string(r.bytes(n))
}

func (r *reader) vec3() mgl32.Vec3 {
	return mgl32.Vec3{r.f32(), r.f32(), r.f32()}
}

func (r *reader) quat() mgl32.Quat {
	v := r.vec3()
	return mgl32.Quat{W: r.f32(), V: v}
}

func (r *reader) rest() []byte {
	if r.err != nil {
		return nil
	}
	b := r.buf[r.off:]
	r.off = len(r.buf)
	return b
}
