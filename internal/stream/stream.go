// ABOUTME: Positional source stream wrapping a jitter buffer
// ABOUTME: Microphone and Injected variants share one tagged struct
package stream

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/google/uuid"

	"github.com/Resonate-Protocol/resonate-mixer/pkg/audio"
	"github.com/Resonate-Protocol/resonate-mixer/pkg/audio/decode"
	"github.com/Resonate-Protocol/resonate-mixer/pkg/protocol"
)

var (
	// ErrMalformedPacket is returned for truncated packets or non-finite positional data
	ErrMalformedPacket = errors.New("malformed packet")

	// ErrWrongPacketType is returned when a packet does not belong to the stream's kind
	ErrWrongPacketType = errors.New("packet type does not match stream kind")
)

// Kind selects the stream variant
type Kind uint8

const (
	KindMicrophone Kind = iota + 1
	KindInjected
)

func (k Kind) String() string {
	switch k {
	case KindMicrophone:
		return "microphone"
	case KindInjected:
		return "injected"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// KindForPacket returns the stream kind an inbound audio packet feeds
func KindForPacket(t protocol.PacketType) (Kind, bool) {
	switch t {
	case protocol.PacketMicrophoneAudioNoEcho, protocol.PacketMicrophoneAudioWithEcho, protocol.PacketSilentAudioFrame:
		return KindMicrophone, true
	case protocol.PacketInjectAudio:
		return KindInjected, true
	default:
		return 0, false
	}
}

// Config holds per-stream settings taken from the mixer settings
type Config struct {
	Codec               string
	CapacityFrames      int
	DesiredJitterFrames int
}

// Stream is one positional audio source. The scheduler goroutine is its
// only writer; workers read it during a pass.
type Stream struct {
	kind   Kind
	id     uuid.UUID
	config Config

	buffer   *Buffer
	decoder  decode.Decoder
	channels int

	position    mgl32.Vec3
	orientation mgl32.Quat
	boxCorner   mgl32.Vec3
	boxScale    mgl32.Vec3
	stereo      bool
	loopback    bool

	radius         float32
	attenuation    float32
	ignorePenumbra bool

	frame               []int16
	lastPopOK           bool
	hasPopped           bool
	buffering           bool
	consecutiveNotMixed int
	framesDropped       uint64

	lastSequence uint16
	sequence     SequenceStats
	gaps         GapStats
}

// New creates a stream of the given kind. Microphone streams always use uuid.Nil.
func New(kind Kind, id uuid.UUID, config Config) *Stream {
	if kind == KindMicrophone {
		id = uuid.Nil
	}
	if config.Codec == "" {
		config.Codec = audio.CodecPCM
	}
	if config.DesiredJitterFrames < 1 {
		config.DesiredJitterFrames = 1
	}
	return &Stream{
		kind:        kind,
		id:          id,
		config:      config,
		buffer:      NewBuffer(audio.FrameSamplesPerChannel, config.CapacityFrames),
		channels:    1,
		orientation: mgl32.QuatIdent(),
		attenuation: 1,
		buffering:   true,
	}
}

func (s *Stream) Kind() Kind              { return s.kind }
func (s *Stream) ID() uuid.UUID           { return s.id }
func (s *Stream) Position() mgl32.Vec3    { return s.position }
func (s *Stream) Orientation() mgl32.Quat { return s.orientation }
func (s *Stream) IsStereo() bool          { return s.stereo }
func (s *Stream) Buffer() *Buffer         { return s.buffer }

// BoundingBox returns the source's box corner and scale
func (s *Stream) BoundingBox() (corner, scale mgl32.Vec3) { return s.boxCorner, s.boxScale }

// IsLoopback reports whether the stream is mixed back to its own node.
// Microphone streams set it with the echo packet variant.
func (s *Stream) IsLoopback() bool { return s.loopback }

// Radius is the injected source's spread radius
func (s *Stream) Radius() float32 { return s.radius }

// AttenuationRatio is the injected source's volume in [0, 1]; microphones are 1
func (s *Stream) AttenuationRatio() float32 { return s.attenuation }

// IgnorePenumbra reports whether the injected source skips head-shadow filtering
func (s *Stream) IgnorePenumbra() bool { return s.ignorePenumbra }

// ParseStreamProperties decodes the positional header and audio payload of
// an inbound packet. Silent frames return their sample count with nil
// samples. Non-finite positional data resets the buffer.
func (s *Stream) ParseStreamProperties(t protocol.PacketType, payload []byte) (int, []int16, error) {
	kind, ok := KindForPacket(t)
	if !ok || kind != s.kind {
		return 0, nil, fmt.Errorf("%w: %s for %s stream", ErrWrongPacketType, t, s.kind)
	}

	var (
		seq      uint16
		stereo   bool
		position mgl32.Vec3
		orient   mgl32.Quat
		encoded  []byte
		silent   int
	)

	switch t {
	case protocol.PacketMicrophoneAudioNoEcho, protocol.PacketMicrophoneAudioWithEcho:
		p, err := protocol.UnmarshalMicrophoneAudio(payload)
		if err != nil {
			return 0, nil, fmt.Errorf("%w: %w", ErrMalformedPacket, err)
		}
		if !finiteVec(p.BoxCorner) || !finiteVec(p.BoxScale) {
			s.buffer.Reset()
			return 0, nil, fmt.Errorf("%w: non-finite bounding box", ErrMalformedPacket)
		}
		seq, stereo, position, orient, encoded = p.Sequence, p.Stereo, p.Position, p.Orientation, p.Samples
		s.boxCorner, s.boxScale = p.BoxCorner, p.BoxScale
		s.loopback = t == protocol.PacketMicrophoneAudioWithEcho

	case protocol.PacketSilentAudioFrame:
		p, err := protocol.UnmarshalSilentFrame(payload)
		if err != nil {
			return 0, nil, fmt.Errorf("%w: %w", ErrMalformedPacket, err)
		}
		seq, stereo, position, orient = p.Sequence, s.stereo, p.Position, p.Orientation
		silent = int(p.SampleCount)

	case protocol.PacketInjectAudio:
		p, err := protocol.UnmarshalInjectAudio(payload)
		if err != nil {
			return 0, nil, fmt.Errorf("%w: %w", ErrMalformedPacket, err)
		}
		if p.StreamID != s.id {
			return 0, nil, fmt.Errorf("%w: stream id %s", ErrWrongPacketType, p.StreamID)
		}
		if !finiteFloat(p.Radius) || !finiteVec(p.BoxCorner) || !finiteVec(p.BoxScale) {
			s.buffer.Reset()
			return 0, nil, fmt.Errorf("%w: non-finite injector properties", ErrMalformedPacket)
		}
		seq, stereo, position, orient, encoded = p.Sequence, p.Stereo, p.Position, p.Orientation, p.Samples
		s.boxCorner, s.boxScale = p.BoxCorner, p.BoxScale
		s.loopback = p.Loopback
		s.radius = p.Radius
		s.attenuation = p.AttenuationRatio()
		s.ignorePenumbra = p.IgnorePenumbra
	}

	if !finiteVec(position) || !finiteQuat(orient) {
		s.buffer.Reset()
		return 0, nil, fmt.Errorf("%w: non-finite position or orientation", ErrMalformedPacket)
	}

	s.position = position
	s.orientation = orient.Normalize()
	s.lastSequence = seq

	if err := s.setChannels(stereo); err != nil {
		return 0, nil, err
	}

	if t == protocol.PacketSilentAudioFrame {
		return silent, nil, nil
	}

	samples, err := s.decoder.Decode(encoded)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: decode: %w", ErrMalformedPacket, err)
	}
	return len(samples), samples, nil
}

// ProcessPacket parses an inbound packet and writes its audio into the buffer
func (s *Stream) ProcessPacket(t protocol.PacketType, payload []byte, now time.Time) error {
	s.gaps.Record(now)

	count, samples, err := s.ParseStreamProperties(t, payload)
	if err != nil {
		return err
	}

	if !s.sequence.Record(s.lastSequence) {
		return nil
	}

	if samples == nil {
		// silence above the jitter target is dropped to shed latency
		if s.buffer.FramesAvailable() >= s.config.DesiredJitterFrames {
			s.framesDropped += uint64(count / s.buffer.FrameSamples())
			return nil
		}
		s.buffer.WriteSilence(count)
		return nil
	}

	s.buffer.Write(samples)
	return nil
}

// setChannels rebuilds the buffer and decoder when the channel layout changes
func (s *Stream) setChannels(stereo bool) error {
	channels := 1
	if stereo {
		channels = 2
	}
	if s.decoder != nil && channels == s.channels {
		return nil
	}

	if s.decoder != nil {
		s.decoder.Close()
	}
	dec, err := decode.New(audio.Format{
		Codec:      s.config.Codec,
		SampleRate: audio.SampleRate,
		Channels:   channels,
	})
	if err != nil {
		return fmt.Errorf("create decoder: %w", err)
	}
	s.decoder = dec

	if channels != s.channels {
		s.buffer = NewBuffer(audio.FrameSamplesPerChannel*channels, s.buffer.CapacityFrames())
		s.channels = channels
		s.buffering = true
	}
	s.stereo = stereo
	return nil
}

// Prepare peeks this frame's samples. A stream that starved waits until
// the desired jitter delay is buffered again before it resumes.
func (s *Stream) Prepare() bool {
	need := 1
	if s.buffering {
		need = s.config.DesiredJitterFrames
	}

	if !s.buffer.ShouldMix(need) {
		s.buffer.Starve()
		s.lastPopOK = false
		s.buffering = true
		s.consecutiveNotMixed++
		return false
	}

	frame, _ := s.buffer.PeekFrame()
	s.frame = append(s.frame[:0], frame...)
	s.lastPopOK = true
	s.hasPopped = true
	s.buffering = false
	s.consecutiveNotMixed = 0
	return true
}

// Commit advances the read cursor past the frame handed out by Prepare
func (s *Stream) Commit() {
	if s.lastPopOK {
		s.buffer.Advance()
	}
}

// Frame is the last successfully prepared frame, interleaved when stereo
func (s *Stream) Frame() []int16 { return s.frame }

// LastPopOK reports whether this frame's Prepare produced audio
func (s *Stream) LastPopOK() bool { return s.lastPopOK }

// HasPopped reports whether the stream ever produced a frame
func (s *Stream) HasPopped() bool { return s.hasPopped }

// ConsecutiveNotMixed counts failed frames since the last good one
func (s *Stream) ConsecutiveNotMixed() int { return s.consecutiveNotMixed }

func (s *Stream) LastPopLoudness() float32  { return s.buffer.LastPopLoudness() }
func (s *Stream) TrailingLoudness() float32 { return s.buffer.TrailingLoudness() }

// IsStarved reports whether the stream has missed at least threshold frames in a row
func (s *Stream) IsStarved(threshold int) bool {
	return s.consecutiveNotMixed >= threshold
}

// ShouldRemove reports whether an injected stream has finished: it has
// started and starved past the threshold with too little buffered to
// resume. A trailing partial frame, or fewer frames than the jitter target
// after a starve, can never play and counts as empty.
func (s *Stream) ShouldRemove(starveThreshold int) bool {
	if s.kind != KindInjected || !s.hasPopped || !s.IsStarved(starveThreshold) {
		return false
	}
	return !s.buffer.ShouldMix(s.config.DesiredJitterFrames)
}

// Sequence returns the inbound packet sequence statistics
func (s *Stream) Sequence() SequenceStats { return s.sequence }

// Stats fills the wire stats record for this stream
func (s *Stream) Stats() protocol.StreamStats {
	return protocol.StreamStats{
		StreamType:             uint8(s.kind),
		DesiredJitterFrames:    uint16(s.config.DesiredJitterFrames),
		StreamID:               s.id,
		FramesAvailable:        uint16(min(s.buffer.FramesAvailable(), math.MaxUint16)),
		FramesAvailableAverage: uint16(min(s.buffer.FramesAvailableAverage(), math.MaxUint16)),
		StarveCount:            uint32(min(s.buffer.StarveCount(), math.MaxUint32)),
		ConsecutiveNotMixed:    uint32(s.consecutiveNotMixed),
		OverflowCount:          uint32(min(s.buffer.OverflowCount(), math.MaxUint32)),
		FramesDropped:          uint32(min(s.framesDropped, math.MaxUint32)),
		PacketsReceived:        uint32(min(s.sequence.Received, math.MaxUint32)),
		PacketsLost:            uint32(min(s.sequence.Lost, math.MaxUint32)),
		GapMinUsec:             micros(s.gaps.Min),
		GapMaxUsec:             micros(s.gaps.Max),
		GapAvgUsec:             micros(s.gaps.Average()),
	}
}

// Close releases the stream's decoder
func (s *Stream) Close() error {
	if s.decoder == nil {
		return nil
	}
	return s.decoder.Close()
}

func finiteFloat(v float32) bool {
	f := float64(v)
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

func finiteVec(v mgl32.Vec3) bool {
	return finiteFloat(v[0]) && finiteFloat(v[1]) && finiteFloat(v[2])
}

func finiteQuat(q mgl32.Quat) bool {
	return finiteFloat(q.W) && finiteVec(q.V)
}
