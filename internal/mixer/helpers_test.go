// ABOUTME: Shared fakes for mixer tests
// ABOUTME: In-memory directory, recording sender and recording renderer
package mixer

import (
	"encoding/binary"
	"math"
	"sync"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/google/uuid"

	"github.com/Resonate-Protocol/resonate-mixer/internal/hrtf"
	"github.com/Resonate-Protocol/resonate-mixer/pkg/audio"
	"github.com/Resonate-Protocol/resonate-mixer/pkg/protocol"
)

type fakeDirectory struct {
	mu    sync.Mutex
	nodes []Node
}

func (d *fakeDirectory) add(codec string) Node {
	n := Node{ID: uuid.New(), Type: protocol.NodeTypeAgent, Data: NewClientData(codec)}
	d.mu.Lock()
	d.nodes = append(d.nodes, n)
	d.mu.Unlock()
	return n
}

func (d *fakeDirectory) remove(id uuid.UUID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, n := range d.nodes {
		if n.ID == id {
			d.nodes = append(d.nodes[:i], d.nodes[i+1:]...)
			return
		}
	}
}

func (d *fakeDirectory) Nodes() []Node {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Node(nil), d.nodes...)
}

func (d *fakeDirectory) Node(id uuid.UUID) (Node, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, n := range d.nodes {
		if n.ID == id {
			return n, true
		}
	}
	return Node{}, false
}

type recordingSender struct {
	mu      sync.Mutex
	packets map[uuid.UUID][][]byte
}

func newRecordingSender() *recordingSender {
	return &recordingSender{packets: make(map[uuid.UUID][][]byte)}
}

func (s *recordingSender) Send(nodeID uuid.UUID, packet []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.packets[nodeID] = append(s.packets[nodeID], append([]byte(nil), packet...))
	return nil
}

// payloads returns the payloads of every packet of type t sent to nodeID
func (s *recordingSender) payloads(nodeID uuid.UUID, t protocol.PacketType) [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out [][]byte
	for _, p := range s.packets[nodeID] {
		if protocol.PacketType(p[0]) == t {
			out = append(out, p[1:])
		}
	}
	return out
}

// audioTypes returns the mix packet types sent to nodeID in order
func (s *recordingSender) audioTypes(nodeID uuid.UUID) []protocol.PacketType {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []protocol.PacketType
	for _, p := range s.packets[nodeID] {
		t := protocol.PacketType(p[0])
		if t == protocol.PacketMixedAudio || t == protocol.PacketSilentAudioFrame {
			out = append(out, t)
		}
	}
	return out
}

type renderCall struct {
	silent         bool
	nilInput       bool
	ignorePenumbra bool
	azimuth        float32
	distance       float32
	gain           float32
}

type renderLog struct {
	mu    sync.Mutex
	calls []renderCall
}

func (l *renderLog) factory() Renderer {
	return &recordingRenderer{log: l, inner: hrtf.New()}
}

func (l *renderLog) all() []renderCall {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]renderCall(nil), l.calls...)
}

func (l *renderLog) rendered() []renderCall {
	var out []renderCall
	for _, c := range l.all() {
		if !c.silent {
			out = append(out, c)
		}
	}
	return out
}

type recordingRenderer struct {
	log            *renderLog
	inner          *hrtf.Spatializer
	ignorePenumbra bool
}

func (r *recordingRenderer) record(c renderCall) {
	r.log.mu.Lock()
	r.log.calls = append(r.log.calls, c)
	r.log.mu.Unlock()
}

func (r *recordingRenderer) Render(in, out []float32, azimuth, distance, gain float32) {
	r.record(renderCall{ignorePenumbra: r.ignorePenumbra, azimuth: azimuth, distance: distance, gain: gain})
	r.inner.Render(in, out, azimuth, distance, gain)
}

func (r *recordingRenderer) RenderSilent(in, out []float32, azimuth, distance, gain float32) {
	r.record(renderCall{silent: true, nilInput: in == nil, ignorePenumbra: r.ignorePenumbra, azimuth: azimuth, distance: distance, gain: gain})
	r.inner.RenderSilent(in, out, azimuth, distance, gain)
}

func (r *recordingRenderer) SetIgnorePenumbra(ignore bool) {
	r.ignorePenumbra = ignore
	r.inner.SetIgnorePenumbra(ignore)
}

func sine(n int, amplitude float64) []int16 {
	out := make([]int16, n)
	for i := range out {
		out[i] = int16(amplitude * 32767 * math.Sin(2*math.Pi*440*float64(i)/audio.SampleRate))
	}
	return out
}

func constant(n int, v int16) []int16 {
	out := make([]int16, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func pcmBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

func pcmSamples(data []byte) []int16 {
	out := make([]int16, len(data)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return out
}

func micPacket(seq uint16, pos mgl32.Vec3, orient mgl32.Quat, samples []int16) []byte {
	p := protocol.MicrophoneAudio{
		Sequence:    seq,
		Position:    pos,
		Orientation: orient,
		Samples:     pcmBytes(samples),
	}
	return p.Marshal()
}

func injectPacket(seq uint16, id uuid.UUID, pos mgl32.Vec3, samples []int16) []byte {
	p := protocol.InjectAudio{
		Sequence:    seq,
		StreamID:    id,
		Position:    pos,
		Orientation: mgl32.QuatIdent(),
		Attenuation: 255,
		Samples:     pcmBytes(samples),
	}
	return p.Marshal()
}

// facingPlusZ returns the orientation whose forward axis is +Z
func facingPlusZ() mgl32.Quat {
	return mgl32.QuatRotate(math.Pi, mgl32.Vec3{0, 1, 0})
}
