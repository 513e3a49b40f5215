// ABOUTME: Mixing worker producing one listener's frame per pass
// ABOUTME: Gain, azimuth, concealment, audibility cutoff, limiting and packet emission
package mixer

import (
	"math/rand"
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/Resonate-Protocol/resonate-mixer/internal/stream"
	"github.com/Resonate-Protocol/resonate-mixer/pkg/audio"
	"github.com/Resonate-Protocol/resonate-mixer/pkg/protocol"
)

// minCutoffDistance keeps the loudness/distance ratio finite for co-located sources
const minCutoffDistance = 1e-3

// PassConfig is the per-frame input every worker reads
type PassConfig struct {
	Frame               uint64
	AudibilityThreshold float32
	Settings            *Settings
}

// Pass is one frame's work: the listeners to mix and the node snapshot
// they hear
type Pass struct {
	Listeners []Node
	Nodes     []Node
	Config    PassConfig
}

// WorkerStats are counters for one pass, summed across workers
type WorkerStats struct {
	Listeners         uint64
	HRTFRenders       uint64
	SilentRenders     uint64
	ThrottledRenders  uint64
	ManualStereoMixes uint64
	ManualEchoMixes   uint64
	IgnoredStreams    uint64
}

func (s *WorkerStats) add(o WorkerStats) {
	s.Listeners += o.Listeners
	s.HRTFRenders += o.HRTFRenders
	s.SilentRenders += o.SilentRenders
	s.ThrottledRenders += o.ThrottledRenders
	s.ManualStereoMixes += o.ManualStereoMixes
	s.ManualEchoMixes += o.ManualEchoMixes
	s.IgnoredStreams += o.IgnoredStreams
}

// Worker owns the scratch buffers for mixing; one per pool goroutine
type Worker struct {
	sender Sender
	random func() float32

	acc   []float32
	block []float32
	out   []int16

	stats WorkerStats
}

// NewWorker creates a worker sending through sender. A nil random uses a
// private math/rand source.
func NewWorker(sender Sender, random func() float32) *Worker {
	if random == nil {
		random = rand.New(rand.NewSource(time.Now().UnixNano())).Float32
	}
	return &Worker{
		sender: sender,
		random: random,
		acc:    make([]float32, audio.StereoFrameSamples),
		block:  make([]float32, audio.FrameSamplesPerChannel),
		out:    make([]int16, audio.StereoFrameSamples),
	}
}

// TakeStats returns and resets the pass counters
func (w *Worker) TakeStats() WorkerStats {
	s := w.stats
	w.stats = WorkerStats{}
	return s
}

// Mix renders one listener's frame and sends it
func (w *Worker) Mix(listener Node, pass *Pass) {
	data := listener.Data
	if data == nil || data.listener == nil {
		return
	}
	mic := data.Microphone()
	if mic == nil {
		return
	}

	ctx := data.listener
	cfg := &pass.Config
	clear(w.acc)

	lpos, lorient := mic.Position(), mic.Orientation()
	listenerZone := cfg.Settings.ZoneAt(lpos)

	for _, node := range pass.Nodes {
		if node.Data == nil {
			continue
		}
		self := node.ID == listener.ID
		for _, s := range node.Data.Streams() {
			if self && !s.IsLoopback() {
				continue
			}
			if !self && ignored(data, node.Data, lpos, s.Position()) {
				w.stats.IgnoredStreams++
				continue
			}
			w.mixStream(ctx, node.ID, s, lpos, lorient, listenerZone, self, cfg)
		}
	}

	ctx.limiter.Process(w.acc, w.out)
	w.emit(listener, ctx, cfg.Settings, listenerZone)
	w.stats.Listeners++
}

// ignored applies the mutual ignore radius of either side
func ignored(listener, source *ClientData, lpos, spos mgl32.Vec3) bool {
	d := spos.Sub(lpos).Len()
	if listener.ignore.Enabled && d < listener.ignore.Radius {
		return true
	}
	return source.ignore.Enabled && d < source.ignore.Radius
}

// mixStream adds one source stream to the accumulator. Streams of the
// listener's own node only get here when flagged for loopback and are
// summed directly.
func (w *Worker) mixStream(ctx *ListenerContext, sourceNode uuid.UUID, s *stream.Stream,
	lpos mgl32.Vec3, lorient mgl32.Quat, listenerZone string, self bool, cfg *PassConfig) {

	settings := cfg.Settings
	distance := s.Position().Sub(lpos).Len()
	echo := self && s.Kind() == stream.KindMicrophone
	gain := streamGain(s, lpos, distance, listenerZone, echo, settings)
	direct := self || s.IsStereo()

	if !s.LastPopOK() {
		if !s.HasPopped() {
			return
		}
		fade := FadeFactor(s.ConsecutiveNotMixed(), settings.MaxConsecutiveRepeats)
		if direct {
			if fade > 0 {
				w.mixDirect(s.Frame(), gain*fade, s.IsStereo())
			}
			return
		}
		azimuth := Azimuth(lpos, lorient, s.Position())
		r := pairRenderer(ctx, sourceNode, s, cfg.Frame)
		if fade > 0 {
			audio.Int16ToFloat(s.Frame(), w.block)
			r.RenderSilent(w.block, w.acc, azimuth, distance, gain*fade)
		} else {
			r.RenderSilent(nil, w.acc, azimuth, distance, 0)
		}
		w.stats.SilentRenders++
		return
	}

	if direct {
		w.mixDirect(s.Frame(), gain, s.IsStereo())
		if s.IsStereo() {
			w.stats.ManualStereoMixes++
		} else {
			w.stats.ManualEchoMixes++
		}
		return
	}

	azimuth := Azimuth(lpos, lorient, s.Position())
	r := pairRenderer(ctx, sourceNode, s, cfg.Frame)

	if s.LastPopLoudness() == 0 {
		r.RenderSilent(nil, w.acc, azimuth, distance, gain)
		w.stats.SilentRenders++
		return
	}

	if s.TrailingLoudness()/max(distance, minCutoffDistance) < cfg.AudibilityThreshold {
		r.RenderSilent(nil, w.acc, azimuth, distance, 0)
		w.stats.ThrottledRenders++
		return
	}

	audio.Int16ToFloat(s.Frame(), w.block)
	r.Render(w.block, w.acc, azimuth, distance, gain)
	w.stats.HRTFRenders++
}

// pairRenderer fetches the pair's renderer and applies the stream's
// penumbra setting, which an injector may change at any packet
func pairRenderer(ctx *ListenerContext, sourceNode uuid.UUID, s *stream.Stream, frame uint64) Renderer {
	r := ctx.renderer(PairKey{sourceNode, s.ID()}, frame)
	r.SetIgnorePenumbra(s.IgnorePenumbra())
	return r
}

// streamGain combines attenuation ratio, off-axis and distance falloff
func streamGain(s *stream.Stream, lpos mgl32.Vec3, distance float32, listenerZone string, echo bool, settings *Settings) float32 {
	gain := float32(1)

	if s.Kind() == stream.KindInjected {
		gain *= s.AttenuationRatio()
	}
	if s.Kind() == stream.KindMicrophone && !echo {
		gain *= OffAxisAttenuation(s.Position(), s.Orientation(), lpos,
			settings.OffAxisConeAngle, settings.OffAxisMinGain)
	}
	if echo {
		return gain
	}

	// injected sources fall off from their radius surface
	d := distance
	if s.Kind() == stream.KindInjected && s.Radius() > 0 {
		d -= s.Radius()
	}
	coefficient := settings.AttenuationFor(settings.ZoneAt(s.Position()), listenerZone)
	return gain * DistanceAttenuation(d, coefficient)
}

// mixDirect sums a frame into the accumulator without spatialization;
// mono is duplicated to both channels
func (w *Worker) mixDirect(frame []int16, gain float32, stereo bool) {
	if stereo {
		n := min(len(frame), len(w.acc))
		for i := 0; i < n; i++ {
			w.acc[i] += float32(frame[i]) / 32768.0 * gain
		}
		return
	}
	n := min(len(frame), len(w.acc)/2)
	for i := 0; i < n; i++ {
		v := float32(frame[i]) / 32768.0 * gain
		w.acc[2*i] += v
		w.acc[2*i+1] += v
	}
}

// emit sends the mix or a silent frame, then stats and environment when due
func (w *Worker) emit(listener Node, ctx *ListenerContext, settings *Settings, zone string) {
	silent := audio.IsSilent(w.out)
	codec := ctx.encoder.Codec()

	var packet []byte
	if silent && !ctx.flushPending {
		p := protocol.SilentMix{Sequence: ctx.sequence, Codec: codec, SampleCount: audio.StereoFrameSamples}
		if payload, err := p.Marshal(); err == nil {
			packet = protocol.Frame(protocol.PacketSilentAudioFrame, payload)
		}
		ctx.stats.SilentFrames++
	} else {
		encoded, err := ctx.encoder.Encode(w.out)
		if err != nil {
			ctx.stats.EncodeErrors++
			logrus.WithFields(logrus.Fields{
				"listener": listener.ID,
				"codec":    codec,
				"error":    err.Error(),
			}).Debug("Failed to encode mix")
		} else {
			p := protocol.MixedAudio{Sequence: ctx.sequence, Codec: codec, Payload: encoded}
			if payload, err := p.Marshal(); err == nil {
				packet = protocol.Frame(protocol.PacketMixedAudio, payload)
			}
		}
		if silent {
			ctx.stats.FlushFrames++
		}
		ctx.flushPending = !silent
		ctx.stats.FramesMixed++
	}
	ctx.sequence++

	if packet != nil {
		w.send(listener.ID, ctx, packet)
	}

	ctx.framesToStats++
	if ctx.framesToStats >= settings.StatsIntervalFrames {
		ctx.framesToStats = 0
		w.sendStats(listener, ctx)
	}

	w.sendEnvironment(listener, ctx, settings, zone)
}

func (w *Worker) sendStats(listener Node, ctx *ListenerContext) {
	streams := listener.Data.Streams()
	records := make([]protocol.StreamStats, 0, len(streams))
	for _, s := range streams {
		records = append(records, s.Stats())
	}
	for _, p := range protocol.SplitStreamStats(records) {
		payload, err := p.Marshal()
		if err != nil {
			continue
		}
		w.send(listener.ID, ctx, protocol.Frame(protocol.PacketAudioStreamStats, payload))
	}
	ctx.stats.StatsPackets++
}

func (w *Worker) sendEnvironment(listener Node, ctx *ListenerContext, settings *Settings, zone string) {
	env := protocol.AudioEnvironment{}
	if rz, ok := settings.ReverbAt(zone); ok {
		env = protocol.AudioEnvironment{HasReverb: true, ReverbTime: rz.ReverbTime, WetLevel: rz.WetLevel}
	}

	changed := !ctx.environmentSent || env != ctx.environment
	if !changed && w.random() >= settings.EnvironmentProbability {
		return
	}

	ctx.environment = env
	ctx.environmentSent = true
	ctx.stats.EnvironmentSent++
	w.send(listener.ID, ctx, protocol.Frame(protocol.PacketAudioEnvironment, env.Marshal()))
}

func (w *Worker) send(nodeID uuid.UUID, ctx *ListenerContext, packet []byte) {
	if w.sender == nil {
		return
	}
	if err := w.sender.Send(nodeID, packet); err != nil {
		ctx.stats.SendErrors++
	}
}
