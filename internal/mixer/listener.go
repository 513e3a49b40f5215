// ABOUTME: Per-listener mix context
// ABOUTME: Spatializer cache, outgoing sequence, encoder, limiter and emission state
package mixer

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/Resonate-Protocol/resonate-mixer/internal/hrtf"
	"github.com/Resonate-Protocol/resonate-mixer/pkg/audio"
	"github.com/Resonate-Protocol/resonate-mixer/pkg/audio/encode"
	"github.com/Resonate-Protocol/resonate-mixer/pkg/protocol"
)

// Renderer spatializes a mono block into a stereo accumulator
type Renderer interface {
	Render(in []float32, out []float32, azimuth, distance, gain float32)
	RenderSilent(in []float32, out []float32, azimuth, distance, gain float32)
	// SetIgnorePenumbra disables head-shadow filtering of the far ear
	SetIgnorePenumbra(ignore bool)
}

// RendererFactory creates the filter state for a new pair
type RendererFactory func() Renderer

// DefaultRenderer returns a fresh binaural spatializer
func DefaultRenderer() Renderer {
	return hrtf.New()
}

// PairKey identifies a source stream heard by a listener
type PairKey struct {
	SourceNode uuid.UUID
	StreamID   uuid.UUID
}

type pairState struct {
	renderer Renderer
	lastUsed uint64
}

// ListenerStats are the rolling counters of one listener
type ListenerStats struct {
	FramesMixed     uint64
	SilentFrames    uint64
	FlushFrames     uint64
	StatsPackets    uint64
	EnvironmentSent uint64
	EncodeErrors    uint64
	SendErrors      uint64
}

// ListenerContext is exclusively owned by the worker mixing it during a
// pass and by the scheduler between passes
type ListenerContext struct {
	nodeID      uuid.UUID
	newRenderer RendererFactory

	spatializers map[PairKey]*pairState

	sequence     uint16
	encoder      encode.Encoder
	limiter      *Limiter
	flushPending bool

	environment     protocol.AudioEnvironment
	environmentSent bool
	framesToStats   int

	stats ListenerStats
}

// NewListenerContext creates the mix context for a node and its negotiated codec
func NewListenerContext(nodeID uuid.UUID, codec string, newRenderer RendererFactory) (*ListenerContext, error) {
	enc, err := encode.New(audio.Format{
		Codec:      codec,
		SampleRate: audio.SampleRate,
		Channels:   2,
	})
	if err != nil {
		return nil, fmt.Errorf("listener %s: %w", nodeID, err)
	}
	if newRenderer == nil {
		newRenderer = DefaultRenderer
	}
	return &ListenerContext{
		nodeID:       nodeID,
		newRenderer:  newRenderer,
		spatializers: make(map[PairKey]*pairState),
		encoder:      enc,
		limiter:      NewLimiter(),
	}, nil
}

// NodeID returns the listening node
func (l *ListenerContext) NodeID() uuid.UUID {
	return l.nodeID
}

// Sequence returns the next outgoing sequence number
func (l *ListenerContext) Sequence() uint16 {
	return l.sequence
}

// Stats returns the listener's counters
func (l *ListenerContext) Stats() ListenerStats {
	return l.stats
}

// SpatializerCount returns the number of cached pairs
func (l *ListenerContext) SpatializerCount() int {
	return len(l.spatializers)
}

// renderer returns the pair's filter state, creating it on first use
func (l *ListenerContext) renderer(key PairKey, frame uint64) Renderer {
	ps, ok := l.spatializers[key]
	if !ok {
		ps = &pairState{renderer: l.newRenderer()}
		l.spatializers[key] = ps
	}
	ps.lastUsed = frame
	return ps.renderer
}

// evict drops pairs unused for idleFrames or more
func (l *ListenerContext) evict(frame uint64, idleFrames int) int {
	removed := 0
	for key, ps := range l.spatializers {
		if frame-ps.lastUsed >= uint64(idleFrames) {
			delete(l.spatializers, key)
			removed++
		}
	}
	return removed
}

// Close releases the encoder
func (l *ListenerContext) Close() error {
	return l.encoder.Close()
}
