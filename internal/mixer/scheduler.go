// ABOUTME: Fixed-rate mixing scheduler
// ABOUTME: Drains inbound packets, prepares streams, runs the pool and applies the load controller
package mixer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/Resonate-Protocol/resonate-mixer/internal/stream"
	"github.com/Resonate-Protocol/resonate-mixer/pkg/protocol"
)

var (
	ErrUnknownNode      = errors.New("unknown node")
	ErrUnexpectedPacket = errors.New("unexpected packet type")
)

// Config wires the scheduler to its collaborators
type Config struct {
	Settings    Settings
	Directory   Directory
	Sender      Sender
	NewRenderer RendererFactory

	// Random feeds the environment resend probability; nil gives each
	// worker its own source
	Random func() float32
}

// Stats is a snapshot of the scheduler for status displays
type Stats struct {
	Frame               uint64
	Nodes               int
	Listeners           int
	Streams             int
	Controller          ControllerState
	AudibilityThreshold float32
	PoolSize            int
	Overruns            uint64
	ParseErrors         uint64
	StreamsRemoved      uint64
	SpatializersEvicted uint64
	LastPass            WorkerStats
	LastPassDuration    time.Duration
	PerNode             map[uuid.UUID]NodeStats
}

// NodeStats describes one node's share of the mix
type NodeStats struct {
	Streams  int
	Listener bool
}

// Scheduler is the single control goroutine of the mixer
type Scheduler struct {
	settings    Settings
	directory   Directory
	newRenderer RendererFactory
	pool        *Pool

	state ControllerState
	frame uint64

	known     map[uuid.UUID]*ClientData
	nodes     []Node
	listeners []Node

	overruns       uint64
	parseErrors    uint64
	streamsRemoved uint64
	evicted        uint64

	statsMu sync.RWMutex
	stats   Stats
}

// NewScheduler validates the settings and starts the worker pool
func NewScheduler(cfg Config) (*Scheduler, error) {
	if err := cfg.Settings.Validate(); err != nil {
		return nil, err
	}
	if cfg.Directory == nil {
		return nil, fmt.Errorf("mixer: directory is required")
	}
	if cfg.NewRenderer == nil {
		cfg.NewRenderer = DefaultRenderer
	}

	sender, random := cfg.Sender, cfg.Random
	s := &Scheduler{
		settings:    cfg.Settings,
		directory:   cfg.Directory,
		newRenderer: cfg.NewRenderer,
		state:       NewControllerState(),
		known:       make(map[uuid.UUID]*ClientData),
	}
	s.pool = NewPool(cfg.Settings.PoolSize, func() Task {
		return NewWorker(sender, random)
	})
	return s, nil
}

// Settings returns the active settings
func (s *Scheduler) Settings() Settings {
	return s.settings
}

// SetControllerState replaces the controller state; used to resume or seed it
func (s *Scheduler) SetControllerState(state ControllerState) {
	s.state = state
}

// Controller returns the current controller state
func (s *Scheduler) Controller() ControllerState {
	return s.state
}

// QueuePacket hands an inbound packet from the session layer to a node's queue
func (s *Scheduler) QueuePacket(nodeID uuid.UUID, t protocol.PacketType, payload []byte) error {
	node, ok := s.directory.Node(nodeID)
	if !ok || node.Data == nil {
		return fmt.Errorf("%w: %s", ErrUnknownNode, nodeID)
	}
	node.Data.QueuePacket(t, payload)
	return nil
}

// SetPoolSize resizes the worker pool; it takes effect between passes
func (s *Scheduler) SetPoolSize(n int) {
	s.pool.Resize(n)
	logrus.WithField("size", s.pool.Size()).Info("Mixer pool resized")
}

// Run mixes a frame every FrameInterval until ctx is cancelled
func (s *Scheduler) Run(ctx context.Context) error {
	interval := s.settings.FrameInterval
	start := time.Now()
	sleepRatio := float32(1)

	logrus.WithFields(logrus.Fields{
		"interval": interval,
		"workers":  s.pool.Size(),
	}).Info("Mixer scheduler starting")

	for frameIndex := int64(1); ; frameIndex++ {
		s.RunFrame(sleepRatio)

		wait := time.Until(start.Add(time.Duration(frameIndex) * interval))
		if wait <= 0 {
			s.overruns++
			sleepRatio = 0
			select {
			case <-ctx.Done():
				logrus.Info("Mixer scheduler stopping")
				return nil
			default:
			}
			continue
		}

		before := time.Now()
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			logrus.Info("Mixer scheduler stopping")
			return nil
		case <-timer.C:
		}
		sleepRatio = min(float32(time.Since(before))/float32(interval), 1)
	}
}

// RunFrame performs one mixing frame given the previous frame's sleep ratio
func (s *Scheduler) RunFrame(sleepRatio float32) {
	now := time.Now()

	s.reconcile()
	s.drainPackets(now)
	s.collectListeners()
	s.prepareStreams()

	switch event := s.state.Update(sleepRatio, &s.settings); event {
	case CutoffRaised, CutoffLowered:
		logrus.WithFields(logrus.Fields{
			"event":          event.String(),
			"cutoff":         s.state.CutoffRatio,
			"trailing_sleep": s.state.TrailingSleepRatio,
			"frame":          s.frame,
		}).Info("Audibility cutoff changed")
	}

	pass := &Pass{
		Listeners: s.listeners,
		Nodes:     s.nodes,
		Config: PassConfig{
			Frame:               s.frame,
			AudibilityThreshold: s.state.AudibilityThreshold(s.settings.BaseAudibilityThreshold),
			Settings:            &s.settings,
		},
	}
	passStart := time.Now()
	workerStats := s.pool.Run(pass)
	passDuration := time.Since(passStart)

	s.commitStreams()
	s.removeFinishedStreams()
	s.evictSpatializers()

	s.publishStats(pass.Config.AudibilityThreshold, workerStats, passDuration)
	s.frame++
}

// reconcile snapshots the directory and releases nodes that left
func (s *Scheduler) reconcile() {
	nodes := s.directory.Nodes()
	seen := make(map[uuid.UUID]bool, len(nodes))

	s.nodes = s.nodes[:0]
	for _, n := range nodes {
		if n.Data == nil {
			continue
		}
		seen[n.ID] = true
		if old, ok := s.known[n.ID]; ok && old != n.Data {
			old.close()
		}
		s.known[n.ID] = n.Data
		s.nodes = append(s.nodes, n)
	}

	for id, data := range s.known {
		if !seen[id] {
			data.close()
			delete(s.known, id)
			logrus.WithField("node", id).Debug("Released mixer state for departed node")
		}
	}
}

func (s *Scheduler) drainPackets(now time.Time) {
	for _, n := range s.nodes {
		for _, p := range n.Data.drain() {
			if err := s.applyPacket(n, p, now); err != nil {
				s.parseErrors++
				logrus.WithFields(logrus.Fields{
					"node":   n.ID,
					"packet": p.kind.String(),
					"error":  err.Error(),
				}).Debug("Dropped inbound packet")
			}
		}
	}
}

func (s *Scheduler) applyPacket(n Node, p inboundPacket, now time.Time) error {
	if p.kind == protocol.PacketIgnoreRadius {
		ir, err := protocol.UnmarshalIgnoreRadius(p.payload)
		if err != nil {
			return err
		}
		n.Data.ignore = ir
		return nil
	}

	kind, ok := stream.KindForPacket(p.kind)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnexpectedPacket, p.kind)
	}

	id := uuid.Nil
	if kind == stream.KindInjected {
		var err error
		if id, err = protocol.InjectStreamID(p.payload); err != nil {
			return err
		}
	}

	st, exists := n.Data.streams[id]
	if !exists {
		st = stream.New(kind, id, stream.Config{
			Codec:               n.Data.codec,
			CapacityFrames:      s.settings.BufferCapacityFrames,
			DesiredJitterFrames: s.settings.DesiredJitterFrames,
		})
	}

	if err := st.ProcessPacket(p.kind, p.payload, now); err != nil {
		if !exists {
			st.Close()
		}
		return err
	}

	if !exists {
		n.Data.addStream(st)
		logrus.WithFields(logrus.Fields{
			"node":   n.ID,
			"stream": id,
			"kind":   kind.String(),
		}).Info("Stream added")
	}
	return nil
}

// collectListeners builds the pass's listener list, creating contexts for
// nodes whose microphone stream just appeared
func (s *Scheduler) collectListeners() {
	s.listeners = s.listeners[:0]
	for _, n := range s.nodes {
		if n.Data.Microphone() == nil {
			continue
		}
		if n.Data.listener == nil {
			ctx, err := NewListenerContext(n.ID, n.Data.codec, s.newRenderer)
			if err != nil {
				logrus.WithFields(logrus.Fields{
					"node":  n.ID,
					"error": err.Error(),
				}).Warn("Cannot create listener context")
				continue
			}
			n.Data.listener = ctx
		}
		s.listeners = append(s.listeners, n)
	}
}

func (s *Scheduler) prepareStreams() {
	for _, n := range s.nodes {
		for _, st := range n.Data.Streams() {
			st.Prepare()
		}
	}
}

// commitStreams advances the read cursor of every stream that produced a frame
func (s *Scheduler) commitStreams() {
	for _, n := range s.nodes {
		for _, st := range n.Data.Streams() {
			st.Commit()
		}
	}
}

func (s *Scheduler) removeFinishedStreams() {
	for _, n := range s.nodes {
		var finished []uuid.UUID
		for _, st := range n.Data.Streams() {
			if st.ShouldRemove(s.settings.InjectorStarveFrames) {
				finished = append(finished, st.ID())
			}
		}
		for _, id := range finished {
			n.Data.removeStream(id)
			s.streamsRemoved++
			logrus.WithFields(logrus.Fields{
				"node":   n.ID,
				"stream": id,
			}).Info("Injected stream finished")
		}
	}
}

func (s *Scheduler) evictSpatializers() {
	for _, n := range s.listeners {
		if n.Data.listener != nil {
			s.evicted += uint64(n.Data.listener.evict(s.frame, s.settings.SpatializerIdleFrames))
		}
	}
}

func (s *Scheduler) publishStats(threshold float32, ws WorkerStats, passDuration time.Duration) {
	streams := 0
	perNode := make(map[uuid.UUID]NodeStats, len(s.nodes))
	for _, n := range s.nodes {
		count := len(n.Data.Streams())
		streams += count
		perNode[n.ID] = NodeStats{Streams: count, Listener: n.Data.listener != nil}
	}

	s.statsMu.Lock()
	s.stats = Stats{
		Frame:               s.frame,
		Nodes:               len(s.nodes),
		Listeners:           len(s.listeners),
		Streams:             streams,
		Controller:          s.state,
		AudibilityThreshold: threshold,
		PoolSize:            s.pool.Size(),
		Overruns:            s.overruns,
		ParseErrors:         s.parseErrors,
		StreamsRemoved:      s.streamsRemoved,
		SpatializersEvicted: s.evicted,
		LastPass:            ws,
		LastPassDuration:    passDuration,
		PerNode:             perNode,
	}
	s.statsMu.Unlock()
}

// Stats returns the latest snapshot; safe to call from any goroutine
func (s *Scheduler) Stats() Stats {
	s.statsMu.RLock()
	defer s.statsMu.RUnlock()
	return s.stats
}

// Close stops the workers and releases every node's mixer state
func (s *Scheduler) Close() {
	s.pool.Close()
	for id, data := range s.known {
		data.close()
		delete(s.known, id)
	}
}
