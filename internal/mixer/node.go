// ABOUTME: Connected node records and the collaborator interfaces of the mixer
// ABOUTME: ClientData queues inbound packets and owns a node's streams
package mixer

import (
	"bytes"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/Resonate-Protocol/resonate-mixer/internal/stream"
	"github.com/Resonate-Protocol/resonate-mixer/pkg/protocol"
)

// maxQueuedPackets bounds the per-node inbound queue between frames
const maxQueuedPackets = 256

// Node is a connected participant as seen by the mixer
type Node struct {
	ID   uuid.UUID
	Addr string
	Type string // protocol.NodeTypeAgent or protocol.NodeTypeService
	Data *ClientData
}

// Directory provides the current set of connected nodes
type Directory interface {
	Nodes() []Node
	Node(id uuid.UUID) (Node, bool)
}

// Sender delivers a framed packet to a node
type Sender interface {
	Send(nodeID uuid.UUID, packet []byte) error
}

type inboundPacket struct {
	kind    protocol.PacketType
	payload []byte
}

// ClientData is the mixer state attached to one node. Session goroutines
// only call QueuePacket; everything else belongs to the scheduler between
// passes and is read-only during a pass.
type ClientData struct {
	codec string

	queueMu sync.Mutex
	queue   []inboundPacket
	dropped uint64

	streams    map[uuid.UUID]*stream.Stream
	streamList []*stream.Stream
	listener   *ListenerContext
	ignore     protocol.IgnoreRadius
}

// NewClientData creates the record for a node that negotiated codec
func NewClientData(codec string) *ClientData {
	return &ClientData{
		codec:   codec,
		streams: make(map[uuid.UUID]*stream.Stream),
	}
}

// Codec returns the negotiated codec name
func (c *ClientData) Codec() string {
	return c.codec
}

// QueuePacket copies an inbound payload for the next frame. When the queue
// is full the oldest packet is dropped.
func (c *ClientData) QueuePacket(t protocol.PacketType, payload []byte) {
	p := inboundPacket{kind: t, payload: append([]byte(nil), payload...)}

	c.queueMu.Lock()
	defer c.queueMu.Unlock()

	if len(c.queue) >= maxQueuedPackets {
		copy(c.queue, c.queue[1:])
		c.queue = c.queue[:len(c.queue)-1]
		c.dropped++
	}
	c.queue = append(c.queue, p)
}

// DroppedPackets returns how many queued packets were discarded
func (c *ClientData) DroppedPackets() uint64 {
	c.queueMu.Lock()
	defer c.queueMu.Unlock()
	return c.dropped
}

func (c *ClientData) drain() []inboundPacket {
	c.queueMu.Lock()
	defer c.queueMu.Unlock()
	q := c.queue
	c.queue = nil
	return q
}

// Microphone returns the node's microphone stream, if one exists
func (c *ClientData) Microphone() *stream.Stream {
	return c.streams[uuid.Nil]
}

// Stream returns a stream by ID; uuid.Nil is the microphone
func (c *ClientData) Stream(id uuid.UUID) (*stream.Stream, bool) {
	s, ok := c.streams[id]
	return s, ok
}

// Streams returns the node's streams in a stable order
func (c *ClientData) Streams() []*stream.Stream {
	return c.streamList
}

// Listener returns the node's mix context, nil when it is not a listener
func (c *ClientData) Listener() *ListenerContext {
	return c.listener
}

// IgnoreRadius returns the node's ignore radius setting
func (c *ClientData) IgnoreRadius() protocol.IgnoreRadius {
	return c.ignore
}

func (c *ClientData) addStream(s *stream.Stream) {
	c.streams[s.ID()] = s
	c.rebuildList()
}

func (c *ClientData) removeStream(id uuid.UUID) {
	if s, ok := c.streams[id]; ok {
		s.Close()
		delete(c.streams, id)
		c.rebuildList()
	}
}

func (c *ClientData) rebuildList() {
	c.streamList = c.streamList[:0]
	for _, s := range c.streams {
		c.streamList = append(c.streamList, s)
	}
	sort.Slice(c.streamList, func(i, j int) bool {
		a, b := c.streamList[i].ID(), c.streamList[j].ID()
		return bytes.Compare(a[:], b[:]) < 0
	})
}

func (c *ClientData) close() {
	for id := range c.streams {
		c.removeStream(id)
	}
	if c.listener != nil {
		c.listener.Close()
		c.listener = nil
	}
}
