// ABOUTME: Per-connection session handling for mixer clients
// ABOUTME: Handshake, codec negotiation, packet dispatch and the node directory
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/Resonate-Protocol/resonate-mixer/internal/mixer"
	"github.com/Resonate-Protocol/resonate-mixer/pkg/audio"
	"github.com/Resonate-Protocol/resonate-mixer/pkg/protocol"
)

const (
	handshakeTimeout = 5 * time.Second
	writeDeadline    = 10 * time.Second
	pingInterval     = 30 * time.Second
	maxMessageSize   = 64 * 1024
)

var (
	ErrUnknownClient = errors.New("unknown client")
	ErrSendQueueFull = errors.New("client send buffer full")

	errBadHello         = errors.New("invalid client/hello")
	errUnsupportedCodec = errors.New("no supported codec")
)

// supportedCodecs in server preference order
var supportedCodecs = []string{audio.CodecOpus, audio.CodecPCM}

// Client is a connected mixer node
type Client struct {
	ID          uuid.UUID
	Name        string
	NodeType    string
	Codec       string
	Addr        string
	Conn        *websocket.Conn
	Data        *mixer.ClientData
	ConnectedAt time.Time

	packetsIn   atomic.Uint64
	packetsOut  atomic.Uint64
	sendDropped atomic.Uint64

	sendChan chan interface{}
}

func (c *Client) node() mixer.Node {
	return mixer.Node{ID: c.ID, Addr: c.Addr, Type: c.NodeType, Data: c.Data}
}

// Nodes returns a snapshot of connected nodes for the scheduler
func (s *Server) Nodes() []mixer.Node {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()

	nodes := make([]mixer.Node, 0, len(s.clients))
	for _, c := range s.clients {
		nodes = append(nodes, c.node())
	}
	return nodes
}

// Node looks up one connected node
func (s *Server) Node(id uuid.UUID) (mixer.Node, bool) {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()

	c, ok := s.clients[id]
	if !ok {
		return mixer.Node{}, false
	}
	return c.node(), true
}

// Send queues a framed packet for a node without blocking the mixer
func (s *Server) Send(nodeID uuid.UUID, packet []byte) error {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()

	c, ok := s.clients[nodeID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownClient, nodeID)
	}
	select {
	case c.sendChan <- packet:
		c.packetsOut.Add(1)
		return nil
	default:
		c.sendDropped.Add(1)
		return ErrSendQueueFull
	}
}

// handleWebSocket upgrades the request and runs the session
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logrus.WithError(err).Warn("WebSocket upgrade error")
		return
	}

	logrus.WithField("remote", r.RemoteAddr).Debug("New WebSocket connection")
	s.handleConnection(conn, r.RemoteAddr)
}

// handleConnection manages a client connection from hello to disconnect
func (s *Server) handleConnection(conn *websocket.Conn, remote string) {
	defer conn.Close()

	s.shutdownMu.RLock()
	if s.isShutdown {
		s.shutdownMu.RUnlock()
		logrus.Debug("Rejecting connection during shutdown")
		return
	}
	s.shutdownMu.RUnlock()

	hello, err := readHello(conn)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"remote": remote,
			"error":  err.Error(),
		}).Warn("Handshake failed")
		writeError(conn, "bad_hello", err.Error())
		return
	}

	id, _ := uuid.Parse(hello.NodeID)
	codec, err := negotiateCodec(hello.Codecs)
	if err != nil {
		writeError(conn, "unsupported_codec", fmt.Sprintf("supported codecs: %v", supportedCodecs))
		return
	}

	client := &Client{
		ID:          id,
		Name:        hello.Name,
		NodeType:    hello.NodeType,
		Codec:       codec,
		Addr:        remote,
		Conn:        conn,
		Data:        mixer.NewClientData(codec),
		ConnectedAt: time.Now(),
		sendChan:    make(chan interface{}, sendQueueSize),
	}

	s.clientsMu.Lock()
	if existing, exists := s.clients[id]; exists {
		s.clientsMu.Unlock()
		logrus.WithFields(logrus.Fields{
			"node":     id,
			"existing": existing.Name,
		}).Warn("Node ID already connected, rejecting duplicate")
		writeError(conn, "duplicate_node_id", "Node ID already connected")
		return
	}
	s.clients[id] = client
	s.clientsMu.Unlock()

	logrus.WithFields(logrus.Fields{
		"node":  id,
		"name":  client.Name,
		"type":  client.NodeType,
		"codec": codec,
	}).Info("Client connected")
	s.updateTUI()

	defer func() {
		s.clientsMu.Lock()
		delete(s.clients, client.ID)
		s.clientsMu.Unlock()
		close(client.sendChan)
		logrus.WithFields(logrus.Fields{
			"node": client.ID,
			"name": client.Name,
		}).Info("Client disconnected")
		s.updateTUI()
	}()

	serverHello := protocol.ServerHello{
		ServerID:     s.serverID,
		Name:         s.config.Name,
		Version:      ProtocolVersion,
		Codec:        codec,
		SampleRate:   audio.SampleRate,
		FrameSamples: audio.FrameSamplesPerChannel,
	}
	if err := s.sendMessage(client, "server/hello", serverHello); err != nil {
		logrus.WithError(err).Warn("Error sending server hello")
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.clientWriter(client)
	}()

	conn.SetReadLimit(maxMessageSize)
	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				logrus.WithError(err).Debug("WebSocket read error")
			}
			return
		}

		if messageType == websocket.BinaryMessage {
			s.handlePacket(client, data)
			continue
		}
		if s.handleClientMessage(client, data) {
			return
		}
	}
}

// readHello waits for and validates client/hello
func readHello(conn *websocket.Conn) (protocol.ClientHello, error) {
	var hello protocol.ClientHello

	conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	defer conn.SetReadDeadline(time.Time{})

	_, data, err := conn.ReadMessage()
	if err != nil {
		return hello, fmt.Errorf("read hello: %w", err)
	}

	var envelope struct {
		Type    string          `json:"type"`
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return hello, fmt.Errorf("%w: %w", errBadHello, err)
	}
	if envelope.Type != "client/hello" {
		return hello, fmt.Errorf("%w: expected client/hello, got %q", errBadHello, envelope.Type)
	}
	if err := json.Unmarshal(envelope.Payload, &hello); err != nil {
		return hello, fmt.Errorf("%w: %w", errBadHello, err)
	}

	if _, err := uuid.Parse(hello.NodeID); err != nil {
		return hello, fmt.Errorf("%w: node_id: %w", errBadHello, err)
	}
	if hello.Name == "" {
		return hello, fmt.Errorf("%w: missing name", errBadHello)
	}
	switch hello.NodeType {
	case "":
		hello.NodeType = protocol.NodeTypeAgent
	case protocol.NodeTypeAgent, protocol.NodeTypeService:
	default:
		return hello, fmt.Errorf("%w: node_type %q", errBadHello, hello.NodeType)
	}
	return hello, nil
}

// negotiateCodec picks the client's most preferred supported codec;
// an empty preference list gets pcm
func negotiateCodec(preferred []string) (string, error) {
	if len(preferred) == 0 {
		return audio.CodecPCM, nil
	}
	for _, c := range preferred {
		if slices.Contains(supportedCodecs, c) {
			return c, nil
		}
	}
	return "", errUnsupportedCodec
}

func writeError(conn *websocket.Conn, code, message string) {
	msg := protocol.Message{
		Type:    "server/error",
		Payload: protocol.ServerError{Error: code, Message: message},
	}
	conn.SetWriteDeadline(time.Now().Add(writeDeadline))
	if err := conn.WriteJSON(msg); err != nil {
		logrus.WithError(err).Debug("Failed to write server/error")
	}
}

// handlePacket hands a binary packet to the scheduler
func (s *Server) handlePacket(client *Client, data []byte) {
	t, payload, err := protocol.SplitFrame(data)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"node":  client.ID,
			"error": err.Error(),
		}).Debug("Invalid binary message")
		return
	}
	client.packetsIn.Add(1)
	if err := s.scheduler.QueuePacket(client.ID, t, payload); err != nil {
		logrus.WithFields(logrus.Fields{
			"node":   client.ID,
			"packet": t.String(),
			"error":  err.Error(),
		}).Debug("Packet not queued")
	}
}

// handleClientMessage processes a JSON message; it reports whether the
// session should end
func (s *Server) handleClientMessage(client *Client, data []byte) bool {
	var envelope struct {
		Type    string          `json:"type"`
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		logrus.WithError(err).Debug("Error unmarshaling message")
		return false
	}

	switch envelope.Type {
	case "client/goodbye":
		var bye protocol.ClientGoodbye
		if err := json.Unmarshal(envelope.Payload, &bye); err != nil {
			logrus.WithError(err).WithField("node", client.ID).Debug("Malformed goodbye payload")
		}
		logrus.WithFields(logrus.Fields{
			"node":   client.ID,
			"reason": bye.Reason,
		}).Info("Client said goodbye")
		return true
	default:
		logrus.WithField("type", envelope.Type).Debug("Unknown message type")
		return false
	}
}

// clientWriter sends queued messages and keepalive pings
func (s *Server) clientWriter(client *Client) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-client.sendChan:
			if !ok {
				return
			}

			switch v := msg.(type) {
			case []byte:
				client.Conn.SetWriteDeadline(time.Now().Add(writeDeadline))
				if err := client.Conn.WriteMessage(websocket.BinaryMessage, v); err != nil {
					logrus.WithError(err).Debug("Error writing binary message")
					return
				}
			default:
				data, err := json.Marshal(v)
				if err != nil {
					logrus.WithError(err).Warn("Error marshaling message")
					continue
				}
				client.Conn.SetWriteDeadline(time.Now().Add(writeDeadline))
				if err := client.Conn.WriteMessage(websocket.TextMessage, data); err != nil {
					logrus.WithError(err).Debug("Error writing text message")
					return
				}
			}

		case <-ticker.C:
			if err := client.Conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(writeDeadline)); err != nil {
				return
			}
		}
	}
}

// sendMessage queues a JSON message to a client
func (s *Server) sendMessage(client *Client, msgType string, payload interface{}) error {
	msg := protocol.Message{
		Type:    msgType,
		Payload: payload,
	}

	select {
	case client.sendChan <- msg:
		return nil
	default:
		return ErrSendQueueFull
	}
}
