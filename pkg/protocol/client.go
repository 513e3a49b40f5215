// ABOUTME: WebSocket client for the mixer protocol
// ABOUTME: Handles connection, handshake, binary packet sending and mix routing
package protocol

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// Endpoint is the WebSocket path served by the mixer
const Endpoint = "/mixer"

var ErrNotConnected = errors.New("not connected")

// Config holds client configuration
type Config struct {
	ServerAddr string
	NodeID     string
	Name       string
	Version    int
	NodeType   string
	Codecs     []string
	DeviceInfo DeviceInfo
}

// Client represents a WebSocket client
type Client struct {
	config  Config
	conn    *websocket.Conn
	mu      sync.RWMutex
	writeMu sync.Mutex

	// Inbound packet channels
	MixedAudio  chan MixedAudio
	SilentMix   chan SilentMix
	Environment chan AudioEnvironment
	Stats       chan AudioStreamStats

	hello     ServerHello
	connected bool
	ctx       context.Context
	cancel    context.CancelFunc
}

// NewClient creates a new WebSocket client
func NewClient(config Config) *Client {
	ctx, cancel := context.WithCancel(context.Background())

	if config.NodeType == "" {
		config.NodeType = NodeTypeAgent
	}

	return &Client{
		config:      config,
		MixedAudio:  make(chan MixedAudio, 100),
		SilentMix:   make(chan SilentMix, 100),
		Environment: make(chan AudioEnvironment, 10),
		Stats:       make(chan AudioStreamStats, 10),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Connect establishes WebSocket connection and performs handshake
func (c *Client) Connect() error {
	u := url.URL{Scheme: "ws", Host: c.config.ServerAddr, Path: Endpoint}
	logrus.WithField("url", u.String()).Info("Connecting to mixer")

	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return fmt.Errorf("dial failed: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.mu.Unlock()

	if err := c.handshake(); err != nil {
		c.Close()
		return fmt.Errorf("handshake failed: %w", err)
	}

	go c.readMessages()

	return nil
}

// handshake sends client/hello and waits for server/hello
func (c *Client) handshake() error {
	hello := ClientHello{
		NodeID:   c.config.NodeID,
		Name:     c.config.Name,
		Version:  c.config.Version,
		NodeType: c.config.NodeType,
		Codecs:   c.config.Codecs,
		Device:   &c.config.DeviceInfo,
	}

	if err := c.sendJSON(Message{Type: "client/hello", Payload: hello}); err != nil {
		return fmt.Errorf("failed to send client/hello: %w", err)
	}

	c.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		return fmt.Errorf("failed to read server/hello: %w", err)
	}
	c.conn.SetReadDeadline(time.Time{})

	var envelope struct {
		Type    string          `json:"type"`
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return fmt.Errorf("failed to parse server/hello: %w", err)
	}

	switch envelope.Type {
	case "server/hello":
	case "server/error":
		var serr ServerError
		_ = json.Unmarshal(envelope.Payload, &serr)
		return fmt.Errorf("server rejected hello: %s: %s", serr.Error, serr.Message)
	default:
		return fmt.Errorf("expected server/hello, got %s", envelope.Type)
	}

	var sh ServerHello
	if err := json.Unmarshal(envelope.Payload, &sh); err != nil {
		return fmt.Errorf("failed to parse server/hello payload: %w", err)
	}

	c.mu.Lock()
	c.hello = sh
	c.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"server": sh.Name,
		"codec":  sh.Codec,
		"rate":   sh.SampleRate,
	}).Info("Handshake complete with mixer")

	return nil
}

// ServerHello returns the hello received during the handshake
func (c *Client) ServerHello() ServerHello {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.hello
}

// sendJSON sends a JSON message
func (c *Client) sendJSON(msg Message) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.connected {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(msg)
}

// SendPacket frames and sends one binary packet
func (c *Client) SendPacket(t PacketType, payload []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.connected {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(websocket.BinaryMessage, Frame(t, payload))
}

// readMessages reads and routes incoming messages
func (c *Client) readMessages() {
	defer c.Close()

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			logrus.WithError(err).Debug("Read error")
			return
		}

		if messageType == websocket.BinaryMessage {
			c.handleBinaryMessage(data)
		} else {
			logrus.WithField("type", messageType).Debug("Ignoring non-binary message")
		}
	}
}

// handleBinaryMessage decodes mixer output packets onto the channels
func (c *Client) handleBinaryMessage(data []byte) {
	t, payload, err := SplitFrame(data)
	if err != nil {
		logrus.WithError(err).Debug("Invalid binary message")
		return
	}

	switch t {
	case PacketMixedAudio:
		p, err := UnmarshalMixedAudio(payload)
		if err != nil {
			logrus.WithError(err).Debug("Bad mixed audio packet")
			return
		}
		deliver(c.ctx, c.MixedAudio, p)
	case PacketSilentAudioFrame:
		p, err := UnmarshalSilentMix(payload)
		if err != nil {
			logrus.WithError(err).Debug("Bad silent frame packet")
			return
		}
		deliver(c.ctx, c.SilentMix, p)
	case PacketAudioEnvironment:
		p, err := UnmarshalAudioEnvironment(payload)
		if err != nil {
			logrus.WithError(err).Debug("Bad environment packet")
			return
		}
		deliver(c.ctx, c.Environment, p)
	case PacketAudioStreamStats:
		p, err := UnmarshalAudioStreamStats(payload)
		if err != nil {
			logrus.WithError(err).Debug("Bad stats packet")
			return
		}
		deliver(c.ctx, c.Stats, p)
	default:
		logrus.WithField("packet", t).Debug("Unexpected packet from mixer")
	}
}

// deliver drops the packet when the consumer is not keeping up
func deliver[T any](ctx context.Context, ch chan T, v T) {
	select {
	case ch <- v:
	case <-ctx.Done():
	default:
	}
}

// SendGoodbye sends a client/goodbye message before disconnecting
func (c *Client) SendGoodbye(reason string) error {
	return c.sendJSON(Message{
		Type:    "client/goodbye",
		Payload: ClientGoodbye{Reason: reason},
	})
}

// Close closes the connection
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected {
		c.connected = false
		c.cancel()
		c.conn.Close()
		logrus.Debug("Connection closed")
	}
}

// IsConnected returns connection status
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}
