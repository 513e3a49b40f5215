// ABOUTME: Mixer protocol handshake message definitions
// ABOUTME: Defines the JSON structs exchanged before binary audio flows
package protocol

// Message is the top-level wrapper for all JSON protocol messages
type Message struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// Node types a client can announce
const (
	NodeTypeAgent   = "agent"
	NodeTypeService = "service"
)

// ClientHello is sent by clients to initiate the handshake
type ClientHello struct {
	NodeID   string      `json:"node_id"`
	Name     string      `json:"name"`
	Version  int         `json:"version"`
	NodeType string      `json:"node_type"`
	Codecs   []string    `json:"codecs,omitempty"` // preferred first
	Device   *DeviceInfo `json:"device_info,omitempty"`
}

// DeviceInfo contains device identification
type DeviceInfo struct {
	ProductName     string `json:"product_name"`
	Manufacturer    string `json:"manufacturer"`
	SoftwareVersion string `json:"software_version"`
}

// ServerHello is the server's response to client/hello
type ServerHello struct {
	ServerID     string `json:"server_id"`
	Name         string `json:"name"`
	Version      int    `json:"version"`
	Codec        string `json:"codec"`
	SampleRate   int    `json:"sample_rate"`
	FrameSamples int    `json:"frame_samples"`
}

// ClientGoodbye is sent before a client disconnects
type ClientGoodbye struct {
	Reason string `json:"reason"`
}

// ServerError reports a rejected handshake
type ServerError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}
