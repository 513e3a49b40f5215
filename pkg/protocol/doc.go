// ABOUTME: Mixer wire protocol package
// ABOUTME: Defines handshake messages, binary audio packets and a WebSocket client
// Package protocol implements the audio mixer wire protocol.
//
// A session starts with a JSON client/hello and server/hello exchange over a
// WebSocket. After the handshake every WebSocket binary message carries one
// packet: a one-byte PacketType followed by the little-endian payload.
//
// Inbound (client to mixer): MicrophoneAudioNoEcho, MicrophoneAudioWithEcho,
// InjectAudio, SilentAudioFrame, IgnoreRadius.
//
// Outbound (mixer to client): MixedAudio, SilentAudioFrame, AudioEnvironment,
// AudioStreamStats.
//
// Example:
//
//	packet := protocol.Frame(protocol.PacketMixedAudio, mixed.Marshal())
//	ptype, payload, err := protocol.SplitFrame(packet)
package protocol
