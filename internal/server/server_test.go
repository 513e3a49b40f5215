// ABOUTME: Tests for the mixer server session layer
// ABOUTME: Dials a local server with the protocol client and checks handshake and mixing
package server

import (
	"fmt"
	"math"
	"net"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Resonate-Protocol/resonate-mixer/internal/mixer"
	"github.com/Resonate-Protocol/resonate-mixer/pkg/audio"
	"github.com/Resonate-Protocol/resonate-mixer/pkg/audio/encode"
	"github.com/Resonate-Protocol/resonate-mixer/pkg/protocol"
)

func startServer(t *testing.T) (*Server, string) {
	t.Helper()
	srv, err := New(Config{Name: "test-mixer", Settings: mixer.DefaultSettings()})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- srv.Start() }()

	select {
	case <-srv.Ready():
	case err := <-done:
		t.Fatalf("server failed to start: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not become ready")
	}

	t.Cleanup(func() {
		srv.Stop()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(10 * time.Second):
			t.Error("server did not stop")
		}
	})

	addr := fmt.Sprintf("127.0.0.1:%d", srv.Addr().(*net.TCPAddr).Port)
	return srv, addr
}

func connect(t *testing.T, addr string, nodeID string, codecs ...string) (*protocol.Client, error) {
	t.Helper()
	c := protocol.NewClient(protocol.Config{
		ServerAddr: addr,
		NodeID:     nodeID,
		Name:       "node-" + nodeID[:8],
		Version:    ProtocolVersion,
		Codecs:     codecs,
	})
	if err := c.Connect(); err != nil {
		return nil, err
	}
	t.Cleanup(c.Close)
	return c, nil
}

func micFrame(t *testing.T, seq uint16, pos mgl32.Vec3, orient mgl32.Quat, samples []int16) []byte {
	t.Helper()
	enc, err := encode.NewPCM(audio.Format{Codec: audio.CodecPCM, SampleRate: audio.SampleRate, Channels: 1})
	require.NoError(t, err)
	data, err := enc.Encode(samples)
	require.NoError(t, err)
	p := protocol.MicrophoneAudio{Sequence: seq, Position: pos, Orientation: orient, Samples: data}
	return p.Marshal()
}

func TestServerMixesBetweenClients(t *testing.T) {
	_, addr := startServer(t)

	listener, err := connect(t, addr, uuid.NewString(), audio.CodecPCM)
	require.NoError(t, err)
	source, err := connect(t, addr, uuid.NewString(), audio.CodecPCM)
	require.NoError(t, err)

	hello := listener.ServerHello()
	assert.Equal(t, audio.CodecPCM, hello.Codec)
	assert.Equal(t, audio.SampleRate, hello.SampleRate)
	assert.Equal(t, audio.FrameSamplesPerChannel, hello.FrameSamples)

	tone := make([]int16, audio.FrameSamplesPerChannel)
	for i := range tone {
		tone[i] = int16(8000 * math.Sin(2*math.Pi*440*float64(i)/audio.SampleRate))
	}
	silence := make([]int16, audio.FrameSamplesPerChannel)
	facing := mgl32.QuatRotate(math.Pi, mgl32.Vec3{0, 1, 0})

	for seq := uint16(0); seq < 30; seq++ {
		require.NoError(t, listener.SendPacket(protocol.PacketMicrophoneAudioNoEcho,
			micFrame(t, seq, mgl32.Vec3{}, mgl32.QuatIdent(), silence)))
		require.NoError(t, source.SendPacket(protocol.PacketMicrophoneAudioNoEcho,
			micFrame(t, seq, mgl32.Vec3{0, 0, -2}, facing, tone)))
		time.Sleep(audio.FrameInterval)
	}

	select {
	case mix := <-listener.MixedAudio:
		assert.Equal(t, audio.CodecPCM, mix.Codec)
		assert.Len(t, mix.Payload, audio.StereoFrameSamples*2)
	case <-time.After(2 * time.Second):
		t.Fatal("no mixed audio received")
	}

	select {
	case env := <-listener.Environment:
		assert.False(t, env.HasReverb)
	case <-time.After(2 * time.Second):
		t.Fatal("no environment received")
	}
}

func TestServerRejectsDuplicateNodeID(t *testing.T) {
	_, addr := startServer(t)
	id := uuid.NewString()

	_, err := connect(t, addr, id)
	require.NoError(t, err)

	_, err = connect(t, addr, id)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate_node_id")
}

func TestServerRejectsUnsupportedCodec(t *testing.T) {
	_, addr := startServer(t)

	_, err := connect(t, addr, uuid.NewString(), "flac")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported_codec")
}

func TestServerDirectoryTracksClients(t *testing.T) {
	srv, addr := startServer(t)
	id := uuid.New()

	c, err := connect(t, addr, id.String())
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, ok := srv.Node(id)
		return ok
	}, 2*time.Second, 10*time.Millisecond)
	assert.Len(t, srv.Nodes(), 1)

	require.NoError(t, c.SendGoodbye("test done"))
	require.Eventually(t, func() bool {
		return len(srv.Nodes()) == 0
	}, 2*time.Second, 10*time.Millisecond)

	err = srv.Send(id, protocol.Frame(protocol.PacketAudioEnvironment, []byte{0}))
	assert.ErrorIs(t, err, ErrUnknownClient)
}

func TestNegotiateCodec(t *testing.T) {
	tests := []struct {
		name      string
		preferred []string
		want      string
		wantErr   bool
	}{
		{"default", nil, audio.CodecPCM, false},
		{"first supported wins", []string{audio.CodecOpus, audio.CodecPCM}, audio.CodecOpus, false},
		{"skips unknown", []string{"flac", audio.CodecPCM}, audio.CodecPCM, false},
		{"nothing supported", []string{"flac"}, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := negotiateCodec(tt.preferred)
			if tt.wantErr {
				assert.ErrorIs(t, err, errUnsupportedCodec)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestHandleClientMessage(t *testing.T) {
	tests := []struct {
		name    string
		message string
		closes  bool
	}{
		{"goodbye", `{"type":"client/goodbye","payload":{"reason":"shutdown"}}`, true},
		{"malformed goodbye still ends the session", `{"type":"client/goodbye","payload":"bye"}`, true},
		{"unknown type", `{"type":"client/dance","payload":{}}`, false},
		{"not json", `goodbye`, false},
	}

	srv := &Server{}
	client := &Client{ID: uuid.New()}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.closes, srv.handleClientMessage(client, []byte(tt.message)))
		})
	}
}
