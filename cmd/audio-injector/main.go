// ABOUTME: Entry point for the audio injector service node
// ABOUTME: Streams a file or test tone into the mixer as a positioned sound source
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"math"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/Resonate-Protocol/resonate-mixer/internal/discovery"
	"github.com/Resonate-Protocol/resonate-mixer/internal/server"
	"github.com/Resonate-Protocol/resonate-mixer/internal/source"
	"github.com/Resonate-Protocol/resonate-mixer/internal/version"
	"github.com/Resonate-Protocol/resonate-mixer/pkg/audio"
	"github.com/Resonate-Protocol/resonate-mixer/pkg/audio/encode"
	"github.com/Resonate-Protocol/resonate-mixer/pkg/protocol"
)

var (
	serverAddr  = flag.String("server", "", "Mixer address host:port (skip mDNS)")
	name        = flag.String("name", "", "Injector name (default: hostname-audio-injector)")
	file        = flag.String("file", "", "MP3/FLAC file or HTTP MP3 URL; empty plays a test tone")
	sweep       = flag.Bool("sweep", false, "Play a 200Hz-2kHz sweep instead of the test tone")
	posX        = flag.Float64("x", 0, "Source position X")
	posY        = flag.Float64("y", 0, "Source position Y")
	posZ        = flag.Float64("z", -2, "Source position Z (forward is -Z)")
	yaw         = flag.Float64("yaw", 0, "Source yaw in degrees")
	radius      = flag.Float64("radius", 0, "Source radius in meters")
	volume      = flag.Float64("volume", 1, "Stream volume in [0, 1]")
	stereo      = flag.Bool("stereo", false, "Send stereo (mixed straight into listeners, not spatialized)")
	loopback    = flag.Bool("loopback", false, "Set the loopback flag, which plays a stream back to its own node (no audible effect here, injectors never listen)")
	codec       = flag.String("codec", audio.CodecPCM, "Preferred codec (pcm or opus)")
	duration    = flag.Duration("duration", 0, "Stop after this long (0 runs until the source ends)")
	debug       = flag.Bool("debug", false, "Enable debug logging")
)

func main() {
	flag.Parse()

	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if *debug {
		logrus.SetLevel(logrus.DebugLevel)
	}

	volumeLevel, err := volumeByte(*volume)
	if err != nil {
		logrus.Fatal(err)
	}

	injectorName := *name
	if injectorName == "" {
		hostname, err := os.Hostname()
		if err != nil {
			hostname = "unknown"
		}
		injectorName = fmt.Sprintf("%s-audio-injector", hostname)
	}

	var src source.Source
	if *sweep && *file == "" {
		src = source.NewSweep(200, 2000, 5, 1)
	} else {
		src, err = source.New(*file)
	}
	if err != nil {
		logrus.Fatalf("Failed to open source: %v", err)
	}
	defer src.Close()

	framer, err := source.NewFramer(src, *stereo)
	if err != nil {
		logrus.Fatalf("Failed to frame source: %v", err)
	}

	address := *serverAddr
	if address == "" {
		address, err = discover()
		if err != nil {
			logrus.Fatal(err)
		}
	}

	client := protocol.NewClient(protocol.Config{
		ServerAddr: address,
		NodeID:     uuid.NewString(),
		Name:       injectorName,
		Version:    server.ProtocolVersion,
		NodeType:   protocol.NodeTypeService,
		Codecs:     []string{*codec},
		DeviceInfo: protocol.DeviceInfo{
			ProductName:     "Audio Injector",
			Manufacturer:    version.Manufacturer,
			SoftwareVersion: version.Version,
		},
	})
	if err := client.Connect(); err != nil {
		logrus.Fatalf("Connection failed: %v", err)
	}
	defer client.Close()

	encoder, err := encode.New(audio.Format{
		Codec:      client.ServerHello().Codec,
		SampleRate: audio.SampleRate,
		Channels:   framer.Channels(),
	})
	if err != nil {
		logrus.Fatalf("Failed to create encoder: %v", err)
	}
	defer encoder.Close()

	title, artist := src.Metadata()
	packet := protocol.InjectAudio{
		StreamID:    uuid.New(),
		Stereo:      *stereo,
		Loopback:    *loopback,
		Position:    mgl32.Vec3{float32(*posX), float32(*posY), float32(*posZ)},
		Orientation: mgl32.QuatRotate(float32(*yaw*math.Pi/180), mgl32.Vec3{0, 1, 0}),
		Radius:      float32(*radius),
		Attenuation: volumeLevel,
	}
	logrus.WithFields(logrus.Fields{
		"server":   address,
		"stream":   packet.StreamID,
		"title":    title,
		"artist":   artist,
		"position": packet.Position,
		"stereo":   *stereo,
	}).Info("Injecting audio")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	var deadline <-chan time.Time
	if *duration > 0 {
		deadline = time.After(*duration)
	}

	ticker := time.NewTicker(audio.FrameInterval)
	defer ticker.Stop()

	reason := "finished"
loop:
	for {
		select {
		case sig := <-sigChan:
			logrus.WithField("signal", sig.String()).Info("Shutting down...")
			reason = "interrupted"
			break loop
		case <-deadline:
			break loop
		case <-ticker.C:
			frame, err := framer.Next()
			if errors.Is(err, io.EOF) {
				logrus.Info("Source ended")
				break loop
			}
			if err != nil {
				logrus.WithError(err).Error("Source read failed")
				reason = "source error"
				break loop
			}

			data, err := encoder.Encode(frame)
			if err != nil {
				logrus.WithError(err).Error("Encode failed")
				reason = "encode error"
				break loop
			}
			packet.Samples = data
			if err := client.SendPacket(protocol.PacketInjectAudio, packet.Marshal()); err != nil {
				logrus.WithError(err).Error("Send failed")
				reason = "connection lost"
				break loop
			}
			packet.Sequence++
		}
	}

	if err := client.SendGoodbye(reason); err != nil {
		logrus.WithError(err).Debug("Failed to send goodbye")
	}
	logrus.WithField("frames", packet.Sequence).Info("Injector stopped")
}

// volumeByte maps a volume in [0, 1] onto the packet's attenuation byte,
// where 255 plays at full level
func volumeByte(v float64) (uint8, error) {
	if math.IsNaN(v) || v < 0 || v > 1 {
		return 0, fmt.Errorf("volume must be in [0, 1], got %g", v)
	}
	return uint8(math.Round(v * 255)), nil
}

// discover browses mDNS for a mixer
func discover() (string, error) {
	logrus.Info("Starting mixer discovery...")
	disc := discovery.NewManager(discovery.Config{})
	if err := disc.Browse(); err != nil {
		return "", fmt.Errorf("discovery failed: %w", err)
	}
	defer disc.Stop()

	select {
	case srv := <-disc.Servers():
		logrus.WithFields(logrus.Fields{
			"name": srv.Name,
			"addr": srv.Addr(),
		}).Info("Discovered mixer")
		return srv.Addr(), nil
	case <-time.After(10 * time.Second):
		return "", errors.New("no mixer found after 10 seconds")
	}
}
