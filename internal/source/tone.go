// ABOUTME: Test tone generator for the injector
// ABOUTME: Generates a sine wave at the mixer sample rate
package source

import (
	"fmt"
	"math"
	"sync"

	"github.com/Resonate-Protocol/resonate-mixer/pkg/audio"
)

// ToneSource generates a sine tone at half scale
type ToneSource struct {
	sampleIndex uint64
	sampleMu    sync.Mutex
	frequency   float64
	channels    int
}

// NewTone creates a tone generator; channels is 1 or 2
func NewTone(frequency float64, channels int) *ToneSource {
	if channels != 2 {
		channels = 1
	}
	return &ToneSource{frequency: frequency, channels: channels}
}

func (s *ToneSource) Read(samples []int16) (int, error) {
	s.sampleMu.Lock()
	defer s.sampleMu.Unlock()

	frames := len(samples) / s.channels
	for i := 0; i < frames; i++ {
		t := float64(s.sampleIndex+uint64(i)) / float64(audio.SampleRate)
		v := int16(math.Sin(2*math.Pi*s.frequency*t) * 32767.0 * 0.5)
		for ch := 0; ch < s.channels; ch++ {
			samples[i*s.channels+ch] = v
		}
	}
	s.sampleIndex += uint64(frames)

	return frames * s.channels, nil
}

func (s *ToneSource) SampleRate() int { return audio.SampleRate }
func (s *ToneSource) Channels() int   { return s.channels }
func (s *ToneSource) Metadata() (string, string) {
	return fmt.Sprintf("Test Tone %.0fHz", s.frequency), "Resonate Mixer"
}
func (s *ToneSource) Close() error { return nil }

// SweepSource generates a looping linear frequency sweep, handy for
// hearing a source move through the HRTF
type SweepSource struct {
	startFreq   float64
	endFreq     float64
	duration    float64 // seconds
	channels    int
	sampleIndex uint64
	mu          sync.Mutex
}

// NewSweep creates a sweep from startFreq to endFreq over duration seconds
func NewSweep(startFreq, endFreq, duration float64, channels int) *SweepSource {
	if channels != 2 {
		channels = 1
	}
	return &SweepSource{
		startFreq: startFreq,
		endFreq:   endFreq,
		duration:  duration,
		channels:  channels,
	}
}

func (s *SweepSource) Read(samples []int16) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	frames := len(samples) / s.channels
	for i := 0; i < frames; i++ {
		t := math.Mod(float64(s.sampleIndex+uint64(i))/float64(audio.SampleRate), s.duration)
		freq := s.startFreq + (s.endFreq-s.startFreq)*t/s.duration
		v := int16(math.Sin(2*math.Pi*freq*t) * 32767.0 * 0.5)
		for ch := 0; ch < s.channels; ch++ {
			samples[i*s.channels+ch] = v
		}
	}
	s.sampleIndex += uint64(frames)

	return frames * s.channels, nil
}

func (s *SweepSource) SampleRate() int            { return audio.SampleRate }
func (s *SweepSource) Channels() int              { return s.channels }
func (s *SweepSource) Metadata() (string, string) { return "Frequency Sweep", "Resonate Mixer" }
func (s *SweepSource) Close() error               { return nil }
