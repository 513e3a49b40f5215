// ABOUTME: Tests for injector sources and the framer
// ABOUTME: Uses in-memory sources to check framing, channel mapping and resampling
package source

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Resonate-Protocol/resonate-mixer/pkg/audio"
)

// sliceSource plays back a fixed buffer, or a constant value per channel forever
type sliceSource struct {
	rate     int
	channels int
	data     []int16
	constant []int16
	empty    bool
}

func (s *sliceSource) Read(samples []int16) (int, error) {
	if s.empty {
		return 0, nil
	}
	if s.constant != nil {
		n := len(samples) / s.channels * s.channels
		for i := 0; i < n; i++ {
			samples[i] = s.constant[i%s.channels]
		}
		return n, nil
	}
	if len(s.data) == 0 {
		return 0, io.EOF
	}
	n := copy(samples, s.data)
	s.data = s.data[n:]
	return n, nil
}

func (s *sliceSource) SampleRate() int            { return s.rate }
func (s *sliceSource) Channels() int              { return s.channels }
func (s *sliceSource) Metadata() (string, string) { return "slice", "test" }
func (s *sliceSource) Close() error               { return nil }

func TestToneSource(t *testing.T) {
	tone := NewTone(440, 1)
	assert.Equal(t, audio.SampleRate, tone.SampleRate())

	buf := make([]int16, audio.FrameSamplesPerChannel)
	n, err := tone.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, len(buf), n)

	var peak int16
	for _, s := range buf {
		if s > peak {
			peak = s
		}
	}
	assert.InDelta(t, 16383, peak, 200)

	title, _ := tone.Metadata()
	assert.Equal(t, "Test Tone 440Hz", title)
}

func TestFramerMonoToStereo(t *testing.T) {
	f, err := NewFramer(NewTone(440, 1), true)
	require.NoError(t, err)
	assert.Equal(t, 2, f.Channels())

	frame, err := f.Next()
	require.NoError(t, err)
	require.Len(t, frame, audio.StereoFrameSamples)
	for i := 0; i < len(frame); i += 2 {
		assert.Equal(t, frame[i], frame[i+1])
	}
}

func TestFramerDownmixesAndResamples(t *testing.T) {
	src := &sliceSource{rate: 48000, channels: 2, constant: []int16{1000, 3000}}
	f, err := NewFramer(src, false)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		frame, err := f.Next()
		require.NoError(t, err)
		require.Len(t, frame, audio.FrameSamplesPerChannel)
		for _, s := range frame {
			assert.InDelta(t, 2000, s, 1)
		}
	}
}

func TestFramerPadsFinalFrame(t *testing.T) {
	data := make([]int16, 300)
	for i := range data {
		data[i] = 7
	}
	f, err := NewFramer(&sliceSource{rate: audio.SampleRate, channels: 1, data: data}, false)
	require.NoError(t, err)

	frame, err := f.Next()
	require.NoError(t, err)
	assert.Equal(t, int16(7), frame[audio.FrameSamplesPerChannel-1])

	frame, err = f.Next()
	require.NoError(t, err)
	assert.Equal(t, int16(7), frame[59])
	assert.Equal(t, int16(0), frame[60])

	_, err = f.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestFramerStalledSource(t *testing.T) {
	f, err := NewFramer(&sliceSource{rate: audio.SampleRate, channels: 1, empty: true}, false)
	require.NoError(t, err)

	_, err = f.Next()
	assert.ErrorIs(t, err, io.ErrNoProgress)
}

func TestFramerRejectsInvalidFormat(t *testing.T) {
	_, err := NewFramer(&sliceSource{rate: 0, channels: 1}, false)
	assert.Error(t, err)
}

func TestNewSource(t *testing.T) {
	src, err := New("")
	require.NoError(t, err)
	assert.IsType(t, &ToneSource{}, src)

	_, err = New(filepath.Join(t.TempDir(), "missing.mp3"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "clip.wav")
	require.NoError(t, os.WriteFile(path, []byte("RIFF"), 0o644))
	_, err = New(path)
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestScaleTo16(t *testing.T) {
	assert.Equal(t, int16(1000), scaleTo16(1000, 16))
	assert.Equal(t, int16(1000), scaleTo16(1000<<8, 24))
	assert.Equal(t, int16(25600), scaleTo16(100, 8))
}

func TestSweepSourceLoops(t *testing.T) {
	sweep := NewSweep(200, 2000, 0.01, 2)
	assert.Equal(t, 2, sweep.Channels())

	first := make([]int16, audio.StereoFrameSamples)
	second := make([]int16, audio.StereoFrameSamples)
	_, err := sweep.Read(first)
	require.NoError(t, err)
	_, err = sweep.Read(second)
	require.NoError(t, err)

	// a 10ms sweep repeats every frame
	for i := range first {
		assert.InDelta(t, first[i], second[i], 2)
	}
}
