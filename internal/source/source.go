// ABOUTME: Audio sources for the injector: MP3, FLAC, HTTP MP3 and a test tone
// ABOUTME: Sources decode to interleaved int16 at their native rate
package source

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/hajimehoshi/go-mp3"
	"github.com/mewkiz/flac"
	"github.com/sirupsen/logrus"
)

// ErrUnsupportedFormat is returned for files the injector cannot decode
var ErrUnsupportedFormat = errors.New("unsupported audio format")

// Source provides PCM audio samples
type Source interface {
	// Read fills samples with interleaved int16 PCM and returns how many were written
	Read(samples []int16) (int, error)
	SampleRate() int
	Channels() int
	// Metadata returns title and artist
	Metadata() (title, artist string)
	Close() error
}

// New opens a source from a file path or HTTP URL. An empty path gives a
// 440Hz test tone. Files loop forever; HTTP streams end with io.EOF.
func New(pathOrURL string) (Source, error) {
	if pathOrURL == "" {
		return NewTone(440, 1), nil
	}

	if strings.HasPrefix(pathOrURL, "http://") || strings.HasPrefix(pathOrURL, "https://") {
		return NewHTTPMP3(pathOrURL)
	}

	if _, err := os.Stat(pathOrURL); err != nil {
		return nil, fmt.Errorf("audio file not found: %w", err)
	}

	switch ext := strings.ToLower(filepath.Ext(pathOrURL)); ext {
	case ".mp3":
		return NewMP3(pathOrURL)
	case ".flac":
		return NewFLAC(pathOrURL)
	default:
		return nil, fmt.Errorf("%w: %s (supported: .mp3, .flac)", ErrUnsupportedFormat, ext)
	}
}

func titleOf(path string) string {
	name := filepath.Base(path)
	return strings.TrimSuffix(name, filepath.Ext(name))
}

// decodeLE16 converts little-endian 16-bit PCM bytes into samples
func decodeLE16(buf []byte, samples []int16) int {
	n := len(buf) / 2
	for i := 0; i < n; i++ {
		samples[i] = int16(binary.LittleEndian.Uint16(buf[i*2:]))
	}
	return n
}

// MP3Source reads a looping MP3 file
type MP3Source struct {
	file    *os.File
	decoder *mp3.Decoder
	buf     []byte
	title   string
}

// NewMP3 opens an MP3 file
func NewMP3(path string) (*MP3Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open MP3 file: %w", err)
	}

	decoder, err := mp3.NewDecoder(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to decode MP3: %w", err)
	}

	s := &MP3Source{file: f, decoder: decoder, title: titleOf(path)}
	logrus.WithFields(logrus.Fields{
		"title": s.title,
		"rate":  decoder.SampleRate(),
	}).Info("Loaded MP3")
	return s, nil
}

func (s *MP3Source) Read(samples []int16) (int, error) {
	if cap(s.buf) < len(samples)*2 {
		s.buf = make([]byte, len(samples)*2)
	}
	buf := s.buf[:len(samples)*2]

	n, err := s.decoder.Read(buf)
	if err != nil && !errors.Is(err, io.EOF) {
		return 0, err
	}
	read := decodeLE16(buf[:n], samples)

	if errors.Is(err, io.EOF) {
		if _, err := s.file.Seek(0, io.SeekStart); err != nil {
			return read, fmt.Errorf("failed to seek to start: %w", err)
		}
		decoder, err := mp3.NewDecoder(s.file)
		if err != nil {
			return read, fmt.Errorf("failed to restart MP3 decoder: %w", err)
		}
		s.decoder = decoder
		logrus.WithField("title", s.title).Debug("MP3 looped")
	}
	return read, nil
}

// go-mp3 always decodes to 16-bit stereo
func (s *MP3Source) SampleRate() int            { return s.decoder.SampleRate() }
func (s *MP3Source) Channels() int              { return 2 }
func (s *MP3Source) Metadata() (string, string) { return s.title, "Unknown Artist" }
func (s *MP3Source) Close() error               { return s.file.Close() }

// FLACSource reads a looping FLAC file, scaled to 16 bits
type FLACSource struct {
	file     *os.File
	stream   *flac.Stream
	channels int
	bitDepth int
	title    string

	// decoded samples of the current FLAC frame not yet returned
	pending []int16
}

// NewFLAC opens a FLAC file
func NewFLAC(path string) (*FLACSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open FLAC file: %w", err)
	}

	stream, err := flac.New(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to decode FLAC: %w", err)
	}

	s := &FLACSource{
		file:     f,
		stream:   stream,
		channels: int(stream.Info.NChannels),
		bitDepth: int(stream.Info.BitsPerSample),
		title:    titleOf(path),
	}
	logrus.WithFields(logrus.Fields{
		"title":    s.title,
		"rate":     stream.Info.SampleRate,
		"channels": s.channels,
		"bits":     s.bitDepth,
	}).Info("Loaded FLAC")
	return s, nil
}

func (s *FLACSource) Read(samples []int16) (int, error) {
	read := 0
	for read < len(samples) {
		if len(s.pending) == 0 {
			if err := s.decodeFrame(); err != nil {
				return read, err
			}
		}
		n := copy(samples[read:], s.pending)
		s.pending = s.pending[n:]
		read += n
	}
	return read, nil
}

func (s *FLACSource) decodeFrame() error {
	frame, err := s.stream.ParseNext()
	if errors.Is(err, io.EOF) {
		if _, err := s.file.Seek(0, io.SeekStart); err != nil {
			return fmt.Errorf("failed to seek to start: %w", err)
		}
		stream, err := flac.New(s.file)
		if err != nil {
			return fmt.Errorf("failed to restart FLAC stream: %w", err)
		}
		s.stream = stream
		logrus.WithField("title", s.title).Debug("FLAC looped")
		frame, err = s.stream.ParseNext()
		if err != nil {
			return err
		}
	} else if err != nil {
		return err
	}

	n := int(frame.BlockSize) * s.channels
	out := make([]int16, 0, n)
	for i := 0; i < int(frame.BlockSize); i++ {
		for ch := 0; ch < s.channels; ch++ {
			out = append(out, scaleTo16(frame.Subframes[ch].Samples[i], s.bitDepth))
		}
	}
	s.pending = out
	return nil
}

// scaleTo16 shifts a sample of the given bit depth into int16 range
func scaleTo16(sample int32, bitDepth int) int16 {
	shift := bitDepth - 16
	if shift > 0 {
		return int16(sample >> shift)
	}
	return int16(sample << -shift)
}

func (s *FLACSource) SampleRate() int            { return int(s.stream.Info.SampleRate) }
func (s *FLACSource) Channels() int              { return s.channels }
func (s *FLACSource) Metadata() (string, string) { return s.title, "Unknown Artist" }
func (s *FLACSource) Close() error               { return s.file.Close() }

// HTTPMP3Source streams MP3 from an HTTP URL and does not loop
type HTTPMP3Source struct {
	url      string
	response *http.Response
	decoder  *mp3.Decoder
	buf      []byte
}

// NewHTTPMP3 starts streaming an MP3 URL
func NewHTTPMP3(url string) (*HTTPMP3Source, error) {
	resp, err := http.Get(url)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch HTTP stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("HTTP error: %s", resp.Status)
	}

	decoder, err := mp3.NewDecoder(resp.Body)
	if err != nil {
		resp.Body.Close()
		return nil, fmt.Errorf("failed to decode MP3 stream: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"url":  url,
		"rate": decoder.SampleRate(),
	}).Info("Streaming MP3 from HTTP")
	return &HTTPMP3Source{url: url, response: resp, decoder: decoder}, nil
}

func (s *HTTPMP3Source) Read(samples []int16) (int, error) {
	if cap(s.buf) < len(samples)*2 {
		s.buf = make([]byte, len(samples)*2)
	}
	n, err := s.decoder.Read(s.buf[:len(samples)*2])
	return decodeLE16(s.buf[:n], samples), err
}

func (s *HTTPMP3Source) SampleRate() int            { return s.decoder.SampleRate() }
func (s *HTTPMP3Source) Channels() int              { return 2 }
func (s *HTTPMP3Source) Metadata() (string, string) { return "HTTP Stream", s.url }
func (s *HTTPMP3Source) Close() error               { return s.response.Body.Close() }
