package audio

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"math"
)

var (
	ErrPermissionDenied = errors.New("audio: microphone permission denied")
	ErrUnsupportedFile  = errors.New("audio: unsupported file type")
)

// Constraints describe the stream requested from a microphone.
type Constraints struct {
	SampleRate       int
	Channels         int
	EchoCancellation bool
	NoiseSuppression bool
}

func DefaultConstraints() Constraints {
	return Constraints{
		SampleRate:       SampleRate,
		Channels:         Channels,
		EchoCancellation: true,
		NoiseSuppression: true,
	}
}

// Source yields mono float samples at the rate requested when it was opened.
// Read returns io.EOF once the stream is exhausted.
type Source interface {
	Read(samples []float32) (int, error)
	Close() error
}

// Microphone acquires a Source. Implementations return an error wrapping
// ErrPermissionDenied when the platform refuses access.
type Microphone interface {
	Open(ctx context.Context, c Constraints) (Source, error)
}

type rawSource struct {
	r      *bufio.Reader
	closer io.Closer
	buf    [4]byte
}

// RawSource reads 32-bit float little endian mono samples, the format
// produced by `arecord -f FLOAT_LE` or `sox -e floating-point`.
func RawSource(rc io.ReadCloser) Source {
	return &rawSource{r: bufio.NewReaderSize(rc, BlockSize*4), closer: rc}
}

func (s *rawSource) Read(samples []float32) (int, error) {
	n := 0
	for n < len(samples) {
		if _, err := io.ReadFull(s.r, s.buf[:]); err != nil {
			if errors.Is(err, io.ErrUnexpectedEOF) {
				err = io.EOF
			}
			if n > 0 && errors.Is(err, io.EOF) {
				return n, nil
			}
			return n, err
		}
		samples[n] = math.Float32frombits(binary.LittleEndian.Uint32(s.buf[:]))
		n++
	}
	return n, nil
}

func (s *rawSource) Close() error {
	return s.closer.Close()
}

// bufferSource serves decoded samples from memory.
type bufferSource struct {
	samples []float32
	pos     int
	closer  io.Closer
}

func (s *bufferSource) Read(samples []float32) (int, error) {
	if s.pos >= len(s.samples) {
		return 0, io.EOF
	}
	n := copy(samples, s.samples[s.pos:])
	s.pos += n
	return n, nil
}

func (s *bufferSource) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}
