package audio

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"os"
	"sync"

	"gopkg.in/hraban/opus.v2"

	"fluent.town/ogg"
)

const (
	opusFrameDuration = 20 // milliseconds
	opusMaxPacketSize = 4000
	// opusPreSkip is the libopus encoder lookahead in 48 kHz samples.
	opusPreSkip = 312
)

// OpusWriter encodes mono float32 audio into an Ogg Opus stream.
type OpusWriter struct {
	out       io.WriteCloser
	ogg       *ogg.Writer
	enc       *opus.Encoder
	frameSize int
	pending   []float32
	granule   int64
	packet    []byte
}

func CreateOpus(path string, sampleRate int) (*OpusWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	w, err := NewOpusWriter(f, sampleRate)
	if err != nil {
		f.Close()
		os.Remove(path)
		return nil, err
	}
	return w, nil
}

// NewOpusWriter writes the Opus headers to out. sampleRate must be one of
// the rates Opus encodes natively: 8, 12, 16, 24 or 48 kHz.
func NewOpusWriter(out io.WriteCloser, sampleRate int) (*OpusWriter, error) {
	enc, err := opus.NewEncoder(sampleRate, 1, opus.AppVoIP)
	if err != nil {
		return nil, fmt.Errorf("create Opus encoder: %w", err)
	}

	w := &OpusWriter{
		out:       out,
		ogg:       ogg.NewWriter(out, rand.Uint32()),
		enc:       enc,
		frameSize: sampleRate * opusFrameDuration / 1000,
		granule:   opusPreSkip,
		packet:    make([]byte, opusMaxPacketSize),
	}
	if err := w.ogg.WritePacket(opusHead(sampleRate), 0, true); err != nil {
		return nil, err
	}
	if err := w.ogg.WritePacket(opusTags("fluent"), 0, true); err != nil {
		return nil, err
	}
	return w, nil
}

// Write encodes samples in 20 ms frames, buffering any remainder.
func (w *OpusWriter) Write(samples []float32) error {
	w.pending = append(w.pending, samples...)
	for len(w.pending) >= w.frameSize {
		if err := w.encode(w.pending[:w.frameSize]); err != nil {
			return err
		}
		w.pending = w.pending[w.frameSize:]
	}
	return nil
}

// Close pads the last frame with silence, ends the stream and closes the
// underlying writer.
func (w *OpusWriter) Close() error {
	var err error
	if len(w.pending) > 0 {
		frame := make([]float32, w.frameSize)
		copy(frame, w.pending)
		w.pending = nil
		err = w.encode(frame)
	}
	return errors.Join(err, w.ogg.Close(), w.out.Close())
}

func (w *OpusWriter) encode(frame []float32) error {
	n, err := w.enc.EncodeFloat32(frame, w.packet)
	if err != nil {
		return fmt.Errorf("encode Opus: %w", err)
	}
	// Granule positions count 48 kHz samples, pre-skip included.
	w.granule += opusSampleRate * opusFrameDuration / 1000
	return w.ogg.WritePacket(w.packet[:n], w.granule, false)
}

func opusHead(sampleRate int) []byte {
	head := make([]byte, 19)
	copy(head, "OpusHead")
	head[8] = 1 // version
	head[9] = 1 // channels
	binary.LittleEndian.PutUint16(head[10:12], opusPreSkip)
	binary.LittleEndian.PutUint32(head[12:16], uint32(sampleRate))
	binary.LittleEndian.PutUint16(head[16:18], 0)
	head[18] = 0 // mapping family
	return head
}

func opusTags(vendor string) []byte {
	tags := make([]byte, 0, 16+len(vendor))
	tags = append(tags, "OpusTags"...)
	tags = binary.LittleEndian.AppendUint32(tags, uint32(len(vendor)))
	tags = append(tags, vendor...)
	tags = binary.LittleEndian.AppendUint32(tags, 0)
	return tags
}

// RecordingMicrophone saves everything read from Microphone to an Ogg Opus
// file at Path, so an answer can be replayed later with FileMicrophone.
type RecordingMicrophone struct {
	Microphone Microphone
	Path       string
}

func (m RecordingMicrophone) Open(ctx context.Context, c Constraints) (Source, error) {
	src, err := m.Microphone.Open(ctx, c)
	if err != nil {
		return nil, err
	}
	rate := c.SampleRate
	if rate == 0 {
		rate = SampleRate
	}
	w, err := CreateOpus(m.Path, rate)
	if err != nil {
		src.Close()
		return nil, fmt.Errorf("create recording: %w", err)
	}
	return &recordingSource{src: src, w: w}, nil
}

type recordingSource struct {
	src    Source
	mu     sync.Mutex
	w      *OpusWriter
	closed bool
}

func (s *recordingSource) Read(samples []float32) (int, error) {
	n, err := s.src.Read(samples)
	if n > 0 {
		s.mu.Lock()
		if !s.closed {
			if werr := s.w.Write(samples[:n]); werr != nil && err == nil {
				err = werr
			}
		}
		s.mu.Unlock()
	}
	return n, err
}

func (s *recordingSource) Close() error {
	srcErr := s.src.Close()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return srcErr
	}
	s.closed = true
	return errors.Join(srcErr, s.w.Close())
}
