package audio

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/hraban/opus.v2"
)

const opusSampleRate = 48000

// OpenOpus decodes an Ogg/Opus file and converts it to mono at sampleRate.
func OpenOpus(path string, sampleRate int) (Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	channels, err := opusChannels(f)
	if err != nil {
		return nil, err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}

	stream, err := opus.NewStream(f)
	if err != nil {
		return nil, fmt.Errorf("open Opus stream: %w", err)
	}
	defer stream.Close()

	var decoded []float32
	pcm := make([]float32, 5760*channels)
	for {
		n, err := stream.ReadFloat32(pcm)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("decode Opus: %w", err)
		}
		decoded = append(decoded, pcm[:n*channels]...)
	}

	samples := Resample(Downmix(decoded, channels), opusSampleRate, sampleRate)
	return &bufferSource{samples: samples}, nil
}

// opusChannels reads the channel count from the OpusHead packet on the first
// Ogg page.
func opusChannels(r io.Reader) (int, error) {
	head := make([]byte, 512)
	n, err := io.ReadFull(r, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		return 0, fmt.Errorf("read Ogg header: %w", err)
	}
	head = head[:n]

	idx := bytes.Index(head, []byte("OpusHead"))
	if idx < 0 || idx+9 >= len(head) {
		return 0, fmt.Errorf("%w: no OpusHead packet", ErrUnsupportedFile)
	}
	channels := int(head[idx+9])
	if channels == 0 {
		return 0, fmt.Errorf("%w: zero channels", ErrUnsupportedFile)
	}
	return channels, nil
}
