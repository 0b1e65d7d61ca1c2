package audio

import (
	"fmt"
	"os"

	"github.com/go-audio/wav"
)

// OpenWAV decodes a PCM WAV file and converts it to mono at sampleRate.
func OpenWAV(path string, sampleRate int) (Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	d := wav.NewDecoder(f)
	if !d.IsValidFile() {
		return nil, fmt.Errorf("%w: %s is not a valid WAV file", ErrUnsupportedFile, path)
	}

	buf, err := d.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("decode WAV: %w", err)
	}

	bitDepth := buf.SourceBitDepth
	if bitDepth == 0 {
		bitDepth = int(d.BitDepth)
	}
	if bitDepth <= 0 || bitDepth > 32 {
		return nil, fmt.Errorf("%w: bit depth %d", ErrUnsupportedFile, bitDepth)
	}

	// 8-bit PCM is unsigned with silence at 128.
	offset := 0
	if bitDepth == 8 {
		offset = 128
	}
	scale := float32(int64(1) << (bitDepth - 1))
	samples := make([]float32, len(buf.Data))
	for i, v := range buf.Data {
		samples[i] = float32(v-offset) / scale
	}

	channels := int(d.NumChans)
	if buf.Format != nil && buf.Format.NumChannels > 0 {
		channels = buf.Format.NumChannels
	}
	samples = Downmix(samples, channels)
	samples = Resample(samples, int(d.SampleRate), sampleRate)

	return &bufferSource{samples: samples}, nil
}
