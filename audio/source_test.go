package audio

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"math"
	"os"
	"path/filepath"
	"testing"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

func rawFloats(samples ...float32) []byte {
	var buf bytes.Buffer
	for _, s := range samples {
		binary.Write(&buf, binary.LittleEndian, math.Float32bits(s))
	}
	return buf.Bytes()
}

func readAll(t *testing.T, src Source) []float32 {
	t.Helper()
	var out []float32
	buf := make([]float32, 3)
	for {
		n, err := src.Read(buf)
		out = append(out, buf[:n]...)
		if errors.Is(err, io.EOF) {
			return out
		}
		if err != nil {
			t.Fatalf("Read() error = %v", err)
		}
	}
}

func TestRawSource(t *testing.T) {
	data := rawFloats(0.25, -0.5, 1, 0, 0.75)
	src := RawSource(io.NopCloser(bytes.NewReader(data)))

	got := readAll(t, src)
	expected := []float32{0.25, -0.5, 1, 0, 0.75}
	if len(got) != len(expected) {
		t.Fatalf("expected %d samples, got %d", len(expected), len(got))
	}
	for i := range expected {
		if got[i] != expected[i] {
			t.Errorf("sample %d: expected %f, got %f", i, expected[i], got[i])
		}
	}
}

func TestRawSource_TruncatedSample(t *testing.T) {
	data := append(rawFloats(0.5), 0x01, 0x02)
	src := RawSource(io.NopCloser(bytes.NewReader(data)))

	got := readAll(t, src)
	if len(got) != 1 || got[0] != 0.5 {
		t.Errorf("expected a single sample 0.5, got %v", got)
	}
}

func writeWAV(t *testing.T, path string, rate, channels int, data []int) {
	t.Helper()
	writeWAVDepth(t, path, rate, channels, 16, data)
}

func writeWAVDepth(t *testing.T, path string, rate, channels, bitDepth int, data []int) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	enc := wav.NewEncoder(f, rate, bitDepth, channels, 1)
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: channels, SampleRate: rate},
		Data:           data,
		SourceBitDepth: bitDepth,
	}
	if err := enc.Write(buf); err != nil {
		t.Fatal(err)
	}
	if err := enc.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestOpenWAV(t *testing.T) {
	t.Run("Mono 16k", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "answer.wav")
		writeWAV(t, path, 16000, 1, []int{0, 16384, -16384, 32767})

		src, err := OpenWAV(path, 16000)
		if err != nil {
			t.Fatalf("OpenWAV() error = %v", err)
		}
		defer src.Close()

		got := readAll(t, src)
		if len(got) != 4 {
			t.Fatalf("expected 4 samples, got %d", len(got))
		}
		if math.Abs(float64(got[1]-0.5)) > 0.001 || math.Abs(float64(got[2]+0.5)) > 0.001 {
			t.Errorf("unexpected samples %v", got)
		}
	})

	t.Run("Unsigned 8-bit", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "8bit.wav")
		writeWAVDepth(t, path, 16000, 1, 8, []int{128, 192, 64, 0})

		src, err := OpenWAV(path, 16000)
		if err != nil {
			t.Fatalf("OpenWAV() error = %v", err)
		}
		defer src.Close()

		got := readAll(t, src)
		expected := []float32{0, 0.5, -0.5, -1}
		if len(got) != len(expected) {
			t.Fatalf("expected %d samples, got %d", len(expected), len(got))
		}
		for i := range expected {
			if math.Abs(float64(got[i]-expected[i])) > 0.001 {
				t.Errorf("sample %d = %v, want %v", i, got[i], expected[i])
			}
		}
	})

	t.Run("Stereo 32k", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "stereo.wav")
		data := make([]int, 3200*2)
		writeWAV(t, path, 32000, 2, data)

		src, err := OpenWAV(path, 16000)
		if err != nil {
			t.Fatalf("OpenWAV() error = %v", err)
		}
		if got := readAll(t, src); len(got) != 1600 {
			t.Errorf("expected 1600 samples after downmix and resample, got %d", len(got))
		}
	})

	t.Run("Not a WAV", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.wav")
		os.WriteFile(path, []byte("definitely not riff"), 0o644)
		if _, err := OpenWAV(path, 16000); !errors.Is(err, ErrUnsupportedFile) {
			t.Errorf("expected ErrUnsupportedFile, got %v", err)
		}
	})
}

func TestOpusChannels(t *testing.T) {
	head := append([]byte("OggS\x00\x02xxxxxxxxxxxxxxxxxxxxxx"), []byte("OpusHead\x01\x02\x38\x01")...)
	channels, err := opusChannels(bytes.NewReader(head))
	if err != nil {
		t.Fatalf("opusChannels() error = %v", err)
	}
	if channels != 2 {
		t.Errorf("expected 2 channels, got %d", channels)
	}

	if _, err := opusChannels(bytes.NewReader([]byte("OggS"))); !errors.Is(err, ErrUnsupportedFile) {
		t.Errorf("expected ErrUnsupportedFile, got %v", err)
	}
}

func TestFileMicrophone(t *testing.T) {
	dir := t.TempDir()

	t.Run("Raw file", func(t *testing.T) {
		path := filepath.Join(dir, "answer.f32")
		os.WriteFile(path, rawFloats(0.1, 0.2), 0o644)

		src, err := FileMicrophone{Path: path}.Open(context.Background(), DefaultConstraints())
		if err != nil {
			t.Fatalf("Open() error = %v", err)
		}
		defer src.Close()
		if got := readAll(t, src); len(got) != 2 {
			t.Errorf("expected 2 samples, got %d", len(got))
		}
	})

	t.Run("Unsupported extension", func(t *testing.T) {
		_, err := FileMicrophone{Path: filepath.Join(dir, "answer.mp3")}.Open(context.Background(), Constraints{})
		if !errors.Is(err, ErrUnsupportedFile) {
			t.Errorf("expected ErrUnsupportedFile, got %v", err)
		}
	})

	t.Run("Missing file", func(t *testing.T) {
		_, err := FileMicrophone{Path: filepath.Join(dir, "missing.wav")}.Open(context.Background(), Constraints{})
		if !errors.Is(err, os.ErrNotExist) {
			t.Errorf("expected not-exist error, got %v", err)
		}
	})
}

func TestReaderMicrophone(t *testing.T) {
	mic := NewReaderMicrophone(io.NopCloser(bytes.NewReader(rawFloats(0.5))))

	src, err := mic.Open(context.Background(), DefaultConstraints())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	src.Close()

	if _, err := mic.Open(context.Background(), DefaultConstraints()); err == nil {
		t.Error("expected second Open to fail")
	}
}

func TestCommandMicrophoneArgs(t *testing.T) {
	mic := DefaultCommandMicrophone()
	mic.NoiseSuppressionArgs = []string{"--ns"}

	args := mic.args(DefaultConstraints())
	expected := []string{"-q", "-t", "raw", "-f", "FLOAT_LE", "-r", "16000", "-c", "1", "--ns"}
	if len(args) != len(expected) {
		t.Fatalf("args = %v, want %v", args, expected)
	}
	for i := range expected {
		if args[i] != expected[i] {
			t.Errorf("arg %d = %q, want %q", i, args[i], expected[i])
		}
	}
}

func TestCommandMicrophoneMissingBinary(t *testing.T) {
	mic := &CommandMicrophone{Name: "definitely-not-a-recorder-binary"}
	if _, err := mic.Open(context.Background(), DefaultConstraints()); err == nil {
		t.Error("expected error for missing capture command")
	}
}
