package audio

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
)

// CommandMicrophone captures audio by running an external recorder that
// writes raw float32 little endian samples to stdout. Arguments may contain
// the placeholders {rate} and {channels}.
type CommandMicrophone struct {
	Name                 string
	Args                 []string
	EchoCancellationArgs []string
	NoiseSuppressionArgs []string
	Logger               *log.Logger
}

func DefaultCommandMicrophone() *CommandMicrophone {
	return &CommandMicrophone{
		Name: "arecord",
		Args: []string{"-q", "-t", "raw", "-f", "FLOAT_LE", "-r", "{rate}", "-c", "{channels}"},
	}
}

func (m *CommandMicrophone) logger() *log.Logger {
	if m.Logger != nil {
		return m.Logger
	}
	return log.Default()
}

func (m *CommandMicrophone) args(c Constraints) []string {
	args := append([]string{}, m.Args...)
	if c.EchoCancellation {
		if len(m.EchoCancellationArgs) == 0 {
			m.logger().Debug("Echo cancellation not supported by capture command", "command", m.Name)
		}
		args = append(args, m.EchoCancellationArgs...)
	}
	if c.NoiseSuppression {
		if len(m.NoiseSuppressionArgs) == 0 {
			m.logger().Debug("Noise suppression not supported by capture command", "command", m.Name)
		}
		args = append(args, m.NoiseSuppressionArgs...)
	}

	replacer := strings.NewReplacer(
		"{rate}", strconv.Itoa(c.SampleRate),
		"{channels}", strconv.Itoa(c.Channels),
	)
	for i, arg := range args {
		args[i] = replacer.Replace(arg)
	}
	return args
}

// Open starts the recorder and waits for its first sample, so that a
// refused device is reported here rather than on the first Read.
func (m *CommandMicrophone) Open(ctx context.Context, c Constraints) (Source, error) {
	if c.SampleRate == 0 {
		c = DefaultConstraints()
	}
	path, err := exec.LookPath(m.Name)
	if err != nil {
		return nil, fmt.Errorf("find capture command %q: %w", m.Name, err)
	}

	cmd := exec.Command(path, m.args(c)...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("capture stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start capture command: %w", err)
	}

	src := &commandSource{cmd: cmd}
	reader := bufio.NewReaderSize(stdout, BlockSize*4)

	ready := make(chan error, 1)
	go func() {
		_, err := reader.Peek(4)
		ready <- err
	}()

	select {
	case err := <-ready:
		if err != nil {
			src.Close()
			msg := strings.TrimSpace(stderr.String())
			if strings.Contains(strings.ToLower(msg), "permission denied") {
				return nil, fmt.Errorf("%w: %s", ErrPermissionDenied, msg)
			}
			return nil, fmt.Errorf("capture command produced no audio: %v: %s", err, msg)
		}
	case <-ctx.Done():
		src.Close()
		return nil, ctx.Err()
	}

	src.Source = RawSource(io.NopCloser(reader))
	m.logger().Debug("Microphone open", "command", m.Name, "rate", c.SampleRate, "channels", c.Channels)
	return src, nil
}

type commandSource struct {
	Source
	cmd  *exec.Cmd
	once sync.Once
}

func (s *commandSource) Close() error {
	s.once.Do(func() {
		if s.cmd.Process != nil {
			_ = s.cmd.Process.Kill()
		}
		_ = s.cmd.Wait()
	})
	return nil
}

// FileMicrophone replays a recorded answer through the capture pipeline.
// The format is chosen from the file extension.
type FileMicrophone struct {
	Path string
}

func (m FileMicrophone) Open(ctx context.Context, c Constraints) (Source, error) {
	if c.SampleRate == 0 {
		c = DefaultConstraints()
	}
	src, err := OpenFile(m.Path, c.SampleRate)
	if errors.Is(err, os.ErrPermission) {
		return nil, fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	}
	return src, err
}

// OpenFile decodes a .wav, .ogg/.opus or raw float32 (.raw, .f32) file into a
// mono Source at the given rate.
func OpenFile(path string, sampleRate int) (Source, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".wav":
		return OpenWAV(path, sampleRate)
	case ".ogg", ".opus":
		return OpenOpus(path, sampleRate)
	case ".raw", ".f32":
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		return RawSource(f), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFile, path)
	}
}

// ReaderMicrophone hands out a single raw float32 stream, typically stdin.
type ReaderMicrophone struct {
	mu sync.Mutex
	r  io.ReadCloser
}

func NewReaderMicrophone(r io.ReadCloser) *ReaderMicrophone {
	return &ReaderMicrophone{r: r}
}

func (m *ReaderMicrophone) Open(ctx context.Context, c Constraints) (Source, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.r == nil {
		return nil, errors.New("audio: reader already consumed")
	}
	r := m.r
	m.r = nil
	return RawSource(r), nil
}
