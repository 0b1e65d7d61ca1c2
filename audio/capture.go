package audio

import (
	"errors"
	"io"
	"sync"

	"github.com/charmbracelet/log"
)

// Capture owns an open Source and the goroutine that turns it into PCM
// frames. Close releases both; no frame reaches the sink after Close returns.
type Capture struct {
	src       Source
	blockSize int
	logger    *log.Logger

	mu      sync.Mutex
	stopped bool
	started bool
	err     error

	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

func NewCapture(src Source, logger *log.Logger) *Capture {
	if logger == nil {
		logger = log.Default()
	}
	return &Capture{
		src:       src,
		blockSize: BlockSize,
		logger:    logger,
		done:      make(chan struct{}),
	}
}

// Start pumps BlockSize blocks from the source into sink until the source
// ends or the capture is closed. sink must not block for long; frames are
// not queued.
func (c *Capture) Start(sink func(frame []byte)) {
	c.mu.Lock()
	if c.started || c.stopped {
		c.mu.Unlock()
		return
	}
	c.started = true
	c.mu.Unlock()

	go c.pump(sink)
}

func (c *Capture) pump(sink func(frame []byte)) {
	defer close(c.done)

	buf := make([]float32, c.blockSize)
	frames := 0
	for {
		n, err := c.src.Read(buf)
		if n > 0 {
			frame := EncodePCM16LE(buf[:n])
			c.mu.Lock()
			if c.stopped {
				c.mu.Unlock()
				return
			}
			sink(frame)
			c.mu.Unlock()
			frames++
		}
		if err != nil {
			c.mu.Lock()
			stopped := c.stopped
			if !errors.Is(err, io.EOF) && !stopped {
				c.err = err
			}
			c.mu.Unlock()
			if !stopped {
				c.logger.Debug("Capture ended", "frames", frames, "error", err)
			}
			return
		}
	}
}

// Done is closed when the pump goroutine exits.
func (c *Capture) Done() <-chan struct{} {
	return c.done
}

// Err reports a read failure other than end of stream.
func (c *Capture) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *Capture) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.stopped = true
		started := c.started
		c.mu.Unlock()

		c.closeErr = c.src.Close()
		if !started {
			close(c.done)
		}
	})
	return c.closeErr
}
