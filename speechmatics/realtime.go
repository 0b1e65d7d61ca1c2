package speechmatics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"
)

const writeTimeout = 10 * time.Second

var ErrSessionClosed = errors.New("speechmatics: session closed")

// RealtimeSession is one open real-time recognition websocket. Audio and
// control messages may be sent from any goroutine.
type RealtimeSession struct {
	conn    *websocket.Conn
	logger  *log.Logger
	writeMu sync.Mutex
	seqNo   int

	events    chan Event
	done      chan struct{}
	closed    atomic.Bool
	closeOnce sync.Once
}

// Dial opens a real-time session authorized with a temporary key and sends
// the StartRecognition message.
func (c *Client) Dial(ctx context.Context, key string, start StartRecognition) (*RealtimeSession, error) {
	if key == "" {
		return nil, ErrMissingCredential
	}
	if start.Message == "" {
		start.Message = "StartRecognition"
	}

	header := http.Header{}
	header.Set("Authorization", fmt.Sprintf("Bearer %s", key))

	url := fmt.Sprintf("%s/%s", strings.TrimRight(c.RealtimeURL, "/"), start.TranscriptionConfig.Language)
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to WebSocket: %w", err)
	}

	s := &RealtimeSession{
		conn:   conn,
		logger: log.Default().With("component", "speechmatics"),
		events: make(chan Event, 64),
		done:   make(chan struct{}),
	}

	if err := s.writeJSON(start); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to send StartRecognition message: %w", err)
	}

	go s.keepAlive()
	go s.readLoop()

	return s, nil
}

// Events delivers server messages in arrival order. The channel is closed
// when the connection ends.
func (s *RealtimeSession) Events() <-chan Event {
	return s.events
}

func (s *RealtimeSession) SendAudio(data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.closed.Load() {
		return ErrSessionClosed
	}
	s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := s.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
		return fmt.Errorf("failed to send audio data: %w", err)
	}
	s.seqNo++
	return nil
}

// EndOfStream tells the service no more audio follows. It does not wait for
// the EndOfTranscript reply.
func (s *RealtimeSession) EndOfStream() error {
	s.writeMu.Lock()
	seqNo := s.seqNo
	s.writeMu.Unlock()

	if err := s.writeJSON(EndOfStreamMessage{Message: "EndOfStream", LastSeqNo: seqNo}); err != nil {
		return fmt.Errorf("failed to send EndOfStream message: %w", err)
	}
	return nil
}

// SeqNo is the number of audio frames sent so far.
func (s *RealtimeSession) SeqNo() int {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.seqNo
}

func (s *RealtimeSession) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		close(s.done)

		s.writeMu.Lock()
		_ = s.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		s.writeMu.Unlock()

		err = s.conn.Close()
	})
	if err != nil {
		return fmt.Errorf("failed to close WebSocket connection: %w", err)
	}
	return nil
}

func (s *RealtimeSession) writeJSON(v any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.closed.Load() {
		return ErrSessionClosed
	}
	s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return s.conn.WriteJSON(v)
}

func (s *RealtimeSession) keepAlive() {
	ticker := time.NewTicker(PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			if err := s.conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(PongTimeout)); err != nil {
				s.logger.Error("Failed to send ping", "error", err)
				return
			}
		}
	}
}

func (s *RealtimeSession) readLoop() {
	defer close(s.events)

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if s.closed.Load() {
				return
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.emit(Error{Type: "transport", Reason: err.Error()})
			}
			return
		}

		ev, err := DecodeEvent(data)
		if err != nil {
			s.logger.Warn("Dropping undecodable message", "error", err)
			continue
		}
		if ev == nil {
			s.logger.Debug("Ignoring message", "raw", string(data))
			continue
		}
		if !s.emit(ev) {
			return
		}
	}
}

func (s *RealtimeSession) emit(ev Event) bool {
	select {
	case s.events <- ev:
		return true
	case <-s.done:
		return false
	}
}
