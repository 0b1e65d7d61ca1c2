package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"fluent.town/audio"
	"fluent.town/speechmatics"
)

type Deps struct {
	Microphone  audio.Microphone
	Constraints audio.Constraints
	Tokens      TokenSource
	Connector   Connector
	Logger      *log.Logger
}

// Session records and transcribes one spoken answer at a time. The zero
// value is not usable; construct it with New.
type Session struct {
	deps   Deps
	cb     Callbacks
	logger *log.Logger

	// emitMu orders callbacks; it is always taken before mu.
	emitMu sync.Mutex
	mu     sync.Mutex

	starting    bool
	cancelStart context.CancelFunc
	run         *run
	transcript  string
	chunks      []Chunk
}

// run holds the resources of one active recording. They are acquired
// together in StartListening and released together by shutdown.
type run struct {
	capture     *audio.Capture
	transcriber Transcriber
	sendErrors  atomic.Int64
	once        sync.Once
}

func New(deps Deps, cb Callbacks) *Session {
	if deps.Constraints.SampleRate == 0 {
		deps.Constraints = audio.DefaultConstraints()
	}
	logger := deps.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Session{
		deps:   deps,
		cb:     cb,
		logger: logger.With("component", "session"),
	}
}

// StartListening acquires the microphone and a transcription credential in
// parallel, opens the transcription session and starts forwarding audio.
// On any failure everything acquired so far is released and the session
// stays idle.
func (s *Session) StartListening(ctx context.Context) (err error) {
	s.mu.Lock()
	if s.run != nil || s.starting {
		s.mu.Unlock()
		return ErrAlreadyListening
	}
	ctx, cancel := context.WithCancel(ctx)
	s.starting = true
	s.cancelStart = cancel
	s.mu.Unlock()

	defer func() {
		cancel()
		if err != nil {
			s.mu.Lock()
			s.starting = false
			s.cancelStart = nil
			s.mu.Unlock()
			s.fail("Failed to start listening", err)
		}
	}()

	var (
		token string
		src   audio.Source
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		t, err := s.deps.Tokens.Token(gctx)
		if err != nil {
			return fmt.Errorf("issue transcription token: %w", err)
		}
		if t == "" {
			return ErrMissingToken
		}
		token = t
		return nil
	})
	g.Go(func() error {
		var err error
		src, err = s.deps.Microphone.Open(gctx, s.deps.Constraints)
		if err != nil {
			return fmt.Errorf("open microphone: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		if src != nil {
			src.Close()
		}
		return err
	}

	transcriber, err := s.deps.Connector.Connect(ctx, token)
	if err != nil {
		src.Close()
		return fmt.Errorf("open transcription session: %w", err)
	}

	r := &run{
		capture:     audio.NewCapture(src, s.logger),
		transcriber: transcriber,
	}

	s.emitMu.Lock()
	s.mu.Lock()
	if ctx.Err() != nil {
		s.mu.Unlock()
		s.emitMu.Unlock()
		r.shutdown(false, s.logger)
		return ctx.Err()
	}
	s.starting = false
	s.cancelStart = nil
	s.run = r
	s.transcript = ""
	s.chunks = nil
	s.mu.Unlock()
	s.emitListening(true)
	s.emitChunks(nil)
	s.emitTranscript("")
	s.emitMu.Unlock()

	s.logger.Info("Listening started")

	go s.readEvents(r)
	r.capture.Start(func(frame []byte) {
		if err := r.transcriber.SendAudio(frame); err != nil {
			if r.sendErrors.Add(1) == 1 {
				s.logger.Warn("Failed to send audio", "error", err)
			}
		}
	})
	go s.watchCapture(r)

	return nil
}

// StopListening ends the current recording. It does not wait for the
// service to acknowledge the end of the stream. Calling it while idle is a
// no-op.
func (s *Session) StopListening() {
	s.emitMu.Lock()
	s.mu.Lock()
	if s.starting && s.cancelStart != nil {
		s.cancelStart()
	}
	r := s.run
	s.run = nil
	s.mu.Unlock()
	defer s.emitMu.Unlock()
	if r == nil {
		return
	}

	s.logger.Info("Listening stopped", "sendErrors", r.sendErrors.Load())
	r.shutdown(true, s.logger)
	s.emitListening(false)
}

// HandleRestart stops listening and discards the transcript and chunks. It
// does not start a new recording.
func (s *Session) HandleRestart() {
	s.StopListening()

	s.emitMu.Lock()
	defer s.emitMu.Unlock()
	s.mu.Lock()
	s.transcript = ""
	s.chunks = nil
	s.mu.Unlock()
	s.emitChunks(nil)
	s.emitTranscript("")
}

// Close releases everything the session holds and clears its state.
func (s *Session) Close() error {
	s.HandleRestart()
	return nil
}

func (s *Session) IsListening() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.run != nil
}

func (s *Session) Transcript() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transcript
}

func (s *Session) Chunks() []Chunk {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Chunk(nil), s.chunks...)
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return State{
		Listening:  s.run != nil,
		Transcript: s.transcript,
		Chunks:     append([]Chunk{}, s.chunks...),
	}
}

func (s *Session) readEvents(r *run) {
	for ev := range r.transcriber.Events() {
		s.handleEvent(r, ev)
	}
	if s.release(r) {
		s.logger.Warn("Transcription connection closed unexpectedly")
	}
}

func (s *Session) handleEvent(r *run, ev speechmatics.Event) {
	switch e := ev.(type) {
	case speechmatics.FinalTranscript:
		s.appendChunk(r, Chunk{
			Text:      e.Text(),
			StartTime: e.Metadata.StartTime,
			EndTime:   e.Metadata.EndTime,
		})
	case speechmatics.PartialTranscript:
		s.emitMu.Lock()
		if s.current(r) {
			s.emitPartial(e.Text())
		}
		s.emitMu.Unlock()
	case speechmatics.EndOfTranscript:
		if s.release(r) {
			s.logger.Info("Transcription finished")
		}
	case speechmatics.Error:
		if !s.current(r) {
			return
		}
		s.logger.Error("Transcription service error", "type", e.Type, "reason", e.Reason)
		s.emitMu.Lock()
		s.emitError(e)
		s.emitMu.Unlock()
		s.release(r)
	case speechmatics.Warning:
		s.logger.Warn("Transcription service warning", "type", e.Type, "reason", e.Reason)
	case speechmatics.Info:
		s.logger.Debug("Transcription service info", "type", e.Type, "reason", e.Reason)
	case speechmatics.RecognitionStarted:
		s.logger.Debug("Recognition started", "id", e.ID)
	case speechmatics.AudioAdded:
	}
}

func (s *Session) appendChunk(r *run, chunk Chunk) {
	if chunk.Text == "" {
		return
	}

	s.emitMu.Lock()
	defer s.emitMu.Unlock()

	s.mu.Lock()
	if s.run != r {
		s.mu.Unlock()
		return
	}
	s.chunks = append(s.chunks, chunk)
	if s.transcript == "" {
		s.transcript = chunk.Text
	} else {
		s.transcript += " " + chunk.Text
	}
	chunks := append([]Chunk(nil), s.chunks...)
	transcript := s.transcript
	s.mu.Unlock()

	s.emitChunks(chunks)
	s.emitTranscript(transcript)
}

// watchCapture ends the audio stream once the source runs dry, so the
// service flushes its last transcript and replies with EndOfTranscript.
func (s *Session) watchCapture(r *run) {
	<-r.capture.Done()
	if !s.current(r) {
		return
	}
	if err := r.capture.Err(); err != nil {
		s.logger.Error("Audio capture failed", "error", err)
	}
	if err := r.transcriber.EndOfStream(); err != nil {
		s.logger.Warn("Failed to end audio stream", "error", err)
	}
}

func (s *Session) current(r *run) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.run == r
}

// release detaches r if it is still the active recording and frees its
// resources before observers see listening=false. It reports whether r was
// active.
func (s *Session) release(r *run) bool {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()
	s.mu.Lock()
	if s.run != r {
		s.mu.Unlock()
		return false
	}
	s.run = nil
	s.mu.Unlock()

	r.shutdown(false, s.logger)
	s.emitListening(false)
	return true
}

func (s *Session) fail(msg string, err error) {
	if errors.Is(err, context.Canceled) {
		s.logger.Info("Start cancelled")
		return
	}
	s.logger.Error(msg, "error", err)
	s.emitMu.Lock()
	s.emitError(err)
	s.emitMu.Unlock()
}

func (r *run) shutdown(endStream bool, logger *log.Logger) {
	r.once.Do(func() {
		if err := r.capture.Close(); err != nil {
			logger.Debug("Failed to close audio source", "error", err)
		}
		if endStream {
			if err := r.transcriber.EndOfStream(); err != nil {
				logger.Debug("Failed to send end of stream", "error", err)
			}
		}
		if err := r.transcriber.Close(); err != nil {
			logger.Debug("Failed to close transcription session", "error", err)
		}
	})
}

func (s *Session) emitListening(listening bool) {
	if s.cb.OnListening != nil {
		s.cb.OnListening(listening)
	}
}

func (s *Session) emitChunks(chunks []Chunk) {
	if s.cb.OnChunks != nil {
		s.cb.OnChunks(chunks)
	}
}

func (s *Session) emitTranscript(transcript string) {
	if s.cb.OnTranscript != nil {
		s.cb.OnTranscript(transcript)
	}
}

func (s *Session) emitPartial(text string) {
	if s.cb.OnPartial != nil {
		s.cb.OnPartial(text)
	}
}

func (s *Session) emitError(err error) {
	if s.cb.OnError != nil {
		s.cb.OnError(err)
	}
}
