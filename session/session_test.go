package session

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"fluent.town/audio"
	"fluent.town/speechmatics"
)

type mockSource struct {
	mu      sync.Mutex
	closed  bool
	release chan struct{}
}

func newMockSource() *mockSource {
	return &mockSource{release: make(chan struct{})}
}

func (s *mockSource) Read(samples []float32) (int, error) {
	<-s.release
	return 0, io.EOF
}

func (s *mockSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.release)
	}
	return nil
}

func (s *mockSource) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

type mockMicrophone struct {
	mu      sync.Mutex
	opened  int
	sources []*mockSource
	err     error
}

func (m *mockMicrophone) Open(ctx context.Context, c audio.Constraints) (audio.Source, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	m.opened++
	src := newMockSource()
	m.sources = append(m.sources, src)
	return src, nil
}

func (m *mockMicrophone) last() *mockSource {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sources[len(m.sources)-1]
}

type mockTokens struct {
	token string
	err   error
}

func (m mockTokens) Token(ctx context.Context) (string, error) {
	return m.token, m.err
}

type mockTranscriber struct {
	mu        sync.Mutex
	events    chan speechmatics.Event
	audio     [][]byte
	endStream int
	closed    bool
}

func newMockTranscriber() *mockTranscriber {
	return &mockTranscriber{events: make(chan speechmatics.Event, 16)}
}

func (m *mockTranscriber) SendAudio(pcm []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audio = append(m.audio, pcm)
	return nil
}

func (m *mockTranscriber) EndOfStream() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.endStream++
	return nil
}

func (m *mockTranscriber) Events() <-chan speechmatics.Event {
	return m.events
}

func (m *mockTranscriber) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *mockTranscriber) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

type mockConnector struct {
	mu           sync.Mutex
	transcribers []*mockTranscriber
	err          error
}

func (m *mockConnector) Connect(ctx context.Context, token string) (Transcriber, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	t := newMockTranscriber()
	m.transcribers = append(m.transcribers, t)
	return t, nil
}

func (m *mockConnector) last() *mockTranscriber {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transcribers[len(m.transcribers)-1]
}

func (m *mockConnector) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.transcribers)
}

type recorder struct {
	mu         sync.Mutex
	chunks     []Chunk
	listening  []bool
	transcript string
	partial    string
	errs       []error
}

func (r *recorder) callbacks() Callbacks {
	return Callbacks{
		OnChunks: func(chunks []Chunk) {
			r.mu.Lock()
			r.chunks = chunks
			r.mu.Unlock()
		},
		OnListening: func(listening bool) {
			r.mu.Lock()
			r.listening = append(r.listening, listening)
			r.mu.Unlock()
		},
		OnTranscript: func(transcript string) {
			r.mu.Lock()
			r.transcript = transcript
			r.mu.Unlock()
		},
		OnPartial: func(text string) {
			r.mu.Lock()
			r.partial = text
			r.mu.Unlock()
		},
		OnError: func(err error) {
			r.mu.Lock()
			r.errs = append(r.errs, err)
			r.mu.Unlock()
		},
	}
}

type fixture struct {
	mic       *mockMicrophone
	connector *mockConnector
	rec       *recorder
	session   *Session
}

func newFixture() *fixture {
	f := &fixture{
		mic:       &mockMicrophone{},
		connector: &mockConnector{},
		rec:       &recorder{},
	}
	f.session = New(Deps{
		Microphone: f.mic,
		Tokens:     mockTokens{token: "temp"},
		Connector:  f.connector,
	}, f.rec.callbacks())
	return f
}

func finalEvent(start, end float64, results ...speechmatics.Result) speechmatics.FinalTranscript {
	return speechmatics.FinalTranscript{
		Metadata: speechmatics.Metadata{StartTime: start, EndTime: end},
		Results:  results,
	}
}

func word(content string) speechmatics.Result {
	return speechmatics.Result{Type: "word", Alternatives: []speechmatics.Alternative{{Content: content}}}
}

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestEndToEnd(t *testing.T) {
	f := newFixture()
	if err := f.session.StartListening(context.Background()); err != nil {
		t.Fatalf("StartListening() error = %v", err)
	}
	if !f.session.IsListening() {
		t.Fatal("expected listening after start")
	}

	tr := f.connector.last()
	tr.events <- finalEvent(0.0, 0.5, word("Hello"))
	eventually(t, func() bool { return len(f.session.Chunks()) == 1 }, "first chunk not appended")

	chunks := f.session.Chunks()
	if chunks[0] != (Chunk{Text: "Hello", StartTime: 0.0, EndTime: 0.5}) {
		t.Errorf("unexpected chunk %+v", chunks[0])
	}
	if f.session.Transcript() != "Hello" {
		t.Errorf("Transcript() = %q, want %q", f.session.Transcript(), "Hello")
	}

	tr.events <- finalEvent(0.5, 1.0, word("world"))
	eventually(t, func() bool { return len(f.session.Chunks()) == 2 }, "second chunk not appended")
	if f.session.Transcript() != "Hello world" {
		t.Errorf("Transcript() = %q, want %q", f.session.Transcript(), "Hello world")
	}

	f.session.StopListening()
	if f.session.IsListening() {
		t.Error("expected not listening after stop")
	}
	if !tr.isClosed() {
		t.Error("expected transcription session to be closed")
	}
	if !f.mic.last().isClosed() {
		t.Error("expected microphone to be released")
	}
	if tr.endStream == 0 {
		t.Error("expected EndOfStream on stop")
	}

	tr.events <- finalEvent(1.0, 1.5, word("stray"))
	time.Sleep(50 * time.Millisecond)
	if n := len(f.session.Chunks()); n != 2 {
		t.Errorf("expected stray event to be ignored, have %d chunks", n)
	}

	f.rec.mu.Lock()
	defer f.rec.mu.Unlock()
	if f.rec.transcript != "Hello world" || len(f.rec.chunks) != 2 {
		t.Errorf("observer saw transcript %q and %d chunks", f.rec.transcript, len(f.rec.chunks))
	}
	if len(f.rec.listening) != 2 || !f.rec.listening[0] || f.rec.listening[1] {
		t.Errorf("unexpected listening notifications %v", f.rec.listening)
	}
}

func TestAppendOnly(t *testing.T) {
	f := newFixture()
	if err := f.session.StartListening(context.Background()); err != nil {
		t.Fatal(err)
	}
	tr := f.connector.last()

	events := []speechmatics.FinalTranscript{
		finalEvent(0, 1, word("One")),
		finalEvent(1, 2),
		finalEvent(2, 3, word("  ")),
		finalEvent(3, 4, word("Two"), speechmatics.Result{Type: "punctuation", Alternatives: []speechmatics.Alternative{{Content: "."}}}),
		finalEvent(4, 5, word("Three")),
	}
	for _, ev := range events {
		tr.events <- ev
	}
	tr.events <- speechmatics.Warning{Type: "marker"}
	eventually(t, func() bool { return len(f.session.Chunks()) == 3 }, "expected three chunks")

	first := f.session.Chunks()
	tr.events <- finalEvent(5, 6, word("Four"))
	eventually(t, func() bool { return len(f.session.Chunks()) == 4 }, "expected four chunks")

	after := f.session.Chunks()
	for i := range first {
		if after[i] != first[i] {
			t.Errorf("chunk %d changed from %+v to %+v", i, first[i], after[i])
		}
	}
	expected := []string{"One", "Two.", "Three", "Four"}
	for i, text := range expected {
		if after[i].Text != text {
			t.Errorf("chunk %d text = %q, want %q", i, after[i].Text, text)
		}
	}
	if f.session.Transcript() != "One Two. Three Four" {
		t.Errorf("Transcript() = %q", f.session.Transcript())
	}
}

func TestEmptyTextSuppressed(t *testing.T) {
	f := newFixture()
	if err := f.session.StartListening(context.Background()); err != nil {
		t.Fatal(err)
	}
	tr := f.connector.last()
	tr.events <- finalEvent(0, 1, word(" "))
	tr.events <- speechmatics.PartialTranscript{Results: []speechmatics.Result{word("marker")}}
	eventually(t, func() bool {
		f.rec.mu.Lock()
		defer f.rec.mu.Unlock()
		return f.rec.partial == "marker"
	}, "partial not delivered")

	if len(f.session.Chunks()) != 0 || f.session.Transcript() != "" {
		t.Errorf("expected no chunk, got %v / %q", f.session.Chunks(), f.session.Transcript())
	}
}

func TestIdempotentStop(t *testing.T) {
	f := newFixture()
	f.session.StopListening()
	f.session.StopListening()
	if f.session.IsListening() {
		t.Error("expected not listening")
	}

	if err := f.session.StartListening(context.Background()); err != nil {
		t.Fatal(err)
	}
	f.session.StopListening()
	f.session.StopListening()
	if f.session.IsListening() {
		t.Error("expected not listening")
	}
	if f.connector.last().endStream != 1 {
		t.Errorf("expected a single EndOfStream, got %d", f.connector.last().endStream)
	}
}

func TestRestartClearsState(t *testing.T) {
	f := newFixture()
	if err := f.session.StartListening(context.Background()); err != nil {
		t.Fatal(err)
	}
	f.connector.last().events <- finalEvent(0, 1, word("Hello"))
	eventually(t, func() bool { return len(f.session.Chunks()) == 1 }, "chunk not appended")

	f.session.HandleRestart()
	if f.session.Transcript() != "" || len(f.session.Chunks()) != 0 {
		t.Errorf("expected cleared state, got %q / %v", f.session.Transcript(), f.session.Chunks())
	}
	if f.session.IsListening() {
		t.Error("restart must not start a new recording")
	}
	if f.connector.count() != 1 {
		t.Errorf("expected no new connection, got %d", f.connector.count())
	}

	f.session.HandleRestart()
	if len(f.session.State().Chunks) != 0 {
		t.Error("expected empty chunks")
	}
}

func TestStartWhileListening(t *testing.T) {
	f := newFixture()
	if err := f.session.StartListening(context.Background()); err != nil {
		t.Fatal(err)
	}
	err := f.session.StartListening(context.Background())
	if !errors.Is(err, ErrAlreadyListening) {
		t.Errorf("expected ErrAlreadyListening, got %v", err)
	}
	if f.mic.opened != 1 || f.connector.count() != 1 {
		t.Errorf("expected one stream and one session, got %d and %d", f.mic.opened, f.connector.count())
	}
}

func TestStartFailures(t *testing.T) {
	t.Run("Microphone denied", func(t *testing.T) {
		f := newFixture()
		f.mic.err = audio.ErrPermissionDenied
		err := f.session.StartListening(context.Background())
		if !errors.Is(err, audio.ErrPermissionDenied) {
			t.Fatalf("expected ErrPermissionDenied, got %v", err)
		}
		if f.session.IsListening() || f.connector.count() != 0 {
			t.Error("expected no session after denial")
		}
		if len(f.rec.errs) != 1 {
			t.Errorf("expected OnError once, got %d", len(f.rec.errs))
		}
	})

	t.Run("Missing credential", func(t *testing.T) {
		f := newFixture()
		f.session.deps.Tokens = mockTokens{}
		err := f.session.StartListening(context.Background())
		if !errors.Is(err, ErrMissingToken) {
			t.Fatalf("expected ErrMissingToken, got %v", err)
		}
		if !f.mic.last().isClosed() {
			t.Error("expected microphone to be released")
		}
		if f.session.IsListening() {
			t.Error("expected not listening")
		}
	})

	t.Run("Token error", func(t *testing.T) {
		f := newFixture()
		f.session.deps.Tokens = mockTokens{err: errors.New("unauthorized")}
		if err := f.session.StartListening(context.Background()); err == nil {
			t.Fatal("expected error")
		}
		if f.session.IsListening() {
			t.Error("expected not listening")
		}
	})

	t.Run("Connect error", func(t *testing.T) {
		f := newFixture()
		f.connector.err = errors.New("dial failed")
		if err := f.session.StartListening(context.Background()); err == nil {
			t.Fatal("expected error")
		}
		if !f.mic.last().isClosed() {
			t.Error("expected microphone to be released")
		}
		if err := f.session.StartListening(context.Background()); err == nil {
			t.Fatal("expected error on retry while connector still fails")
		}
	})
}

func TestServiceErrorEndsSession(t *testing.T) {
	f := newFixture()
	if err := f.session.StartListening(context.Background()); err != nil {
		t.Fatal(err)
	}
	tr := f.connector.last()
	tr.events <- speechmatics.Error{Type: "quota_exceeded", Reason: "limit"}

	eventually(t, func() bool { return !f.session.IsListening() }, "expected session to end")
	if !tr.isClosed() || !f.mic.last().isClosed() {
		t.Error("expected resources released")
	}

	f.rec.mu.Lock()
	defer f.rec.mu.Unlock()
	if len(f.rec.errs) != 1 {
		t.Fatalf("expected one error, got %d", len(f.rec.errs))
	}
	var svcErr speechmatics.Error
	if !errors.As(f.rec.errs[0], &svcErr) || svcErr.Type != "quota_exceeded" {
		t.Errorf("unexpected error %v", f.rec.errs[0])
	}
}

func TestEndOfTranscriptEndsSession(t *testing.T) {
	f := newFixture()
	if err := f.session.StartListening(context.Background()); err != nil {
		t.Fatal(err)
	}
	tr := f.connector.last()
	tr.events <- finalEvent(0, 1, word("Done"))
	tr.events <- speechmatics.EndOfTranscript{}

	eventually(t, func() bool { return !f.session.IsListening() }, "expected session to end")
	if f.session.Transcript() != "Done" {
		t.Errorf("Transcript() = %q", f.session.Transcript())
	}

	if err := f.session.StartListening(context.Background()); err != nil {
		t.Fatalf("restart after end: %v", err)
	}
	if len(f.session.Chunks()) != 0 {
		t.Error("expected state reset on new start")
	}
}

func TestSourceEndSendsEndOfStream(t *testing.T) {
	f := newFixture()
	if err := f.session.StartListening(context.Background()); err != nil {
		t.Fatal(err)
	}
	tr := f.connector.last()
	f.mic.last().Close()

	eventually(t, func() bool {
		tr.mu.Lock()
		defer tr.mu.Unlock()
		return tr.endStream == 1
	}, "expected EndOfStream after source ended")
	if !f.session.IsListening() {
		t.Error("session should wait for EndOfTranscript")
	}
}

func TestConnectionLossEndsSession(t *testing.T) {
	f := newFixture()
	if err := f.session.StartListening(context.Background()); err != nil {
		t.Fatal(err)
	}
	close(f.connector.last().events)
	eventually(t, func() bool { return !f.session.IsListening() }, "expected session to end")
}

// gatedMicrophone reports when Open is called and blocks until ctx ends
// if block is set.
type gatedMicrophone struct {
	opened chan struct{}
	block  bool
}

func (m *gatedMicrophone) Open(ctx context.Context, c audio.Constraints) (audio.Source, error) {
	close(m.opened)
	if m.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return newMockSource(), nil
}

// gatedTokens only issues a token once the microphone has been opened.
type gatedTokens struct {
	opened <-chan struct{}
}

func (g gatedTokens) Token(ctx context.Context) (string, error) {
	select {
	case <-g.opened:
		return "temp", nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func TestParallelAcquisition(t *testing.T) {
	mic := &gatedMicrophone{opened: make(chan struct{})}
	connector := &mockConnector{}
	s := New(Deps{
		Microphone: mic,
		Tokens:     gatedTokens{opened: mic.opened},
		Connector:  connector,
	}, Callbacks{})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.StartListening(ctx); err != nil {
		t.Fatalf("StartListening() error = %v", err)
	}
	if !s.IsListening() {
		t.Error("expected listening once both resources are acquired")
	}
	s.StopListening()
}

func TestStopDuringStart(t *testing.T) {
	mic := &gatedMicrophone{opened: make(chan struct{}), block: true}
	connector := &mockConnector{}
	rec := &recorder{}
	s := New(Deps{
		Microphone: mic,
		Tokens:     mockTokens{token: "temp"},
		Connector:  connector,
	}, rec.callbacks())

	errc := make(chan error, 1)
	go func() { errc <- s.StartListening(context.Background()) }()

	<-mic.opened
	s.StopListening()

	select {
	case err := <-errc:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("StartListening() error = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("StartListening did not return after StopListening")
	}

	if s.IsListening() {
		t.Error("expected not listening")
	}
	if n := connector.count(); n != 0 {
		t.Errorf("expected no connections, got %d", n)
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.listening) != 0 || len(rec.errs) != 0 {
		t.Errorf("expected no notifications, got listening=%v errs=%v", rec.listening, rec.errs)
	}
}
