package session

import (
	"context"
	"errors"

	"fluent.town/speechmatics"
)

var (
	ErrAlreadyListening = errors.New("session: already listening")
	ErrMissingToken     = errors.New("session: transcription service returned no credential")
)

// Chunk is one finalized utterance with session-relative times in seconds.
type Chunk struct {
	Text      string  `json:"text"`
	StartTime float64 `json:"startTime"`
	EndTime   float64 `json:"endTime"`
}

// State is a snapshot of what the parent UI may display.
type State struct {
	Listening  bool    `json:"listening"`
	Transcript string  `json:"transcript"`
	Chunks     []Chunk `json:"chunks"`
}

// TokenSource issues the short-lived credential for one session.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Transcriber is an open streaming transcription session.
type Transcriber interface {
	SendAudio(pcm []byte) error
	EndOfStream() error
	Events() <-chan speechmatics.Event
	Close() error
}

// Connector opens a Transcriber configured for 16-bit PCM audio.
type Connector interface {
	Connect(ctx context.Context, token string) (Transcriber, error)
}

// Callbacks receive state changes. They are called one at a time, in the
// order the changes happened, and must not call StartListening,
// StopListening, HandleRestart or Close synchronously.
type Callbacks struct {
	OnChunks     func(chunks []Chunk)
	OnListening  func(listening bool)
	OnTranscript func(transcript string)
	OnPartial    func(text string)
	OnError      func(err error)
}
