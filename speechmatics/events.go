package speechmatics

import (
	"encoding/json"
	"fmt"
)

// Event is one message received from a real-time session. The concrete type
// is one of the types in this file; switch on it to handle each kind.
type Event interface {
	event()
}

type Alternative struct {
	Content    string  `json:"content"`
	Confidence float64 `json:"confidence"`
	Language   string  `json:"language,omitempty"`
}

type Result struct {
	Type         string        `json:"type"`
	StartTime    float64       `json:"start_time"`
	EndTime      float64       `json:"end_time"`
	IsEOS        bool          `json:"is_eos,omitempty"`
	AttachesTo   string        `json:"attaches_to,omitempty"`
	Alternatives []Alternative `json:"alternatives"`
}

type Metadata struct {
	StartTime  float64 `json:"start_time"`
	EndTime    float64 `json:"end_time"`
	Transcript string  `json:"transcript"`
}

type RecognitionStarted struct {
	ID string `json:"id"`
}

type AudioAdded struct {
	SeqNo int `json:"seq_no"`
}

type PartialTranscript struct {
	Metadata Metadata `json:"metadata"`
	Results  []Result `json:"results"`
}

type FinalTranscript struct {
	Metadata Metadata `json:"metadata"`
	Results  []Result `json:"results"`
}

type EndOfTranscript struct{}

type Info struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
}

type Warning struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
}

type Error struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
}

func (e Error) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("speechmatics: %s", e.Type)
	}
	return fmt.Sprintf("speechmatics: %s: %s", e.Type, e.Reason)
}

func (RecognitionStarted) event() {}
func (AudioAdded) event()         {}
func (PartialTranscript) event()  {}
func (FinalTranscript) event()    {}
func (EndOfTranscript) event()    {}
func (Info) event()               {}
func (Warning) event()            {}
func (Error) event()              {}

// DecodeEvent parses a server message. Messages with an unknown tag return a
// nil event and a nil error.
func DecodeEvent(data []byte) (Event, error) {
	var envelope struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("decode message envelope: %w", err)
	}

	var ev Event
	switch envelope.Message {
	case "RecognitionStarted":
		ev = &RecognitionStarted{}
	case "AudioAdded":
		ev = &AudioAdded{}
	case "AddPartialTranscript":
		ev = &PartialTranscript{}
	case "AddTranscript":
		ev = &FinalTranscript{}
	case "EndOfTranscript":
		return EndOfTranscript{}, nil
	case "Info":
		ev = &Info{}
	case "Warning":
		ev = &Warning{}
	case "Error":
		ev = &Error{}
	default:
		return nil, nil
	}

	if err := json.Unmarshal(data, ev); err != nil {
		return nil, fmt.Errorf("decode %s: %w", envelope.Message, err)
	}

	switch e := ev.(type) {
	case *RecognitionStarted:
		return *e, nil
	case *AudioAdded:
		return *e, nil
	case *PartialTranscript:
		return *e, nil
	case *FinalTranscript:
		return *e, nil
	case *Info:
		return *e, nil
	case *Warning:
		return *e, nil
	case *Error:
		return *e, nil
	}
	return ev, nil
}
