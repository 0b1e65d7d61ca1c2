package tui

import (
	tea "github.com/charmbracelet/bubbletea"

	"fluent.town/session"
)

type (
	chunksMsg    []session.Chunk
	listeningMsg bool
	partialMsg   string
	errorMsg     struct{ err error }
	startedMsg   struct{ err error }
	evaluatedMsg struct {
		markdown string
		err      error
	}
)

// Events carries session callbacks into the bubbletea program.
type Events struct {
	ch   chan tea.Msg
	done chan struct{}
}

func NewEvents() *Events {
	return &Events{
		ch:   make(chan tea.Msg, 64),
		done: make(chan struct{}),
	}
}

// Callbacks returns session callbacks that forward to the program. Partial
// results are dropped when the program lags behind; everything else waits
// until the program reads it or Close is called.
func (e *Events) Callbacks() session.Callbacks {
	return session.Callbacks{
		OnChunks:    func(chunks []session.Chunk) { e.send(chunksMsg(chunks)) },
		OnListening: func(listening bool) { e.send(listeningMsg(listening)) },
		OnPartial: func(text string) {
			select {
			case e.ch <- partialMsg(text):
			default:
			}
		},
		OnError: func(err error) { e.send(errorMsg{err: err}) },
	}
}

func (e *Events) send(msg tea.Msg) {
	select {
	case e.ch <- msg:
	case <-e.done:
	}
}

// Close releases any callback blocked on a program that has exited.
func (e *Events) Close() {
	select {
	case <-e.done:
	default:
		close(e.done)
	}
}

func (e *Events) wait() tea.Cmd {
	return func() tea.Msg {
		select {
		case msg := <-e.ch:
			return msg
		case <-e.done:
			return nil
		}
	}
}
