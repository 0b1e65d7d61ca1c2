package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"fluent.town/evaluation"
	"fluent.town/session"
)

type Controller interface {
	StartListening(ctx context.Context) error
	StopListening()
	HandleRestart()
	State() session.State
}

// Submitter sends a finished answer for evaluation.
type Submitter func(ctx context.Context, chunks []session.Chunk) (*evaluation.Evaluation, error)

var (
	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFDF5")).
			Background(lipgloss.Color("#25A065")).
			Padding(0, 1)
	listeningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFDF5")).
			Background(lipgloss.Color("#E0443E")).
			Padding(0, 1)
	idleStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("240")).Padding(0, 1)
	timeStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#7D8CA3"))
	partialStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	errorStyle   = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#E0443E")).
			Padding(0, 1)
	helpStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

type Model struct {
	ctrl   Controller
	submit Submitter
	events *Events
	render func(markdown string, width int) string

	viewport viewport.Model
	spinner  spinner.Model
	ready    bool

	listening  bool
	starting   bool
	submitting bool
	chunks     []session.Chunk
	partial    string
	evaluation string
	err        error
}

func New(ctrl Controller, submit Submitter, events *Events) Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	return Model{
		ctrl:    ctrl,
		submit:  submit,
		events:  events,
		render:  renderMarkdown,
		spinner: s,
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.events.wait(), m.spinner.Tick)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit
		case " ":
			cmds = append(cmds, m.toggle())
		case "r":
			cmds = append(cmds, m.restart())
			m.listening = false
			m.chunks = nil
			m.partial = ""
			m.evaluation = ""
			m.err = nil
		case "enter":
			cmds = append(cmds, m.startSubmit())
		case "esc":
			m.err = nil
		}

	case tea.WindowSizeMsg:
		headerHeight := lipgloss.Height(m.headerView())
		footerHeight := lipgloss.Height(m.footerView())
		if !m.ready {
			m.viewport = viewport.New(msg.Width, msg.Height-headerHeight-footerHeight)
			m.viewport.YPosition = headerHeight
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = msg.Height - headerHeight - footerHeight
		}

	case chunksMsg:
		m.chunks = msg
		m.partial = ""
		cmds = append(cmds, m.events.wait())
	case listeningMsg:
		m.listening = bool(msg)
		if !m.listening {
			m.partial = ""
		}
		cmds = append(cmds, m.events.wait())
	case partialMsg:
		m.partial = string(msg)
		cmds = append(cmds, m.events.wait())
	case errorMsg:
		m.err = msg.err
		cmds = append(cmds, m.events.wait())

	case startedMsg:
		m.starting = false
		if msg.err != nil && !errors.Is(msg.err, session.ErrAlreadyListening) && !errors.Is(msg.err, context.Canceled) {
			m.err = msg.err
		}
	case evaluatedMsg:
		m.submitting = false
		if msg.err != nil {
			m.err = fmt.Errorf("submission failed: %w", msg.err)
		} else {
			m.evaluation = msg.markdown
		}

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)
	}

	if m.ready {
		m.viewport.SetContent(m.contentView())
		if _, isKey := msg.(tea.KeyMsg); !isKey {
			m.viewport.GotoBottom()
		}
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		cmds = append(cmds, cmd)
	}

	return m, tea.Batch(cmds...)
}

// Stop and restart run outside Update: they emit callbacks that wait on
// the program loop to read them.
func (m *Model) toggle() tea.Cmd {
	ctrl := m.ctrl
	if m.listening {
		m.listening = false
		m.partial = ""
		return func() tea.Msg {
			ctrl.StopListening()
			return nil
		}
	}
	if m.starting || m.submitting {
		return nil
	}
	m.starting = true
	m.err = nil
	m.evaluation = ""
	return func() tea.Msg {
		return startedMsg{err: ctrl.StartListening(context.Background())}
	}
}

func (m *Model) restart() tea.Cmd {
	ctrl := m.ctrl
	return func() tea.Msg {
		ctrl.HandleRestart()
		return nil
	}
}

func (m *Model) startSubmit() tea.Cmd {
	if m.submitting || m.submit == nil {
		return nil
	}
	if m.listening {
		m.err = errors.New("stop listening before submitting")
		return nil
	}
	m.submitting = true
	m.err = nil
	chunks := m.ctrl.State().Chunks
	submit, render := m.submit, m.render
	width := m.viewport.Width
	return func() tea.Msg {
		ev, err := submit(context.Background(), chunks)
		if err != nil {
			return evaluatedMsg{err: err}
		}
		return evaluatedMsg{markdown: render(evaluation.Markdown(*ev), width)}
	}
}

func (m Model) View() string {
	if !m.ready {
		return "\n  Initializing..."
	}
	return fmt.Sprintf("%s\n%s\n%s", m.headerView(), m.viewport.View(), m.footerView())
}

func (m Model) headerView() string {
	title := titleStyle.Render("Speaking practice")
	var badge string
	switch {
	case m.starting:
		badge = idleStyle.Render(m.spinner.View() + " connecting")
	case m.submitting:
		badge = idleStyle.Render(m.spinner.View() + " evaluating")
	case m.listening:
		badge = listeningStyle.Render("● listening")
	default:
		badge = idleStyle.Render("idle")
	}
	line := strings.Repeat("─", max(0, m.viewport.Width-lipgloss.Width(title)-lipgloss.Width(badge)))
	return lipgloss.JoinHorizontal(lipgloss.Center, title, line, badge)
}

func (m Model) footerView() string {
	return helpStyle.Render("space start/stop • r restart • enter submit • esc dismiss • q quit")
}

func (m Model) contentView() string {
	var b strings.Builder
	b.WriteString(ChunksView(m.chunks))
	if m.partial != "" {
		b.WriteString(partialStyle.Render(m.partial))
		b.WriteString("\n")
	}
	if m.err != nil {
		b.WriteString("\n")
		b.WriteString(errorStyle.Render(m.err.Error() + "\n\nesc to dismiss, r to discard and record again"))
		b.WriteString("\n")
	}
	if m.evaluation != "" {
		b.WriteString("\n")
		b.WriteString(m.evaluation)
	}
	return b.String()
}

// ChunksView renders one line per chunk, prefixed with its time range.
func ChunksView(chunks []session.Chunk) string {
	var b strings.Builder
	for _, chunk := range chunks {
		b.WriteString(timeStyle.Render(fmt.Sprintf("[%s-%s]", FormatTime(chunk.StartTime), FormatTime(chunk.EndTime))))
		b.WriteString(" ")
		b.WriteString(chunk.Text)
		b.WriteString("\n")
	}
	return b.String()
}

// FormatTime formats seconds as mm:ss.s.
func FormatTime(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	tenths := int64(seconds*10 + 0.5)
	return fmt.Sprintf("%02d:%02d.%d", tenths/600, (tenths/10)%60, tenths%10)
}

func renderMarkdown(markdown string, width int) string {
	if width <= 0 {
		width = 80
	}
	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return markdown
	}
	out, err := renderer.Render(markdown)
	if err != nil {
		return markdown
	}
	return out
}

// Run shows the practice screen until the user quits.
func Run(ctrl Controller, submit Submitter, events *Events) error {
	defer events.Close()
	_, err := tea.NewProgram(New(ctrl, submit, events), tea.WithAltScreen()).Run()
	return err
}
