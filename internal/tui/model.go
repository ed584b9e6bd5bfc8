// Package tui is the terminal chat shell.
package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/kalambet/kbchat/internal/chat"
	"github.com/kalambet/kbchat/internal/llm"
)

// Session is the TUI-facing subset of a chat session.
type Session interface {
	Ask(ctx context.Context, question string) (*chat.Stream, error)
	Transcript() *chat.Transcript
}

type streamStartedMsg struct{ stream *chat.Stream }

type chunkMsg struct{ chunk string }

type streamDoneMsg struct{ err error }

type askFailedMsg struct{ err error }

// Model is the Bubble Tea model for the chat screen.
type Model struct {
	ctx      context.Context
	session  Session
	title    string
	input    textinput.Model
	viewport viewport.Model
	stream   *chat.Stream
	partial  strings.Builder
	status   string
	ready    bool
}

// New creates a chat model bound to one session.
func New(ctx context.Context, session Session, title string) *Model {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "Ask a question"
	ti.Focus()
	ti.CharLimit = 0
	m := &Model{
		ctx:      ctx,
		session:  session,
		title:    title,
		input:    ti,
		viewport: viewport.New(0, 0),
		status:   "Ready.",
	}
	m.refresh()
	return m
}

func (m *Model) Init() tea.Cmd { return textinput.Blink }

// Streaming reports whether an answer is in flight.
func (m *Model) Streaming() bool { return m.stream != nil }

func (m *Model) Status() string { return m.status }

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true
		fw, fh := boxStyle.GetFrameSize()
		// header, input box, status line and the transcript box frame
		reserved := 1 + (1 + fh) + 1 + fh
		m.viewport.Width = max(20, msg.Width-fw)
		m.viewport.Height = max(3, msg.Height-reserved)
		m.input.Width = max(10, msg.Width-fw-len(m.input.Prompt))
		m.refresh()
		return m, nil

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyCtrlD:
			return m, tea.Quit
		case tea.KeyEnter:
			return m, m.submit()
		case tea.KeyPgUp, tea.KeyPgDown:
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		}

	case streamStartedMsg:
		m.stream = msg.stream
		m.status = "Answering..."
		m.refresh()
		return m, m.waitChunk()

	case chunkMsg:
		m.partial.WriteString(msg.chunk)
		m.refresh()
		return m, m.waitChunk()

	case streamDoneMsg:
		m.stream = nil
		m.partial.Reset()
		if msg.err != nil {
			m.status = "Error: " + msg.err.Error()
		} else {
			m.status = "Ready."
		}
		m.refresh()
		return m, nil

	case askFailedMsg:
		if errors.Is(msg.err, chat.ErrSessionBusy) {
			m.status = "Still answering the previous question."
		} else {
			m.status = "Error: " + msg.err.Error()
		}
		m.refresh()
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *Model) submit() tea.Cmd {
	q := strings.TrimSpace(m.input.Value())
	if q == "" {
		return nil
	}
	if m.stream != nil {
		m.status = "Still answering the previous question."
		return nil
	}
	m.input.Reset()
	m.status = "Thinking..."

	ctx, session := m.ctx, m.session
	return func() tea.Msg {
		st, err := session.Ask(ctx, q)
		if err != nil {
			return askFailedMsg{err: err}
		}
		return streamStartedMsg{stream: st}
	}
}

func (m *Model) waitChunk() tea.Cmd {
	st := m.stream
	return func() tea.Msg {
		chunk, ok := st.Next()
		if ok {
			return chunkMsg{chunk: chunk}
		}
		return streamDoneMsg{err: st.Err()}
	}
}

func (m *Model) refresh() {
	m.viewport.SetContent(m.renderTranscript())
	m.viewport.GotoBottom()
}

func (m *Model) renderTranscript() string {
	var sb strings.Builder
	for _, msg := range m.session.Transcript().Messages() {
		sb.WriteString(renderMessage(msg.Role, msg.Content))
		sb.WriteString("\n\n")
	}
	if m.stream != nil && m.partial.Len() > 0 {
		sb.WriteString(renderMessage(llm.RoleAssistant, m.partial.String()+"▌"))
	}
	return strings.TrimRight(sb.String(), "\n")
}

func renderMessage(role, content string) string {
	if role == llm.RoleUser {
		return userStyle.Render("You: ") + content
	}
	return assistantStyle.Render("Assistant: ") + content
}

func (m *Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	header := headerStyle.Render(m.title)
	body := boxStyle.Render(m.viewport.View())
	input := boxStyle.Render(m.input.View())
	status := statusStyle.Render(m.status)
	return fmt.Sprintf("%s\n%s\n%s\n%s", header, body, input, status)
}

var (
	headerStyle    = lipgloss.NewStyle().Bold(true)
	boxStyle       = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	userStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	assistantStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	statusStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

// Run starts the full-screen chat program and blocks until the user quits
// or ctx is cancelled.
func Run(ctx context.Context, session Session, title string) error {
	p := tea.NewProgram(New(ctx, session, title), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}
