// Package tui is the interactive chat screen of `ragchat chat`: a transcript
// viewport, a prompt line and a status bar. Answers render while they
// stream; Esc cancels the answer in progress and Ctrl+N starts a new
// conversation.
package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/54b3r/ragchat-go/internal/api"
	"github.com/54b3r/ragchat-go/internal/streamchat"
)

// Chatter is the TUI-facing subset of *streamchat.Session.
type Chatter interface {
	Send(ctx context.Context, prompt string) (*streamchat.Handle, error)
	Finish(ctx context.Context, h *streamchat.Handle) (*streamchat.ConversationTurn, error)
	Reset()
	ConversationID() int64
}

// updateMsg reports that the stream behind h has new events.
type updateMsg struct{ h *streamchat.Handle }

// doneMsg reports that the stream behind h reached a terminal state.
type doneMsg struct {
	h    *streamchat.Handle
	turn *streamchat.ConversationTurn
	err  error
}

// entry is one exchange in the transcript.
type entry struct {
	prompt   string
	thinking string
	response string
	sources  []string
	// note is shown under the answer, e.g. "cancelled".
	note string
}

// Model is the Bubble Tea model for the chat screen.
type Model struct {
	ctx      context.Context
	chat     Chatter
	title    string
	input    textinput.Model
	viewport viewport.Model
	spinner  spinner.Model

	transcript   []entry
	current      *streamchat.Handle
	partial      streamchat.Partial
	liveSources  []string
	liveDocs     int
	status       string
	showThinking bool
	ready        bool
}

// New returns a chat screen driving chat. ctx bounds every stream opened
// from the screen. title is shown in the header.
func New(ctx context.Context, chat Chatter, title string) Model {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "Ask about your documents and press Enter"
	ti.Focus()
	ti.CharLimit = 0

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = thinkingStyle

	return Model{
		ctx:          ctx,
		chat:         chat,
		title:        title,
		input:        ti,
		viewport:     viewport.New(0, 0),
		spinner:      sp,
		status:       "Enter send · Esc cancel · Ctrl+N new conversation · Ctrl+T thinking · Ctrl+C quit",
		showThinking: true,
	}
}

// Init starts the cursor blinking.
func (m Model) Init() tea.Cmd { return textinput.Blink }

// Streaming reports whether an answer is in progress.
func (m Model) Streaming() bool { return m.current != nil }

// Update handles key, window and stream events.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true
		_, th := transcriptStyle.GetFrameSize()
		_, ph := promptStyle.GetFrameSize()
		// header, status and the prompt line
		m.viewport.Width = max(20, msg.Width-2)
		m.viewport.Height = max(3, msg.Height-2-th-ph-1)
		m.input.Width = max(10, msg.Width-6)
		m.refresh()
		return m, nil

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyCtrlD:
			if m.current != nil {
				m.current.Cancel()
			}
			return m, tea.Quit
		case tea.KeyEsc:
			if m.current != nil {
				m.current.Cancel()
				m.status = "Cancelling…"
			}
			return m, nil
		case tea.KeyCtrlN:
			m.chat.Reset()
			m.current = nil
			m.partial = streamchat.Partial{}
			m.liveSources, m.liveDocs = nil, 0
			m.transcript = nil
			m.status = "New conversation."
			m.refresh()
			return m, nil
		case tea.KeyCtrlT:
			m.showThinking = !m.showThinking
			m.refresh()
			return m, nil
		case tea.KeyPgUp, tea.KeyPgDown:
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		case tea.KeyEnter:
			return m.send()
		}

	case updateMsg:
		if msg.h != m.current {
			return m, nil
		}
		m.partial = msg.h.Partial()
		if m.partial.RAGDocuments != m.liveDocs {
			m.liveSources = eventSources(msg.h.Events())
			m.liveDocs = m.partial.RAGDocuments
		}
		m.refresh()
		return m, waitForStream(m.ctx, m.chat, msg.h)

	case doneMsg:
		if msg.h != m.current {
			return m, nil
		}
		m.finish(msg)
		m.refresh()
		return m, nil

	case spinner.TickMsg:
		if m.current == nil {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		if m.partial.StillThinking() {
			m.refresh()
		}
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// send opens a stream for the prompt line.
func (m Model) send() (tea.Model, tea.Cmd) {
	prompt := strings.TrimSpace(m.input.Value())
	if prompt == "" {
		return m, nil
	}
	h, err := m.chat.Send(m.ctx, prompt)
	switch {
	case errors.Is(err, streamchat.ErrStreamInProgress):
		m.status = "An answer is still streaming. Press Esc to cancel it."
		return m, nil
	case err != nil:
		m.status = "Error: " + err.Error()
		return m, nil
	}

	m.input.Reset()
	m.current = h
	m.partial = h.Partial()
	m.liveSources, m.liveDocs = nil, 0
	m.status = "Streaming…"
	m.refresh()
	return m, tea.Batch(m.spinner.Tick, waitForStream(m.ctx, m.chat, h))
}

// finish moves the ended stream into the transcript.
func (m *Model) finish(msg doneMsg) {
	m.current = nil
	p := msg.h.Partial()
	e := entry{prompt: msg.h.Prompt(), thinking: p.Thinking, response: p.Response, sources: eventSources(msg.h.Events())}

	switch {
	case msg.err == nil:
		t := msg.turn
		e.thinking, e.response, e.sources = t.Thinking, t.Response, sourceNames(t.VectorSearchResults)
		m.status = fmt.Sprintf("Done in %s · conversation %d%s", t.Duration().Round(time.Millisecond), t.ConversationID, tokenSummary(t.TokenUsage))
	case errors.Is(msg.err, streamchat.ErrCancelled):
		e.note = "cancelled"
		m.status = "Cancelled. The partial answer was not saved."
	default:
		e.note = "failed"
		m.status = "Error: " + msg.err.Error()
	}
	m.transcript = append(m.transcript, e)
	m.partial = streamchat.Partial{}
	m.liveSources, m.liveDocs = nil, 0
}

// waitForStream blocks until h has news. Once the updates channel closes the
// stream is terminal, and Finish folds it into the session.
func waitForStream(ctx context.Context, chat Chatter, h *streamchat.Handle) tea.Cmd {
	return func() tea.Msg {
		if _, ok := <-h.Updates(); ok {
			return updateMsg{h: h}
		}
		turn, err := chat.Finish(ctx, h)
		return doneMsg{h: h, turn: turn, err: err}
	}
}

// View renders header, transcript, prompt and status.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	header := headerStyle.Render(m.title)
	if id := m.chat.ConversationID(); id != 0 {
		header += dimStyle.Render(fmt.Sprintf("  conversation %d", id))
	}
	return header + "\n" +
		transcriptStyle.Render(m.viewport.View()) + "\n" +
		promptStyle.Render(m.input.View()) + "\n" +
		statusStyle.Render(m.status)
}

// refresh re-renders the transcript into the viewport and keeps the newest
// text in view.
func (m *Model) refresh() {
	m.viewport.SetContent(m.render())
	m.viewport.GotoBottom()
}

func (m Model) render() string {
	var b strings.Builder
	for _, e := range m.transcript {
		m.renderEntry(&b, e)
	}
	if m.current != nil {
		m.renderEntry(&b, entry{
			prompt:   m.current.Prompt(),
			thinking: m.partial.Thinking,
			response: m.partial.Response,
			sources:  m.liveSources,
		})
		if m.partial.StillThinking() {
			b.WriteString(m.spinner.View() + thinkingStyle.Render(" thinking...") + "\n")
		}
	}
	if b.Len() == 0 {
		return dimStyle.Render("No messages yet.")
	}
	return b.String()
}

func (m Model) renderEntry(b *strings.Builder, e entry) {
	width := max(20, m.viewport.Width)
	b.WriteString(userStyle.Render("You: ") + e.prompt + "\n")
	if m.showThinking && e.thinking != "" {
		b.WriteString(thinkingStyle.Width(width).Render(e.thinking) + "\n")
	}
	if e.response != "" {
		b.WriteString(assistantStyle.Render("Assistant: ") + lipgloss.NewStyle().Width(width).Render(e.response) + "\n")
	}
	if len(e.sources) > 0 {
		b.WriteString(dimStyle.Render("sources: "+strings.Join(e.sources, ", ")) + "\n")
	}
	if e.note != "" {
		b.WriteString(noteStyle.Render("["+e.note+"]") + "\n")
	}
	b.WriteString("\n")
}

// sourceNames lists the distinct source names of docs in order.
func sourceNames(docs []api.VectorSearchResult) []string {
	var names []string
	seen := make(map[string]bool)
	for _, d := range docs {
		name, _ := d.Metadata["sourceName"].(string)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		names = append(names, name)
	}
	return names
}

// eventSources lists the source names of the RAG_DOCUMENT events in evs.
func eventSources(evs []api.StreamEvent) []string {
	var docs []api.VectorSearchResult
	for _, ev := range evs {
		if ev.ItemType == api.ItemRAGDocument && ev.VectorSearchResult != nil {
			docs = append(docs, *ev.VectorSearchResult)
		}
	}
	return sourceNames(docs)
}

func tokenSummary(u *streamchat.TokenUsage) string {
	if u == nil || u.Total == nil {
		return ""
	}
	return fmt.Sprintf(" · %d tokens", *u.Total)
}

var (
	headerStyle     = lipgloss.NewStyle().Bold(true)
	transcriptStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	promptStyle     = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	statusStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	userStyle       = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	assistantStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("13"))
	thinkingStyle   = lipgloss.NewStyle().Italic(true).Foreground(lipgloss.Color("8"))
	dimStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	noteStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
)
