// Package ui renders the interactive chat session. It is a thin Bubble Tea
// front end over client.Client: all protocol state lives in the client, and
// the model re-reads snapshots whenever the client signals a change.
package ui

import (
	"context"
	"errors"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/procurelabs/spachat/internal/client"
	"github.com/procurelabs/spachat/internal/domain"
)

type clientUpdateMsg struct {
	update client.Update
}

type sendResultMsg struct {
	err error
}

// Model is the Bubble Tea model for a chat session.
type Model struct {
	client *client.Client

	input    textinput.Model
	spin     spinner.Model
	viewport viewport.Model

	messages  []domain.Message
	files     []domain.FileEntry
	status    string
	showFiles bool
	lost      bool

	width  int
	height int
	ready  bool
}

// New builds the model around a connected client.
func New(c *client.Client) Model {
	ti := textinput.New()
	ti.Placeholder = "Ask about supplier performance..."
	ti.Prompt = "> "
	ti.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))

	return Model{
		client:   c,
		input:    ti,
		spin:     sp,
		messages: c.Messages(),
	}
}

// Run starts the interactive session and blocks until it exits.
func Run(c *client.Client) error {
	_, err := tea.NewProgram(New(c), tea.WithAltScreen()).Run()
	return err
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.spin.Tick, m.waitForUpdate())
}

// waitForUpdate blocks on the client's notification channel and feeds the
// next signal back into the update loop. Re-armed after every delivery.
func (m Model) waitForUpdate() tea.Cmd {
	return func() tea.Msg {
		return clientUpdateMsg{update: <-m.client.Updates()}
	}
}

func (m Model) sendCmd(text string) tea.Cmd {
	return func() tea.Msg {
		return sendResultMsg{err: m.client.Send(context.Background(), text)}
	}
}

func (m Model) requestListingCmd() tea.Cmd {
	return func() tea.Msg {
		return sendResultMsg{err: m.client.RequestListing(context.Background())}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		chromeHeight := 5
		if !m.ready {
			m.viewport = viewport.New(msg.Width, msg.Height-chromeHeight)
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = msg.Height - chromeHeight
		}
		m.input.Width = msg.Width - 8
		m.refreshViewport()
		return m, nil

	case clientUpdateMsg:
		m.applyUpdate(msg.update)
		return m, m.waitForUpdate()

	case sendResultMsg:
		// ErrBusy is a silent rejection; everything else already surfaced
		// a system message through the conversation.
		if msg.err != nil && !errors.Is(msg.err, client.ErrBusy) {
			m.messages = m.client.Messages()
			m.refreshViewport()
		}
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyCtrlC, tea.KeyEsc:
		_ = m.client.Close()
		return m, tea.Quit

	case tea.KeyCtrlF:
		m.showFiles = !m.showFiles
		if m.showFiles && !m.lost {
			return m, m.requestListingCmd()
		}
		return m, nil

	case tea.KeyEnter:
		text := strings.TrimSpace(m.input.Value())
		if text == "" || m.lost {
			return m, nil
		}
		m.input.Reset()
		return m, m.sendCmd(text)

	case tea.KeyPgUp, tea.KeyPgDown:
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *Model) applyUpdate(u client.Update) {
	switch u := u.(type) {
	case client.ConversationUpdated:
		m.messages = m.client.Messages()
		m.refreshViewport()
	case client.StatusUpdated:
		m.status = u.Status
	case client.ManifestUpdated:
		m.files = u.Files
	case client.ConnectionLost:
		m.lost = true
		m.status = ""
		m.messages = m.client.Messages()
		m.refreshViewport()
	}
}

func (m *Model) refreshViewport() {
	if !m.ready {
		return
	}
	atBottom := m.viewport.AtBottom()
	m.viewport.SetContent(renderConversation(m.messages))
	if atBottom {
		m.viewport.GotoBottom()
	}
}

func (m Model) View() string {
	if !m.ready {
		return "starting..."
	}

	var b strings.Builder
	b.WriteString(m.viewport.View())
	b.WriteString("\n")

	if m.showFiles {
		b.WriteString(renderFiles(m.files, m.client.FilesLoading()))
		b.WriteString("\n")
	}

	b.WriteString(inputStyle(m.width).Render(m.input.View()))
	b.WriteString("\n")
	b.WriteString(statusStyle(m.width).Render(m.statusLine()))
	return b.String()
}

func (m Model) statusLine() string {
	switch {
	case m.lost:
		return "disconnected, restart to reconnect | esc: quit"
	case m.status != "":
		return m.spin.View() + " " + m.status
	default:
		return "enter: send | ctrl+f: files | esc: quit"
	}
}
