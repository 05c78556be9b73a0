// Package chatclient is a terminal client for the chat relay.
package chatclient

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/gorilla/websocket"

	"github.com/ismistube/backend/internal/chat"
)

// DefaultURL is used when no server address is given.
const DefaultURL = "ws://localhost:3000/chat"

// Conn is the subset of a websocket connection the client needs.
type Conn interface {
	ReadJSON(v any) error
	WriteJSON(v any) error
	Close() error
}

// DialFunc opens a connection to the relay.
type DialFunc func(ctx context.Context, url string) (Conn, error)

// WebsocketDialer dials the relay with gorilla/websocket.
func WebsocketDialer(ctx context.Context, target string) (Conn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, target, nil)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

var (
	headerStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("213")).BorderStyle(lipgloss.NormalBorder()).BorderBottom(true).BorderForeground(lipgloss.Color("63")).Padding(0, 1)
	connectedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	pendingStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("178")).Italic(true)
	errorStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("203")).Bold(true)
	messageStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("253"))
	hintStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	inputBoxStyle  = lipgloss.NewStyle().BorderStyle(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("63")).Padding(0, 1)
)

type (
	connectedMsg struct{ conn Conn }
	incomingMsg  chat.Envelope
	errMsg       struct{ err error }
)

// Model is the Bubble Tea state of the chat client.
type Model struct {
	ctx  context.Context
	url  string
	dial DialFunc

	conn    Conn
	writeMu *sync.Mutex

	input      textinput.Model
	transcript viewport.Model
	lines      []string

	connected bool
	err       error
	ready     bool
}

// New builds a model that connects to target once started.
func New(ctx context.Context, target string, dial DialFunc) Model {
	if dial == nil {
		dial = WebsocketDialer
	}
	if ctx == nil {
		ctx = context.Background()
	}

	input := textinput.New()
	input.Placeholder = "Type a message…"
	input.Prompt = "> "
	input.CharLimit = 4096
	input.Focus()

	return Model{
		ctx:        ctx,
		url:        target,
		dial:       dial,
		writeMu:    &sync.Mutex{},
		input:      input,
		transcript: viewport.New(80, 15),
	}
}

// Init starts the connection and the cursor blink.
func (m Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.connectCmd())
}

// Update reacts to key presses and connection events.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.transcript.Width = msg.Width
		m.transcript.Height = max(msg.Height-7, 3)
		m.input.Width = max(msg.Width-6, 10)
		m.ready = true
		m.refresh()
		return m, nil

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			m.close()
			return m, tea.Quit
		case tea.KeyEnter:
			text := m.input.Value()
			if strings.TrimSpace(text) == "" {
				return m, nil
			}
			if strings.EqualFold(strings.TrimSpace(text), "/quit") {
				m.close()
				return m, tea.Quit
			}
			if !m.connected {
				return m, nil
			}
			m.input.SetValue("")
			return m, m.sendCmd(text)
		case tea.KeyPgUp, tea.KeyPgDown:
			var cmd tea.Cmd
			m.transcript, cmd = m.transcript.Update(msg)
			return m, cmd
		}
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd

	case connectedMsg:
		m.conn = msg.conn
		m.connected = true
		m.err = nil
		return m, m.readCmd()

	case incomingMsg:
		m.lines = append(m.lines, messageStyle.Render(msg.Data))
		m.refresh()
		return m, m.readCmd()

	case errMsg:
		m.connected = false
		m.err = msg.err
		m.close()
		return m, nil
	}
	return m, nil
}

// View renders the header, the transcript and the input box.
func (m Model) View() string {
	header := headerStyle.Render("IsmisTube chat · " + m.url)

	var status string
	switch {
	case m.err != nil:
		status = errorStyle.Render("Disconnected: " + m.err.Error())
	case m.connected:
		status = connectedStyle.Render("Connected")
	default:
		status = pendingStyle.Render("Connecting…")
	}

	body := m.transcript.View()
	if len(m.lines) == 0 {
		body = hintStyle.Render("No messages yet.")
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		header,
		status,
		body,
		inputBoxStyle.Render(m.input.View()),
		hintStyle.Render("Enter to send · PgUp/PgDn to scroll · Esc or /quit to leave"),
	)
}

// Transcript returns the received messages, oldest first.
func (m Model) Transcript() []string {
	return append([]string(nil), m.lines...)
}

func (m *Model) refresh() {
	m.transcript.SetContent(strings.Join(m.lines, "\n"))
	m.transcript.GotoBottom()
}

func (m Model) close() {
	if m.conn != nil {
		_ = m.conn.Close()
	}
}

func (m Model) connectCmd() tea.Cmd {
	return func() tea.Msg {
		conn, err := m.dial(m.ctx, m.url)
		if err != nil {
			return errMsg{err: fmt.Errorf("connect %s: %w", m.url, err)}
		}
		return connectedMsg{conn: conn}
	}
}

// readCmd delivers one frame at a time; Update chains the next read.
func (m Model) readCmd() tea.Cmd {
	conn := m.conn
	return func() tea.Msg {
		for {
			var env chat.Envelope
			if err := conn.ReadJSON(&env); err != nil {
				return errMsg{err: err}
			}
			if env.Event == chat.EventChatMessage {
				return incomingMsg(env)
			}
		}
	}
}

func (m Model) sendCmd(text string) tea.Cmd {
	conn, mu := m.conn, m.writeMu
	return func() tea.Msg {
		mu.Lock()
		defer mu.Unlock()
		if err := conn.WriteJSON(chat.NewMessage(text)); err != nil {
			return errMsg{err: err}
		}
		return nil
	}
}

// ChatURL turns a server address into the relay's websocket URL.
// "localhost:3000", "http://host" and "ws://host/chat" are all accepted.
func ChatURL(addr string) (string, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return DefaultURL, nil
	}
	if !strings.Contains(addr, "://") {
		addr = "ws://" + addr
	}

	u, err := url.Parse(addr)
	if err != nil {
		return "", fmt.Errorf("parse chat address: %w", err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", errors.New("chat address has no host")
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = "/chat"
	}
	return u.String(), nil
}

// Run starts the terminal UI and blocks until the user quits.
func Run(ctx context.Context, target string) error {
	program := tea.NewProgram(New(ctx, target, nil), tea.WithAltScreen(), tea.WithContext(ctx))
	final, err := program.Run()
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	if m, ok := final.(Model); ok && m.err != nil && !m.connected && len(m.lines) == 0 {
		return m.err
	}
	return nil
}
