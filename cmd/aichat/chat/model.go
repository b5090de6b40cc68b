package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"aichat/cmd/aichat/ui"
	corechat "aichat/internal/chat"
	"aichat/internal/logging"
	"aichat/internal/types"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
)

const (
	headerHeight = 1
	footerHeight = 3 // divider, input, help
)

// New creates the chat model and subscribes it to conversation changes.
func New(cfg Config) Model {
	styles := ui.DefaultStyles()
	if cfg.Styles != nil {
		styles = *cfg.Styles
	}

	ti := textinput.New()
	ti.Placeholder = "Type a message or /help"
	ti.Prompt = "› "
	ti.PromptStyle = styles.Prompt
	ti.CharLimit = 8000
	ti.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = styles.Spinner

	l := list.New(nil, list.NewDefaultDelegate(), 0, 0)
	l.Title = "Sessions"
	l.SetShowHelp(true)

	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	m := Model{
		input:     ti,
		spinner:   sp,
		list:      l,
		styles:    styles,
		conv:      cfg.Conversation,
		dir:       cfg.Directory,
		reconnect: cfg.Reconnect,
		timeout:   timeout,
		newTitle:  cfg.DefaultTitle,
		changes:   make(chan struct{}, 1),
	}

	changes := m.changes
	m.conv.OnChange(func() {
		// Coalesce: one pending wake-up is enough to redraw the latest state.
		select {
		case changes <- struct{}{}:
		default:
		}
	})
	return m
}

// Init initializes the interactive chat model
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		textinput.Blink,
		m.spinner.Tick,
		m.waitForChange(),
		m.fetchSessions(false),
	)
}

// waitForChange blocks until the conversation reports a change.
func (m Model) waitForChange() tea.Cmd {
	changes := m.changes
	return func() tea.Msg {
		<-changes
		return changedMsg{}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.resize(msg.Width, msg.Height)
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case changedMsg:
		m.refresh()
		return m, m.waitForChange()

	case sessionsMsg:
		m.sessions = msg.sessions
		items := make([]list.Item, len(msg.sessions))
		for i, s := range msg.sessions {
			items[i] = sessionItem{session: s}
		}
		cmd := m.list.SetItems(items)
		if msg.open {
			m.viewMode = ListView
		}
		return m, cmd

	case sessionCreatedMsg:
		m.sessions = append([]types.Session{msg.session}, m.sessions...)
		cmd := m.list.InsertItem(0, sessionItem{session: msg.session})
		m.conv.SwitchSession(msg.session.ID)
		m.notice = fmt.Sprintf("Started %q", msg.session.Title)
		m.refresh()
		return m, cmd

	case sessionLoadedMsg:
		m.conv.Load(msg.detail)
		if m.dir != nil {
			if err := m.dir.Select(msg.detail.ID); err != nil {
				logging.Get(logging.CategoryUI).Debug("select %s: %v", msg.detail.ID, err)
			}
		}
		m.viewMode = ChatView
		m.notice = fmt.Sprintf("Opened %q", msg.detail.Title)
		m.refresh()
		return m, nil

	case reconnectedMsg:
		m.notice = "Reconnected"
		return m, nil

	case errMsg:
		m.err = msg.err
		m.refresh()
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *Model) resize(width, height int) {
	m.width, m.height = width, height
	vpHeight := height - headerHeight - footerHeight
	if vpHeight < 1 {
		vpHeight = 1
	}
	if !m.ready {
		m.viewport = viewport.New(width, vpHeight)
		m.ready = true
	} else {
		m.viewport.Width = width
		m.viewport.Height = vpHeight
	}
	m.input.Width = width - 4
	m.list.SetSize(width, height)

	m.renderer, _ = glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(max(width-4, 20)),
	)
	m.refresh()
}

// refresh re-renders the history into the viewport and follows the tail.
func (m *Model) refresh() {
	if !m.ready {
		return
	}
	m.viewport.SetContent(m.renderHistory())
	m.viewport.GotoBottom()
}

// =============================================================================
// INPUT
// =============================================================================

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyCtrlC:
		return m, tea.Quit
	case tea.KeyEsc:
		if m.viewMode == ListView {
			m.viewMode = ChatView
			return m, nil
		}
		return m, tea.Quit
	}

	if m.viewMode == ListView {
		if msg.Type == tea.KeyEnter && m.list.FilterState() != list.Filtering {
			if item, ok := m.list.SelectedItem().(sessionItem); ok {
				return m, m.loadSession(item.session.ID)
			}
			return m, nil
		}
		var cmd tea.Cmd
		m.list, cmd = m.list.Update(msg)
		return m, cmd
	}

	switch msg.Type {
	case tea.KeyEnter:
		return m.handleSubmit()
	case tea.KeyPgUp, tea.KeyPgDown:
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd
	}

	// Input is frozen while a reply is outstanding.
	if m.conv.Waiting() {
		return m, nil
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) handleSubmit() (tea.Model, tea.Cmd) {
	text := strings.TrimSpace(m.input.Value())
	if text == "" {
		return m, nil
	}
	if strings.HasPrefix(text, "/") {
		m.input.Reset()
		return m.handleCommand(text)
	}
	if m.conv.Waiting() {
		return m, nil
	}

	m.notice = ""
	m.err = nil
	if err := m.conv.Submit(text); err != nil {
		m.err = err
		// Keep the draft when nothing was sent.
		if errors.Is(err, corechat.ErrNotConnected) || errors.Is(err, corechat.ErrBusy) {
			return m, nil
		}
	}
	m.input.Reset()
	m.refresh()
	return m, m.spinner.Tick
}

// handleCommand runs a slash command.
func (m Model) handleCommand(line string) (tea.Model, tea.Cmd) {
	fields := strings.Fields(line)
	name, args := fields[0], strings.TrimSpace(strings.TrimPrefix(line, fields[0]))
	m.err = nil

	switch name {
	case "/quit", "/exit":
		return m, tea.Quit
	case "/help":
		m.notice = helpText
		return m, nil
	case "/new":
		return m, m.createSession(args)
	case "/sessions":
		return m, m.fetchSessions(true)
	case "/reconnect":
		return m, m.reconnectCmd()
	case "/switch":
		if args == "" {
			m.err = fmt.Errorf("usage: /switch <session-id>")
			return m, nil
		}
		return m, m.loadSession(args)
	default:
		m.err = fmt.Errorf("unknown command %s (try /help)", name)
		return m, nil
	}
}

const helpText = "/new [title]  start a session · /sessions  pick a session · /switch <id>  open a session · /reconnect · /quit"

// =============================================================================
// DIRECTORY COMMANDS
// =============================================================================

func (m Model) withTimeout() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), m.timeout)
}

func (m Model) fetchSessions(open bool) tea.Cmd {
	if m.dir == nil {
		return nil
	}
	return func() tea.Msg {
		ctx, cancel := m.withTimeout()
		defer cancel()
		sessions, err := m.dir.List(ctx)
		if err != nil {
			return errMsg{err: fmt.Errorf("list sessions: %w", err)}
		}
		return sessionsMsg{sessions: sessions, open: open}
	}
}

func (m Model) createSession(title string) tea.Cmd {
	if m.dir == nil {
		return nil
	}
	if title == "" {
		title = m.newTitle
	}
	return func() tea.Msg {
		ctx, cancel := m.withTimeout()
		defer cancel()
		s, err := m.dir.Create(ctx, title)
		if err != nil {
			return errMsg{err: fmt.Errorf("create session: %w", err)}
		}
		return sessionCreatedMsg{session: s}
	}
}

func (m Model) loadSession(id string) tea.Cmd {
	if m.dir == nil {
		return nil
	}
	return func() tea.Msg {
		ctx, cancel := m.withTimeout()
		defer cancel()
		detail, err := m.dir.Get(ctx, id)
		if err != nil {
			return errMsg{err: fmt.Errorf("open session: %w", err)}
		}
		return sessionLoadedMsg{detail: detail}
	}
}

func (m Model) reconnectCmd() tea.Cmd {
	if m.reconnect == nil {
		return func() tea.Msg { return errMsg{err: errors.New("reconnect is not available")} }
	}
	if !m.conv.ConnState().Terminal() {
		return func() tea.Msg { return errMsg{err: fmt.Errorf("already %s", m.conv.ConnState())} }
	}
	return func() tea.Msg {
		ctx, cancel := m.withTimeout()
		defer cancel()
		if err := m.reconnect(ctx); err != nil {
			return errMsg{err: fmt.Errorf("reconnect: %w", err)}
		}
		return reconnectedMsg{}
	}
}
