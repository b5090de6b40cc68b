package chat

import (
	"fmt"
	"strings"

	"aichat/internal/types"

	"github.com/charmbracelet/lipgloss"
)

// =============================================================================
// VIEW RENDERING
// =============================================================================

func (m Model) renderHistory() string {
	msgs := m.conv.Messages()
	if len(msgs) == 0 {
		return m.styles.Muted.Render("No messages yet. Say hello.")
	}

	var sb strings.Builder
	for _, msg := range msgs {
		switch msg.Sender {
		case types.SenderUser:
			sb.WriteString(m.styles.UserLabel.Render("You") + "\n")
			sb.WriteString(m.styles.UserInput.Render(msg.Content))
			if msg.State == types.StateFailed {
				sb.WriteString(" " + m.styles.Error.Render("(not delivered)"))
			}
			sb.WriteString("\n\n")
		default:
			sb.WriteString(m.styles.AssistantName.Render("Assistant") + "\n")
			sb.WriteString(m.safeRenderMarkdown(msg.Content))
			sb.WriteString("\n")
		}
	}
	return sb.String()
}

// safeRenderMarkdown renders markdown with panic recovery
func (m Model) safeRenderMarkdown(content string) (result string) {
	defer func() {
		if r := recover(); r != nil {
			result = content
		}
	}()

	if m.renderer != nil && content != "" {
		rendered, err := m.renderer.Render(content)
		if err == nil {
			return rendered
		}
	}
	return m.styles.AgentResponse.Render(content)
}

// sessionTitle returns the title of the active session as far as the directory knows it.
func (m Model) sessionTitle() string {
	id := m.conv.SessionID()
	for _, s := range m.sessions {
		if s.ID == id {
			return s.Title
		}
	}
	if id == "" {
		return "New Chat"
	}
	return id
}

func (m Model) renderHeader() string {
	state := m.conv.ConnState()
	badge := m.styles.Badge.Render(string(state))
	if state != types.ConnOpen {
		badge = m.styles.Error.Render(string(state))
	}
	title := m.styles.Header.Render("aichat · " + m.sessionTitle())
	return lipgloss.JoinHorizontal(lipgloss.Center, title, " ", badge)
}

func (m Model) renderStatus() string {
	switch {
	case m.err != nil:
		return m.styles.Error.Render("✗ " + m.err.Error())
	case m.conv.Waiting():
		return m.spinner.View() + m.styles.Muted.Render(" waiting for reply")
	case m.conv.LastError() != nil:
		return m.styles.Warning.Render("! " + m.conv.LastError().Error())
	case m.notice != "":
		return m.styles.Info.Render(m.notice)
	}
	return m.styles.Footer.Render("enter send · pgup/pgdn scroll · /help · esc quit")
}

func (m Model) View() string {
	if !m.ready {
		return "Initializing..."
	}

	if m.viewMode == ListView {
		return m.styles.Content.Render(m.list.View())
	}

	input := m.input.View()
	if m.conv.Waiting() {
		input = m.styles.Muted.Render(fmt.Sprintf("%s%s", m.input.Prompt, m.input.Value()))
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		m.renderHeader(),
		m.viewport.View(),
		m.styles.RenderDivider(m.width),
		input,
		m.renderStatus(),
	)
}
