// Package chat provides the interactive terminal chat interface for aichat.
package chat

import (
	"context"
	"time"

	"aichat/cmd/aichat/ui"
	"aichat/internal/types"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	"github.com/charmbracelet/glamour"
)

// =============================================================================
// DEPENDENCIES
// =============================================================================

// Conversation is the live chat the model renders and drives.
type Conversation interface {
	Submit(text string) error
	Waiting() bool
	Messages() []types.Message
	SessionID() string
	LastError() error
	ConnState() types.ConnState
	SwitchSession(id string)
	Load(detail types.SessionDetail)
	OnChange(fn func())
}

// SessionDirectory lists, creates and fetches sessions.
type SessionDirectory interface {
	List(ctx context.Context) ([]types.Session, error)
	Create(ctx context.Context, title string) (types.Session, error)
	Get(ctx context.Context, id string) (types.SessionDetail, error)
	Select(id string) error
}

// Config holds what the interface needs to start.
type Config struct {
	Conversation Conversation
	Directory    SessionDirectory
	Styles       *ui.Styles

	// Reconnect reopens the live connection after it closed. Optional.
	Reconnect func(ctx context.Context) error

	// Upper bound for each directory call made from the interface.
	RequestTimeout time.Duration

	// Title for sessions created by /new without an argument.
	DefaultTitle string
}

// =============================================================================
// CORE TYPES
// =============================================================================

// ViewMode determines which component is focused
type ViewMode int

const (
	ChatView ViewMode = iota
	ListView
)

// sessionItem is a list item for the session picker
type sessionItem struct {
	session types.Session
}

func (i sessionItem) Title() string { return i.session.Title }
func (i sessionItem) Description() string {
	return "[" + i.session.ID + "] " + i.session.UpdatedAt.Local().Format("2006-01-02 15:04")
}
func (i sessionItem) FilterValue() string { return i.session.ID + " " + i.session.Title }

// Model is the main model for the interactive chat interface
type Model struct {
	// UI Components
	input    textinput.Model
	viewport viewport.Model
	spinner  spinner.Model
	list     list.Model
	styles   ui.Styles
	renderer *glamour.TermRenderer

	viewMode ViewMode

	conv      Conversation
	dir       SessionDirectory
	reconnect func(ctx context.Context) error
	timeout   time.Duration
	newTitle  string
	changes   chan struct{}

	sessions []types.Session
	notice   string
	err      error

	width  int
	height int
	ready  bool
}

// =============================================================================
// MESSAGES
// =============================================================================

// changedMsg reports that the conversation state moved.
type changedMsg struct{}

// sessionsMsg carries a fresh session list.
type sessionsMsg struct {
	sessions []types.Session
	open     bool // show the picker once loaded
}

// sessionCreatedMsg carries a session created from the interface.
type sessionCreatedMsg struct {
	session types.Session
}

// sessionLoadedMsg carries the stored history of a selected session.
type sessionLoadedMsg struct {
	detail types.SessionDetail
}

// reconnectedMsg reports a reopened live connection.
type reconnectedMsg struct{}

// errMsg carries a failed background command.
type errMsg struct {
	err error
}
