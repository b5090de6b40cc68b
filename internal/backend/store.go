// Package backend is a reference implementation of the chat service the client talks to:
// the session REST API, the /ws/{client_id} live endpoint, persistence and reply generation.
package backend

import (
	"context"
	"errors"
	"sort"

	"aichat/internal/types"
)

// DefaultTitle is given to sessions created without a title.
const DefaultTitle = "New Chat"

// titleLimit is how many characters of the first user message become the title.
const titleLimit = 30

// ErrNotFound is returned for unknown session ids.
var ErrNotFound = errors.New("session not found")

// Store persists sessions and their messages.
type Store interface {
	// CreateSession creates an empty session. An empty title becomes DefaultTitle.
	CreateSession(ctx context.Context, userID, title string) (types.SessionDetail, error)

	// GetSession returns a session with its messages, or ErrNotFound.
	GetSession(ctx context.Context, id string) (types.SessionDetail, error)

	// ListSessions returns the user's sessions, most recently updated first.
	ListSessions(ctx context.Context, userID string) ([]types.Session, error)

	// AppendMessage adds a message and bumps updated_at. The first message of a
	// session, when sent by the user, replaces the title.
	AppendMessage(ctx context.Context, sessionID string, msg types.HistoryEntry) error

	Close() error
}

// TitleFromMessage derives a session title from the first user message.
func TitleFromMessage(content string) string {
	r := []rune(content)
	if len(r) > titleLimit {
		return string(r[:titleLimit]) + "..."
	}
	return content
}

func orDefaultTitle(title string) string {
	if title == "" {
		return DefaultTitle
	}
	return title
}

// sortByUpdated orders sessions newest first, ties broken by creation time.
func sortByUpdated(sessions []types.Session) {
	sort.SliceStable(sessions, func(i, j int) bool {
		if !sessions[i].UpdatedAt.Equal(sessions[j].UpdatedAt) {
			return sessions[i].UpdatedAt.After(sessions[j].UpdatedAt)
		}
		return sessions[i].CreatedAt.After(sessions[j].CreatedAt)
	})
}
