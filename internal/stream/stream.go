// Package stream holds the ordered, append-only message list of one session.
package stream

import (
	"fmt"
	"sync"
	"time"

	"aichat/internal/logging"
	"aichat/internal/types"

	"github.com/google/uuid"
)

// Stream is the message list of the active session.
// Entries are kept in insertion order and are never reordered or merged.
type Stream struct {
	mu        sync.RWMutex
	sessionID string
	messages  []types.Message
	now       func() time.Time
}

// Option configures a Stream.
type Option func(*Stream)

// WithClock overrides the clock used for optimistic timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Stream) { s.now = now }
}

// New creates an empty stream for sessionID. An empty id means the backend
// has not assigned one yet.
func New(sessionID string, opts ...Option) *Stream {
	s := &Stream{sessionID: sessionID, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AppendOptimistic appends a user message that has not been answered yet.
func (s *Stream) AppendOptimistic(content string) types.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg := types.Message{
		ID:        uuid.NewString(),
		Content:   content,
		Sender:    types.SenderUser,
		Timestamp: s.now(),
		SessionID: s.sessionID,
		State:     types.StatePending,
	}
	s.messages = append(s.messages, msg)
	logging.Get(logging.CategoryStream).Debug("optimistic %s", msg)
	return msg
}

// AppendConfirmed appends an assistant message received from the backend.
// It never touches pending entries.
func (s *Stream) AppendConfirmed(content string, ts time.Time) types.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ts.IsZero() {
		ts = s.now()
	}
	msg := types.Message{
		ID:        uuid.NewString(),
		Content:   content,
		Sender:    types.SenderAssistant,
		Timestamp: ts,
		SessionID: s.sessionID,
		State:     types.StateConfirmed,
	}
	s.messages = append(s.messages, msg)
	logging.Get(logging.CategoryStream).Debug("confirmed %s", msg)
	return msg
}

// AppendStored appends an entry of a session's stored history as confirmed.
func (s *Stream) AppendStored(h types.HistoryEntry) types.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	sender := h.Role
	if sender != types.SenderUser {
		sender = types.SenderAssistant
	}
	msg := types.Message{
		ID:        uuid.NewString(),
		Content:   h.Content,
		Sender:    sender,
		Timestamp: h.Timestamp,
		SessionID: s.sessionID,
		State:     types.StateConfirmed,
	}
	s.messages = append(s.messages, msg)
	return msg
}

// MarkFailed moves a pending message to failed in place.
func (s *Stream) MarkFailed(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.messages {
		if s.messages[i].ID != id {
			continue
		}
		if !s.messages[i].IsPending() {
			return fmt.Errorf("message %s is %s, not pending", id, s.messages[i].State)
		}
		s.messages[i].State = types.StateFailed
		logging.Get(logging.CategoryStream).Debug("failed %s", s.messages[i])
		return nil
	}
	return fmt.Errorf("message %s not found", id)
}

// LastPending returns the most recent pending message.
func (s *Stream) LastPending() (types.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := len(s.messages) - 1; i >= 0; i-- {
		if s.messages[i].IsPending() {
			return s.messages[i], true
		}
	}
	return types.Message{}, false
}

// Messages returns a copy of the stream in insertion order.
func (s *Stream) Messages() []types.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]types.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// Len returns the number of entries.
func (s *Stream) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}

// SessionID returns the session this stream belongs to.
func (s *Stream) SessionID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessionID
}

// SetSessionID records the id the backend assigned to a session-less stream.
// Existing entries without a session are stamped with it.
func (s *Stream) SetSessionID(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessionID = id
	for i := range s.messages {
		if s.messages[i].SessionID == "" {
			s.messages[i].SessionID = id
		}
	}
}
