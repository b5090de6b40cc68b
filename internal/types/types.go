// Package types provides shared type definitions used across aichat packages.
// This package exists so directory, transport, stream and chat can agree on the
// data model without importing each other.
// Types in this package should be foundational data structures with no complex dependencies.
package types

import (
	"fmt"
	"time"
)

// =============================================================================
// MESSAGES
// =============================================================================

// Sender identifies who authored a message.
type Sender string

const (
	SenderUser      Sender = "user"
	SenderAssistant Sender = "assistant"
)

// DeliveryState tracks where a message is in its lifecycle.
type DeliveryState string

const (
	StatePending   DeliveryState = "pending"   // Appended locally, no reply yet
	StateConfirmed DeliveryState = "confirmed" // Originated from a backend frame
	StateFailed    DeliveryState = "failed"    // Connection lost or timed out before a reply
)

// Message is a single entry of a message stream.
type Message struct {
	ID        string        `json:"id"`
	Content   string        `json:"content"`
	Sender    Sender        `json:"sender"`
	Timestamp time.Time     `json:"timestamp"`
	SessionID string        `json:"session_id,omitempty"`
	State     DeliveryState `json:"state"`
}

// IsPending reports whether the message is still awaiting its reply.
func (m Message) IsPending() bool {
	return m.State == StatePending
}

// String returns a compact, log-friendly representation.
func (m Message) String() string {
	return fmt.Sprintf("%s[%s/%s] %q", m.ID, m.Sender, m.State, m.Content)
}

// =============================================================================
// SESSIONS
// =============================================================================

// Session is a named, persisted conversation thread owned by the backend.
type Session struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HistoryEntry is a message as the backend stores it in a session record.
type HistoryEntry struct {
	Content   string    `json:"content"`
	Role      Sender    `json:"role"`
	Timestamp time.Time `json:"timestamp"`
}

// SessionDetail is a session together with its stored history.
type SessionDetail struct {
	Session
	UserID   string         `json:"user_id,omitempty"`
	Messages []HistoryEntry `json:"messages"`
}

// =============================================================================
// CONNECTION STATE
// =============================================================================

// ConnState is the lifecycle state of the live connection.
type ConnState string

const (
	ConnIdle       ConnState = "idle"
	ConnConnecting ConnState = "connecting"
	ConnOpen       ConnState = "open"
	ConnClosed     ConnState = "closed"
	ConnErrored    ConnState = "errored"
)

// Terminal reports whether the connection can no longer carry frames.
func (s ConnState) Terminal() bool {
	return s == ConnClosed || s == ConnErrored
}
