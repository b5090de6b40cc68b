package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// Envelope is the outbound frame sent over the live connection.
// An empty SessionID is encoded as JSON null so the backend creates a session.
type Envelope struct {
	SessionID string
	Message   string
	Timestamp time.Time
}

type envelopeJSON struct {
	SessionID *string `json:"session_id"`
	Message   string  `json:"message"`
	Timestamp string  `json:"timestamp"`
}

// MarshalJSON implements json.Marshaler.
func (e Envelope) MarshalJSON() ([]byte, error) {
	out := envelopeJSON{
		Message:   e.Message,
		Timestamp: e.Timestamp.UTC().Format(time.RFC3339Nano),
	}
	if e.SessionID != "" {
		id := e.SessionID
		out.SessionID = &id
	}
	return json.Marshal(out)
}

// UnmarshalJSON implements json.Unmarshaler.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	var in envelopeJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	ts, err := ParseTimestamp(in.Timestamp)
	if err != nil {
		return err
	}
	e.Message = in.Message
	e.Timestamp = ts
	e.SessionID = ""
	if in.SessionID != nil {
		e.SessionID = *in.SessionID
	}
	return nil
}

// InboundFrame is a frame received from the backend.
// SessionID is optional; older backends only send message and timestamp.
type InboundFrame struct {
	SessionID string
	Message   string
	Timestamp time.Time
}

type inboundJSON struct {
	SessionID string `json:"session_id,omitempty"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

// MarshalJSON implements json.Marshaler.
func (f InboundFrame) MarshalJSON() ([]byte, error) {
	return json.Marshal(inboundJSON{
		SessionID: f.SessionID,
		Message:   f.Message,
		Timestamp: f.Timestamp.UTC().Format(time.RFC3339Nano),
	})
}

// UnmarshalJSON implements json.Unmarshaler.
func (f *InboundFrame) UnmarshalJSON(data []byte) error {
	var in inboundJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	ts, err := ParseTimestamp(in.Timestamp)
	if err != nil {
		return err
	}
	f.SessionID = in.SessionID
	f.Message = in.Message
	f.Timestamp = ts
	return nil
}

// DecodeInbound parses a raw text frame.
func DecodeInbound(data []byte) (InboundFrame, error) {
	var f InboundFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return InboundFrame{}, fmt.Errorf("decode inbound frame: %w", err)
	}
	return f, nil
}

// timestampLayouts covers RFC 3339 plus the zone-less ISO-8601 form that
// Python's datetime.isoformat() produces.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
}

// ParseTimestamp parses an ISO-8601 timestamp. Zone-less values are read as UTC.
// An empty string yields the zero time.
func ParseTimestamp(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid timestamp %q", s)
}
