package types

import "encoding/json"

// Backends written against Python's datetime emit zone-less ISO-8601 timestamps,
// which time.Time's own decoder rejects. These decoders accept both forms.

type sessionJSON struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

func (s *sessionJSON) decode() (Session, error) {
	created, err := ParseTimestamp(s.CreatedAt)
	if err != nil {
		return Session{}, err
	}
	updated, err := ParseTimestamp(s.UpdatedAt)
	if err != nil {
		return Session{}, err
	}
	return Session{ID: s.ID, Title: s.Title, CreatedAt: created, UpdatedAt: updated}, nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *Session) UnmarshalJSON(data []byte) error {
	var in sessionJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	out, err := in.decode()
	if err != nil {
		return err
	}
	*s = out
	return nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (h *HistoryEntry) UnmarshalJSON(data []byte) error {
	var in struct {
		Content   string `json:"content"`
		Role      Sender `json:"role"`
		Timestamp string `json:"timestamp"`
	}
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	ts, err := ParseTimestamp(in.Timestamp)
	if err != nil {
		return err
	}
	*h = HistoryEntry{Content: in.Content, Role: in.Role, Timestamp: ts}
	return nil
}

// UnmarshalJSON implements json.Unmarshaler. It is required because the
// embedded Session's decoder would otherwise swallow the whole object.
func (d *SessionDetail) UnmarshalJSON(data []byte) error {
	var in struct {
		sessionJSON
		UserID   string         `json:"user_id"`
		Messages []HistoryEntry `json:"messages"`
	}
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	s, err := in.sessionJSON.decode()
	if err != nil {
		return err
	}
	*d = SessionDetail{Session: s, UserID: in.UserID, Messages: in.Messages}
	return nil
}
