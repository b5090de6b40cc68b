package backend

import (
	"context"
	"sync"
	"time"

	"aichat/internal/types"

	"github.com/google/uuid"
)

// MemoryStore keeps sessions in process memory.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*types.SessionDetail
	byUser   map[string][]string
	now      func() time.Time
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*types.SessionDetail),
		byUser:   make(map[string][]string),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (m *MemoryStore) CreateSession(ctx context.Context, userID, title string) (types.SessionDetail, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	s := &types.SessionDetail{
		Session: types.Session{
			ID:        uuid.NewString(),
			Title:     orDefaultTitle(title),
			CreatedAt: now,
			UpdatedAt: now,
		},
		UserID:   userID,
		Messages: []types.HistoryEntry{},
	}
	m.sessions[s.ID] = s
	if userID != "" {
		m.byUser[userID] = append(m.byUser[userID], s.ID)
	}
	return copyDetail(s), nil
}

func (m *MemoryStore) GetSession(ctx context.Context, id string) (types.SessionDetail, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[id]
	if !ok {
		return types.SessionDetail{}, ErrNotFound
	}
	return copyDetail(s), nil
}

func (m *MemoryStore) ListSessions(ctx context.Context, userID string) ([]types.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := m.byUser[userID]
	out := make([]types.Session, 0, len(ids))
	for _, id := range ids {
		out = append(out, m.sessions[id].Session)
	}
	sortByUpdated(out)
	return out, nil
}

func (m *MemoryStore) AppendMessage(ctx context.Context, sessionID string, msg types.HistoryEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = m.now()
	}
	s.Messages = append(s.Messages, msg)
	s.UpdatedAt = m.now()
	if len(s.Messages) == 1 && msg.Role == types.SenderUser {
		s.Title = TitleFromMessage(msg.Content)
	}
	return nil
}

func (m *MemoryStore) Close() error { return nil }

func copyDetail(s *types.SessionDetail) types.SessionDetail {
	out := *s
	out.Messages = append([]types.HistoryEntry{}, s.Messages...)
	return out
}
