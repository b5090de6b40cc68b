package backend

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"aichat/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
)

// tickingClock returns strictly increasing timestamps so ordering is deterministic.
func tickingClock() func() time.Time {
	var mu sync.Mutex
	t := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(time.Second)
		return t
	}
}

// StoreSuite runs the same contract against every Store implementation.
type StoreSuite struct {
	suite.Suite
	open  func(t *testing.T) Store
	store Store
	ctx   context.Context
}

func (s *StoreSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = s.open(s.T())
}

func (s *StoreSuite) TearDownTest() {
	s.NoError(s.store.Close())
}

func TestMemoryStore(t *testing.T) {
	suite.Run(t, &StoreSuite{open: func(t *testing.T) Store {
		m := NewMemoryStore()
		m.now = tickingClock()
		return m
	}})
}

func TestSQLiteStore(t *testing.T) {
	suite.Run(t, &StoreSuite{open: func(t *testing.T) Store {
		st, err := NewSQLiteStore(DriverPureGo, filepath.Join(t.TempDir(), "db", "aichat.db"))
		if err != nil {
			t.Fatalf("open sqlite: %v", err)
		}
		st.now = tickingClock()
		return st
	}})
}

func (s *StoreSuite) TestCreateDefaultsTitle() {
	created, err := s.store.CreateSession(s.ctx, "alice", "")
	s.Require().NoError(err)
	s.Equal(DefaultTitle, created.Title)
	s.Equal("alice", created.UserID)
	s.NotEmpty(created.ID)
	s.NotNil(created.Messages)
	s.Empty(created.Messages)

	got, err := s.store.GetSession(s.ctx, created.ID)
	s.Require().NoError(err)
	s.Equal(created.ID, got.ID)
	s.True(created.CreatedAt.Equal(got.CreatedAt))
}

func (s *StoreSuite) TestGetMissing() {
	_, err := s.store.GetSession(s.ctx, "nonexistent-id")
	s.ErrorIs(err, ErrNotFound)
	s.ErrorIs(s.store.AppendMessage(s.ctx, "nonexistent-id", types.HistoryEntry{Content: "x", Role: types.SenderUser}), ErrNotFound)
}

func (s *StoreSuite) TestListOrderAndOwnership() {
	a, err := s.store.CreateSession(s.ctx, "alice", "A")
	s.Require().NoError(err)
	b, err := s.store.CreateSession(s.ctx, "alice", "B")
	s.Require().NoError(err)
	_, err = s.store.CreateSession(s.ctx, "bob", "C")
	s.Require().NoError(err)
	_, err = s.store.CreateSession(s.ctx, "", "anonymous")
	s.Require().NoError(err)

	list, err := s.store.ListSessions(s.ctx, "alice")
	s.Require().NoError(err)
	s.Require().Len(list, 2)
	s.Equal([]string{b.ID, a.ID}, []string{list[0].ID, list[1].ID}, "newest first")

	s.Require().NoError(s.store.AppendMessage(s.ctx, a.ID, types.HistoryEntry{Content: "bump", Role: types.SenderAssistant}))
	list, err = s.store.ListSessions(s.ctx, "alice")
	s.Require().NoError(err)
	s.Equal(a.ID, list[0].ID, "updated session moves to the top")

	none, err := s.store.ListSessions(s.ctx, "carol")
	s.Require().NoError(err)
	s.NotNil(none)
	s.Empty(none)
}

func (s *StoreSuite) TestFirstUserMessageSetsTitle() {
	sess, err := s.store.CreateSession(s.ctx, "alice", "Given")
	s.Require().NoError(err)

	long := "Tell me everything about the history of Go generics"
	s.Require().NoError(s.store.AppendMessage(s.ctx, sess.ID, types.HistoryEntry{Content: long, Role: types.SenderUser}))
	s.Require().NoError(s.store.AppendMessage(s.ctx, sess.ID, types.HistoryEntry{Content: "Sure.", Role: types.SenderAssistant}))
	s.Require().NoError(s.store.AppendMessage(s.ctx, sess.ID, types.HistoryEntry{Content: "second question", Role: types.SenderUser}))

	got, err := s.store.GetSession(s.ctx, sess.ID)
	s.Require().NoError(err)
	s.Equal(long[:30]+"...", got.Title)
	s.Require().Len(got.Messages, 3)
	s.Equal([]string{long, "Sure.", "second question"},
		[]string{got.Messages[0].Content, got.Messages[1].Content, got.Messages[2].Content})
	s.Equal(types.SenderAssistant, got.Messages[1].Role)
	s.False(got.Messages[0].Timestamp.IsZero())
}

func (s *StoreSuite) TestAssistantFirstKeepsTitle() {
	sess, err := s.store.CreateSession(s.ctx, "alice", "Kept")
	s.Require().NoError(err)
	s.Require().NoError(s.store.AppendMessage(s.ctx, sess.ID, types.HistoryEntry{Content: "greeting", Role: types.SenderAssistant}))
	s.Require().NoError(s.store.AppendMessage(s.ctx, sess.ID, types.HistoryEntry{Content: "hi", Role: types.SenderUser}))

	got, err := s.store.GetSession(s.ctx, sess.ID)
	s.Require().NoError(err)
	s.Equal("Kept", got.Title)
}

func TestTitleFromMessage(t *testing.T) {
	assert.Equal(t, "short", TitleFromMessage("short"))
	assert.Equal(t, strings.Repeat("a", 30), TitleFromMessage(strings.Repeat("a", 30)))
	assert.Equal(t, strings.Repeat("a", 30)+"...", TitleFromMessage(strings.Repeat("a", 31)))
	// Multi-byte characters are never split.
	assert.Equal(t, strings.Repeat("é", 30)+"...", TitleFromMessage(strings.Repeat("é", 40)))
}

func TestSQLiteStoreRejectsUnknownDriver(t *testing.T) {
	_, err := NewSQLiteStore("postgres", filepath.Join(t.TempDir(), "x.db"))
	assert.Error(t, err)
}

func TestSQLiteStorePersistsAcrossOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "aichat.db")
	ctx := context.Background()

	first, err := NewSQLiteStore("", path)
	if err != nil {
		t.Fatal(err)
	}
	sess, err := first.CreateSession(ctx, "alice", "")
	assert.NoError(t, err)
	assert.NoError(t, first.AppendMessage(ctx, sess.ID, types.HistoryEntry{Content: "remember me", Role: types.SenderUser}))
	assert.NoError(t, first.Close())

	second, err := NewSQLiteStore(DriverPureGo, path)
	if err != nil {
		t.Fatal(err)
	}
	defer second.Close()

	got, err := second.GetSession(ctx, sess.ID)
	assert.NoError(t, err)
	assert.Equal(t, "remember me", got.Title)
	assert.Len(t, got.Messages, 1)
}
