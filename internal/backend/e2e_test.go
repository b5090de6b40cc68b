package backend_test

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"aichat/internal/auth"
	"aichat/internal/backend"
	"aichat/internal/chat"
	"aichat/internal/directory"
	"aichat/internal/transport"
	"aichat/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestClientAgainstBackend drives the whole client stack against a live backend.
func TestClientAgainstBackend(t *testing.T) {
	srv := backend.NewServer(backend.NewMemoryStore(), backend.EchoResponder{},
		backend.WithTokens(map[string]string{"tok": "alice"}))
	ts := httptest.NewServer(srv)
	defer ts.Close()

	ctx := context.Background()
	tokens := auth.Static("tok")

	mgr := transport.NewManager(ts.URL, transport.WithHandshakeToken(tokens))
	orch := chat.New(mgr, chat.WithReplyTimeout(5*time.Second))
	orch.Attach()

	require.NoError(t, mgr.Connect(ctx, transport.NewClientID()))
	defer mgr.Close()

	require.NoError(t, orch.Submit("Hello backend"))
	require.Eventually(t, func() bool { return !orch.Waiting() }, 3*time.Second, 10*time.Millisecond)

	msgs := orch.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, types.SenderUser, msgs[0].Sender)
	assert.Equal(t, "Echo: Hello backend", msgs[1].Content)
	assert.Equal(t, types.StateConfirmed, msgs[1].State)

	sessionID := orch.SessionID()
	require.NotEmpty(t, sessionID, "the backend assigned a session")

	// The session is visible through the REST directory with a derived title.
	dir := directory.New(ts.URL, tokens)
	sessions, err := dir.List(ctx)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, sessionID, sessions[0].ID)
	assert.Equal(t, "Hello backend", sessions[0].Title)

	// A fresh session starts empty and receives its own replies.
	created, err := dir.Create(ctx, "Second")
	require.NoError(t, err)
	orch.SwitchSession(created.ID)
	assert.Empty(t, orch.Messages())

	require.NoError(t, orch.Submit("again"))
	require.Eventually(t, func() bool { return !orch.Waiting() }, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, created.ID, orch.SessionID())

	// Reloading the first session shows its stored history.
	detail, err := dir.Get(ctx, sessionID)
	require.NoError(t, err)
	orch.Load(detail)
	loaded := orch.Messages()
	require.Len(t, loaded, 2)
	assert.Equal(t, "Hello backend", loaded[0].Content)
	assert.Equal(t, types.StateConfirmed, loaded[0].State)

	require.NoError(t, mgr.Close())
	assert.Equal(t, types.ConnClosed, orch.ConnState())
}

// TestClientFollowsReassignedSession covers a backend that no longer knows the
// client's session, as after a restart of the in-memory store.
func TestClientFollowsReassignedSession(t *testing.T) {
	store := backend.NewMemoryStore()
	ts := httptest.NewServer(backend.NewServer(store, backend.EchoResponder{}))
	defer ts.Close()

	ctx := context.Background()
	mgr := transport.NewManager(ts.URL)
	orch := chat.New(mgr, chat.WithSession("gone-after-restart"), chat.WithReplyTimeout(5*time.Second))
	orch.Attach()

	require.NoError(t, mgr.Connect(ctx, transport.NewClientID()))
	defer mgr.Close()

	require.NoError(t, orch.Submit("hello"))
	require.Eventually(t, func() bool { return !orch.Waiting() }, 3*time.Second, 10*time.Millisecond)

	msgs := orch.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "Echo: hello", msgs[1].Content)
	assert.NoError(t, orch.LastError())

	reassigned := orch.SessionID()
	require.NotEqual(t, "gone-after-restart", reassigned)
	stored, err := store.GetSession(ctx, reassigned)
	require.NoError(t, err)
	assert.Len(t, stored.Messages, 2)

	// Later messages go to the new session.
	require.NoError(t, orch.Submit("again"))
	require.Eventually(t, func() bool { return !orch.Waiting() }, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, reassigned, orch.SessionID())
	stored, err = store.GetSession(ctx, reassigned)
	require.NoError(t, err)
	assert.Len(t, stored.Messages, 4)
}
