package types

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvelopeEncodesNullSession(t *testing.T) {
	env := Envelope{
		Message:   "Hello",
		Timestamp: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	data, err := json.Marshal(env)
	require.NoError(t, err)
	assert.JSONEq(t, `{"session_id":null,"message":"Hello","timestamp":"2024-01-01T00:00:00Z"}`, string(data))

	env.SessionID = "abc"
	data, err = json.Marshal(env)
	require.NoError(t, err)
	assert.JSONEq(t, `{"session_id":"abc","message":"Hello","timestamp":"2024-01-01T00:00:00Z"}`, string(data))
}

func TestDecodeInbound(t *testing.T) {
	t.Run("frame without session id", func(t *testing.T) {
		f, err := DecodeInbound([]byte(`{"message":"Hi there","timestamp":"2024-01-01T00:00:00Z"}`))
		require.NoError(t, err)
		assert.Equal(t, "Hi there", f.Message)
		assert.Empty(t, f.SessionID)
		assert.True(t, f.Timestamp.Equal(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)))
	})

	t.Run("isoformat without zone", func(t *testing.T) {
		f, err := DecodeInbound([]byte(`{"session_id":"s1","message":"x","timestamp":"2024-05-06T07:08:09.123456"}`))
		require.NoError(t, err)
		assert.Equal(t, "s1", f.SessionID)
		assert.Equal(t, 2024, f.Timestamp.Year())
		assert.Equal(t, 123456000, f.Timestamp.Nanosecond())
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := DecodeInbound([]byte(`not json`))
		assert.Error(t, err)
	})

	t.Run("bad timestamp", func(t *testing.T) {
		_, err := DecodeInbound([]byte(`{"message":"x","timestamp":"yesterday"}`))
		assert.Error(t, err)
	})
}

func TestErrorTaxonomy(t *testing.T) {
	cause := errors.New("dial tcp: refused")
	err := fmt.Errorf("wrapped: %w", NewError(KindNetwork, "list sessions", cause))

	assert.True(t, errors.Is(err, ErrNetwork))
	assert.False(t, errors.Is(err, ErrServer))
	assert.True(t, errors.Is(err, cause))
	assert.Equal(t, KindNetwork, KindOf(err))
	assert.Equal(t, KindValidation, KindOf(fmt.Errorf("x: %w", ErrValidation)))
	assert.Equal(t, KindUnknown, KindOf(errors.New("plain")))

	srv := &Error{Kind: KindServer, Op: "create session", Status: 500, Detail: "boom"}
	assert.Equal(t, "create session: ServerError (status 500): boom", srv.Error())
}

func TestConnStateTerminal(t *testing.T) {
	assert.False(t, ConnOpen.Terminal())
	assert.False(t, ConnConnecting.Terminal())
	assert.True(t, ConnClosed.Terminal())
	assert.True(t, ConnErrored.Terminal())
}

func TestSessionDecodesZonelessTimestamps(t *testing.T) {
	var s Session
	require.NoError(t, json.Unmarshal([]byte(`{"id":"s1","title":"Hi","created_at":"2024-05-01T10:00:00.123456","updated_at":"2024-05-01T11:00:00Z"}`), &s))
	assert.Equal(t, "s1", s.ID)
	assert.Equal(t, 2024, s.CreatedAt.Year())
	assert.Equal(t, 11, s.UpdatedAt.Hour())
}

func TestSessionDetailKeepsMessages(t *testing.T) {
	raw := `{"id":"s1","user_id":"alice","title":"T","created_at":"2024-05-01T10:00:00","updated_at":"2024-05-01T10:00:00",
		"messages":[{"content":"hello","role":"user","timestamp":"2024-05-01T10:00:01"},{"content":"hi","role":"assistant","timestamp":"2024-05-01T10:00:02"}]}`

	var d SessionDetail
	require.NoError(t, json.Unmarshal([]byte(raw), &d))
	assert.Equal(t, "s1", d.ID)
	assert.Equal(t, "alice", d.UserID)
	require.Len(t, d.Messages, 2)
	assert.Equal(t, SenderAssistant, d.Messages[1].Role)

	// Round trip through the default encoder.
	data, err := json.Marshal(d)
	require.NoError(t, err)
	var back SessionDetail
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, d.Messages[0].Content, back.Messages[0].Content)
	assert.True(t, d.CreatedAt.Equal(back.CreatedAt))
}

func TestSessionRejectsBadTimestamp(t *testing.T) {
	var s Session
	assert.Error(t, json.Unmarshal([]byte(`{"id":"s1","created_at":"yesterday"}`), &s))
}
