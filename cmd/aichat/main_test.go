package main

import (
	"bytes"
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"aichat/internal/backend"
	"aichat/internal/config"
	"aichat/internal/logging"
	"aichat/internal/types"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// HELPERS
// =============================================================================

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"AICHAT_SERVER_URL", "AICHAT_TOKEN", "AICHAT_REPLY_TIMEOUT", "AICHAT_LOG_LEVEL", "AICHAT_DB", "GEMINI_API_KEY", "OPENAI_API_KEY"} {
		t.Setenv(k, "")
	}
}

// writeConfig writes a config pointing at baseURL with a private token file.
func writeConfig(t *testing.T, baseURL string) string {
	t.Helper()
	dir := t.TempDir()
	c := config.DefaultConfig()
	c.Server.BaseURL = baseURL
	c.Auth.TokenFile = filepath.Join(dir, "credentials.yaml")
	c.Logging.Level = "error"
	c.Logging.File = filepath.Join(dir, "aichat.log")
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, c.Save(path))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetErr(&buf)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		cfgPath, serverURL, verbose = "", "", false
		chatSessionID, chatNewTitle = "", ""
		serveListen, serveDB = "", ""
		cfg = nil
		rootCmd.SetArgs(nil)
		logging.Install(nil, nil)
	})
	err := rootCmd.Execute()
	return buf.String(), err
}

func newBackend(t *testing.T) *httptest.Server {
	t.Helper()
	srv := backend.NewServer(backend.NewMemoryStore(), backend.EchoResponder{},
		backend.WithTokens(map[string]string{"secret-token": "alice"}))
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	return ts
}

// =============================================================================
// TOKEN COMMANDS
// =============================================================================

func TestTokenLifecycle(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "http://localhost:8000")

	out, err := execute(t, "--config", path, "token", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "No token configured")

	out, err = execute(t, "--config", path, "token", "set", "secret-token")
	require.NoError(t, err)
	assert.Contains(t, out, "credentials.yaml")

	out, err = execute(t, "--config", path, "token", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "********oken")
	assert.NotContains(t, out, "secret-token")

	_, err = execute(t, "--config", path, "token", "clear")
	require.NoError(t, err)
	out, err = execute(t, "--config", path, "token", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "No token configured")
}

func TestTokenShow_EnvWins(t *testing.T) {
	clearEnv(t)
	t.Setenv("AICHAT_TOKEN", "from-env-1234")
	path := writeConfig(t, "http://localhost:8000")

	out, err := execute(t, "--config", path, "token", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "AICHAT_TOKEN")
	assert.Contains(t, out, "1234")
}

func TestMaskToken(t *testing.T) {
	assert.Equal(t, "", maskToken(""))
	assert.Equal(t, "***", maskToken("abc"))
	assert.Equal(t, "**cdef", maskToken("abcdef"))
}

// =============================================================================
// SESSION COMMANDS
// =============================================================================

func TestSessionsCommands(t *testing.T) {
	clearEnv(t)
	ts := newBackend(t)
	path := writeConfig(t, ts.URL)

	_, err := execute(t, "--config", path, "token", "set", "secret-token")
	require.NoError(t, err)

	out, err := execute(t, "--config", path, "sessions", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "No sessions yet.")

	out, err = execute(t, "--config", path, "sessions", "new", "Trip", "plans")
	require.NoError(t, err)
	assert.Contains(t, out, "(Trip plans)")

	out, err = execute(t, "--config", path, "sessions")
	require.NoError(t, err)
	assert.Contains(t, out, "Trip plans")
	assert.Contains(t, out, "Total: 1 sessions")

	_, err = execute(t, "--config", path, "sessions", "show", "missing")
	assert.ErrorContains(t, err, "Session not found")
}

func TestSessionsNewUsesDefaultTitle(t *testing.T) {
	clearEnv(t)
	ts := newBackend(t)
	path := writeConfig(t, ts.URL)
	c, err := config.Load(path)
	require.NoError(t, err)
	c.Chat.DefaultTitle = "Scratch pad"
	require.NoError(t, c.Save(path))

	_, err = execute(t, "--config", path, "token", "set", "secret-token")
	require.NoError(t, err)

	out, err := execute(t, "--config", path, "sessions", "new")
	require.NoError(t, err)
	assert.Contains(t, out, "(Scratch pad)")
}

func TestSessionsRequireToken(t *testing.T) {
	clearEnv(t)
	ts := newBackend(t)
	path := writeConfig(t, ts.URL)

	_, err := execute(t, "--config", path, "sessions", "list")
	require.Error(t, err)
	assert.Equal(t, types.KindUnauthorized, types.KindOf(err))
}

// =============================================================================
// ROOT
// =============================================================================

func TestServerFlagOverridesConfig(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "http://localhost:8000")

	_, err := execute(t, "--config", path, "--server", "https://chat.example.com", "token", "show")
	require.NoError(t, err)
	require.NotNil(t, cfg)
	assert.Equal(t, "https://chat.example.com", cfg.Server.BaseURL)
}

func TestInvalidConfigRejected(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  base_url: ftp://nowhere\n"), 0644))

	_, err := execute(t, "--config", path, "token", "show")
	assert.ErrorContains(t, err, "invalid config")
}

func TestChatFlagsAreExclusive(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "http://localhost:8000")

	_, err := execute(t, "--config", path, "chat", "--session", "a", "--new", "b")
	assert.ErrorContains(t, err, "mutually exclusive")
}

func TestIsInteractive(t *testing.T) {
	assert.True(t, isInteractive(rootCmd))
	assert.True(t, isInteractive(chatCmd))
	assert.False(t, isInteractive(sessionsListCmd))
}

// =============================================================================
// CLIENT WIRING
// =============================================================================

func TestClientOpensSessionsAndConnects(t *testing.T) {
	clearEnv(t)
	t.Setenv("AICHAT_TOKEN", "secret-token")
	ts := newBackend(t)

	cfg = config.DefaultConfig()
	cfg.Server.BaseURL = ts.URL
	cfg.Server.WSAuth = true
	cfg.Auth.TokenFile = filepath.Join(t.TempDir(), "credentials.yaml")
	t.Cleanup(func() { cfg = nil })

	ctx := context.Background()
	c := newClient()

	require.NoError(t, c.openSession(ctx, "", "Titled"))
	created := c.orch.SessionID()
	require.NotEmpty(t, created)

	require.NoError(t, c.openSession(ctx, created, ""))
	active, ok := c.directory.Active()
	assert.True(t, ok)
	assert.Equal(t, created, active)

	assert.Error(t, c.openSession(ctx, "missing", ""))

	require.NoError(t, c.connect(ctx))
	defer c.conn.Close()

	require.NoError(t, c.orch.Submit("ping"))
	require.Eventually(t, func() bool { return !c.orch.Waiting() }, 3*time.Second, 10*time.Millisecond)

	msgs := c.orch.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "Echo: ping", msgs[1].Content)
	assert.Equal(t, created, c.orch.SessionID())
}

// =============================================================================
// SERVE
// =============================================================================

func TestServeStopsOnCancel(t *testing.T) {
	clearEnv(t)
	cfg = config.DefaultConfig()
	t.Cleanup(func() { cfg = nil; serveListen = "" })
	serveListen = "127.0.0.1:0"

	ctx, cancel := context.WithCancel(context.Background())
	cmd := &cobra.Command{}
	cmd.SetContext(ctx)
	var buf bytes.Buffer
	cmd.SetOut(&buf)

	done := make(chan error, 1)
	go func() { done <- runServe(cmd, nil) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not stop")
	}
	assert.Contains(t, buf.String(), "listening on 127.0.0.1:0")
}
