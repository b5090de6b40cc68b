package logging

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func installObserver(t *testing.T, cats map[string]bool) *observer.ObservedLogs {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	Install(zap.New(core), cats)
	t.Cleanup(func() { Install(nil, nil) })
	return logs
}

func TestNoOpBeforeInstall(t *testing.T) {
	Install(nil, nil)
	assert.False(t, IsCategoryEnabled(CategoryChat))
	// Must not panic.
	Get(CategoryChat).Info("dropped %d", 1)
	assert.NotNil(t, L())
}

func TestCategoryLoggersAreNamed(t *testing.T) {
	logs := installObserver(t, nil)

	Get(CategoryTransport).Info("connected to %s", "ws://x")
	Chat("submitted %q", "hi")

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, "transport", entries[0].LoggerName)
	assert.Equal(t, "connected to ws://x", entries[0].Message)
	assert.Equal(t, "chat", entries[1].LoggerName)
	assert.Equal(t, zapcore.InfoLevel, entries[1].Level)
}

func TestDisabledCategory(t *testing.T) {
	logs := installObserver(t, map[string]bool{"stream": false, "chat": true})

	assert.False(t, IsCategoryEnabled(CategoryStream))
	assert.True(t, IsCategoryEnabled(CategoryChat))
	assert.True(t, IsCategoryEnabled(CategoryBackend), "unlisted categories default to enabled")

	Get(CategoryStream).Error("never seen")
	Get(CategoryChat).Warn("seen")

	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "seen", logs.All()[0].Message)
}

func TestWithContext(t *testing.T) {
	logs := installObserver(t, nil)

	Get(CategorySession).WithContext(map[string]interface{}{"session_id": "s1"}).Debug("switched")

	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "s1", logs.All()[0].ContextMap()["session_id"])
}

func TestInitializeWritesFile(t *testing.T) {
	t.Cleanup(func() { Install(nil, nil) })

	path := filepath.Join(t.TempDir(), "logs", "aichat.log")
	require.NoError(t, Initialize(Options{Level: "debug", Format: "json", File: path}))

	Get(CategoryBackend).Info("listening on %s", ":8000")
	Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), "listening on :8000"))
	assert.True(t, strings.Contains(string(data), `"logger":"backend"`))
}

func TestInitializeRejectsUnknownLevel(t *testing.T) {
	err := Initialize(Options{Level: "chatty"})
	assert.Error(t, err)
}

func TestConcurrentGet(t *testing.T) {
	installObserver(t, nil)

	var wg sync.WaitGroup
	got := make([]*Logger, 50)
	for i := range got {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			got[i] = Get(CategoryUI)
		}(i)
	}
	wg.Wait()

	for _, l := range got {
		assert.Same(t, got[0], l)
	}
}
