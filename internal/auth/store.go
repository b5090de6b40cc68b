package auth

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"aichat/internal/logging"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// storedToken is the on-disk format of the credentials file.
type storedToken struct {
	Token   string    `yaml:"token"`
	SavedAt time.Time `yaml:"saved_at"`
}

// FileStore persists a single bearer token in a YAML file readable only by the owner.
type FileStore struct {
	path string

	mu      sync.RWMutex
	token   string
	savedAt time.Time
	loaded  bool
}

var _ TokenSource = (*FileStore)(nil)

// NewFileStore creates a store backed by path. The file is read lazily.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the credentials file location.
func (s *FileStore) Path() string { return s.path }

// Token implements TokenSource.
func (s *FileStore) Token() (string, error) {
	s.mu.RLock()
	loaded, tok := s.loaded, s.token
	s.mu.RUnlock()

	if !loaded {
		if err := s.Reload(); err != nil {
			return "", err
		}
		s.mu.RLock()
		tok = s.token
		s.mu.RUnlock()
	}
	if tok == "" {
		return "", ErrNoToken
	}
	return tok, nil
}

// SavedAt returns when the current token was written, zero if none.
func (s *FileStore) SavedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.savedAt
}

// Reload re-reads the credentials file. A missing file clears the cached token.
func (s *FileStore) Reload() error {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		s.set("", time.Time{})
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read credentials: %w", err)
	}

	var st storedToken
	if err := yaml.Unmarshal(data, &st); err != nil {
		return fmt.Errorf("failed to parse credentials %s: %w", s.path, err)
	}
	s.set(strings.TrimSpace(st.Token), st.SavedAt)
	return nil
}

func (s *FileStore) set(tok string, at time.Time) {
	s.mu.Lock()
	s.token, s.savedAt, s.loaded = tok, at, true
	s.mu.Unlock()
}

// Save writes token to disk with mode 0600.
func (s *FileStore) Save(token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return ErrNoToken
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("failed to create credentials directory: %w", err)
	}

	st := storedToken{Token: token, SavedAt: time.Now().UTC()}
	data, err := yaml.Marshal(st)
	if err != nil {
		return fmt.Errorf("failed to marshal credentials: %w", err)
	}

	if err := os.WriteFile(s.path, data, 0600); err != nil {
		return fmt.Errorf("failed to write credentials: %w", err)
	}
	// WriteFile keeps the mode of an existing file.
	if err := os.Chmod(s.path, 0600); err != nil {
		return fmt.Errorf("failed to restrict credentials: %w", err)
	}

	s.set(st.Token, st.SavedAt)
	logging.Get(logging.CategoryAuth).Info("token saved to %s", s.path)
	return nil
}

// Clear removes the stored token.
func (s *FileStore) Clear() error {
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove credentials: %w", err)
	}
	s.set("", time.Time{})
	logging.Get(logging.CategoryAuth).Info("token cleared")
	return nil
}

// Watch reloads the token whenever the credentials file changes, until ctx is done.
// The parent directory is watched so the file may be created or replaced atomically.
// The returned channel is closed once the watcher has shut down.
func (s *FileStore) Watch(ctx context.Context) (<-chan struct{}, error) {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create credentials directory: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	log := logging.Get(logging.CategoryAuth)
	log.Debug("watching %s", s.path)

	done := make(chan struct{})
	go func() {
		defer close(done)
		defer watcher.Close()
		target := filepath.Clean(s.path)
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
					continue
				}
				if err := s.Reload(); err != nil {
					log.Warn("reload after %s failed: %v", event.Op, err)
					continue
				}
				log.Debug("credentials reloaded (%s)", event.Op)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Error("watcher error: %v", err)
			}
		}
	}()

	return done, nil
}
