// Package auth provides the bearer token consumed by the Session Directory
// and, optionally, the WebSocket handshake.
package auth

import (
	"errors"
	"os"
	"strings"
)

// ErrNoToken is returned when no bearer token is available.
var ErrNoToken = errors.New("no bearer token configured")

// EnvToken names the environment variable that overrides any stored token.
const EnvToken = "AICHAT_TOKEN"

// TokenSource yields the current bearer token.
type TokenSource interface {
	Token() (string, error)
}

// TokenFunc adapts a plain function to TokenSource.
type TokenFunc func() (string, error)

// Token implements TokenSource.
func (f TokenFunc) Token() (string, error) { return f() }

// Static returns a source that always yields token.
// An empty token yields ErrNoToken.
func Static(token string) TokenSource {
	token = strings.TrimSpace(token)
	return TokenFunc(func() (string, error) {
		if token == "" {
			return "", ErrNoToken
		}
		return token, nil
	})
}

// EnvOverride prefers AICHAT_TOKEN over src. src may be nil.
func EnvOverride(src TokenSource) TokenSource {
	return TokenFunc(func() (string, error) {
		if tok := strings.TrimSpace(os.Getenv(EnvToken)); tok != "" {
			return tok, nil
		}
		if src == nil {
			return "", ErrNoToken
		}
		return src.Token()
	})
}
