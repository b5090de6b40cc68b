// Package directory lists, creates and selects sessions over the backend's REST API.
package directory

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"aichat/internal/auth"
	"aichat/internal/logging"
	"aichat/internal/types"
)

// =============================================================================
// SESSION DIRECTORY
// =============================================================================

// Directory is the client's view of the user's sessions.
// The list is held in memory only and refetched by List.
type Directory struct {
	baseURL string
	tokens  auth.TokenSource
	client  *http.Client

	mu       sync.RWMutex
	sessions []types.Session
	active   string
}

// Option configures a Directory.
type Option func(*Directory)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(d *Directory) { d.client = c }
}

// WithTimeout sets the per-request timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(d *Directory) { d.client.Timeout = timeout }
}

// New creates a Directory for the backend at baseURL.
func New(baseURL string, tokens auth.TokenSource, opts ...Option) *Directory {
	d := &Directory{
		baseURL: strings.TrimRight(baseURL, "/"),
		tokens:  tokens,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// List fetches the sessions visible to the token's user in server order
// and replaces the in-memory list.
func (d *Directory) List(ctx context.Context) ([]types.Session, error) {
	var sessions []types.Session
	if err := d.do(ctx, "list sessions", http.MethodGet, "/sessions", nil, nil, &sessions); err != nil {
		return nil, err
	}
	if sessions == nil {
		sessions = []types.Session{}
	}

	d.mu.Lock()
	d.sessions = append([]types.Session(nil), sessions...)
	d.mu.Unlock()

	logging.Get(logging.CategoryDirectory).Debug("listed %d sessions", len(sessions))
	return sessions, nil
}

// Create creates a session, prepends it to the list and makes it active.
func (d *Directory) Create(ctx context.Context, title string) (types.Session, error) {
	body := map[string]string{"title": title}
	query := url.Values{"title": {title}}

	var session types.Session
	if err := d.do(ctx, "create session", http.MethodPost, "/sessions", query, body, &session); err != nil {
		return types.Session{}, err
	}

	d.mu.Lock()
	d.sessions = append([]types.Session{session}, d.sessions...)
	d.active = session.ID
	d.mu.Unlock()

	logging.Session("created session %s (%q)", session.ID, session.Title)
	return session, nil
}

// Get fetches a session with its stored history.
func (d *Directory) Get(ctx context.Context, id string) (types.SessionDetail, error) {
	if strings.TrimSpace(id) == "" {
		return types.SessionDetail{}, types.NewError(types.KindValidation, "get session", errors.New("empty session id"))
	}
	var detail types.SessionDetail
	if err := d.do(ctx, "get session", http.MethodGet, "/sessions/"+url.PathEscape(id), nil, nil, &detail); err != nil {
		return types.SessionDetail{}, err
	}
	return detail, nil
}

// Sessions returns a copy of the last fetched list.
func (d *Directory) Sessions() []types.Session {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]types.Session(nil), d.sessions...)
}

// Active returns the active session id, if any.
func (d *Directory) Active() (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.active, d.active != ""
}

// Select makes id the active session. The id must be in the known list.
func (d *Directory) Select(id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, s := range d.sessions {
		if s.ID == id {
			d.active = id
			logging.SessionDebug("selected session %s", id)
			return nil
		}
	}
	return types.NewError(types.KindValidation, "select session", fmt.Errorf("unknown session %q", id))
}

// =============================================================================
// HTTP
// =============================================================================

// do performs an authenticated JSON request and maps failures onto the error taxonomy.
func (d *Directory) do(ctx context.Context, op, method, path string, query url.Values, in, out interface{}) error {
	if d.tokens == nil {
		return types.NewError(types.KindUnauthorized, op, auth.ErrNoToken)
	}
	token, err := d.tokens.Token()
	if err != nil || token == "" {
		if err == nil {
			err = auth.ErrNoToken
		}
		return types.NewError(types.KindUnauthorized, op, err)
	}

	endpoint := d.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return types.NewError(types.KindValidation, op, fmt.Errorf("failed to marshal request: %w", err))
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return types.NewError(types.KindValidation, op, fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	log := logging.Get(logging.CategoryDirectory)
	log.Debug("%s %s", method, path)

	resp, err := d.client.Do(req)
	if err != nil {
		log.Warn("%s failed: %v", op, err)
		return types.NewError(types.KindNetwork, op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return statusError(op, resp)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &types.Error{Kind: types.KindServer, Op: op, Status: resp.StatusCode, Err: fmt.Errorf("failed to decode response: %w", err)}
	}
	return nil
}

// statusError converts a non-2xx response, reading the server's detail field when present.
func statusError(op string, resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	detail := strings.TrimSpace(string(data))
	var payload struct {
		Detail interface{} `json:"detail"`
	}
	if json.Unmarshal(data, &payload) == nil && payload.Detail != nil {
		if s, ok := payload.Detail.(string); ok {
			detail = s
		} else if b, err := json.Marshal(payload.Detail); err == nil {
			detail = string(b)
		}
	}

	kind := types.KindServer
	if resp.StatusCode == http.StatusUnauthorized {
		kind = types.KindUnauthorized
	}
	logging.Get(logging.CategoryDirectory).Warn("%s: status %d: %s", op, resp.StatusCode, detail)
	return &types.Error{Kind: kind, Op: op, Status: resp.StatusCode, Detail: detail}
}
